package normalize

import (
	"errors"
	"strconv"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name        string
		postalCode  string
		houseNumber string
		addition    string
		want        Address
	}{
		{
			name:        "postal code with space and lower case addition",
			postalCode:  "1234 AB",
			houseNumber: "7",
			addition:    "bis",
			want:        Address{PostalCode: "1234AB", HouseNumber: 7, Addition: "BIS"},
		},
		{
			name:        "lower case postal code without addition",
			postalCode:  "5611ab",
			houseNumber: " 12 ",
			addition:    "",
			want:        Address{PostalCode: "5611AB", HouseNumber: 12},
		},
		{
			name:        "whitespace-only addition is empty",
			postalCode:  " 3011\tXB ",
			houseNumber: "1",
			addition:    "   ",
			want:        Address{PostalCode: "3011XB", HouseNumber: 1},
		},
		{
			name:        "addition is trimmed but keeps inner content",
			postalCode:  "1012 JS",
			houseNumber: "100",
			addition:    " 2 hg ",
			want:        Address{PostalCode: "1012JS", HouseNumber: 100, Addition: "2 HG"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.postalCode, tt.houseNumber, tt.addition)
			if err != nil {
				t.Fatalf("Canonicalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Canonicalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCanonicalizeErrors(t *testing.T) {
	tests := []struct {
		name        string
		postalCode  string
		houseNumber string
		wantErr     error
	}{
		{"non-numeric house number", "1234AB", "7a", ErrInvalidHouseNumber},
		{"empty house number", "1234AB", "", ErrInvalidHouseNumber},
		{"dash suffix", "1234AB", "7-bis", ErrInvalidHouseNumber},
		{"empty postal code", "  ", "7", ErrEmptyPostalCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize(tt.postalCode, tt.houseNumber, "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Canonicalize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := [][3]string{
		{"1234 AB", "7", "bis"},
		{"5611ab", "012", " a "},
		{"9999 zz", "1", ""},
	}

	for _, in := range inputs {
		first, err := Canonicalize(in[0], in[1], in[2])
		if err != nil {
			t.Fatalf("Canonicalize(%v) error = %v", in, err)
		}
		second, err := Canonicalize(first.PostalCode, strconv.Itoa(first.HouseNumber), first.Addition)
		if err != nil {
			t.Fatalf("re-Canonicalize(%v) error = %v", first, err)
		}
		if first != second {
			t.Errorf("not idempotent: %+v -> %+v", first, second)
		}
	}
}

func TestLooseKey(t *testing.T) {
	tests := []struct {
		postalCode, houseNumber, addition string
		want                              string
	}{
		{"1234 AB", "7-bis", "", "1234AB|7|BIS"},
		{"1234AB", "7 BIS", "", "1234AB|7|BIS"},
		{"1234ab", "7", "bis", "1234AB|7|BIS"},
		{"1234-AB", "007", "", "1234AB|7|"},
		{"1234AB", "12a", "", "1234AB|12|A"},
		{"1234AB", "huis", "", ""},
		{"", "7", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.postalCode+"/"+tt.houseNumber, func(t *testing.T) {
			if got := LooseKey(tt.postalCode, tt.houseNumber, tt.addition); got != tt.want {
				t.Errorf("LooseKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddressString(t *testing.T) {
	a := Address{PostalCode: "1234AB", HouseNumber: 7, Addition: "BIS"}
	if got := a.String(); got != "1234AB|7|BIS" {
		t.Errorf("String() = %q", got)
	}
}
