package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrEmptyPostalCode is returned when the postal code is blank after normalization.
	ErrEmptyPostalCode = errors.New("empty postal code")

	// ErrInvalidHouseNumber is returned when the house number is not an integer.
	ErrInvalidHouseNumber = errors.New("invalid house number")
)

// Address is the canonical join key between the property catalog and the
// mirror databases. It is comparable and used directly as a map key; it is
// never persisted.
type Address struct {
	PostalCode  string
	HouseNumber int
	Addition    string
}

// String renders the key for logs and scratch-table keys, e.g. "1234AB|7|BIS".
func (a Address) String() string {
	return a.PostalCode + "|" + strconv.Itoa(a.HouseNumber) + "|" + a.Addition
}

// Canonicalize normalizes raw address fields into an Address:
//   - postal code upper-cased with all whitespace removed
//   - house number parsed as an integer
//   - addition upper-cased and trimmed, empty when absent
//
// The same function is used for catalog properties and mirror records; any
// divergence between the two sides silently turns into missed matches.
func Canonicalize(postalCode, houseNumber, addition string) (Address, error) {
	pc := PostalCode(postalCode)
	if pc == "" {
		return Address{}, ErrEmptyPostalCode
	}

	n, err := strconv.Atoi(strings.TrimSpace(houseNumber))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidHouseNumber, houseNumber)
	}

	return Address{
		PostalCode:  pc,
		HouseNumber: n,
		Addition:    Addition(addition),
	}, nil
}

// PostalCode upper-cases and strips all whitespace.
func PostalCode(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, raw)
}

// Addition upper-cases and trims; blank becomes "".
func Addition(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// LooseKey is a less strict key used when Canonicalize fails or misses. It
// keeps only letters and digits, takes the leading digits of the house number
// as the number and moves any trailing part into the addition, so that
// "7-bis", "7 BIS" and "7" + "bis" all produce "1234AB|7|BIS". It returns ""
// when no leading digits can be found.
func LooseKey(postalCode, houseNumber, addition string) string {
	pc := alnumUpper(postalCode)
	if pc == "" {
		return ""
	}

	hn := strings.TrimSpace(houseNumber)
	digits := 0
	for digits < len(hn) && hn[digits] >= '0' && hn[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return ""
	}

	number := strings.TrimLeft(hn[:digits], "0")
	if number == "" {
		number = "0"
	}
	rest := alnumUpper(hn[digits:]) + alnumUpper(addition)

	return pc + "|" + number + "|" + rest
}

func alnumUpper(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
