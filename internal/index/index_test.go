package index

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woonkaart/importer/internal/normalize"
)

func mustAddr(t *testing.T, pc, hn, add string) normalize.Address {
	t.Helper()
	a, err := normalize.Canonicalize(pc, hn, add)
	require.NoError(t, err)
	return a
}

func TestLookupOwnAddress(t *testing.T) {
	props := []struct {
		id          int64
		pc, hn, add string
	}{
		{1, "1234 AB", "7", ""},
		{2, "1234 AB", "7", "bis"},
		{3, "5611 XC", "120", "a"},
	}

	b := NewBuilder(len(props))
	for _, p := range props {
		b.Add(mustAddr(t, p.pc, p.hn, p.add), normalize.LooseKey(p.pc, p.hn, p.add), p.id)
	}
	pi := b.Build()

	assert.Equal(t, 3, pi.Len())
	for _, p := range props {
		id, ok := pi.Lookup(mustAddr(t, p.pc, p.hn, p.add))
		assert.True(t, ok)
		assert.Equal(t, p.id, id)
	}
}

func TestCollisionLastWriteWins(t *testing.T) {
	b := NewBuilder(0)
	b.Add(mustAddr(t, "1234AB", "7", ""), "", 10)
	b.Add(mustAddr(t, "1234 ab", "7", " "), "", 11)
	b.Add(mustAddr(t, "1234AB", "7", ""), "", 11)
	pi := b.Build()

	id, ok := pi.Lookup(mustAddr(t, "1234AB", "7", ""))
	require.True(t, ok)
	assert.Equal(t, int64(11), id)
	assert.Equal(t, 1, pi.Collisions(), "re-adding the same id is not a collision")

	// Both spellings resolve to the same property.
	other, _ := pi.Lookup(mustAddr(t, "1234 AB", "07", ""))
	assert.Equal(t, id, other)
}

func TestLookupLooseEmptyKey(t *testing.T) {
	b := NewBuilder(0)
	b.AddLoose("", 5)
	pi := b.Build()

	_, ok := pi.LookupLoose("")
	assert.False(t, ok)
}

func TestLoaderKeysetPagination(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	query := regexp.QuoteMeta("FROM properties") + `\s+WHERE id > \$1\s+ORDER BY id\s+LIMIT \$2`
	cols := []string{"id", "postal_code", "house_number", "house_number_addition"}

	mock.ExpectQuery(query).
		WithArgs(int64(0), 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(4), "1234 AB", "7", "").
			AddRow(int64(9), "1234AB", "7", "bis"))
	mock.ExpectQuery(query).
		WithArgs(int64(9), 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(12), "5611XC", "12-14", "").
			AddRow(int64(15), "5611XC", "", ""))
	mock.ExpectQuery(query).
		WithArgs(int64(15), 2).
		WillReturnRows(sqlmock.NewRows(cols))

	loader := NewLoader(db, 2, 1, zerolog.Nop())
	pi, stats, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 4, stats.Rows)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 1, stats.LooseOnly)
	assert.Equal(t, 1, stats.Unparseable)

	id, ok := pi.Lookup(mustAddr(t, "1234AB", "7", "BIS"))
	assert.True(t, ok)
	assert.Equal(t, int64(9), id)

	id, ok = pi.LookupLoose(normalize.LooseKey("5611 XC", "12-14", ""))
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)
}

func TestLoaderStopsOnShortPage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM properties").
		WithArgs(int64(0), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "postal_code", "house_number", "house_number_addition"}).
			AddRow(int64(1), "1234AB", "1", ""))

	pi, stats, err := NewLoader(db, 10, 0, zerolog.Nop()).Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, stats.Rows)
	assert.Equal(t, 1, pi.Len())
}
