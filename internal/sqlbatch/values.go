// Package sqlbatch builds parameter-bounded multi-row VALUES lists for
// Postgres statements.
package sqlbatch

import (
	"strconv"
	"strings"
)

// MaxBindParameters is the Postgres wire-protocol limit on bind parameters
// in a single statement.
const MaxBindParameters = 65535

// safeParameters leaves headroom below MaxBindParameters for any extra
// parameters a statement adds.
const safeParameters = MaxBindParameters * 9 / 10

// MaxRows returns how many rows of the given width fit into one statement,
// capped at limit when limit is positive.
func MaxRows(columns, limit int) int {
	if columns <= 0 {
		columns = 1
	}
	n := safeParameters / columns
	if limit > 0 && limit < n {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Values renders "($1,$2),($3,$4)" for rows×columns placeholders.
func Values(rows, columns int) string {
	var b strings.Builder
	b.Grow(rows * columns * 5)
	p := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for c := 0; c < columns; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(p))
			p++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Chunks splits n items into consecutive [start, end) ranges of at most size.
func Chunks(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
