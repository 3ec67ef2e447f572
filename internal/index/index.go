// Package index holds the in-memory property catalog lookup and the loader
// that streams it out of the destination store.
package index

import (
	"github.com/woonkaart/importer/internal/normalize"
)

// PropertyIndex maps canonical addresses to property ids. It is built once
// per run by a Builder and is read-only afterwards, so it can be shared by
// any number of readers.
type PropertyIndex struct {
	exact      map[normalize.Address]int64
	loose      map[string]int64
	collisions int
}

// Lookup returns the property id for a canonical address.
func (pi *PropertyIndex) Lookup(addr normalize.Address) (int64, bool) {
	id, ok := pi.exact[addr]
	return id, ok
}

// LookupLoose returns the property id for a normalize.LooseKey value.
func (pi *PropertyIndex) LookupLoose(key string) (int64, bool) {
	if key == "" {
		return 0, false
	}
	id, ok := pi.loose[key]
	return id, ok
}

// Len is the number of distinct canonical addresses.
func (pi *PropertyIndex) Len() int { return len(pi.exact) }

// Collisions counts properties that overwrote an earlier property with the
// same canonical address.
func (pi *PropertyIndex) Collisions() int { return pi.collisions }

// Builder accumulates entries. It is not safe for concurrent use.
type Builder struct {
	exact      map[normalize.Address]int64
	loose      map[string]int64
	collisions int
}

// NewBuilder creates a builder pre-sized for sizeHint entries.
func NewBuilder(sizeHint int) *Builder {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Builder{
		exact: make(map[normalize.Address]int64, sizeHint),
		loose: make(map[string]int64, sizeHint),
	}
}

// Add registers a property. On a canonical-address collision the later
// property wins; the collision is counted, not resolved.
func (b *Builder) Add(addr normalize.Address, looseKey string, id int64) {
	if prev, ok := b.exact[addr]; ok && prev != id {
		b.collisions++
	}
	b.exact[addr] = id
	if looseKey != "" {
		b.loose[looseKey] = id
	}
}

// AddLoose registers only a loose key, for catalog rows whose house number
// does not canonicalize.
func (b *Builder) AddLoose(looseKey string, id int64) {
	if looseKey != "" {
		b.loose[looseKey] = id
	}
}

// Build hands the maps over to an immutable PropertyIndex. The builder must
// not be used afterwards.
func (b *Builder) Build() *PropertyIndex {
	pi := &PropertyIndex{exact: b.exact, loose: b.loose, collisions: b.collisions}
	b.exact, b.loose = nil, nil
	return pi
}
