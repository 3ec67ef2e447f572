package match

import (
	"github.com/woonkaart/importer/internal/index"
	"github.com/woonkaart/importer/internal/normalize"
)

// ExactMatcher looks mirror addresses up in the property index.
type ExactMatcher struct {
	index *index.PropertyIndex
}

// NewExactMatcher creates an exact matcher over a built index.
func NewExactMatcher(pi *index.PropertyIndex) *ExactMatcher {
	return &ExactMatcher{index: pi}
}

// Match resolves raw address fields. The canonical key is tried first; when
// canonicalization fails or misses, one lookup with the loose key follows.
func (m *ExactMatcher) Match(postalCode, houseNumber, addition string) (int64, Method, bool) {
	if addr, err := normalize.Canonicalize(postalCode, houseNumber, addition); err == nil {
		if id, ok := m.index.Lookup(addr); ok {
			return id, MethodExact, true
		}
	}

	if id, ok := m.index.LookupLoose(normalize.LooseKey(postalCode, houseNumber, addition)); ok {
		return id, MethodLoose, true
	}
	return 0, "", false
}
