package load

import (
	"errors"
	"sync"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// SeenKeys remembers natural keys accepted earlier in the run. Rows are
// deduplicated against it before they reach a flusher, which keeps live and
// dry-run duplicate counts identical: neither mode can see rows the other
// run's earlier batches would have written.
type SeenKeys struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewSeenKeys creates an empty key set.
func NewSeenKeys() *SeenKeys {
	return &SeenKeys{keys: make(map[string]struct{})}
}

// Mark records key and reports whether it was new.
func (s *SeenKeys) Mark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Len is the number of distinct keys seen.
func (s *SeenKeys) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// ErrorLog caps how many batch failures are logged per source.
type ErrorLog struct {
	limit      int
	logged     int
	suppressed int
}

// NewErrorLog creates a limiter that logs at most limit failures.
func NewErrorLog(limit int) *ErrorLog {
	if limit < 0 {
		limit = 0
	}
	return &ErrorLog{limit: limit}
}

// Log records one batch failure.
func (e *ErrorLog) Log(logger zerolog.Logger, err error, table string, rows int) {
	if e.logged < e.limit {
		e.logged++
		event := logger.Error().Err(err).Str("table", table).Int("rows", rows)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			event = event.Str("pg_code", string(pqErr.Code)).Str("pg_constraint", pqErr.Constraint)
		}
		event.Msg("batch dropped")
		return
	}
	if e.suppressed == 0 {
		logger.Warn().Int("limit", e.limit).Msg("error log limit reached; suppressing further batch errors")
	}
	e.suppressed++
}

// Suppressed is the number of failures that were counted but not logged.
func (e *ErrorLog) Suppressed() int { return e.suppressed }
