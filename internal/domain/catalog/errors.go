package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repository lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEvent is returned when an event purl has already been recorded
// and the stored record is not in PROCESSING_ERROR.
var ErrDuplicateEvent = errors.New("event already exists")

// IntegrityError reports that a uniqueness invariant was violated in storage:
// multiple rows exist where at most one is possible. It is never retried and
// always logged at error level.
type IntegrityError struct {
	Entity string
	Key    string
	Count  int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: %d %s rows for key %q, expected at most one", e.Count, e.Entity, e.Key)
}
