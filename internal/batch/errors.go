package batch

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a batch or item does not exist
var ErrNotFound = errors.New("not found")

// ErrActiveBatchExists is returned by CreateBatch when the owner already has
// a batch in draft, processing or review
var ErrActiveBatchExists = errors.New("an active batch already exists for this owner")

// ValidationError rejects an operation on a batch before any item is created
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// CapacityError is returned when an ingest request holds more files than the
// batch has remaining capacity. The whole request is rejected; no item is
// created.
type CapacityError struct {
	Capacity  int
	Remaining int
	Requested int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("batch capacity exceeded: %d file(s) requested but only %d of %d slot(s) remain", e.Requested, e.Remaining, e.Capacity)
}

// StateError reports an attempted item transition outside the allowed state
// machine. It indicates a caller bug and is never silently coerced.
type StateError struct {
	ItemID string
	From   ItemStatus
	To     ItemStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("item %s: illegal status transition %s -> %s", e.ItemID, e.From, e.To)
}
