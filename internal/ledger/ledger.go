package ledger

import (
	"context"
	"time"
)

// Record is a committed ledger transaction. AmountCents is signed: expenses
// are negative, income is positive.
type Record struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	AmountCents   int64     `json:"amount_cents"`
	Description   string    `json:"description"`
	CategoryID    string    `json:"category_id"`
	SubcategoryID string    `json:"subcategory_id,omitempty"`
	PaymentMethod string    `json:"payment_method"`
	InstrumentRef string    `json:"instrument_ref,omitempty"`
	Recurring     bool      `json:"recurring"`
	CreatedAt     time.Time `json:"created_at"`
}

// Ledger defines the write contract the pipeline relies on, plus the
// recent-window lookup used by duplicate detection.
type Ledger interface {
	// InsertRecord persists a new ledger record and returns its ID
	InsertRecord(ctx context.Context, record *Record) (string, error)

	// QueryRecentByDateAmount returns the IDs of records whose date falls on
	// the same day as date, scanning only records dated within the trailing
	// window, and whose absolute amount equals absAmountCents
	QueryRecentByDateAmount(ctx context.Context, window time.Duration, date time.Time, absAmountCents int64) ([]string, error)

	// GetRecord retrieves a record by ID
	GetRecord(ctx context.Context, id string) (*Record, error)

	// Close closes the ledger store
	Close() error
}
