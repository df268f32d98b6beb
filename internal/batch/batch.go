package batch

import (
	"encoding/json"
	"time"
)

// BatchStatus is the lifecycle state of a batch
type BatchStatus string

const (
	BatchDraft      BatchStatus = "draft"
	BatchProcessing BatchStatus = "processing"
	BatchReview     BatchStatus = "review"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Active reports whether a batch in this status still owns its owner's
// active slot (at most one active batch per owner)
func (s BatchStatus) Active() bool {
	return s == BatchDraft || s == BatchProcessing || s == BatchReview
}

// ItemStatus is the extraction state of an item
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemReady      ItemStatus = "ready"
	ItemError      ItemStatus = "error"
)

// itemTransitions is the directed edge set of the item state machine.
// error -> pending is the explicit manual retry reset.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:    {ItemProcessing},
	ItemProcessing: {ItemReady, ItemError},
	ItemError:      {ItemPending},
	ItemReady:      {},
}

// CanTransition reports whether the state machine allows moving from s to
func (s ItemStatus) CanTransition(to ItemStatus) bool {
	for _, next := range itemTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Batch is a group of receipt images processed and reviewed as one unit
type Batch struct {
	ID        string      `json:"id"`
	Owner     string      `json:"owner"`
	Status    BatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BatchCounts are derived aggregates over a batch's items. They are
// recomputed at read time, never stored.
type BatchCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Ready      int `json:"ready"`
	Error      int `json:"error"`
}

// CountItems computes batch aggregates from an item set
func CountItems(items []*Item) BatchCounts {
	counts := BatchCounts{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case ItemPending:
			counts.Pending++
		case ItemProcessing:
			counts.Processing++
		case ItemReady:
			counts.Ready++
		case ItemError:
			counts.Error++
		}
	}
	return counts
}

// ItemFields are the normalized financial fields extracted from a receipt.
// AmountCents is an unsigned magnitude; the sign convention is applied when
// the item is committed to the ledger.
type ItemFields struct {
	AmountCents       int64     `json:"amount_cents"`
	Date              time.Time `json:"date"`
	Merchant          string    `json:"merchant"`
	Description       string    `json:"description"`
	PaymentMethodHint string    `json:"payment_method_hint,omitempty"`
	TaxIDHint         string    `json:"tax_id_hint,omitempty"`
	Confidence        int       `json:"confidence"` // 0-100
}

// Item is one receipt image plus its extracted, normalized and finalized
// fields within a batch
type Item struct {
	ID          string     `json:"id"`
	BatchID     string     `json:"batch_id"`
	Seq         int        `json:"seq"` // creation order within the batch
	ImageRef    string     `json:"image_ref"`
	ContentType string     `json:"content_type"`
	Status      ItemStatus `json:"status"`

	// RawPayload is the extraction provider's response, kept verbatim as an
	// opaque blob. Business logic reads the normalized fields only.
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`

	Fields ItemFields `json:"fields"`

	SuggestedCategory    string `json:"suggested_category,omitempty"`
	SuggestedSubcategory string `json:"suggested_subcategory,omitempty"`

	// Final values are user-confirmed and override the suggested ones
	FinalCategoryID    string `json:"final_category_id,omitempty"`
	FinalSubcategoryID string `json:"final_subcategory_id,omitempty"`
	FinalPaymentMethod string `json:"final_payment_method,omitempty"`
	FinalInstrumentRef string `json:"final_instrument_ref,omitempty"`

	IsRecurring        bool   `json:"is_recurring"`
	IsDuplicateSuspect bool   `json:"is_duplicate_suspect"`
	DuplicateReason    string `json:"duplicate_reason,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`

	// LedgerRecordID links the item to the ledger record it produced. A
	// linked item is never committed again.
	LedgerRecordID string `json:"ledger_record_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
