package extraction

import (
	"context"
	"encoding/json"
)

// Result contains the candidate fields extracted from a receipt image.
type Result struct {
	Merchant             string  `json:"merchant"`
	Description          string  `json:"description"`
	Date                 string  `json:"date"` // ISO 8601 format
	Amount               float64 `json:"amount"`
	PaymentMethodHint    string  `json:"payment_method_hint"`
	TaxIDHint            string  `json:"tax_id_hint"`
	SuggestedCategory    string  `json:"suggested_category"`
	SuggestedSubcategory string  `json:"suggested_subcategory"`
	Confidence           int     `json:"confidence"` // 0-100

	// Raw holds the provider's response verbatim. It is stored with the
	// item so the original extraction can be inspected later.
	Raw json.RawMessage `json:"-"`
}

// Extractor defines the interface for receipt extraction providers
type Extractor interface {
	// Extract analyzes a receipt image/PDF and returns candidate fields
	Extract(ctx context.Context, imageData []byte, contentType string) (*Result, error)
	// Close closes the extractor and releases resources
	Close() error
}
