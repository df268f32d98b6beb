package batch

import (
	"context"
	"fmt"
	"time"
)

// ItemUpdate is a partial field update. Nil pointers leave the field
// untouched, so a bulk call can set the category on twenty items without
// clobbering their payment methods. Only this fixed allow-list of fields is
// mutable; catalog validation is the caller's responsibility.
type ItemUpdate struct {
	FinalCategoryID    *string    `json:"final_category_id,omitempty"`
	FinalSubcategoryID *string    `json:"final_subcategory_id,omitempty"`
	FinalPaymentMethod *string    `json:"final_payment_method,omitempty"`
	FinalInstrumentRef *string    `json:"final_instrument_ref,omitempty"`
	Date               *time.Time `json:"date,omitempty"`
	AmountCents        *int64     `json:"amount_cents,omitempty"`
	Description        *string    `json:"description,omitempty"`
	IsRecurring        *bool      `json:"is_recurring,omitempty"`
}

// IsEmpty reports whether the update touches no field
func (u ItemUpdate) IsEmpty() bool {
	return u.FinalCategoryID == nil && u.FinalSubcategoryID == nil &&
		u.FinalPaymentMethod == nil && u.FinalInstrumentRef == nil &&
		u.Date == nil && u.AmountCents == nil && u.Description == nil &&
		u.IsRecurring == nil
}

// UpdateItems applies a partial field update to every item in ids. The
// selection is an explicit parameter, not ambient UI state. Each field is
// applied independently; fields omitted from the update are preserved.
func (s *Service) UpdateItems(ctx context.Context, ids []string, update ItemUpdate) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, &ValidationError{Reason: "at least one item is required"}
	}
	if update.IsEmpty() {
		return 0, &ValidationError{Reason: "no fields to update"}
	}

	updated := 0
	for _, id := range ids {
		item, err := s.db.GetItem(id)
		if err != nil {
			return updated, fmt.Errorf("getting item %s: %w", id, err)
		}
		applyUpdate(item, update)
		item.UpdatedAt = s.timeSource.Now()
		if err := s.db.SaveItem(item); err != nil {
			return updated, fmt.Errorf("saving item %s: %w", id, err)
		}
		updated++
	}
	return updated, nil
}

// applyUpdate copies the set fields of an update onto an item
func applyUpdate(item *Item, update ItemUpdate) {
	if update.FinalCategoryID != nil {
		item.FinalCategoryID = *update.FinalCategoryID
	}
	if update.FinalSubcategoryID != nil {
		item.FinalSubcategoryID = *update.FinalSubcategoryID
	}
	if update.FinalPaymentMethod != nil {
		item.FinalPaymentMethod = *update.FinalPaymentMethod
	}
	if update.FinalInstrumentRef != nil {
		item.FinalInstrumentRef = *update.FinalInstrumentRef
	}
	if update.Date != nil {
		item.Fields.Date = *update.Date
	}
	if update.AmountCents != nil {
		item.Fields.AmountCents = *update.AmountCents
	}
	if update.Description != nil {
		item.Fields.Description = *update.Description
	}
	if update.IsRecurring != nil {
		item.IsRecurring = *update.IsRecurring
	}
}
