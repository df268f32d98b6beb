package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/expense-inbox/internal/ledger"
)

// EntryKind classifies a commit for the ledger sign convention. Extracted
// amounts are positive magnitudes; expenses are persisted negative, income
// positive.
type EntryKind string

const (
	EntryExpense EntryKind = "expense"
	EntryIncome  EntryKind = "income"
)

// ItemOutcome records why a selected item was skipped or failed during a
// commit
type ItemOutcome struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

// CommitResult reports a commit in full: partial success is surfaced as
// counts and per-item reasons, never collapsed into one boolean.
type CommitResult struct {
	Committed int           `json:"committed"`
	Skipped   []ItemOutcome `json:"skipped"`
	Failed    []ItemOutcome `json:"failed"`
}

// CommitItems converts the selected ready items into permanent ledger
// records, linking each item to the record it produced.
//
// Per item: an already-linked item or one missing amount/date is a
// non-fatal skip; a ledger write failure is recorded and the remaining
// items still commit; an item outside the ready state is a state violation
// reported as a failure. Committing the same item twice is therefore a
// no-op skip, never a second record.
func (s *Service) CommitItems(ctx context.Context, batchID string, ids []string, kind EntryKind) (*CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if kind != EntryExpense && kind != EntryIncome {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown entry kind %q", kind)}
	}
	if len(ids) == 0 {
		return nil, &ValidationError{Reason: "at least one item is required"}
	}
	if _, err := s.db.GetBatch(batchID); err != nil {
		return nil, err
	}

	result := &CommitResult{Skipped: make([]ItemOutcome, 0), Failed: make([]ItemOutcome, 0)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		item, err := s.db.GetItem(id)
		if err != nil {
			result.Failed = append(result.Failed, ItemOutcome{ItemID: id, Reason: "item not found"})
			continue
		}
		if item.BatchID != batchID {
			result.Failed = append(result.Failed, ItemOutcome{ItemID: id, Reason: "item belongs to a different batch"})
			continue
		}
		if item.LedgerRecordID != "" {
			result.Skipped = append(result.Skipped, ItemOutcome{ItemID: id, Reason: "already committed"})
			continue
		}
		if item.Status != ItemReady {
			// Committing a non-ready item is a caller bug; report it
			// explicitly instead of coercing state
			stateErr := &StateError{ItemID: id, From: item.Status, To: ItemReady}
			slog.Error("Refusing to commit item outside ready state", "item", id, "status", item.Status)
			result.Failed = append(result.Failed, ItemOutcome{ItemID: id, Reason: stateErr.Error()})
			continue
		}
		if item.Fields.AmountCents == 0 {
			result.Skipped = append(result.Skipped, ItemOutcome{ItemID: id, Reason: "missing amount"})
			continue
		}
		if item.Fields.Date.IsZero() {
			result.Skipped = append(result.Skipped, ItemOutcome{ItemID: id, Reason: "missing date"})
			continue
		}

		recordID, err := s.ledger.InsertRecord(ctx, s.buildRecord(item, kind))
		if err != nil {
			slog.Error("Failed to write ledger record", "item", id, "error", err)
			result.Failed = append(result.Failed, ItemOutcome{ItemID: id, Reason: fmt.Sprintf("ledger write failed: %v", err)})
			continue
		}

		item.LedgerRecordID = recordID
		item.UpdatedAt = s.timeSource.Now()
		if err := s.db.SaveItem(item); err != nil {
			// The ledger record exists but the link was lost; surface it
			// loudly so the operator can reconcile
			slog.Error("Ledger record created but item link failed", "item", id, "record", recordID, "error", err)
			result.Failed = append(result.Failed, ItemOutcome{ItemID: id, Reason: fmt.Sprintf("linking record %s failed: %v", recordID, err)})
			continue
		}

		result.Committed++
	}

	if err := s.maybeCompleteBatch(batchID); err != nil {
		return result, err
	}
	return result, nil
}

// buildRecord maps an item to a signed ledger record, preferring the
// user-confirmed final fields over the extractor's suggestions
func (s *Service) buildRecord(item *Item, kind EntryKind) *ledger.Record {
	amount := item.Fields.AmountCents
	if amount < 0 {
		amount = -amount
	}
	if kind == EntryExpense {
		amount = -amount
	}

	category := item.FinalCategoryID
	if category == "" {
		category = item.SuggestedCategory
	}
	subcategory := item.FinalSubcategoryID
	if subcategory == "" {
		subcategory = item.SuggestedSubcategory
	}
	paymentMethod := item.FinalPaymentMethod
	if paymentMethod == "" {
		paymentMethod = item.Fields.PaymentMethodHint
	}

	return &ledger.Record{
		Date:          item.Fields.Date,
		AmountCents:   amount,
		Description:   item.Fields.Description,
		CategoryID:    category,
		SubcategoryID: subcategory,
		PaymentMethod: paymentMethod,
		InstrumentRef: item.FinalInstrumentRef,
		Recurring:     item.IsRecurring,
		CreatedAt:     s.timeSource.Now(),
	}
}

// maybeCompleteBatch closes out a batch under review once every ready item
// is linked to a ledger record
func (s *Service) maybeCompleteBatch(batchID string) error {
	batch, err := s.db.GetBatch(batchID)
	if err != nil {
		return err
	}
	if batch.Status != BatchReview {
		return nil
	}

	items, err := s.db.ListItems(batchID)
	if err != nil {
		return fmt.Errorf("listing items: %w", err)
	}
	ready := 0
	for _, item := range items {
		if item.Status != ItemReady {
			continue
		}
		ready++
		if item.LedgerRecordID == "" {
			return nil
		}
	}
	if ready == 0 {
		return nil
	}

	batch.Status = BatchCompleted
	batch.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveBatch(batch); err != nil {
		return fmt.Errorf("saving batch: %w", err)
	}
	return nil
}
