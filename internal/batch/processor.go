package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/zombor/expense-inbox/internal/extraction"
)

// maxErrorMessageLen bounds the extraction error text stored on an item
const maxErrorMessageLen = 256

// PassResult summarizes one processing pass over a batch's pending items
type PassResult struct {
	Attempted int  `json:"attempted"`
	Ready     int  `json:"ready"`
	Failed    int  `json:"failed"`
	Halted    bool `json:"halted"` // batch deleted or context canceled mid-pass
}

// Pass is a handle to an in-flight processing pass. Wait blocks until the
// pass completes, replacing the polling loop a UI would otherwise run.
type Pass struct {
	done   chan struct{}
	result *PassResult
	err    error
}

// Wait blocks until the pass completes or ctx is done
func (p *Pass) Wait(ctx context.Context) (*PassResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartProcessing runs ProcessBatch on a single worker goroutine and
// returns immediately with a handle. One worker drives a batch; there is no
// fan-out across its items.
func (s *Service) StartProcessing(ctx context.Context, batchID string) *Pass {
	pass := &Pass{done: make(chan struct{})}
	go func() {
		defer close(pass.done)
		pass.result, pass.err = s.ProcessBatch(ctx, batchID)
	}()
	return pass
}

// ProcessBatch drives all pending items of a batch through the extraction
// adapter one at a time, in creation order. Individual extraction failures
// are recorded on the item and do not stop the pass. If the batch is
// deleted while the pass is in flight, the loop halts between items rather
// than writing to a deleted batch.
func (s *Service) ProcessBatch(ctx context.Context, batchID string) (*PassResult, error) {
	batch, err := s.db.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	if !batch.Status.Active() {
		// A closed batch never re-enters the lifecycle; there is no
		// completed -> review edge
		return nil, &ValidationError{Reason: fmt.Sprintf("batch is %s; only draft, processing or review batches can be processed", batch.Status)}
	}

	if batch.Status == BatchDraft || batch.Status == BatchReview {
		batch.Status = BatchProcessing
		batch.UpdatedAt = s.timeSource.Now()
		if err := s.db.SaveBatch(batch); err != nil {
			return nil, fmt.Errorf("saving batch: %w", err)
		}
	}

	items, err := s.db.ListItems(batchID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}

	result := &PassResult{}
	for _, item := range items {
		if item.Status != ItemPending {
			continue
		}

		if err := ctx.Err(); err != nil {
			result.Halted = true
			return result, err
		}

		// Cooperative cancellation: the batch may have been deleted while
		// the previous item was extracting
		if _, err := s.db.GetBatch(batchID); err != nil {
			if errors.Is(err, ErrNotFound) {
				slog.Info("Batch deleted mid-pass, halting", "batch", batchID)
				result.Halted = true
				return result, nil
			}
			return result, err
		}

		result.Attempted++
		if err := s.processItem(ctx, item); err != nil {
			result.Failed++
		} else {
			result.Ready++
		}
	}

	// All pending items attempted; move the batch to review unless it was
	// deleted under us
	batch, err = s.db.GetBatch(batchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			result.Halted = true
			return result, nil
		}
		return result, err
	}
	batch.Status = BatchReview
	batch.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveBatch(batch); err != nil {
		return result, fmt.Errorf("saving batch: %w", err)
	}

	return result, nil
}

// processItem runs one item through extraction, resolving it to ready or
// error. The returned error mirrors the item's final state; it is never
// propagated past the pass loop.
func (s *Service) processItem(ctx context.Context, item *Item) error {
	if err := s.transitionItem(item, ItemProcessing); err != nil {
		return err
	}
	if err := s.db.SaveItem(item); err != nil {
		return fmt.Errorf("saving item: %w", err)
	}

	data, err := s.storage.Get(item.ImageRef)
	if err == nil {
		var res *extraction.Result
		res, err = s.extractor.Extract(ctx, data, item.ContentType)
		if err == nil {
			s.applyExtraction(item, res)
		}
	}

	if err != nil {
		slog.Error("Failed to extract receipt",
			"item", item.ID,
			"batch", item.BatchID,
			"error", err,
		)
		item.ErrorMessage = truncateError(err)
		if terr := s.transitionItem(item, ItemError); terr != nil {
			return terr
		}
		if serr := s.db.SaveItem(item); serr != nil {
			return fmt.Errorf("saving item: %w", serr)
		}
		return err
	}

	if err := s.transitionItem(item, ItemReady); err != nil {
		return err
	}
	if err := s.db.SaveItem(item); err != nil {
		return fmt.Errorf("saving item: %w", err)
	}
	return nil
}

// applyExtraction normalizes an extraction result onto an item
func (s *Service) applyExtraction(item *Item, res *extraction.Result) {
	item.RawPayload = res.Raw
	item.Fields = ItemFields{
		AmountCents:       int64(math.Round(res.Amount * 100)),
		Merchant:          res.Merchant,
		Description:       res.Description,
		PaymentMethodHint: res.PaymentMethodHint,
		TaxIDHint:         res.TaxIDHint,
		Confidence:        res.Confidence,
	}
	if res.Date != "" {
		if d, err := time.Parse("2006-01-02", res.Date); err == nil {
			item.Fields.Date = d
		}
	}
	item.SuggestedCategory = res.SuggestedCategory
	item.SuggestedSubcategory = res.SuggestedSubcategory
	item.ErrorMessage = ""
}

// truncateError bounds an error message for storage on the item
func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}
