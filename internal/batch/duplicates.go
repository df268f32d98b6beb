package batch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const (
	// DupReasonIntraBatch flags two ready items with identical normalized
	// date, amount and merchant in the same batch
	DupReasonIntraBatch = "possible duplicate within this batch"

	// DupReasonLedger flags a ready item matching an already-committed
	// ledger record in the recent window
	DupReasonLedger = "possible duplicate of existing record"
)

var merchantCleanup = regexp.MustCompile(`[^A-Z0-9 ]+`)
var spaceCollapse = regexp.MustCompile(`\s+`)

// normalizeMerchant reduces a merchant string to an uppercase alphanumeric
// form so trivial punctuation differences do not hide duplicates.
// Punctuation becomes a space, not the empty string, so "MARKET-X" and
// "MARKET X" normalize identically.
func normalizeMerchant(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = merchantCleanup.ReplaceAllString(n, " ")
	n = spaceCollapse.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// dupKey is the intra-batch duplicate identity: same day, same amount, same
// normalized merchant
type dupKey struct {
	day      string
	cents    int64
	merchant string
}

// FlagDuplicates runs the two heuristic duplicate passes over a batch's
// ready items and returns how many items were flagged. The flags are
// advisory warnings only; they never block mutation or commit.
func (s *Service) FlagDuplicates(ctx context.Context, batchID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := s.db.GetBatch(batchID); err != nil {
		return 0, err
	}

	items, err := s.db.ListItems(batchID)
	if err != nil {
		return 0, fmt.Errorf("listing items: %w", err)
	}

	ready := make([]*Item, 0, len(items))
	for _, item := range items {
		if item.Status == ItemReady {
			ready = append(ready, item)
		}
	}

	flagged := make(map[string]string) // item ID -> reason

	// Pass 1: intra-batch. Grouping by identity key flags every member of
	// a colliding group, so the relation is symmetric by construction.
	groups := make(map[dupKey][]*Item)
	for _, item := range ready {
		if item.Fields.Date.IsZero() || item.Fields.AmountCents == 0 {
			continue
		}
		key := dupKey{
			day:      item.Fields.Date.Format("2006-01-02"),
			cents:    item.Fields.AmountCents,
			merchant: normalizeMerchant(item.Fields.Merchant),
		}
		groups[key] = append(groups[key], item)
	}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		for _, item := range group {
			flagged[item.ID] = DupReasonIntraBatch
		}
	}

	// Pass 2: against recently committed ledger records. An intra-batch
	// flag takes precedence; the reason is not overwritten. Items already
	// linked to a record are skipped, they would match their own record.
	for _, item := range ready {
		if _, ok := flagged[item.ID]; ok {
			continue
		}
		if item.LedgerRecordID != "" {
			continue
		}
		if item.Fields.Date.IsZero() || item.Fields.AmountCents == 0 {
			continue
		}
		matches, err := s.ledger.QueryRecentByDateAmount(ctx, s.dupWindow, item.Fields.Date, item.Fields.AmountCents)
		if err != nil {
			return 0, fmt.Errorf("querying ledger for duplicates: %w", err)
		}
		if len(matches) > 0 {
			flagged[item.ID] = DupReasonLedger
		}
	}

	for _, item := range ready {
		reason, isDup := flagged[item.ID]
		if item.IsDuplicateSuspect == isDup && item.DuplicateReason == reason {
			continue
		}
		item.IsDuplicateSuspect = isDup
		item.DuplicateReason = reason
		item.UpdatedAt = s.timeSource.Now()
		if err := s.db.SaveItem(item); err != nil {
			return 0, fmt.Errorf("saving item %s: %w", item.ID, err)
		}
	}
	return len(flagged), nil
}
