package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/expense-inbox/internal/extraction"
	"github.com/zombor/expense-inbox/internal/ledger"
)

// defaultDuplicateWindow is the trailing ledger window scanned by duplicate
// detection. Exact-match over seven days mirrors the review period users
// actually catch double entries in; it is configurable, not load-bearing.
const defaultDuplicateWindow = 7 * 24 * time.Hour

// IDGenerator generates unique IDs for batches and items
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service drives the batch ingestion pipeline: batch lifecycle, image
// ingestion, sequential extraction, duplicate flagging, bulk edits and
// ledger commits.
type Service struct {
	db          DB
	storage     Storage
	extractor   extraction.Extractor
	ledger      ledger.Ledger
	idGenerator IDGenerator
	timeSource  TimeSource
	dupWindow   time.Duration
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, extractor extraction.Extractor, ldg ledger.Ledger) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		extractor:   extractor,
		ledger:      ldg,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
		dupWindow:   defaultDuplicateWindow,
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, extractor extraction.Extractor, ldg ledger.Ledger, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		extractor:   extractor,
		ledger:      ldg,
		idGenerator: idGen,
		timeSource:  timeSrc,
		dupWindow:   defaultDuplicateWindow,
	}
}

// SetDuplicateWindow overrides the trailing ledger window used by duplicate
// detection
func (s *Service) SetDuplicateWindow(window time.Duration) {
	s.dupWindow = window
}

// CreateBatch creates an empty draft batch for owner. An owner holds at most
// one active batch at a time.
func (s *Service) CreateBatch(ctx context.Context, owner string) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, &ValidationError{Reason: "owner is required"}
	}

	if _, err := s.db.FindActiveBatch(owner); err == nil {
		return nil, ErrActiveBatchExists
	}

	now := s.timeSource.Now()
	batch := &Batch{
		ID:        s.idGenerator.Generate(),
		Owner:     owner,
		Status:    BatchDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.db.SaveBatch(batch); err != nil {
		return nil, fmt.Errorf("saving batch: %w", err)
	}
	return batch, nil
}

// GetBatch retrieves a batch by ID
func (s *Service) GetBatch(ctx context.Context, id string) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.db.GetBatch(id)
}

// GetActiveBatch returns the owner's batch in draft, processing or review
func (s *Service) GetActiveBatch(ctx context.Context, owner string) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.db.FindActiveBatch(owner)
}

// Counts recomputes a batch's aggregate counts from its item set. The
// counts are consistent with the items at read time only; callers re-query
// after mutations rather than caching.
func (s *Service) Counts(ctx context.Context, batchID string) (*BatchCounts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.db.GetBatch(batchID); err != nil {
		return nil, err
	}
	items, err := s.db.ListItems(batchID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	counts := CountItems(items)
	return &counts, nil
}

// ListItems returns a batch's items in creation order
func (s *Service) ListItems(ctx context.Context, batchID string) ([]*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.db.GetBatch(batchID); err != nil {
		return nil, err
	}
	return s.db.ListItems(batchID)
}

// GetItem retrieves an item by ID
func (s *Service) GetItem(ctx context.Context, id string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.db.GetItem(id)
}

// GetItemImage returns an item's stored (compressed) image bytes
func (s *Service) GetItemImage(ctx context.Context, id string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	item, err := s.db.GetItem(id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.storage.Get(item.ImageRef)
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return data, item.ContentType, nil
}

// DeleteBatch removes a batch, all its items, and their stored images.
// Image release failures are logged and tolerated; the batch is deleted
// regardless.
func (s *Service) DeleteBatch(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.GetBatch(id); err != nil {
		return err
	}

	items, err := s.db.ListItems(id)
	if err != nil {
		return fmt.Errorf("listing items for deletion: %w", err)
	}
	for _, item := range items {
		if err := s.storage.Delete(item.ImageRef); err != nil {
			slog.Warn("Failed to release stored image", "item", item.ID, "ref", item.ImageRef, "error", err)
		}
	}

	if err := s.db.DeleteItems(id); err != nil {
		return fmt.Errorf("deleting items: %w", err)
	}
	if err := s.db.DeleteBatch(id); err != nil {
		return fmt.Errorf("deleting batch: %w", err)
	}
	return nil
}

// DeleteItem removes a single item and releases its stored image
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	item, err := s.db.GetItem(id)
	if err != nil {
		return err
	}
	if err := s.storage.Delete(item.ImageRef); err != nil {
		slog.Warn("Failed to release stored image", "item", item.ID, "ref", item.ImageRef, "error", err)
	}
	if err := s.db.DeleteItem(id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// ResetItem moves an error item back to pending for an explicit retry.
// This is the only path back into the pending state; the processor never
// retries on its own.
func (s *Service) ResetItem(ctx context.Context, id string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, err := s.db.GetItem(id)
	if err != nil {
		return nil, err
	}
	if err := s.transitionItem(item, ItemPending); err != nil {
		return nil, err
	}
	item.ErrorMessage = ""
	if err := s.db.SaveItem(item); err != nil {
		return nil, fmt.Errorf("saving item: %w", err)
	}
	return item, nil
}

// transitionItem moves an item along the state machine, failing loudly on
// any edge outside the allowed graph
func (s *Service) transitionItem(item *Item, to ItemStatus) error {
	if !item.Status.CanTransition(to) {
		return &StateError{ItemID: item.ID, From: item.Status, To: to}
	}
	item.Status = to
	item.UpdatedAt = s.timeSource.Now()
	return nil
}
