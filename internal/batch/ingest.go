package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/expense-inbox/internal/extraction"
)

const (
	// MaxBatchItems is the hard per-batch item ceiling
	MaxBatchItems = 10

	// MaxFileSize is the per-file size ceiling in bytes
	MaxFileSize = 10 << 20 // 10MB

	// maxImageEdge bounds the longest edge of a stored image
	maxImageEdge = 1200

	// jpegQuality is the fixed recompression quality
	jpegQuality = 80
)

// allowedContentTypes is the ingestion MIME allow-list. PDFs are accepted
// and rendered to an image before storage.
var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/heic":      true,
	"image/heif":      true,
	"application/pdf": true,
}

// IngestFile is one candidate receipt file
type IngestFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// RejectedFile records why a candidate file produced no item
type RejectedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// IngestResult reports the outcome of an AddImages call. Ingestion is not
// all-or-nothing: valid files produce items even when others are rejected.
type IngestResult struct {
	Items    []*Item        `json:"items"`
	Rejected []RejectedFile `json:"rejected"`
}

// AddImages validates, compresses and durably stores candidate receipt
// files, creating one pending item per accepted file.
//
// Capacity policy: a request holding more files than the batch's remaining
// capacity is rejected as a whole with a CapacityError before any file is
// touched, so the caller always learns exactly how many slots remain.
func (s *Service) AddImages(ctx context.Context, batchID string, files []IngestFile) (*IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := s.db.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != BatchDraft && batch.Status != BatchReview {
		return nil, &ValidationError{Reason: fmt.Sprintf("batch is %s; images can only be added in draft or review", batch.Status)}
	}
	if len(files) == 0 {
		return nil, &ValidationError{Reason: "no files provided"}
	}

	existing, err := s.db.ListItems(batchID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	remaining := MaxBatchItems - len(existing)
	if len(files) > remaining {
		return nil, &CapacityError{Capacity: MaxBatchItems, Remaining: remaining, Requested: len(files)}
	}

	nextSeq := 1
	for _, item := range existing {
		if item.Seq >= nextSeq {
			nextSeq = item.Seq + 1
		}
	}

	result := &IngestResult{Items: make([]*Item, 0, len(files)), Rejected: make([]RejectedFile, 0)}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if reason := validateFile(file); reason != "" {
			result.Rejected = append(result.Rejected, RejectedFile{Filename: file.Filename, Reason: reason})
			continue
		}

		compressed, storedType, err := extraction.CompressForStorage(file.Data, file.ContentType, maxImageEdge, jpegQuality)
		if err != nil {
			slog.Warn("Skipping unreadable receipt file", "filename", file.Filename, "error", err)
			result.Rejected = append(result.Rejected, RejectedFile{Filename: file.Filename, Reason: fmt.Sprintf("unreadable file: %v", err)})
			continue
		}

		ref, err := s.storage.Put(compressed, storedType)
		if err != nil {
			// Storage failure skips this file only; the rest of the
			// request proceeds
			slog.Error("Failed to store receipt image", "filename", file.Filename, "error", err)
			result.Rejected = append(result.Rejected, RejectedFile{Filename: file.Filename, Reason: fmt.Sprintf("storage failure: %v", err)})
			continue
		}

		now := s.timeSource.Now()
		item := &Item{
			ID:          s.idGenerator.Generate(),
			BatchID:     batchID,
			Seq:         nextSeq,
			ImageRef:    ref,
			ContentType: storedType,
			Status:      ItemPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.db.SaveItem(item); err != nil {
			slog.Error("Failed to save item", "filename", file.Filename, "error", err)
			if delErr := s.storage.Delete(ref); delErr != nil {
				slog.Warn("Failed to release stored image", "ref", ref, "error", delErr)
			}
			result.Rejected = append(result.Rejected, RejectedFile{Filename: file.Filename, Reason: fmt.Sprintf("saving item: %v", err)})
			continue
		}

		nextSeq++
		result.Items = append(result.Items, item)
	}

	return result, nil
}

// validateFile checks a candidate against the MIME allow-list and size
// ceiling, returning a rejection reason or ""
func validateFile(file IngestFile) string {
	contentType := strings.ToLower(strings.TrimSpace(file.ContentType))
	if !allowedContentTypes[contentType] {
		return fmt.Sprintf("unsupported file type %q", file.ContentType)
	}
	if len(file.Data) == 0 {
		return "empty file"
	}
	if len(file.Data) > MaxFileSize {
		return fmt.Sprintf("file exceeds %dMB limit", MaxFileSize>>20)
	}
	return ""
}
