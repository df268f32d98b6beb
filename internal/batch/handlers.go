package batch

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// maxUploadForm bounds a multipart upload request. Individual files are
// still held to MaxFileSize; the form allows headroom for a full batch.
const maxUploadForm = int64(MaxBatchItems) * MaxFileSize

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// writeJSON encodes a JSON response body
func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeServiceError maps pipeline errors to HTTP statuses
func writeServiceError(w http.ResponseWriter, err error) {
	setCORSHeaders(w)
	var validationErr *ValidationError
	var capacityErr *CapacityError
	var stateErr *StateError
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrActiveBatchExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &capacityErr):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &stateErr):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error("Internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// handleCreateBatch creates an empty draft batch
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	batch, err := s.service.CreateBatch(r.Context(), req.Owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

// handleGetActiveBatch returns the owner's active batch, if any
func (s *Server) handleGetActiveBatch(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		corsError(w, "Owner required", http.StatusBadRequest)
		return
	}

	batch, err := s.service.GetActiveBatch(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	counts, err := s.service.Counts(r.Context(), batch.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch, "counts": counts})
}

// handleGetBatch returns a batch with its counts and items
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}

	batch, err := s.service.GetBatch(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items, err := s.service.ListItems(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	counts := CountItems(items)
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch, "counts": counts, "items": items})
}

// handleDeleteBatch deletes a batch, its items and their images
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteBatch(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddImages ingests one or more receipt files into a batch
func (s *Server) handleAddImages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(maxUploadForm); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Error parsing form"})
		return
	}

	var files []IngestFile
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			slog.Error("Error opening uploaded file", "filename", header.Filename, "error", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Error reading file " + header.Filename})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading uploaded file", "filename", header.Filename, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file " + header.Filename})
			return
		}
		files = append(files, IngestFile{
			Filename:    header.Filename,
			ContentType: contentTypeFor(header.Header.Get("Content-Type"), header.Filename),
			Data:        data,
		})
	}

	result, err := s.service.AddImages(r.Context(), id, files)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// contentTypeFor normalizes an uploaded file's content type, falling back
// to the filename extension
func contentTypeFor(headerType, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(headerType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleProcessBatch runs a processing pass and blocks until it completes
func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}

	pass := s.service.StartProcessing(r.Context(), id)
	result, err := pass.Wait(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleFlagDuplicates runs the duplicate detector over a batch
func (s *Server) handleFlagDuplicates(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}

	flagged, err := s.service.FlagDuplicates(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"flagged": flagged})
}

// handleCommit commits selected ready items to the ledger
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}

	var req struct {
		ItemIDs []string `json:"item_ids"`
		Kind    string   `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = string(EntryExpense)
	}

	result, err := s.service.CommitItems(r.Context(), id, req.ItemIDs, EntryKind(req.Kind))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// bulkUpdateRequest is the wire shape of a bulk mutation. The date travels
// as YYYY-MM-DD; omitted fields stay untouched.
type bulkUpdateRequest struct {
	ItemIDs            []string `json:"item_ids"`
	FinalCategoryID    *string  `json:"final_category_id"`
	FinalSubcategoryID *string  `json:"final_subcategory_id"`
	FinalPaymentMethod *string  `json:"final_payment_method"`
	FinalInstrumentRef *string  `json:"final_instrument_ref"`
	Date               *string  `json:"date"`
	AmountCents        *int64   `json:"amount_cents"`
	Description        *string  `json:"description"`
	IsRecurring        *bool    `json:"is_recurring"`
}

// handleBulkUpdate applies a partial field update to selected items
func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	update := ItemUpdate{
		FinalCategoryID:    req.FinalCategoryID,
		FinalSubcategoryID: req.FinalSubcategoryID,
		FinalPaymentMethod: req.FinalPaymentMethod,
		FinalInstrumentRef: req.FinalInstrumentRef,
		AmountCents:        req.AmountCents,
		Description:        req.Description,
		IsRecurring:        req.IsRecurring,
	}
	if req.Date != nil {
		date, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			corsError(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		update.Date = &date
	}

	updated, err := s.service.UpdateItems(r.Context(), req.ItemIDs, update)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// handleResetItem moves an error item back to pending for a retry
func (s *Server) handleResetItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}

	item, err := s.service.ResetItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleGetItem returns a single item
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}

	item, err := s.service.GetItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleGetItemFile returns an item's stored image
func (s *Server) handleGetItemFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}

	data, contentType, err := s.service.GetItemImage(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteItem deletes a single item and releases its image
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteItem(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
