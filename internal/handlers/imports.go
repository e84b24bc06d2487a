package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/insightfy/crm-api/internal/audit"
	"github.com/insightfy/crm-api/internal/httpx"
	"github.com/insightfy/crm-api/internal/importer"
	"github.com/insightfy/crm-api/internal/middleware"
	"github.com/insightfy/crm-api/internal/spreadsheet"
	"github.com/insightfy/crm-api/internal/store"
)

const previewSampleRows = 5

type previewResponse struct {
	FileName         string                 `json:"file_name"`
	FileHash         string                 `json:"file_hash"`
	Sheet            string                 `json:"sheet"`
	Sheets           []string               `json:"sheets,omitempty"`
	Headers          []string               `json:"headers"`
	RowCount         int                    `json:"row_count"`
	SuggestedMapping importer.ColumnMapping `json:"suggested_mapping"`
	SampleRows       []spreadsheet.RawRow   `json:"sample_rows"`
}

// PostImportPreview parses an uploaded spreadsheet and suggests a column
// mapping without writing anything. The client confirms or adjusts the
// mapping before posting the actual import.
func (s *Server) PostImportPreview(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.Config.ImportMaxFileBytes); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_upload", "Malformed multipart upload", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing_file", "A file field is required", nil)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, s.Config.ImportMaxFileBytes+1))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_upload", "Failed to read uploaded file", nil)
		return
	}
	if int64(len(content)) > s.Config.ImportMaxFileBytes {
		httpx.WriteError(w, r, http.StatusRequestEntityTooLarge, "file_too_large", "Uploaded file exceeds the size limit", nil)
		return
	}

	hash := sha256.Sum256(content)
	response := previewResponse{
		FileName: header.Filename,
		FileHash: hex.EncodeToString(hash[:]),
	}

	var sheet *spreadsheet.Sheet
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".csv":
		sheet, err = spreadsheet.ParseCSV(bytes.NewReader(content))
	case ".xlsx", ".xlsm":
		sheetName := r.FormValue("sheet")
		if response.Sheets, err = spreadsheet.SheetNames(bytes.NewReader(content)); err == nil {
			sheet, err = spreadsheet.ParseXLSX(bytes.NewReader(content), sheetName)
		}
	default:
		httpx.WriteError(w, r, http.StatusBadRequest, "unsupported_format", "Only .xlsx and .csv files are supported", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "parse_failed", "Could not parse the uploaded file", map[string]string{"reason": err.Error()})
		return
	}

	response.Sheet = sheet.Name
	response.Headers = sheet.Headers
	response.RowCount = len(sheet.Rows)
	response.SuggestedMapping = importer.AutoMapColumns(sheet.Headers)
	sample := len(sheet.Rows)
	if sample > previewSampleRows {
		sample = previewSampleRows
	}
	response.SampleRows = sheet.Rows[:sample]

	httpx.WriteJSON(w, http.StatusOK, response)
}

type importRequest struct {
	Rows           []importer.RawRow      `json:"rows"`
	Mapping        importer.ColumnMapping `json:"mapping"`
	Defaults       importer.Defaults      `json:"defaults"`
	Mode           string                 `json:"mode"`
	SourceFileName string                 `json:"source_file_name"`
	SourceFileHash string                 `json:"source_file_hash"`
	SheetName      string                 `json:"sheet_name"`
}

// PostImport runs the import batch transaction for a confirmed mapping.
func (s *Server) PostImport(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := middleware.OrganizationFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing_organization", "Organization scope is required", nil)
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}

	var userID *uuid.UUID
	if raw := r.Header.Get("X-User-Id"); raw != "" {
		if parsed, err := uuid.Parse(raw); err == nil {
			userID = &parsed
		}
	}

	result, err := s.Importer.Run(r.Context(), importer.Request{
		OrganizationID: organizationID,
		UserID:         userID,
		Rows:           req.Rows,
		Mapping:        req.Mapping,
		Defaults:       req.Defaults,
		SourceFileName: req.SourceFileName,
		SourceFileHash: req.SourceFileHash,
		SheetName:      req.SheetName,
		Mode:           importer.ImportMode(req.Mode),
	})
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}

	batchID := result.BatchID
	_ = s.Audit.Log(r.Context(), audit.Entry{
		OrganizationID: organizationID,
		UserID:         userID,
		Action:         "imports.create",
		EntityType:     "import_batch",
		EntityID:       &batchID,
		RequestID:      middleware.RequestIDFromContext(r.Context()),
		Metadata: map[string]any{
			"imported": result.Imported,
			"skipped":  result.Skipped,
		},
	})

	httpx.WriteJSON(w, http.StatusCreated, result)
}

// PostImportUndo reverts a completed batch. Safe to call twice.
func (s *Server) PostImportUndo(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := middleware.OrganizationFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing_organization", "Organization scope is required", nil)
		return
	}
	batchID, err := uuid.Parse(chi.URLParam(r, "batchId"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_batch_id", "Batch id must be a UUID", nil)
		return
	}

	result, err := s.Importer.Undo(r.Context(), batchID, organizationID)
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}

	_ = s.Audit.Log(r.Context(), audit.Entry{
		OrganizationID: organizationID,
		Action:         "imports.undo",
		EntityType:     "import_batch",
		EntityID:       &batchID,
		RequestID:      middleware.RequestIDFromContext(r.Context()),
		Metadata:       map[string]any{"undone": result.Undone},
	})

	httpx.WriteJSON(w, http.StatusOK, result)
}

type batchResponse struct {
	Batch *store.ImportBatch      `json:"batch"`
	Rows  []store.ImportRowDetail `json:"rows"`
}

// GetImport returns one batch with its audited rows.
func (s *Server) GetImport(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := middleware.OrganizationFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing_organization", "Organization scope is required", nil)
		return
	}
	batchID, err := uuid.Parse(chi.URLParam(r, "batchId"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_batch_id", "Batch id must be a UUID", nil)
		return
	}

	batch, err := s.Store.GetImportBatch(r.Context(), organizationID, batchID)
	if err != nil {
		if store.Classify(err) == store.KindNotFound {
			httpx.WriteError(w, r, http.StatusNotFound, "batch_not_found", "Import batch was not found", nil)
			return
		}
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load import batch", nil)
		return
	}
	rows, err := s.Store.ListImportRows(r.Context(), organizationID, batchID)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load import rows", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, batchResponse{Batch: batch, Rows: rows})
}

func (s *Server) writeImportError(w http.ResponseWriter, r *http.Request, err error) {
	var impErr *importer.Error
	if !errors.As(err, &impErr) {
		httpx.WriteError(w, r, http.StatusInternalServerError, "unexpected", "Import failed", nil)
		return
	}

	status := http.StatusInternalServerError
	message := "Import failed"
	switch impErr.Reason {
	case importer.ReasonMissingParams:
		status, message = http.StatusBadRequest, "organization_id and mapping are required"
	case importer.ReasonEmptyRows:
		status, message = http.StatusBadRequest, "No rows to import"
	case importer.ReasonRowsLimitExceeded:
		status, message = http.StatusBadRequest, "Too many rows for one import"
	case importer.ReasonInvalidBatch:
		status, message = http.StatusNotFound, "Import batch was not found"
	case importer.ReasonBatchInsertFailed:
		message = "Failed to create the import batch"
	case importer.ReasonBulkInsertFailed:
		message = "Failed to insert leads; no rows were imported"
	}

	s.Logger.Error("import_request_failed",
		"reason", impErr.Reason,
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"error", impErr.Err,
	)
	httpx.WriteError(w, r, status, impErr.Reason, message, nil)
}
