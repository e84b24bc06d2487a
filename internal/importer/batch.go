package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Reason codes surfaced to callers. Every failed import maps to exactly one.
const (
	ReasonMissingConfig     = "missing_config"
	ReasonMissingParams     = "missing_params"
	ReasonEmptyRows         = "empty_rows"
	ReasonRowsLimitExceeded = "rows_limit_exceeded"
	ReasonBatchInsertFailed = "batch_insert_failed"
	ReasonBulkInsertFailed  = "bulk_insert_failed"
	ReasonInvalidBatch      = "invalid_batch"
	ReasonUnexpected        = "unexpected"
)

// DefaultMaxRows caps one import call. Bigger files have to be split.
const DefaultMaxRows = 5000

// Row status values recorded in the audit trail.
const (
	RowStatusImported = "imported"
	RowStatusSkipped  = "skipped"
)

// ImportMode selects how much of each payload survives post-processing.
// ModeBasicOnly strips payloads down to title/source/organization/
// lead_source_detail/status for a reduced-risk first pass.
type ImportMode string

const (
	ModeFull      ImportMode = ""
	ModeBasicOnly ImportMode = "basic_only"
)

// BatchMeta describes one import run before any row is processed.
type BatchMeta struct {
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
	SourceFileName string
	SourceFileHash string
	SheetName      string
	Mapping        ColumnMapping
	StartedAt      time.Time
}

// BatchCounters are written exactly once when the run finalizes.
type BatchCounters struct {
	RowCount      int
	ImportedCount int
	SkippedCount  int
	ErrorCount    int
}

// RowAudit is the write-once record kept for every input row.
type RowAudit struct {
	BatchID   uuid.UUID
	RowIndex  int
	Original  RawRow
	Payload   *LeadPayload
	Status    string
	Errors    []string
	LeadID    *uuid.UUID
}

// Store is the persistence collaborator the batch transaction runs against.
type Store interface {
	CreateImportBatch(ctx context.Context, meta BatchMeta) (uuid.UUID, error)
	// InsertLeads is atomic: either every payload is inserted and ids come
	// back in payload order, or nothing is.
	InsertLeads(ctx context.Context, payloads []*LeadPayload) ([]uuid.UUID, error)
	InsertRowAudits(ctx context.Context, audits []RowAudit) error
	FinalizeImportBatch(ctx context.Context, batchID uuid.UUID, counters BatchCounters, completedAt time.Time) error

	ImportedLeadIDs(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, error)
	LeadsWithActivityBeyondCreation(ctx context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	DeleteLeadsByIDs(ctx context.Context, organizationID uuid.UUID, leadIDs []uuid.UUID) error
	MarkRowsUndone(ctx context.Context, batchID uuid.UUID, leadIDs []uuid.UUID) error
	AdjustBatchAfterUndo(ctx context.Context, batchID uuid.UUID, undone int) error
	GetImportBatchOrganization(ctx context.Context, batchID uuid.UUID) (uuid.UUID, error)
}

// Error carries the reason code a failed import is reported under.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func failure(reason string, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// Request is one import call as received from the API surface.
type Request struct {
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
	Rows           []RawRow
	Mapping        ColumnMapping
	Defaults       Defaults
	SourceFileName string
	SourceFileHash string
	SheetName      string
	Mode           ImportMode
}

// Result summarizes a completed import run. The audit trail is the source of
// truth; these counters are derived from it.
type Result struct {
	BatchID    uuid.UUID   `json:"batch_id"`
	Imported   int         `json:"imported"`
	Skipped    int         `json:"skipped"`
	ErrorCount int         `json:"error_count"`
	LeadIDs    []uuid.UUID `json:"lead_ids"`
}

// Service orchestrates the import batch transaction and its undo.
type Service struct {
	store   Store
	logger  *slog.Logger
	maxRows int
	now     func() time.Time
}

func NewService(store Store, logger *slog.Logger, maxRows int) *Service {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Service{store: store, logger: logger, maxRows: maxRows, now: time.Now}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run executes the import batch transaction: create batch, project rows,
// post-process, bulk insert, audit, finalize. Once the batch row exists the
// counters are finalized on every path, success or failure, so no run is
// left "started but never completed".
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	if req.OrganizationID == uuid.Nil || len(req.Mapping) == 0 {
		return nil, failure(ReasonMissingParams, fmt.Errorf("organization_id and mapping are required"))
	}
	if len(req.Rows) == 0 {
		return nil, failure(ReasonEmptyRows, fmt.Errorf("no rows to import"))
	}
	if len(req.Rows) > s.maxRows {
		return nil, failure(ReasonRowsLimitExceeded, fmt.Errorf("row limit of %d exceeded (%d rows)", s.maxRows, len(req.Rows)))
	}

	started := s.now()
	batchID, err := s.store.CreateImportBatch(ctx, BatchMeta{
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		SourceFileName: req.SourceFileName,
		SourceFileHash: req.SourceFileHash,
		SheetName:      req.SheetName,
		Mapping:        req.Mapping,
		StartedAt:      started,
	})
	if err != nil {
		return nil, failure(ReasonBatchInsertFailed, err)
	}

	projections := make([]Projection, len(req.Rows))
	extras := make([]Extras, len(req.Rows))
	for i, row := range req.Rows {
		projections[i] = Project(row, req.Mapping, req.OrganizationID.String(), req.Defaults)
		extras[i] = CaptureExtras(row, req.Mapping)
	}

	// payloadRows[i] is the input-row index of payloads[i], so inserted lead
	// ids can be attributed back to the right audit rows.
	var payloads []*LeadPayload
	var payloadRows []int
	for i := range projections {
		if projections[i].Payload == nil {
			continue
		}
		payload := s.postProcess(projections[i].Payload, extras[i], req)
		payloads = append(payloads, payload)
		payloadRows = append(payloadRows, i)
	}

	errorCount := 0
	for i := range projections {
		if len(projections[i].Errors) > 0 {
			errorCount++
		}
	}

	var insertedIDs []uuid.UUID
	if len(payloads) > 0 {
		insertedIDs, err = s.store.InsertLeads(ctx, payloads)
		if err != nil {
			// All-or-nothing at the bulk-insert boundary: every row is
			// skipped, even the ones that validated individually.
			s.logger.Error("import_bulk_insert_failed",
				"batch_id", batchID, "payload_count", len(payloads), "error", err)
			insertErr := fmt.Sprintf("insert_failed: %v", err)
			audits := make([]RowAudit, len(req.Rows))
			for i := range req.Rows {
				audits[i] = RowAudit{
					BatchID:  batchID,
					RowIndex: i,
					Original: req.Rows[i],
					Payload:  projections[i].Payload,
					Status:   RowStatusSkipped,
					Errors:   append(projections[i].Errors, insertErr),
				}
			}
			if auditErr := s.store.InsertRowAudits(ctx, audits); auditErr != nil {
				s.logger.Error("import_audit_write_failed", "batch_id", batchID, "error", auditErr)
			}
			s.finalize(ctx, batchID, BatchCounters{
				RowCount:     len(req.Rows),
				SkippedCount: len(req.Rows),
				ErrorCount:   len(req.Rows),
			})
			return nil, failure(ReasonBulkInsertFailed, err)
		}
	}

	leadIDByRow := make(map[int]uuid.UUID, len(insertedIDs))
	for i, rowIdx := range payloadRows {
		if i < len(insertedIDs) {
			leadIDByRow[rowIdx] = insertedIDs[i]
		}
	}

	audits := make([]RowAudit, len(req.Rows))
	for i := range req.Rows {
		audit := RowAudit{
			BatchID:  batchID,
			RowIndex: i,
			Original: req.Rows[i],
			Payload:  projections[i].Payload,
			Status:   RowStatusSkipped,
			Errors:   projections[i].Errors,
		}
		if leadID, ok := leadIDByRow[i]; ok {
			id := leadID
			audit.Status = RowStatusImported
			audit.LeadID = &id
		}
		audits[i] = audit
	}
	if err := s.store.InsertRowAudits(ctx, audits); err != nil {
		s.logger.Error("import_audit_write_failed", "batch_id", batchID, "error", err)
		s.finalize(ctx, batchID, BatchCounters{
			RowCount:      len(req.Rows),
			ImportedCount: len(insertedIDs),
			SkippedCount:  len(req.Rows) - len(insertedIDs),
			ErrorCount:    errorCount,
		})
		return nil, failure(ReasonUnexpected, err)
	}

	counters := BatchCounters{
		RowCount:      len(req.Rows),
		ImportedCount: len(insertedIDs),
		SkippedCount:  len(req.Rows) - len(insertedIDs),
		ErrorCount:    errorCount,
	}
	s.finalize(ctx, batchID, counters)

	s.logger.Info("import_completed",
		"batch_id", batchID,
		"rows", counters.RowCount,
		"imported", counters.ImportedCount,
		"skipped", counters.SkippedCount,
		"duration_ms", s.now().Sub(started).Milliseconds(),
	)
	return &Result{
		BatchID:    batchID,
		Imported:   counters.ImportedCount,
		Skipped:    counters.SkippedCount,
		ErrorCount: counters.ErrorCount,
		LeadIDs:    insertedIDs,
	}, nil
}

// postProcess applies the server-side adjustments the projector stays out
// of: closed-won stamping, lead_source_detail enrichment and basic_only
// stripping.
func (s *Service) postProcess(payload *LeadPayload, extras Extras, req Request) *LeadPayload {
	out := *payload

	if out.Status != nil && *out.Status == "fechado_ganho" && out.ClosedWonAt == nil {
		stamped := FormatTimestamp(s.now())
		out.ClosedWonAt = &stamped
	}

	if annotation := extras.Annotation(); annotation != "" {
		if out.LeadSourceDetail != nil && *out.LeadSourceDetail != "" {
			joined := *out.LeadSourceDetail + "; " + annotation
			out.LeadSourceDetail = &joined
		} else {
			out.LeadSourceDetail = &annotation
		}
	}

	if req.Mode == ModeBasicOnly {
		basic := LeadPayload{
			Title:            out.Title,
			OrganizationID:   out.OrganizationID,
			Source:           out.Source,
			LeadSourceDetail: out.LeadSourceDetail,
		}
		if req.Defaults.Status != "" {
			status := req.Defaults.Status
			basic.Status = &status
		}
		if basic.Source == nil && req.Defaults.Source != "" {
			source := req.Defaults.Source
			basic.Source = &source
		}
		return &basic
	}
	return &out
}

func (s *Service) finalize(ctx context.Context, batchID uuid.UUID, counters BatchCounters) {
	if err := s.store.FinalizeImportBatch(ctx, batchID, counters, s.now()); err != nil {
		s.logger.Error("import_finalize_failed", "batch_id", batchID, "error", err)
	}
}

// UndoResult reports how many leads an undo call actually removed.
type UndoResult struct {
	Undone int `json:"undone"`
}

// Undo deletes every lead imported by a batch, skipping leads that have
// accumulated activity beyond their creation event. Lead deletion is
// row-only: labels and activity log entries written by other features are
// not restored or removed. Idempotent — a second undo finds no imported
// rows and deletes nothing.
func (s *Service) Undo(ctx context.Context, batchID, organizationID uuid.UUID) (*UndoResult, error) {
	owner, err := s.store.GetImportBatchOrganization(ctx, batchID)
	if err != nil {
		return nil, failure(ReasonInvalidBatch, err)
	}
	if owner != organizationID {
		return nil, failure(ReasonInvalidBatch, fmt.Errorf("batch belongs to another organization"))
	}

	leadIDs, err := s.store.ImportedLeadIDs(ctx, batchID)
	if err != nil {
		return nil, failure(ReasonUnexpected, err)
	}
	if len(leadIDs) == 0 {
		return &UndoResult{Undone: 0}, nil
	}

	blocked, err := s.store.LeadsWithActivityBeyondCreation(ctx, leadIDs)
	if err != nil {
		return nil, failure(ReasonUnexpected, err)
	}
	allowed := make([]uuid.UUID, 0, len(leadIDs))
	for _, id := range leadIDs {
		if !blocked[id] {
			allowed = append(allowed, id)
		}
	}
	if len(allowed) == 0 {
		return &UndoResult{Undone: 0}, nil
	}

	// Rows are flipped before the leads are deleted: the FK from audit rows
	// to leads nulls lead_id on delete, which would leave nothing to match.
	if err := s.store.MarkRowsUndone(ctx, batchID, allowed); err != nil {
		return nil, failure(ReasonUnexpected, err)
	}
	if err := s.store.DeleteLeadsByIDs(ctx, organizationID, allowed); err != nil {
		return nil, failure(ReasonUnexpected, err)
	}
	if err := s.store.AdjustBatchAfterUndo(ctx, batchID, len(allowed)); err != nil {
		return nil, failure(ReasonUnexpected, err)
	}

	s.logger.Info("import_undone", "batch_id", batchID, "undone", len(allowed))
	return &UndoResult{Undone: len(allowed)}, nil
}
