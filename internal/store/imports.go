package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insightfy/crm-api/internal/importer"
)

const leadInsertColumns = "organization_id, title, description, status, source, value, " +
	"contract_value, contract_months, contract_type, priority, lead_score, " +
	"conversion_probability, expected_close_date, next_follow_up_date, last_contact_date, " +
	"due_date, product_interest, lead_source_detail, campaign_id, external_lead_id, " +
	"adset_id, ad_id, closed_won_at, closed_lost_at, lost_reason, custom_fields"

const leadInsertArity = 26

func (s *Store) CreateImportBatch(ctx context.Context, meta importer.BatchMeta) (uuid.UUID, error) {
	mapping, err := json.Marshal(meta.Mapping)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal mapping: %w", err)
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO import_batches (organization_id, user_id, source_file_name, source_file_hash, sheet_name, mapping, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'processing', $7)
		RETURNING id`,
		meta.OrganizationID, meta.UserID, meta.SourceFileName, meta.SourceFileHash, meta.SheetName, mapping, meta.StartedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert import batch: %w", err)
	}
	return id, nil
}

// InsertLeads writes every payload in one INSERT inside one transaction, so
// a single bad row rolls back the whole call. Returned ids are in payload
// order.
func (s *Store) InsertLeads(ctx context.Context, payloads []*importer.LeadPayload) ([]uuid.UUID, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(payloads)*leadInsertArity)
	sb.WriteString("INSERT INTO leads (" + leadInsertColumns + ") VALUES ")
	for i, p := range payloads {
		customFields, err := json.Marshal(p.CustomFields)
		if err != nil {
			return nil, fmt.Errorf("marshal custom fields: %w", err)
		}
		if p.CustomFields == nil {
			customFields = []byte("{}")
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * leadInsertArity
		sb.WriteString(fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, "+
				"$%d::timestamptz, $%d::timestamptz, $%d::timestamptz, $%d::timestamptz, "+
				"$%d, $%d, $%d, $%d, $%d, $%d, $%d::timestamptz, $%d::timestamptz, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
			base+11, base+12, base+13, base+14, base+15, base+16, base+17, base+18, base+19,
			base+20, base+21, base+22, base+23, base+24, base+25, base+26,
		))
		args = append(args,
			p.OrganizationID, p.Title, p.Description, p.Status, p.Source, p.Value,
			p.ContractValue, p.ContractMonths, p.ContractType, p.Priority, p.LeadScore,
			p.ConversionProbability, p.ExpectedCloseDate, p.NextFollowUpDate, p.LastContactDate,
			p.DueDate, p.ProductInterest, p.LeadSourceDetail, p.CampaignID, p.ExternalLeadID,
			p.AdsetID, p.AdID, p.ClosedWonAt, p.ClosedLostAt, p.LostReason, customFields,
		)
	}
	sb.WriteString(" RETURNING id")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("insert leads: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(payloads))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan lead id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insert leads: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

func (s *Store) InsertRowAudits(ctx context.Context, audits []importer.RowAudit) error {
	if len(audits) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(audits)*7)
	sb.WriteString("INSERT INTO import_rows (batch_id, row_index, original, payload, status, errors, lead_id) VALUES ")
	for i, audit := range audits {
		original, err := json.Marshal(audit.Original)
		if err != nil {
			return fmt.Errorf("marshal original row: %w", err)
		}
		var payload []byte
		if audit.Payload != nil {
			payload, err = json.Marshal(audit.Payload)
			if err != nil {
				return fmt.Errorf("marshal payload: %w", err)
			}
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		args = append(args, audit.BatchID, audit.RowIndex, original, payload, audit.Status, audit.Errors, audit.LeadID)
	}

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert import rows: %w", err)
	}
	return nil
}

func (s *Store) FinalizeImportBatch(ctx context.Context, batchID uuid.UUID, counters importer.BatchCounters, completedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_batches
		SET status = 'completed', row_count = $2, imported_count = $3, skipped_count = $4, error_count = $5, completed_at = $6
		WHERE id = $1 AND status = 'processing'`,
		batchID, counters.RowCount, counters.ImportedCount, counters.SkippedCount, counters.ErrorCount, completedAt,
	)
	if err != nil {
		return fmt.Errorf("finalize import batch: %w", err)
	}
	return nil
}

func (s *Store) GetImportBatchOrganization(ctx context.Context, batchID uuid.UUID) (uuid.UUID, error) {
	var orgID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT organization_id FROM import_batches WHERE id = $1`, batchID,
	).Scan(&orgID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load import batch: %w", err)
	}
	return orgID, nil
}

func (s *Store) ImportedLeadIDs(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT lead_id FROM import_rows
		WHERE batch_id = $1 AND status = 'imported' AND lead_id IS NOT NULL
		ORDER BY row_index`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list imported lead ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan lead id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LeadsWithActivityBeyondCreation reports which of the given leads have
// activity log entries other than their creation event. Such leads are
// protected from undo.
func (s *Store) LeadsWithActivityBeyondCreation(ctx context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT lead_id FROM lead_activities
		WHERE lead_id = ANY($1) AND action_type <> 'created'`, leadIDs)
	if err != nil {
		return nil, fmt.Errorf("list lead activity: %w", err)
	}
	defer rows.Close()

	blocked := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan lead id: %w", err)
		}
		blocked[id] = true
	}
	return blocked, rows.Err()
}

func (s *Store) DeleteLeadsByIDs(ctx context.Context, organizationID uuid.UUID, leadIDs []uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM leads WHERE organization_id = $1 AND id = ANY($2)`,
		organizationID, leadIDs,
	)
	if err != nil {
		return fmt.Errorf("delete leads: %w", err)
	}
	return nil
}

func (s *Store) MarkRowsUndone(ctx context.Context, batchID uuid.UUID, leadIDs []uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_rows
		SET status = 'skipped', errors = array_append(errors, 'undo'), lead_id = NULL
		WHERE batch_id = $1 AND lead_id = ANY($2)`,
		batchID, leadIDs,
	)
	if err != nil {
		return fmt.Errorf("mark rows undone: %w", err)
	}
	return nil
}

func (s *Store) AdjustBatchAfterUndo(ctx context.Context, batchID uuid.UUID, undone int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_batches
		SET imported_count = imported_count - $2, skipped_count = skipped_count + $2
		WHERE id = $1`,
		batchID, undone,
	)
	if err != nil {
		return fmt.Errorf("adjust batch after undo: %w", err)
	}
	return nil
}

// ImportBatch is the stored summary of one import run.
type ImportBatch struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	SourceFileName string     `json:"source_file_name"`
	SheetName      string     `json:"sheet_name"`
	Status         string     `json:"status"`
	RowCount       int        `json:"row_count"`
	ImportedCount  int        `json:"imported_count"`
	SkippedCount   int        `json:"skipped_count"`
	ErrorCount     int        `json:"error_count"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

func (s *Store) GetImportBatch(ctx context.Context, organizationID, batchID uuid.UUID) (*ImportBatch, error) {
	var b ImportBatch
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, source_file_name, sheet_name, status,
		       row_count, imported_count, skipped_count, error_count, started_at, completed_at
		FROM import_batches
		WHERE id = $1 AND organization_id = $2`, batchID, organizationID,
	).Scan(&b.ID, &b.OrganizationID, &b.SourceFileName, &b.SheetName, &b.Status,
		&b.RowCount, &b.ImportedCount, &b.SkippedCount, &b.ErrorCount, &b.StartedAt, &b.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("load import batch: %w", err)
	}
	return &b, nil
}

// ImportRowDetail is one audited row as exposed by the batch inspection
// endpoint.
type ImportRowDetail struct {
	RowIndex int        `json:"row_index"`
	Status   string     `json:"status"`
	Errors   []string   `json:"errors,omitempty"`
	LeadID   *uuid.UUID `json:"lead_id,omitempty"`
}

func (s *Store) ListImportRows(ctx context.Context, organizationID, batchID uuid.UUID) ([]ImportRowDetail, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.row_index, r.status, r.errors, r.lead_id
		FROM import_rows r
		JOIN import_batches b ON b.id = r.batch_id
		WHERE r.batch_id = $1 AND b.organization_id = $2
		ORDER BY r.row_index`, batchID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list import rows: %w", err)
	}
	defer rows.Close()

	var out []ImportRowDetail
	for rows.Next() {
		var detail ImportRowDetail
		if err := rows.Scan(&detail.RowIndex, &detail.Status, &detail.Errors, &detail.LeadID); err != nil {
			return nil, fmt.Errorf("scan import row: %w", err)
		}
		out = append(out, detail)
	}
	return out, rows.Err()
}
