package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	batchID      uuid.UUID
	batchErr     error
	insertErr    error
	insertedIDs  []uuid.UUID
	leadPayloads []*LeadPayload

	audits        []RowAudit
	finalized     []BatchCounters
	batchOwner    uuid.UUID
	importedLeads []uuid.UUID
	blockedLeads  map[uuid.UUID]bool
	deletedLeads  []uuid.UUID
	undoneLeads   []uuid.UUID
	undoAdjusts   []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		batchID:      uuid.New(),
		blockedLeads: map[uuid.UUID]bool{},
	}
}

func (f *fakeStore) CreateImportBatch(ctx context.Context, meta BatchMeta) (uuid.UUID, error) {
	if f.batchErr != nil {
		return uuid.Nil, f.batchErr
	}
	f.batchOwner = meta.OrganizationID
	return f.batchID, nil
}

func (f *fakeStore) InsertLeads(ctx context.Context, payloads []*LeadPayload) ([]uuid.UUID, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.leadPayloads = payloads
	f.insertedIDs = make([]uuid.UUID, len(payloads))
	for i := range payloads {
		f.insertedIDs[i] = uuid.New()
	}
	return f.insertedIDs, nil
}

func (f *fakeStore) InsertRowAudits(ctx context.Context, audits []RowAudit) error {
	f.audits = audits
	return nil
}

func (f *fakeStore) FinalizeImportBatch(ctx context.Context, batchID uuid.UUID, counters BatchCounters, completedAt time.Time) error {
	f.finalized = append(f.finalized, counters)
	return nil
}

func (f *fakeStore) GetImportBatchOrganization(ctx context.Context, batchID uuid.UUID) (uuid.UUID, error) {
	if batchID != f.batchID {
		return uuid.Nil, errors.New("not found")
	}
	return f.batchOwner, nil
}

func (f *fakeStore) ImportedLeadIDs(ctx context.Context, batchID uuid.UUID) ([]uuid.UUID, error) {
	return f.importedLeads, nil
}

func (f *fakeStore) LeadsWithActivityBeyondCreation(ctx context.Context, leadIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	return f.blockedLeads, nil
}

func (f *fakeStore) DeleteLeadsByIDs(ctx context.Context, organizationID uuid.UUID, leadIDs []uuid.UUID) error {
	f.deletedLeads = append(f.deletedLeads, leadIDs...)
	return nil
}

func (f *fakeStore) MarkRowsUndone(ctx context.Context, batchID uuid.UUID, leadIDs []uuid.UUID) error {
	f.undoneLeads = append(f.undoneLeads, leadIDs...)
	remaining := f.importedLeads[:0]
	for _, id := range f.importedLeads {
		undone := false
		for _, u := range leadIDs {
			if u == id {
				undone = true
				break
			}
		}
		if !undone {
			remaining = append(remaining, id)
		}
	}
	f.importedLeads = remaining
	return nil
}

func (f *fakeStore) AdjustBatchAfterUndo(ctx context.Context, batchID uuid.UUID, undone int) error {
	f.undoAdjusts = append(f.undoAdjusts, undone)
	return nil
}

func testService(store Store, maxRows int) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, logger, maxRows)
}

func testRequest(rows []RawRow) Request {
	return Request{
		OrganizationID: uuid.New(),
		Rows:           rows,
		Mapping:        ColumnMapping{"title": "Nome", "status": "Status"},
		Defaults:       Defaults{Status: "novo_lead", Source: "outro"},
	}
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var impErr *Error
	if !errors.As(err, &impErr) {
		t.Fatalf("expected importer error, got %v", err)
	}
	return impErr.Reason
}

func TestRunRejectsBeforeCreatingBatch(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, 3)

	_, err := svc.Run(context.Background(), Request{Rows: []RawRow{{"Nome": "X"}}, Mapping: ColumnMapping{"title": "Nome"}})
	if reasonOf(t, err) != ReasonMissingParams {
		t.Fatalf("expected missing_params, got %v", err)
	}

	req := testRequest(nil)
	_, err = svc.Run(context.Background(), req)
	if reasonOf(t, err) != ReasonEmptyRows {
		t.Fatalf("expected empty_rows, got %v", err)
	}

	req = testRequest([]RawRow{{"Nome": "1"}, {"Nome": "2"}, {"Nome": "3"}, {"Nome": "4"}})
	_, err = svc.Run(context.Background(), req)
	if reasonOf(t, err) != ReasonRowsLimitExceeded {
		t.Fatalf("expected rows_limit_exceeded, got %v", err)
	}

	if len(store.finalized) != 0 {
		t.Fatal("no batch should have been created or finalized")
	}
}

func TestRunImportsAndAuditsEveryRow(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, 100)

	req := testRequest([]RawRow{
		{"Nome": "Empresa A", "Status": "Novo"},
		{"Nome": "", "Status": "Novo"},
		{"Nome": "Empresa B", "Status": "Proposta"},
	})
	result, err := svc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Imported != 2 || result.Skipped != 1 || result.ErrorCount != 1 {
		t.Fatalf("unexpected counters: %+v", result)
	}
	if len(store.audits) != 3 {
		t.Fatalf("expected an audit row per input row, got %d", len(store.audits))
	}
	if store.audits[0].Status != RowStatusImported || store.audits[0].LeadID == nil {
		t.Fatalf("row 0 should be imported with a lead id: %+v", store.audits[0])
	}
	if store.audits[1].Status != RowStatusSkipped || store.audits[1].LeadID != nil {
		t.Fatalf("row 1 should be skipped without a lead id: %+v", store.audits[1])
	}
	if store.audits[2].Status != RowStatusImported {
		t.Fatalf("row 2 should be imported: %+v", store.audits[2])
	}
	if *store.audits[2].LeadID != store.insertedIDs[1] {
		t.Fatal("inserted lead ids must map back to the right rows across skipped gaps")
	}

	if len(store.finalized) != 1 {
		t.Fatalf("expected exactly one finalize call, got %d", len(store.finalized))
	}
	counters := store.finalized[0]
	if counters.RowCount != 3 || counters.ImportedCount != 2 || counters.SkippedCount != 1 || counters.ErrorCount != 1 {
		t.Fatalf("unexpected finalize counters: %+v", counters)
	}
}

func TestRunBulkInsertFailureSkipsEveryRow(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("unique constraint violated")
	svc := testService(store, 100)

	req := testRequest([]RawRow{
		{"Nome": "Empresa A"},
		{"Nome": "Empresa B"},
	})
	_, err := svc.Run(context.Background(), req)
	if reasonOf(t, err) != ReasonBulkInsertFailed {
		t.Fatalf("expected bulk_insert_failed, got %v", err)
	}

	if len(store.audits) != 2 {
		t.Fatalf("expected audits for every row, got %d", len(store.audits))
	}
	for i, audit := range store.audits {
		if audit.Status != RowStatusSkipped {
			t.Fatalf("row %d should be skipped after bulk failure: %+v", i, audit)
		}
		if len(audit.Errors) == 0 {
			t.Fatalf("row %d should carry the insert error", i)
		}
	}

	if len(store.finalized) != 1 {
		t.Fatalf("batch must still finalize exactly once, got %d calls", len(store.finalized))
	}
	counters := store.finalized[0]
	if counters.ImportedCount != 0 || counters.SkippedCount != 2 {
		t.Fatalf("unexpected failure counters: %+v", counters)
	}
}

func TestRunStampsClosedWon(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, 100)
	fixed := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return fixed })

	req := testRequest([]RawRow{{"Nome": "Empresa Ganha", "Status": "Fechado Ganho"}})
	if _, err := svc.Run(context.Background(), req); err != nil {
		t.Fatalf("run: %v", err)
	}

	payload := store.leadPayloads[0]
	if payload.ClosedWonAt == nil || *payload.ClosedWonAt != "2026-03-15T12:00:00Z" {
		t.Fatalf("expected closed_won_at stamped with service clock, got %v", payload.ClosedWonAt)
	}
}

func TestRunBasicOnlyStripsPayload(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, 100)

	req := testRequest([]RawRow{{"Nome": "Empresa Basica", "Status": "Proposta"}})
	req.Mapping["value"] = "Valor"
	req.Rows[0]["Valor"] = "1.000,00"
	req.Mode = ModeBasicOnly

	if _, err := svc.Run(context.Background(), req); err != nil {
		t.Fatalf("run: %v", err)
	}

	payload := store.leadPayloads[0]
	if payload.Value != nil {
		t.Fatal("basic_only payload must not carry value")
	}
	if payload.Status == nil || *payload.Status != "novo_lead" {
		t.Fatalf("basic_only status should come from defaults, got %v", payload.Status)
	}
	if payload.Title != "Empresa Basica" {
		t.Fatalf("title must survive basic_only, got %q", payload.Title)
	}
}

func TestRunAppendsExtrasToLeadSourceDetail(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, 100)

	req := testRequest([]RawRow{{
		"Nome":     "Empresa Extra",
		"E-mail":   "contato@extra.com",
		"Detalhe":  "Campanha Inverno",
		"Telefone": "11 98888-0000",
	}})
	req.Mapping["email"] = "E-mail"
	req.Mapping["phone"] = "Telefone"
	req.Mapping["lead_source_detail"] = "Detalhe"

	if _, err := svc.Run(context.Background(), req); err != nil {
		t.Fatalf("run: %v", err)
	}

	payload := store.leadPayloads[0]
	want := "Campanha Inverno; email:contato@extra.com; phone:11 98888-0000"
	if payload.LeadSourceDetail == nil || *payload.LeadSourceDetail != want {
		t.Fatalf("lead_source_detail = %v, want %q", payload.LeadSourceDetail, want)
	}
}

func TestUndoSkipsLeadsWithActivity(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, 100)
	orgID := uuid.New()
	store.batchOwner = orgID

	kept := uuid.New()
	removed := uuid.New()
	store.importedLeads = []uuid.UUID{kept, removed}
	store.blockedLeads[kept] = true

	result, err := svc.Undo(context.Background(), store.batchID, orgID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if result.Undone != 1 {
		t.Fatalf("expected 1 undone, got %d", result.Undone)
	}
	if len(store.deletedLeads) != 1 || store.deletedLeads[0] != removed {
		t.Fatalf("expected only the unblocked lead deleted, got %v", store.deletedLeads)
	}
	if len(store.undoAdjusts) != 1 || store.undoAdjusts[0] != 1 {
		t.Fatalf("expected counters adjusted by 1, got %v", store.undoAdjusts)
	}
}

func TestUndoIsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, 100)
	orgID := uuid.New()
	store.batchOwner = orgID
	store.importedLeads = []uuid.UUID{uuid.New(), uuid.New()}

	first, err := svc.Undo(context.Background(), store.batchID, orgID)
	if err != nil {
		t.Fatalf("first undo: %v", err)
	}
	if first.Undone != 2 {
		t.Fatalf("expected 2 undone, got %d", first.Undone)
	}

	second, err := svc.Undo(context.Background(), store.batchID, orgID)
	if err != nil {
		t.Fatalf("second undo: %v", err)
	}
	if second.Undone != 0 {
		t.Fatalf("expected second undo to remove nothing, got %d", second.Undone)
	}
	if len(store.deletedLeads) != 2 {
		t.Fatalf("expected no additional deletes, got %v", store.deletedLeads)
	}
}

func TestUndoRejectsForeignOrganization(t *testing.T) {
	store := newFakeStore()
	svc := testService(store, 100)
	store.batchOwner = uuid.New()

	_, err := svc.Undo(context.Background(), store.batchID, uuid.New())
	if reasonOf(t, err) != ReasonInvalidBatch {
		t.Fatalf("expected invalid_batch, got %v", err)
	}
}
