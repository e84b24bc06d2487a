package metasync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/insightfy/crm-api/internal/store"
)

func TestChunkDateRange(t *testing.T) {
	tests := []struct {
		since, until string
		maxDays      int
		want         []dateChunk
	}{
		{"2026-08-01", "2026-08-01", 30, []dateChunk{{"2026-08-01", "2026-08-01"}}},
		{"2026-08-01", "2026-08-30", 30, []dateChunk{{"2026-08-01", "2026-08-30"}}},
		{"2026-08-01", "2026-08-31", 30, []dateChunk{{"2026-08-01", "2026-08-30"}, {"2026-08-31", "2026-08-31"}}},
		{"2026-01-01", "2026-01-10", 4, []dateChunk{
			{"2026-01-01", "2026-01-04"},
			{"2026-01-05", "2026-01-08"},
			{"2026-01-09", "2026-01-10"},
		}},
	}
	for _, tt := range tests {
		got, err := chunkDateRange(tt.since, tt.until, tt.maxDays)
		if err != nil {
			t.Fatalf("chunk %s..%s: %v", tt.since, tt.until, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("chunk %s..%s: got %v, want %v", tt.since, tt.until, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("chunk %s..%s: got %v, want %v", tt.since, tt.until, got, tt.want)
			}
		}
	}
}

func TestChunkDateRangeRejectsInvertedWindow(t *testing.T) {
	if _, err := chunkDateRange("2026-08-10", "2026-08-01", 30); err == nil {
		t.Fatal("expected an error for until before since")
	}
}

func TestNormalizeISODate(t *testing.T) {
	if got := normalizeISODate("", "2026-08-31"); got != "2026-08-31" {
		t.Fatalf("empty input should fall back, got %q", got)
	}
	if got := normalizeISODate("not-a-date", "2026-08-31"); got != "2026-08-31" {
		t.Fatalf("invalid input should fall back, got %q", got)
	}
	if got := normalizeISODate("2026-07-15", "2026-08-31"); got != "2026-07-15" {
		t.Fatalf("valid input should pass through, got %q", got)
	}
}

type fakeSyncStore struct {
	conn     *store.MetaConnection
	connErr  error
	connGets int
	upserted []store.DailyInsight
}

func (f *fakeSyncStore) GetMetaConnection(ctx context.Context, organizationID uuid.UUID) (*store.MetaConnection, error) {
	f.connGets++
	if f.connErr != nil {
		return nil, f.connErr
	}
	return f.conn, nil
}

func (f *fakeSyncStore) UpsertDailyInsights(ctx context.Context, rows []store.DailyInsight) error {
	f.upserted = append(f.upserted, rows...)
	return nil
}

func TestSyncFetchesAndUpserts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		level := r.URL.Query().Get("level")
		switch level {
		case "campaign":
			fmt.Fprint(w, `{"data":[{"campaign_id":"c1","campaign_name":"Campanha","date_start":"2026-08-01",
				"spend":"10","impressions":"100","clicks":"5","actions":[{"action_type":"lead","value":"2"}]}]}`)
		case "adset":
			fmt.Fprint(w, `{"data":[{"adset_id":"s1","adset_name":"Conjunto","campaign_id":"c1",
				"date_start":"2026-08-01","spend":"10"}]}`)
		default:
			fmt.Fprint(w, `{"data":[]}`)
		}
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(logger).WithBaseURL(srv.URL)
	fake := &fakeSyncStore{conn: &store.MetaConnection{AccessToken: "tok", AdAccountID: "123"}}
	syncer := NewSyncer(fake, client, logger)

	orgID := uuid.New()
	summary, err := syncer.Sync(context.Background(), Request{
		OrganizationID: orgID,
		Since:          "2026-08-01",
		Until:          "2026-08-01",
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if summary.Since != "2026-08-01" || summary.Until != "2026-08-01" {
		t.Fatalf("unexpected window: %+v", summary)
	}
	if summary.Chunks != 3 {
		t.Fatalf("expected one chunk per level, got %d", summary.Chunks)
	}
	if summary.Upserted != 2 {
		t.Fatalf("expected 2 rows upserted, got %d", summary.Upserted)
	}

	var campaign, adset *store.DailyInsight
	for i := range fake.upserted {
		switch fake.upserted[i].EntityLevel {
		case store.LevelCampaign:
			campaign = &fake.upserted[i]
		case store.LevelAdset:
			adset = &fake.upserted[i]
		}
	}
	if campaign == nil || campaign.EntityID != "c1" || campaign.Leads != 2 || campaign.OrganizationID != orgID {
		t.Fatalf("campaign row wrong: %+v", campaign)
	}
	if adset == nil || adset.EntityID != "s1" || adset.EntityName != "Conjunto" {
		t.Fatalf("adset row wrong: %+v", adset)
	}
}

func TestSyncMemoizesConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(logger).WithBaseURL(srv.URL)
	fake := &fakeSyncStore{conn: &store.MetaConnection{AccessToken: "tok", AdAccountID: "123"}}
	syncer := NewSyncer(fake, client, logger)

	req := Request{OrganizationID: uuid.New(), Since: "2026-08-01", Until: "2026-08-01", Levels: []string{"campaign"}}
	for i := 0; i < 3; i++ {
		if _, err := syncer.Sync(context.Background(), req); err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
	}
	if fake.connGets != 1 {
		t.Fatalf("connection should be resolved once, got %d lookups", fake.connGets)
	}
}

func TestSyncFailsWithoutConnection(t *testing.T) {
	t.Setenv("META_ACCESS_TOKEN", "")
	t.Setenv("META_AD_ACCOUNT_ID", "")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := &fakeSyncStore{connErr: fmt.Errorf("no rows")}
	syncer := NewSyncer(fake, NewClient(logger), logger)

	if _, err := syncer.Sync(context.Background(), Request{OrganizationID: uuid.New()}); err == nil {
		t.Fatal("expected an error when no connection is configured")
	}
}

func TestSyncEnvFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("access_token"); got != "env-token" {
			t.Errorf("expected env token, got %q", got)
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("META_ACCESS_TOKEN", "env-token")
	t.Setenv("META_AD_ACCOUNT_ID", "456")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient(logger).WithBaseURL(srv.URL)
	fake := &fakeSyncStore{connErr: fmt.Errorf("no rows")}
	syncer := NewSyncer(fake, client, logger)

	req := Request{OrganizationID: uuid.New(), Since: "2026-08-01", Until: "2026-08-01", Levels: []string{"campaign"}}
	if _, err := syncer.Sync(context.Background(), req); err != nil {
		t.Fatalf("sync with env fallback: %v", err)
	}
}
