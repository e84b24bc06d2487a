package metasync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insightfy/crm-api/internal/store"
)

const (
	defaultChunkDays = 30
	maxChunkDays     = 90
)

// Store is the persistence surface the syncer needs.
type Store interface {
	GetMetaConnection(ctx context.Context, organizationID uuid.UUID) (*store.MetaConnection, error)
	UpsertDailyInsights(ctx context.Context, rows []store.DailyInsight) error
}

// Syncer pulls daily insights for an organization's connected ad account
// and upserts them. Tokens are resolved once per organization and memoized
// for the syncer's lifetime.
type Syncer struct {
	store  Store
	client *Client
	logger *slog.Logger

	mu     sync.Mutex
	tokens map[uuid.UUID]connection
}

type connection struct {
	token       string
	adAccountID string
}

func NewSyncer(st Store, client *Client, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:  st,
		client: client,
		logger: logger,
		tokens: make(map[uuid.UUID]connection),
	}
}

// resolveConnection prefers the organization's stored connection and falls
// back to the META_ACCESS_TOKEN environment variable (with META_AD_ACCOUNT_ID
// naming the account) for single-tenant deployments.
func (s *Syncer) resolveConnection(ctx context.Context, organizationID uuid.UUID) (connection, error) {
	s.mu.Lock()
	cached, ok := s.tokens[organizationID]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	var conn connection
	if stored, err := s.store.GetMetaConnection(ctx, organizationID); err == nil {
		conn = connection{token: stored.AccessToken, adAccountID: stored.AdAccountID}
	} else if token := os.Getenv("META_ACCESS_TOKEN"); token != "" {
		conn = connection{token: token, adAccountID: os.Getenv("META_AD_ACCOUNT_ID")}
	}
	if conn.token == "" || conn.adAccountID == "" {
		return connection{}, fmt.Errorf("no active meta connection for organization %s", organizationID)
	}

	s.mu.Lock()
	s.tokens[organizationID] = conn
	s.mu.Unlock()
	return conn, nil
}

// Request is one sync invocation. Since/Until are inclusive YYYY-MM-DD
// dates; both empty means yesterday. Levels defaults to all three.
type Request struct {
	OrganizationID uuid.UUID
	Since          string
	Until          string
	Levels         []string
	ChunkDays      int
}

// Summary reports what one sync run did.
type Summary struct {
	Since    string `json:"since"`
	Until    string `json:"until"`
	Rows     int    `json:"rows"`
	Upserted int    `json:"upserted"`
	Chunks   int    `json:"chunks"`
}

// Sync fetches and stores daily insights for the requested window. The
// window is split into chunks of at most ChunkDays so a full-year backfill
// stays inside Meta's per-request limits.
func (s *Syncer) Sync(ctx context.Context, req Request) (*Summary, error) {
	conn, err := s.resolveConnection(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	since := normalizeISODate(req.Since, yesterday)
	until := normalizeISODate(req.Until, yesterday)
	levels := req.Levels
	if len(levels) == 0 {
		levels = []string{store.LevelCampaign, store.LevelAdset, store.LevelAd}
	}
	chunkDays := req.ChunkDays
	if chunkDays <= 0 {
		chunkDays = defaultChunkDays
	}
	if chunkDays > maxChunkDays {
		chunkDays = maxChunkDays
	}

	chunks, err := chunkDateRange(since, until, chunkDays)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Since: since, Until: until}
	for _, level := range levels {
		for _, chunk := range chunks {
			records, err := s.client.FetchDailyInsights(ctx, conn.token, conn.adAccountID, level, chunk.start, chunk.end)
			if err != nil {
				return summary, fmt.Errorf("sync %s %s..%s: %w", level, chunk.start, chunk.end, err)
			}
			summary.Chunks++
			summary.Rows += len(records)

			rows := make([]store.DailyInsight, 0, len(records))
			for _, record := range records {
				rows = append(rows, toDailyInsight(req.OrganizationID, level, record))
			}
			if err := s.store.UpsertDailyInsights(ctx, rows); err != nil {
				return summary, fmt.Errorf("store %s insights: %w", level, err)
			}
			summary.Upserted += len(rows)

			s.logger.Info("insights_chunk_synced",
				"organization_id", req.OrganizationID,
				"level", level,
				"since", chunk.start,
				"until", chunk.end,
				"rows", len(records),
			)
		}
	}
	return summary, nil
}

func toDailyInsight(organizationID uuid.UUID, level string, record InsightRecord) store.DailyInsight {
	row := store.DailyInsight{
		OrganizationID:        organizationID,
		EntityLevel:           level,
		Date:                  record.Date,
		Spend:                 record.Spend,
		Impressions:           record.Impressions,
		Clicks:                record.Clicks,
		Reach:                 record.Reach,
		Frequency:             record.Frequency,
		Leads:                 record.Leads,
		QualityRanking:        record.QualityRanking,
		EngagementRateRanking: record.EngagementRateRanking,
		ConversionRateRanking: record.ConversionRateRanking,
	}
	switch level {
	case store.LevelAdset:
		row.EntityID, row.EntityName = record.AdsetID, record.AdsetName
	case store.LevelAd:
		row.EntityID, row.EntityName = record.AdID, record.AdName
	default:
		row.EntityID, row.EntityName = record.CampaignID, record.CampaignName
	}
	return row
}

type dateChunk struct {
	start string
	end   string
}

func normalizeISODate(input, fallback string) string {
	if input == "" {
		return fallback
	}
	parsed, err := time.Parse("2006-01-02", input)
	if err != nil {
		return fallback
	}
	return parsed.Format("2006-01-02")
}

func chunkDateRange(since, until string, maxDays int) ([]dateChunk, error) {
	start, err := time.Parse("2006-01-02", since)
	if err != nil {
		return nil, fmt.Errorf("invalid since date %q", since)
	}
	end, err := time.Parse("2006-01-02", until)
	if err != nil {
		return nil, fmt.Errorf("invalid until date %q", until)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("until %s precedes since %s", until, since)
	}

	var chunks []dateChunk
	cursor := start
	for !cursor.After(end) {
		chunkEnd := cursor.AddDate(0, 0, maxDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, dateChunk{
			start: cursor.Format("2006-01-02"),
			end:   chunkEnd.Format("2006-01-02"),
		})
		cursor = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks, nil
}
