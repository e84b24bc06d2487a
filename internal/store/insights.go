package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/insightfy/crm-api/internal/insights"
)

// Entity levels stored per daily insight row.
const (
	LevelCampaign = "campaign"
	LevelAdset    = "adset"
	LevelAd       = "ad"
)

// DailyInsight is one synced day of metrics for one ad entity.
type DailyInsight struct {
	OrganizationID uuid.UUID
	EntityLevel    string
	EntityID       string
	EntityName     string
	Date           string
	Spend          float64
	Impressions    int64
	Clicks         int64
	Reach          int64
	Frequency      float64
	Leads          int64

	QualityRanking        string
	EngagementRateRanking string
	ConversionRateRanking string
}

// UpsertDailyInsights writes synced rows, replacing any earlier sync of the
// same entity/day. Re-running a sync for a window is safe.
func (s *Store) UpsertDailyInsights(ctx context.Context, rows []DailyInsight) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, row := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO ad_insights (organization_id, entity_level, entity_id, entity_name, date,
				spend, impressions, clicks, reach, frequency, leads,
				quality_ranking, engagement_rate_ranking, conversion_rate_ranking, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
			ON CONFLICT (organization_id, entity_level, entity_id, date) DO UPDATE SET
				entity_name = EXCLUDED.entity_name,
				spend = EXCLUDED.spend,
				impressions = EXCLUDED.impressions,
				clicks = EXCLUDED.clicks,
				reach = EXCLUDED.reach,
				frequency = EXCLUDED.frequency,
				leads = EXCLUDED.leads,
				quality_ranking = EXCLUDED.quality_ranking,
				engagement_rate_ranking = EXCLUDED.engagement_rate_ranking,
				conversion_rate_ranking = EXCLUDED.conversion_rate_ranking,
				synced_at = now()`,
			row.OrganizationID, row.EntityLevel, row.EntityID, row.EntityName, row.Date,
			row.Spend, row.Impressions, row.Clicks, row.Reach, row.Frequency, row.Leads,
			row.QualityRanking, row.EngagementRateRanking, row.ConversionRateRanking,
		)
		if err != nil {
			return fmt.Errorf("upsert insight %s/%s: %w", row.EntityLevel, row.EntityID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// InsightFilter selects stored insight rows for aggregation. From and To
// are inclusive ISO dates (YYYY-MM-DD); empty bounds are open. An empty
// EntityIDs slice selects every entity at the level.
type InsightFilter struct {
	OrganizationID uuid.UUID
	Level          string
	From           string
	To             string
	EntityIDs      []string
}

func (s *Store) ListInsights(ctx context.Context, filter InsightFilter) ([]insights.Row, error) {
	query := `
		SELECT entity_id, entity_name, to_char(date, 'YYYY-MM-DD'),
		       spend, impressions, clicks, reach, frequency, leads,
		       quality_ranking, engagement_rate_ranking, conversion_rate_ranking
		FROM ad_insights
		WHERE organization_id = $1 AND entity_level = $2`
	args := []any{filter.OrganizationID, filter.Level}
	if filter.From != "" {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if len(filter.EntityIDs) > 0 {
		args = append(args, filter.EntityIDs)
		query += fmt.Sprintf(" AND entity_id = ANY($%d)", len(args))
	}
	query += " ORDER BY date, entity_id, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var out []insights.Row
	for rows.Next() {
		var row insights.Row
		if err := rows.Scan(&row.EntityID, &row.EntityName, &row.Date,
			&row.Spend, &row.Impressions, &row.Clicks, &row.Reach, &row.Frequency, &row.Leads,
			&row.QualityRanking, &row.EngagementRateRanking, &row.ConversionRateRanking); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LeadJourneys loads the pipeline history of every lead an organization
// created inside the window, as inputs for the funnel report. History rows
// are kept as individual events in time order; the funnel needs the full
// sequence, not just the first entry per status.
func (s *Store) LeadJourneys(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]insights.LeadJourney, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at, closed_won_at FROM leads
		WHERE organization_id = $1 AND created_at >= $2 AND created_at <= $3`,
		organizationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	journeyByLead := make(map[uuid.UUID]*insights.LeadJourney)
	var order []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		var createdAt time.Time
		var closedWonAt *time.Time
		if err := rows.Scan(&id, &createdAt, &closedWonAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		journeyByLead[id] = &insights.LeadJourney{
			CreatedAt:   createdAt,
			ClosedWonAt: closedWonAt,
		}
		order = append(order, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, nil
	}

	stageRows, err := s.pool.Query(ctx, `
		SELECT lead_id, status, changed_at
		FROM lead_status_history
		WHERE organization_id = $1 AND lead_id = ANY($2)
		ORDER BY lead_id, changed_at, id`,
		organizationID, order)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer stageRows.Close()

	for stageRows.Next() {
		var leadID uuid.UUID
		var status string
		var at time.Time
		if err := stageRows.Scan(&leadID, &status, &at); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		if journey, ok := journeyByLead[leadID]; ok {
			journey.Events = append(journey.Events, insights.StageEvent{Status: status, At: at})
		}
	}
	if err := stageRows.Err(); err != nil {
		return nil, err
	}

	out := make([]insights.LeadJourney, 0, len(order))
	for _, id := range order {
		out = append(out, *journeyByLead[id])
	}
	return out, nil
}

// MetaConnection is an organization's stored Meta Ads credential.
type MetaConnection struct {
	OrganizationID uuid.UUID
	AdAccountID    string
	AccessToken    string
	Status         string
}

func (s *Store) GetMetaConnection(ctx context.Context, organizationID uuid.UUID) (*MetaConnection, error) {
	var conn MetaConnection
	err := s.pool.QueryRow(ctx, `
		SELECT organization_id, ad_account_id, access_token, status
		FROM meta_connections
		WHERE organization_id = $1 AND status = 'active'
		ORDER BY updated_at DESC
		LIMIT 1`, organizationID,
	).Scan(&conn.OrganizationID, &conn.AdAccountID, &conn.AccessToken, &conn.Status)
	if err != nil {
		return nil, fmt.Errorf("load meta connection: %w", err)
	}
	return &conn, nil
}
