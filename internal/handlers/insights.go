package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/insightfy/crm-api/internal/audit"
	"github.com/insightfy/crm-api/internal/httpx"
	"github.com/insightfy/crm-api/internal/insights"
	"github.com/insightfy/crm-api/internal/metasync"
	"github.com/insightfy/crm-api/internal/middleware"
	"github.com/insightfy/crm-api/internal/store"
)

var insightLevels = map[string]bool{
	store.LevelCampaign: true,
	store.LevelAdset:    true,
	store.LevelAd:       true,
}

type metricsResponse struct {
	Level    string                   `json:"level"`
	Totals   insights.Metrics         `json:"totals"`
	Entities []insights.EntityMetrics `json:"entities,omitempty"`
}

// GetMetrics aggregates stored daily insights over a date window, as totals
// and optionally broken down per entity.
func (s *Server) GetMetrics(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := middleware.OrganizationFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing_organization", "Organization scope is required", nil)
		return
	}

	query := r.URL.Query()
	level := query.Get("level")
	if level == "" {
		level = store.LevelCampaign
	}
	if !insightLevels[level] {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_level", "level must be campaign, adset or ad", nil)
		return
	}

	filter := store.InsightFilter{
		OrganizationID: organizationID,
		Level:          level,
		From:           query.Get("since"),
		To:             query.Get("until"),
	}
	if raw := query.Get("entity_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(id); trimmed != "" {
				filter.EntityIDs = append(filter.EntityIDs, trimmed)
			}
		}
	}

	rows, err := s.Store.ListInsights(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load insights", nil)
		return
	}

	response := metricsResponse{
		Level:  level,
		Totals: insights.Aggregate(rows),
	}
	if query.Get("group") == "entity" {
		response.Entities = insights.AggregateByEntity(rows)
	}
	httpx.WriteJSON(w, http.StatusOK, response)
}

// GetFunnel reports pipeline transition timings for leads created in the
// window. Defaults to the last 90 days.
func (s *Server) GetFunnel(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := middleware.OrganizationFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing_organization", "Organization scope is required", nil)
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -90)
	to := now
	query := r.URL.Query()
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid_date", "since must be YYYY-MM-DD", nil)
			return
		}
		from = parsed
	}
	if raw := query.Get("until"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid_date", "until must be YYYY-MM-DD", nil)
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}

	journeys, err := s.Store.LeadJourneys(r.Context(), organizationID, from, to)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load lead journeys", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, insights.ComputeFunnel(journeys))
}

type syncRequest struct {
	Since     string   `json:"since"`
	Until     string   `json:"until"`
	Levels    []string `json:"levels"`
	ChunkDays int      `json:"chunk_days"`
}

// PostInsightsSync pulls daily insights from the Meta API into the local
// tables for the requesting organization.
func (s *Server) PostInsightsSync(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := middleware.OrganizationFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusBadRequest, "missing_organization", "Organization scope is required", nil)
		return
	}

	var req syncRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
			return
		}
	}
	for _, level := range req.Levels {
		if !insightLevels[level] {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid_level", "levels must be campaign, adset or ad", nil)
			return
		}
	}

	summary, err := s.Syncer.Sync(r.Context(), metasync.Request{
		OrganizationID: organizationID,
		Since:          req.Since,
		Until:          req.Until,
		Levels:         req.Levels,
		ChunkDays:      req.ChunkDays,
	})
	if err != nil {
		if errors.Is(err, metasync.ErrRateLimited) {
			httpx.WriteError(w, r, http.StatusTooManyRequests, "meta_rate_limited", "Meta API rate limit reached; retry later", nil)
			return
		}
		s.Logger.Error("insights_sync_failed", "organization_id", organizationID, "error", err)
		httpx.WriteError(w, r, http.StatusBadGateway, "sync_failed", "Failed to sync insights from Meta", nil)
		return
	}

	_ = s.Audit.Log(r.Context(), audit.Entry{
		OrganizationID: organizationID,
		Action:         "insights.sync",
		EntityType:     "ad_insights",
		RequestID:      middleware.RequestIDFromContext(r.Context()),
		Metadata: map[string]any{
			"since":    summary.Since,
			"until":    summary.Until,
			"upserted": summary.Upserted,
		},
	})

	httpx.WriteJSON(w, http.StatusOK, summary)
}
