package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insightfy/crm-api/internal/audit"
	"github.com/insightfy/crm-api/internal/config"
	"github.com/insightfy/crm-api/internal/handlers"
	"github.com/insightfy/crm-api/internal/importer"
	"github.com/insightfy/crm-api/internal/metasync"
	"github.com/insightfy/crm-api/internal/middleware"
	"github.com/insightfy/crm-api/internal/store"
)

func NewRouter(cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) http.Handler {
	st := store.New(pool)
	auditLogger := audit.NewLogger(pool)
	importService := importer.NewService(st, logger, cfg.ImportMaxRows)
	syncClient := metasync.NewClient(logger)
	if cfg.MetaAPIBaseURL != "" {
		syncClient.WithBaseURL(cfg.MetaAPIBaseURL)
	}
	syncer := metasync.NewSyncer(st, syncClient, logger)

	h := handlers.NewServer(cfg, st, importService, syncer, auditLogger, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeaders(cfg.Env))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.LimitBodyBytesWithOverrides(cfg.APIMaxBodyBytes, []middleware.BodyLimitOverride{
		{PathPrefix: "/imports", MaxBytes: cfg.ImportMaxFileBytes},
	}))

	importLimiter := middleware.NewIPRateLimiter(10, time.Minute)
	syncLimiter := middleware.NewIPRateLimiter(4, time.Minute)

	api := chi.NewRouter()
	api.Get("/health", h.GetHealth)
	api.Post("/imports/preview", h.PostImportPreview)

	api.Group(func(scoped chi.Router) {
		scoped.Use(middleware.RequireOrganization)

		scoped.With(importLimiter.Middleware("Too many import requests")).Post("/imports", h.PostImport)
		scoped.Get("/imports/{batchId}", h.GetImport)
		scoped.Post("/imports/{batchId}/undo", h.PostImportUndo)

		scoped.Get("/insights/metrics", h.GetMetrics)
		scoped.With(syncLimiter.Middleware("Too many sync requests")).Post("/insights/sync", h.PostInsightsSync)
		scoped.Get("/reports/funnel", h.GetFunnel)
	})

	r.Mount("/api", api)
	return r
}
