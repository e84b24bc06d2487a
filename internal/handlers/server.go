package handlers

import (
	"log/slog"
	"net/http"

	"github.com/insightfy/crm-api/internal/audit"
	"github.com/insightfy/crm-api/internal/config"
	"github.com/insightfy/crm-api/internal/httpx"
	"github.com/insightfy/crm-api/internal/importer"
	"github.com/insightfy/crm-api/internal/metasync"
	"github.com/insightfy/crm-api/internal/store"
)

type Server struct {
	Config   config.Config
	Store    *store.Store
	Importer *importer.Service
	Syncer   *metasync.Syncer
	Audit    *audit.Logger
	Logger   *slog.Logger
}

func NewServer(cfg config.Config, st *store.Store, imp *importer.Service, syncer *metasync.Syncer, auditLogger *audit.Logger, logger *slog.Logger) *Server {
	return &Server{Config: cfg, Store: st, Importer: imp, Syncer: syncer, Audit: auditLogger, Logger: logger}
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
