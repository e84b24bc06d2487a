// Package audit writes the append-only action trail. Entries are scoped to
// an organization and carry the request id so API logs and the trail can be
// joined.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Logger struct {
	pool *pgxpool.Pool
}

func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

type Entry struct {
	OrganizationID uuid.UUID
	UserID         *uuid.UUID
	Action         string
	EntityType     string
	EntityID       *uuid.UUID
	RequestID      string
	Metadata       map[string]any
}

func (l *Logger) Log(ctx context.Context, entry Entry) error {
	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = encoded
	}

	var requestID *string
	if entry.RequestID != "" {
		requestID = &entry.RequestID
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO audit_log (organization_id, user_id, action, entity_type, entity_id, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.OrganizationID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID, requestID, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
