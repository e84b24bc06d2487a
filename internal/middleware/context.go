package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	organizationKey contextKey = "organization_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok {
		return ""
	}
	return v
}

func WithOrganization(ctx context.Context, organizationID uuid.UUID) context.Context {
	return context.WithValue(ctx, organizationKey, organizationID)
}

func OrganizationFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(organizationKey).(uuid.UUID)
	return v, ok
}
