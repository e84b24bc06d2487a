package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// OrganizationHeader carries the acting tenant on every scoped request.
const OrganizationHeader = "X-Organization-Id"

// RequireOrganization rejects requests without a valid organization id
// header and puts the parsed id on the request context. Every data route
// sits behind it; only health and preview-style endpoints are exempt.
func RequireOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(OrganizationHeader)
		if raw == "" {
			writeError(w, r, http.StatusBadRequest, "missing_organization", "X-Organization-Id header is required", nil)
			return
		}
		organizationID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_organization", "X-Organization-Id must be a UUID", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOrganization(r.Context(), organizationID)))
	})
}
