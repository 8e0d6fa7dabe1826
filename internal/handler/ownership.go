package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/josh-kwaku/marketplace-settlement/internal/auth"
)

// ownerFromPath returns the {id} path account when the caller owns it or is
// an operator. Other callers get a not-found, not a forbidden.
func ownerFromPath(r *http.Request) (string, *AppError) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return "", ErrMissingToken
	}

	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		return "", ErrResourceNotFound
	}

	if accountID != claims.AccountID && !claims.IsOperator() {
		return "", ErrResourceNotFound
	}

	return accountID, nil
}
