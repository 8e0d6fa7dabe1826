package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Not allowed to access this resource"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}

	ErrInvalidAmount          = &AppError{http.StatusUnprocessableEntity, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInvalidKind            = &AppError{http.StatusNotFound, "UNKNOWN_TRANSACTABLE_KIND", "Unknown transactable kind"}
	ErrInvalidState           = &AppError{http.StatusConflict, "INVALID_STATE", "Transaction cannot be settled in its current state"}
	ErrStoreUnavailable       = &AppError{http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Settlement store is unavailable, please retry"}
	ErrSettlementDisputed     = &AppError{http.StatusUnprocessableEntity, "SETTLEMENT_DISPUTED", "An error occurred and the transaction has been flagged for review"}
	ErrSettlementInconsistent = &AppError{http.StatusInternalServerError, "SETTLEMENT_INCONSISTENT", "Settlement failed and could not be flagged for review; an operator has been alerted"}
)
