package handlers

// Stable, machine-readable error codes carried in every ErrorResponse.
// Generic codes mirror HTTP status semantics; domain codes distinguish
// business failures the status alone cannot convey.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeAcceptFailed     = "accept_failed"
	ErrCodeStoreUnavailable = "store_unavailable"
)
