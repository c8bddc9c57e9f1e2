// Package handlers defines the HTTP-layer error codes used across all API
// endpoints.
//
// Codes are lowercase snake_case and stable: the till UI branches on them to
// pick the right operator prompt ("table occupied", "not enough of that
// item", ...), so renaming one is a breaking change. Generic codes mirror
// common HTTP semantics; the domain-specific block covers the tab and print
// conflict taxonomy that a bare status cannot convey.
package handlers

const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeRateLimited = "too_many_requests"
	ErrCodeInternal    = "internal_error"

	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidTableState      = "invalid_table_state"
	ErrCodeInsufficientQuantity   = "insufficient_quantity"
	ErrCodeCrossTableMerge        = "cross_table_merge"
	ErrCodeActiveGroupOpenTabs    = "active_group_has_open_tabs"
	ErrCodeConcurrentModification = "concurrent_modification"
	ErrCodeTabClosed              = "tab_closed"
	ErrCodeTableAlreadyLinked     = "table_already_linked"
	ErrCodeTableOccupied          = "table_occupied"
	ErrCodeRetryNotAllowed        = "retry_not_allowed"
	ErrCodeNoRestorableSession    = "no_restorable_session"
	ErrCodeInvalidOrderType       = "invalid_order_type"
)
