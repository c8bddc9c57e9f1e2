// Package services defines the business logic for order-session resilience,
// customer tabs, and print-job delivery. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Customer-tab precondition violations. These are surfaced synchronously to
// the caller so the UI can explain the specific conflict.
var (
	// ErrInvalidTableState is returned when a tab operation targets a table
	// without an active order.
	ErrInvalidTableState = errors.New("table has no active order")

	// ErrInsufficientQuantity is returned when a split or move selects more
	// quantity than the source tab holds. The source is left unchanged.
	ErrInsufficientQuantity = errors.New("selection exceeds available quantity")

	// ErrCrossTableMerge is returned when tabs on unrelated tables (not the
	// same table and not the same linked group) are merged or moved between.
	ErrCrossTableMerge = errors.New("tabs belong to different tables or groups")

	// ErrActiveGroupHasOpenTabs is returned when unlinking a table group that
	// still has an open tab with items on any member table.
	ErrActiveGroupHasOpenTabs = errors.New("linked group still has open tabs with items")

	// ErrConcurrentModification is returned when a second split/merge/move
	// races an in-flight operation on the same table or group. The loser is
	// rejected, never queued.
	ErrConcurrentModification = errors.New("concurrent tab operation in progress")

	// ErrTabNotFound indicates the requested tab does not exist.
	ErrTabNotFound = errors.New("tab not found")

	// ErrTabClosed is returned when mutating or closing a tab that is not OPEN.
	ErrTabClosed = errors.New("tab is closed")

	// ErrTableAlreadyLinked is returned when linking a table that already
	// belongs to an active group.
	ErrTableAlreadyLinked = errors.New("table already belongs to a linked group")

	// ErrTableOccupied is returned when opening an order on a table that
	// already has an active one.
	ErrTableOccupied = errors.New("table already has an active order")

	// ErrOrderNotFound indicates the requested order record does not exist.
	ErrOrderNotFound = errors.New("order not found")
)

// Session errors.
var (
	// ErrNoRestorableSession is returned by Restore when the store holds no
	// snapshot; callers degrade to "start fresh", never block login.
	ErrNoRestorableSession = errors.New("no restorable session")

	// ErrInvalidOrderType is returned for order types outside the known set.
	ErrInvalidOrderType = errors.New("invalid order type")
)

// Print-queue errors.
var (
	// ErrJobNotFound indicates the requested print job does not exist.
	ErrJobNotFound = errors.New("print job not found")

	// ErrRetryNotAllowed is returned when retrying a job that is not FAILED.
	ErrRetryNotAllowed = errors.New("only failed jobs can be retried")
)
