// Order-session HTTP handlers.
//
// This file exposes the crash-recovery surface of the terminal:
//   - GET  /session/startup   (crash-recovery check on launch)
//   - POST /session/restore   (operator chose to restore)
//   - POST /session/discard   (operator chose to start fresh)
//   - POST /session/mutate    (order state changed in the UI)
//   - POST /session/checkout  (order reached the remote record)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pos-backend/internal/domain"
	"github.com/tbourn/go-pos-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// SessionController defines the order-session resilience operations consumed
// by HTTP handlers. Implementations must be safe for concurrent use.
type SessionController interface {
	// OnStartup runs the crash-recovery check and returns the restore decision.
	OnStartup(ctx context.Context) (*services.StartupDecision, error)
	// Restore rehydrates the stored snapshot.
	Restore(ctx context.Context) (*services.SessionSnapshot, error)
	// Discard drops the stored snapshot.
	Discard(ctx context.Context) error
	// OnCheckoutComplete clears recovery state after a successful checkout.
	OnCheckoutComplete(ctx context.Context) error
	// RecordMutation applies an order mutation and schedules persistence.
	RecordMutation(ctx context.Context, items []domain.OrderItem, orderType domain.OrderType, customer domain.CustomerSnapshot, tableNumber, guestCount *int) error
}

// TabManager defines the customer-tab operations consumed by HTTP handlers.
type TabManager interface {
	CreateTab(ctx context.Context, tableNumber int, name string) (*domain.CustomerTab, error)
	AddItems(ctx context.Context, tabID string, items []domain.OrderItem) (*domain.CustomerTab, error)
	SplitTab(ctx context.Context, tabID string, selection domain.ItemSelection, newTabName string) (*domain.CustomerTab, error)
	MergeTabs(ctx context.Context, sourceTabID, targetTabID string) (*domain.CustomerTab, error)
	MoveItems(ctx context.Context, fromTabID, toTabID string, selection domain.ItemSelection) (*domain.CustomerTab, error)
	CloseTab(ctx context.Context, tabID string) error
	LinkTables(ctx context.Context, primaryTable int, secondaryTables []int) (string, error)
	UnlinkTables(ctx context.Context, groupID string) error
}

// OrderManager defines the remote order-registry operations consumed by HTTP
// handlers.
type OrderManager interface {
	OpenOrder(ctx context.Context, tableNumber, guestCount *int) (*domain.ActiveOrder, error)
	ActiveOrders(ctx context.Context) ([]domain.ActiveOrder, error)
	Tables(ctx context.Context) ([]domain.RestaurantTable, error)
	SettleOrder(ctx context.Context, orderID string) error
}

// PrintQueue defines the print-job operations consumed by HTTP handlers.
type PrintQueue interface {
	Enqueue(ctx context.Context, orderID string, template domain.TemplateType, target, payload, dedupeKey string) (*domain.PrintJob, error)
	ProcessQueue(ctx context.Context, maxJobs int) (services.ProcessReport, error)
	AutoProcessQueue(ctx context.Context, maxJobs int, includeFailed bool) (services.ProcessReport, error)
	RetryJob(ctx context.Context, jobID string) error
	GetStats(ctx context.Context) (services.QueueStats, error)
	ListJobs(ctx context.Context, status *domain.JobStatus, page, pageSize int) ([]domain.PrintJob, int64, error)
	GetJob(ctx context.Context, jobID string) (*domain.PrintJob, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for sessions, tabs, and print jobs.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	session SessionController
	tabs    TabManager
	orders  OrderManager
	queue   PrintQueue
}

// New constructs a Handlers instance bound to the given services.
func New(session SessionController, tabs TabManager, orders OrderManager, queue PrintQueue) *Handlers {
	return &Handlers{session: session, tabs: tabs, orders: orders, queue: queue}
}

//
// DTOs
//

// MutateSessionRequest is the JSON payload reporting an order mutation.
type MutateSessionRequest struct {
	OrderType   domain.OrderType        `json:"order_type" binding:"required"`
	Items       []domain.OrderItem      `json:"items"`
	Customer    domain.CustomerSnapshot `json:"customer"`
	TableNumber *int                    `json:"table_number,omitempty"`
	GuestCount  *int                    `json:"guest_count,omitempty"`
}

// StartupCheck handles GET /session/startup.
func (h *Handlers) StartupCheck(c *gin.Context) {
	dec, err := h.session.OnStartup(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, dec)
}

// RestoreSession handles POST /session/restore.
func (h *Handlers) RestoreSession(c *gin.Context) {
	snap, err := h.session.Restore(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrNoRestorableSession) {
			fail(c, http.StatusNotFound, ErrCodeNoRestorableSession, "no restorable session")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, snap)
}

// DiscardSession handles POST /session/discard.
func (h *Handlers) DiscardSession(c *gin.Context) {
	if err := h.session.Discard(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// MutateSession handles POST /session/mutate.
func (h *Handlers) MutateSession(c *gin.Context) {
	var req MutateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid mutation payload")
		return
	}
	err := h.session.RecordMutation(c.Request.Context(), req.Items, req.OrderType, req.Customer, req.TableNumber, req.GuestCount)
	if err != nil {
		if errors.Is(err, services.ErrInvalidOrderType) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidOrderType, "invalid order type")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// CheckoutComplete handles POST /session/checkout.
func (h *Handlers) CheckoutComplete(c *gin.Context) {
	if err := h.session.OnCheckoutComplete(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
