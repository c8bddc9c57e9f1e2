// Order-registry HTTP handlers.
//
// This file exposes the shared order record and table registry:
//   - POST /orders              (open an order; dine-in when table_number set)
//   - GET  /orders/active       (active orders with their linked tables)
//   - POST /orders/:id/complete (mark a settled order COMPLETED)
//   - GET  /tables              (table registry view)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pos-backend/internal/services"
)

// OpenOrderRequest is the JSON payload for opening an order. Both fields are
// omitted for collection/delivery orders.
type OpenOrderRequest struct {
	TableNumber *int `json:"table_number,omitempty" binding:"omitempty,min=1"`
	GuestCount  *int `json:"guest_count,omitempty" binding:"omitempty,min=1"`
}

// orderError translates order-registry errors into HTTP results.
func orderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
	case errors.Is(err, services.ErrTableOccupied):
		fail(c, http.StatusConflict, ErrCodeTableOccupied, "table already has an active order")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// OpenOrder handles POST /orders.
func (h *Handlers) OpenOrder(c *gin.Context) {
	var req OpenOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid order payload")
			return
		}
	}
	order, err := h.orders.OpenOrder(c.Request.Context(), req.TableNumber, req.GuestCount)
	if err != nil {
		orderError(c, err)
		return
	}
	ok(c, http.StatusCreated, order)
}

// ListActiveOrders handles GET /orders/active.
func (h *Handlers) ListActiveOrders(c *gin.Context) {
	orders, err := h.orders.ActiveOrders(c.Request.Context())
	if err != nil {
		orderError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"orders": orders})
}

// CompleteOrder handles POST /orders/:id/complete.
func (h *Handlers) CompleteOrder(c *gin.Context) {
	if err := h.orders.SettleOrder(c.Request.Context(), c.Param("id")); err != nil {
		orderError(c, err)
		return
	}
	noContent(c)
}

// ListTables handles GET /tables.
func (h *Handlers) ListTables(c *gin.Context) {
	tables, err := h.orders.Tables(c.Request.Context())
	if err != nil {
		orderError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"tables": tables})
}
