package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pos-backend/internal/domain"
	"github.com/tbourn/go-pos-backend/internal/services"
)

// fakeOrders is a scriptable OrderManager.
type fakeOrders struct {
	order  *domain.ActiveOrder
	orders []domain.ActiveOrder
	tables []domain.RestaurantTable
	err    error

	lastTable   *int
	lastGuests  *int
	lastOrderID string
}

func (f *fakeOrders) OpenOrder(_ context.Context, table, guests *int) (*domain.ActiveOrder, error) {
	f.lastTable, f.lastGuests = table, guests
	return f.order, f.err
}

func (f *fakeOrders) ActiveOrders(_ context.Context) ([]domain.ActiveOrder, error) {
	return f.orders, f.err
}

func (f *fakeOrders) Tables(_ context.Context) ([]domain.RestaurantTable, error) {
	return f.tables, f.err
}

func (f *fakeOrders) SettleOrder(_ context.Context, orderID string) error {
	f.lastOrderID = orderID
	return f.err
}

func newOrderRouter(fo *fakeOrders) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(nil, nil, fo, nil)
	r := gin.New()
	r.POST("/orders", h.OpenOrder)
	r.GET("/orders/active", h.ListActiveOrders)
	r.POST("/orders/:id/complete", h.CompleteOrder)
	r.GET("/tables", h.ListTables)
	return r
}

func TestOpenOrder(t *testing.T) {
	fo := &fakeOrders{order: &domain.ActiveOrder{OrderID: "ord-1", TableNumber: 5, Status: "ACTIVE"}}
	r := newOrderRouter(fo)

	// Dine-in: table and guest count forwarded.
	w := do(r, http.MethodPost, "/orders", `{"table_number":5,"guest_count":3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("open = %d body=%s", w.Code, w.Body.String())
	}
	if fo.lastTable == nil || *fo.lastTable != 5 || fo.lastGuests == nil || *fo.lastGuests != 3 {
		t.Fatalf("args not forwarded: table=%v guests=%v", fo.lastTable, fo.lastGuests)
	}

	// Empty body: a non-dine-in order with no table.
	fo.lastTable, fo.lastGuests = nil, nil
	if w := do(r, http.MethodPost, "/orders", ""); w.Code != http.StatusCreated {
		t.Fatalf("open without body = %d", w.Code)
	}
	if fo.lastTable != nil || fo.lastGuests != nil {
		t.Fatalf("expected nil table/guests, got %v/%v", fo.lastTable, fo.lastGuests)
	}

	// Occupied table maps to 409 with its own code.
	fo.err = services.ErrTableOccupied
	w = do(r, http.MethodPost, "/orders", `{"table_number":5}`)
	if w.Code != http.StatusConflict || errCode(t, w) != ErrCodeTableOccupied {
		t.Fatalf("occupied = %d code=%q", w.Code, errCode(t, w))
	}

	// Zero table number fails binding.
	fo.err = nil
	if w := do(r, http.MethodPost, "/orders", `{"table_number":0}`); w.Code != http.StatusBadRequest {
		t.Fatalf("zero table = %d", w.Code)
	}
}

func TestListActiveOrders(t *testing.T) {
	fo := &fakeOrders{orders: []domain.ActiveOrder{
		{OrderID: "ord-1", TableNumber: 5, Status: "ACTIVE", LinkedTables: []int{5, 6}},
		{OrderID: "ord-2", Status: "ACTIVE"},
	}}
	r := newOrderRouter(fo)

	w := do(r, http.MethodGet, "/orders/active", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var body struct {
		Orders []domain.ActiveOrder `json:"orders"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Orders) != 2 || body.Orders[0].OrderID != "ord-1" {
		t.Fatalf("unexpected orders: %+v", body.Orders)
	}
}

func TestCompleteOrder(t *testing.T) {
	fo := &fakeOrders{}
	r := newOrderRouter(fo)

	if w := do(r, http.MethodPost, "/orders/ord-9/complete", ""); w.Code != http.StatusNoContent {
		t.Fatalf("complete = %d", w.Code)
	}
	if fo.lastOrderID != "ord-9" {
		t.Fatalf("order id not forwarded: %q", fo.lastOrderID)
	}

	fo.err = services.ErrOrderNotFound
	w := do(r, http.MethodPost, "/orders/ord-9/complete", "")
	if w.Code != http.StatusNotFound || errCode(t, w) != ErrCodeNotFound {
		t.Fatalf("missing order = %d code=%q", w.Code, errCode(t, w))
	}
}

func TestListTables(t *testing.T) {
	fo := &fakeOrders{tables: []domain.RestaurantTable{
		{TableNumber: 1, Capacity: 2, Status: "FREE"},
		{TableNumber: 2, Capacity: 4, Status: "OCCUPIED"},
	}}
	r := newOrderRouter(fo)

	w := do(r, http.MethodGet, "/tables", "")
	if w.Code != http.StatusOK {
		t.Fatalf("tables = %d", w.Code)
	}
	var body struct {
		Tables []domain.RestaurantTable `json:"tables"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Tables) != 2 || body.Tables[1].Capacity != 4 {
		t.Fatalf("unexpected tables: %+v", body.Tables)
	}
}
