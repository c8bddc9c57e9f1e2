// Customer tab and table-linking types.
//
// Tabs are backed by remote records (see internal/remote); the types here are
// the shared shape the tab manager, the pgx store, and the HTTP layer agree
// on. Table identity (capacity, physical existence) is owned by the external
// table registry and only mirrored here.
package domain

import "time"

// CustomerTab is one sub-account within a table visit. A table may have any
// number of concurrently OPEN tabs; closing the last one is what lets the
// table return to available.
type CustomerTab struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"order_id"`
	TableNumber int         `json:"table_number"`
	GroupID     *string     `json:"group_id,omitempty"`
	Name        string      `json:"name"`
	Status      TabStatus   `json:"status"`
	Items       []OrderItem `json:"items"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// HasItems reports whether the tab carries at least one line with quantity.
func (t *CustomerTab) HasItems() bool { return TotalQuantity(t.Items) > 0 }

// TableLink records membership of one physical table in a linked-table
// group. Exactly one member of a group is primary (it owns the order
// record); a table belongs to at most one active group at a time.
type TableLink struct {
	GroupID     string    `json:"group_id"`
	TableNumber int       `json:"table_number"`
	Primary     bool      `json:"primary"`
	CreatedAt   time.Time `json:"created_at"`
}

// RestaurantTable is the table-registry view consumed from the external
// registry collaborator.
type RestaurantTable struct {
	TableNumber int    `json:"table_number"`
	Capacity    int    `json:"capacity"`
	Status      string `json:"status"`
}

// ActiveOrder is the remote order summary used to decide whether a table has
// an active order (the precondition for opening a tab).
type ActiveOrder struct {
	OrderID      string `json:"order_id"`
	TableNumber  int    `json:"table_number"`
	LinkedTables []int  `json:"linked_tables,omitempty"`
	Status       string `json:"status"`
}
