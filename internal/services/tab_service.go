// Package services – CustomerTabManager
//
// This file implements the CustomerTabManager, which lets an arbitrary
// number of guests at one table (or linked group of tables) maintain
// independent running totals that can be split or merged before settlement.
//
// Split, merge, and move are serialized per table/group by a single-flight
// guard: a second concurrent request is rejected with
// ErrConcurrentModification rather than queued, so two racing splits can
// never double-count the same source quantity. All quantity arithmetic goes
// through domain.SubtractSelection and domain.MergeLines, which conserve
// totals by construction.
package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

// TabStore defines the remote persistence contract required by the
// CustomerTabManager. Implementations (see internal/remote) back each tab
// with its own remote record; multi-tab writes are atomic.
type TabStore interface {
	// ActiveOrderForTable returns the active order owning a table, or nil
	// when the table has none.
	ActiveOrderForTable(ctx context.Context, tableNumber int) (*domain.ActiveOrder, error)

	// InsertTab creates a new tab record.
	InsertTab(ctx context.Context, tab *domain.CustomerTab) error

	// GetTab fetches a tab with its items, or nil when absent.
	GetTab(ctx context.Context, tabID string) (*domain.CustomerTab, error)

	// SaveItems replaces a tab's item list.
	SaveItems(ctx context.Context, tabID string, items []domain.OrderItem) error

	// SaveItemsPair replaces two tabs' item lists atomically (move).
	SaveItemsPair(ctx context.Context, aID string, aItems []domain.OrderItem, bID string, bItems []domain.OrderItem) error

	// InsertTabMovingItems creates newTab and rewrites the source's items in
	// one transaction (split).
	InsertTabMovingItems(ctx context.Context, newTab *domain.CustomerTab, sourceID string, remaining []domain.OrderItem) error

	// CloseTabMergingInto writes the target's merged items and closes the
	// source in one transaction (merge).
	CloseTabMergingInto(ctx context.Context, sourceID, targetID string, targetItems []domain.OrderItem) error

	// CloseTab marks a tab CLOSED.
	CloseTab(ctx context.Context, tabID string) error

	// GroupForTable returns the active group a table belongs to, or nil.
	GroupForTable(ctx context.Context, tableNumber int) (*string, error)

	// GroupTables lists the member links of a group.
	GroupTables(ctx context.Context, groupID string) ([]domain.TableLink, error)

	// OpenTabsForTables lists OPEN tabs across the given tables.
	OpenTabsForTables(ctx context.Context, tableNumbers []int) ([]domain.CustomerTab, error)

	// LinkTables records a new group's membership atomically.
	LinkTables(ctx context.Context, links []domain.TableLink) error

	// UnlinkTables removes a group's membership records.
	UnlinkTables(ctx context.Context, groupID string) error
}

// OrderStore defines the remote order-record contract. The order record is
// the durability root for dine-in: tabs hang off it, and settlement closes
// it.
type OrderStore interface {
	// CreateOrder opens an ACTIVE order; tableNumber and guestCount are nil
	// for non-dine-in orders.
	CreateOrder(ctx context.Context, tableNumber, guestCount *int) (*domain.ActiveOrder, error)

	// GetActiveOrders lists every ACTIVE order with its linked tables.
	GetActiveOrders(ctx context.Context) ([]domain.ActiveOrder, error)

	// ListTables returns the table registry view.
	ListTables(ctx context.Context) ([]domain.RestaurantTable, error)

	// CompleteOrder marks an order COMPLETED; found is false when no such
	// order exists.
	CompleteOrder(ctx context.Context, orderID string) (found bool, err error)
}

// RestaurantStore is the full shared-database surface: tab records plus the
// order/table registry they hang off.
type RestaurantStore interface {
	TabStore
	OrderStore
}

// CustomerTabManager owns CustomerTab and table-group membership for one
// terminal. Table identity (capacity, existence) stays with the external
// table registry.
type CustomerTabManager struct {
	// Store is the remote tab persistence.
	Store TabStore
	// Orders is the remote order registry backing OpenOrder/SettleOrder and
	// the table views. Usually the same object as Store.
	Orders OrderStore
	// Log receives operation telemetry.
	Log zerolog.Logger

	guard opGuard
}

// NewCustomerTabManager constructs a manager over the given store. When the
// store also implements OrderStore (the pgx store does) the order operations
// are wired to it as well.
func NewCustomerTabManager(store TabStore, log zerolog.Logger) *CustomerTabManager {
	m := &CustomerTabManager{Store: store, Log: log}
	if orders, ok := store.(OrderStore); ok {
		m.Orders = orders
	}
	return m
}

// opGuard is a single-flight guard keyed by table/group scope. TryAcquire
// never blocks; the caller maps a refusal to ErrConcurrentModification.
type opGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func (g *opGuard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == nil {
		g.inFlight = make(map[string]struct{})
	}
	if _, busy := g.inFlight[key]; busy {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

func (g *opGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
}

// CreateTab opens a new empty tab on a table. The table must have an active
// order; otherwise ErrInvalidTableState.
func (m *CustomerTabManager) CreateTab(ctx context.Context, tableNumber int, name string) (*domain.CustomerTab, error) {
	order, err := m.Store.ActiveOrderForTable(ctx, tableNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrInvalidTableState
	}

	group, err := m.Store.GroupForTable(ctx, tableNumber)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = "Guest"
	}
	tab := &domain.CustomerTab{
		ID:          uuid.NewString(),
		OrderID:     order.OrderID,
		TableNumber: tableNumber,
		GroupID:     group,
		Name:        name,
		Status:      domain.TabOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.Store.InsertTab(ctx, tab); err != nil {
		return nil, err
	}
	m.Log.Info().Str("tab_id", tab.ID).Int("table", tableNumber).Msg("tab created")
	return tab, nil
}

// AddItems appends items to an open tab. Identical lines (same item,
// variant, modifiers, and notes) merge into one line with a summed quantity;
// any customization difference keeps lines separate.
func (m *CustomerTabManager) AddItems(ctx context.Context, tabID string, items []domain.OrderItem) (*domain.CustomerTab, error) {
	tab, err := m.openTab(ctx, tabID)
	if err != nil {
		return nil, err
	}
	tab.Items = domain.MergeLines(tab.Items, items)
	if err := m.Store.SaveItems(ctx, tabID, tab.Items); err != nil {
		return nil, err
	}
	return tab, nil
}

// SplitTab moves the selected quantities from a tab onto a freshly created
// tab on the same table. The sum of quantities across source and new tab
// after the split equals the sum before; an over-selection fails with
// ErrInsufficientQuantity and leaves the source unchanged.
func (m *CustomerTabManager) SplitTab(ctx context.Context, tabID string, selection domain.ItemSelection, newTabName string) (*domain.CustomerTab, error) {
	source, err := m.openTab(ctx, tabID)
	if err != nil {
		return nil, err
	}

	key := m.scopeKey(source)
	if !m.guard.TryAcquire(key) {
		return nil, ErrConcurrentModification
	}
	defer m.guard.Release(key)

	// Re-read under the guard so the selection applies to current state.
	source, err = m.openTab(ctx, tabID)
	if err != nil {
		return nil, err
	}

	remaining, moved, ok := domain.SubtractSelection(source.Items, selection)
	if !ok {
		return nil, ErrInsufficientQuantity
	}

	if newTabName == "" {
		newTabName = source.Name + " (split)"
	}
	newTab := &domain.CustomerTab{
		ID:          uuid.NewString(),
		OrderID:     source.OrderID,
		TableNumber: source.TableNumber,
		GroupID:     source.GroupID,
		Name:        newTabName,
		Status:      domain.TabOpen,
		Items:       moved,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.Store.InsertTabMovingItems(ctx, newTab, source.ID, remaining); err != nil {
		return nil, err
	}
	m.Log.Info().
		Str("source_tab", source.ID).
		Str("new_tab", newTab.ID).
		Int("moved_lines", len(moved)).
		Msg("tab split")
	return newTab, nil
}

// MergeTabs unions the source tab's items into the target and closes the
// source. Valid only between tabs on the same table or the same linked
// group; merge is commutative in content, not in which tab survives.
func (m *CustomerTabManager) MergeTabs(ctx context.Context, sourceTabID, targetTabID string) (*domain.CustomerTab, error) {
	source, err := m.openTab(ctx, sourceTabID)
	if err != nil {
		return nil, err
	}
	target, err := m.openTab(ctx, targetTabID)
	if err != nil {
		return nil, err
	}
	if err := m.sameScope(ctx, source, target); err != nil {
		return nil, err
	}

	key := m.scopeKey(source)
	if !m.guard.TryAcquire(key) {
		return nil, ErrConcurrentModification
	}
	defer m.guard.Release(key)

	source, err = m.openTab(ctx, sourceTabID)
	if err != nil {
		return nil, err
	}
	target, err = m.openTab(ctx, targetTabID)
	if err != nil {
		return nil, err
	}

	target.Items = domain.MergeLines(target.Items, source.Items)
	if err := m.Store.CloseTabMergingInto(ctx, source.ID, target.ID, target.Items); err != nil {
		return nil, err
	}
	m.Log.Info().Str("source_tab", source.ID).Str("target_tab", target.ID).Msg("tabs merged")
	return target, nil
}

// MoveItems transfers selected quantities between two open tabs under the
// same quantity-conservation contract as SplitTab, without closing the
// source.
func (m *CustomerTabManager) MoveItems(ctx context.Context, fromTabID, toTabID string, selection domain.ItemSelection) (*domain.CustomerTab, error) {
	from, err := m.openTab(ctx, fromTabID)
	if err != nil {
		return nil, err
	}
	to, err := m.openTab(ctx, toTabID)
	if err != nil {
		return nil, err
	}
	if err := m.sameScope(ctx, from, to); err != nil {
		return nil, err
	}

	key := m.scopeKey(from)
	if !m.guard.TryAcquire(key) {
		return nil, ErrConcurrentModification
	}
	defer m.guard.Release(key)

	from, err = m.openTab(ctx, fromTabID)
	if err != nil {
		return nil, err
	}
	to, err = m.openTab(ctx, toTabID)
	if err != nil {
		return nil, err
	}

	remaining, moved, ok := domain.SubtractSelection(from.Items, selection)
	if !ok {
		return nil, ErrInsufficientQuantity
	}
	to.Items = domain.MergeLines(to.Items, moved)

	if err := m.Store.SaveItemsPair(ctx, from.ID, remaining, to.ID, to.Items); err != nil {
		return nil, err
	}
	return to, nil
}

// CloseTab marks an open tab CLOSED. Settlement is the payment
// collaborator's concern; this only asserts the tab exists and is OPEN.
func (m *CustomerTabManager) CloseTab(ctx context.Context, tabID string) error {
	if _, err := m.openTab(ctx, tabID); err != nil {
		return err
	}
	if err := m.Store.CloseTab(ctx, tabID); err != nil {
		return err
	}
	m.Log.Info().Str("tab_id", tabID).Msg("tab closed")
	return nil
}

// LinkTables groups a primary table with one or more secondary tables for a
// single party. The primary owns the order record; a table can belong to at
// most one active group.
func (m *CustomerTabManager) LinkTables(ctx context.Context, primaryTable int, secondaryTables []int) (string, error) {
	if len(secondaryTables) == 0 {
		return "", ErrInvalidTableState
	}
	all := append([]int{primaryTable}, secondaryTables...)
	seen := make(map[int]struct{}, len(all))
	for _, tn := range all {
		if _, dup := seen[tn]; dup {
			return "", ErrInvalidTableState
		}
		seen[tn] = struct{}{}
		g, err := m.Store.GroupForTable(ctx, tn)
		if err != nil {
			return "", err
		}
		if g != nil {
			return "", ErrTableAlreadyLinked
		}
	}

	groupID := uuid.NewString()
	now := time.Now().UTC()
	links := make([]domain.TableLink, 0, len(all))
	for i, tn := range all {
		links = append(links, domain.TableLink{
			GroupID:     groupID,
			TableNumber: tn,
			Primary:     i == 0,
			CreatedAt:   now,
		})
	}
	if err := m.Store.LinkTables(ctx, links); err != nil {
		return "", err
	}
	m.Log.Info().Str("group_id", groupID).Ints("tables", all).Msg("tables linked")
	return groupID, nil
}

// UnlinkTables dissolves a group. Rejected with ErrActiveGroupHasOpenTabs
// while any member table still has an OPEN tab with items, to avoid
// orphaning a bill.
func (m *CustomerTabManager) UnlinkTables(ctx context.Context, groupID string) error {
	links, err := m.Store.GroupTables(ctx, groupID)
	if err != nil {
		return err
	}
	tables := make([]int, 0, len(links))
	for _, l := range links {
		tables = append(tables, l.TableNumber)
	}
	open, err := m.Store.OpenTabsForTables(ctx, tables)
	if err != nil {
		return err
	}
	for i := range open {
		if open[i].HasItems() {
			return ErrActiveGroupHasOpenTabs
		}
	}
	return m.Store.UnlinkTables(ctx, groupID)
}

// OpenOrder creates the remote order record a table's tabs hang off. A table
// that already has an active order is rejected with ErrTableOccupied.
func (m *CustomerTabManager) OpenOrder(ctx context.Context, tableNumber, guestCount *int) (*domain.ActiveOrder, error) {
	if tableNumber != nil {
		existing, err := m.Store.ActiveOrderForTable(ctx, *tableNumber)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrTableOccupied
		}
	}
	order, err := m.Orders.CreateOrder(ctx, tableNumber, guestCount)
	if err != nil {
		return nil, err
	}
	m.Log.Info().Str("order_id", order.OrderID).Msg("order opened")
	return order, nil
}

// ActiveOrders lists every ACTIVE order with its linked tables.
func (m *CustomerTabManager) ActiveOrders(ctx context.Context) ([]domain.ActiveOrder, error) {
	return m.Orders.GetActiveOrders(ctx)
}

// Tables returns the table registry view.
func (m *CustomerTabManager) Tables(ctx context.Context) ([]domain.RestaurantTable, error) {
	return m.Orders.ListTables(ctx)
}

// SettleOrder marks an order COMPLETED. Settlement itself (payment) is the
// caller's concern, same as CloseTab.
func (m *CustomerTabManager) SettleOrder(ctx context.Context, orderID string) error {
	found, err := m.Orders.CompleteOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !found {
		return ErrOrderNotFound
	}
	m.Log.Info().Str("order_id", orderID).Msg("order completed")
	return nil
}

// openTab loads a tab and asserts it is OPEN.
func (m *CustomerTabManager) openTab(ctx context.Context, tabID string) (*domain.CustomerTab, error) {
	tab, err := m.Store.GetTab(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if tab == nil {
		return nil, ErrTabNotFound
	}
	if tab.Status != domain.TabOpen {
		return nil, ErrTabClosed
	}
	return tab, nil
}

// sameScope asserts two tabs share a table or an active linked group.
func (m *CustomerTabManager) sameScope(ctx context.Context, a, b *domain.CustomerTab) error {
	if a.TableNumber == b.TableNumber {
		return nil
	}
	ga, err := m.Store.GroupForTable(ctx, a.TableNumber)
	if err != nil {
		return err
	}
	gb, err := m.Store.GroupForTable(ctx, b.TableNumber)
	if err != nil {
		return err
	}
	if ga != nil && gb != nil && *ga == *gb {
		return nil
	}
	return ErrCrossTableMerge
}

// scopeKey derives the serialization key for tab operations: the linked
// group when one exists, otherwise the table itself.
func (m *CustomerTabManager) scopeKey(tab *domain.CustomerTab) string {
	if tab.GroupID != nil && *tab.GroupID != "" {
		return "group:" + *tab.GroupID
	}
	return "table:" + strconv.Itoa(tab.TableNumber)
}
