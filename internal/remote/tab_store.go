package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

// Store is the pgx-backed implementation of the tab manager's persistence
// contract plus the order/table collaborator calls. Split, merge, and move
// touch two tab rows; those writes share one transaction so a crash between
// them can never lose or duplicate a line.
type Store struct {
	Pool *pgxpool.Pool
	Log  zerolog.Logger
}

// NewStore constructs a Store over an open pool.
func NewStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{Pool: pool, Log: log}
}

const tabColumns = `id, order_id, table_number, group_id, name, status, items, created_at, updated_at`

func scanTab(row pgx.Row) (*domain.CustomerTab, error) {
	var (
		t       domain.CustomerTab
		groupID *string
		items   []byte
	)
	err := row.Scan(&t.ID, &t.OrderID, &t.TableNumber, &groupID, &t.Name, &t.Status, &items, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.GroupID = groupID
	if len(items) > 0 {
		if err := json.Unmarshal(items, &t.Items); err != nil {
			return nil, fmt.Errorf("remote: decode tab items: %w", err)
		}
	}
	return &t, nil
}

func encodeItems(items []domain.OrderItem) ([]byte, error) {
	if items == nil {
		items = []domain.OrderItem{}
	}
	return json.Marshal(items)
}

// ActiveOrderForTable returns the ACTIVE order owning a table, following a
// linked group to its primary table when one exists. Nil when the table has
// no active order.
func (s *Store) ActiveOrderForTable(ctx context.Context, tableNumber int) (*domain.ActiveOrder, error) {
	owner := tableNumber
	var linked []int

	group, err := s.GroupForTable(ctx, tableNumber)
	if err != nil {
		return nil, err
	}
	if group != nil {
		links, err := s.GroupTables(ctx, *group)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			linked = append(linked, l.TableNumber)
			if l.Primary {
				owner = l.TableNumber
			}
		}
	}

	var o domain.ActiveOrder
	err = s.Pool.QueryRow(ctx,
		`SELECT id, COALESCE(table_number, 0), status
		   FROM orders
		  WHERE table_number = $1 AND status = 'ACTIVE'
		  ORDER BY created_at DESC
		  LIMIT 1`, owner).Scan(&o.OrderID, &o.TableNumber, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("remote: active order lookup: %w", err)
	}
	o.LinkedTables = linked
	return &o, nil
}

// InsertTab creates a new tab record.
func (s *Store) InsertTab(ctx context.Context, tab *domain.CustomerTab) error {
	items, err := encodeItems(tab.Items)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO customer_tabs (`+tabColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		tab.ID, tab.OrderID, tab.TableNumber, tab.GroupID, tab.Name, tab.Status, items, tab.CreatedAt)
	if err != nil {
		return fmt.Errorf("remote: insert tab: %w", err)
	}
	return nil
}

// GetTab fetches one tab with its items, or nil when absent.
func (s *Store) GetTab(ctx context.Context, tabID string) (*domain.CustomerTab, error) {
	tab, err := scanTab(s.Pool.QueryRow(ctx,
		`SELECT `+tabColumns+` FROM customer_tabs WHERE id = $1`, tabID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("remote: get tab: %w", err)
	}
	return tab, nil
}

// SaveItems replaces a tab's item list.
func (s *Store) SaveItems(ctx context.Context, tabID string, items []domain.OrderItem) error {
	b, err := encodeItems(items)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx,
		`UPDATE customer_tabs SET items = $2, updated_at = now() WHERE id = $1`, tabID, b)
	if err != nil {
		return fmt.Errorf("remote: save items: %w", err)
	}
	return nil
}

// SaveItemsPair replaces two tabs' item lists in one transaction (move).
func (s *Store) SaveItemsPair(ctx context.Context, aID string, aItems []domain.OrderItem, bID string, bItems []domain.OrderItem) error {
	ab, err := encodeItems(aItems)
	if err != nil {
		return err
	}
	bb, err := encodeItems(bItems)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE customer_tabs SET items = $2, updated_at = now() WHERE id = $1`, aID, ab); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE customer_tabs SET items = $2, updated_at = now() WHERE id = $1`, bID, bb)
		return err
	})
}

// InsertTabMovingItems creates newTab and rewrites the source's remaining
// items in one transaction (split).
func (s *Store) InsertTabMovingItems(ctx context.Context, newTab *domain.CustomerTab, sourceID string, remaining []domain.OrderItem) error {
	newItems, err := encodeItems(newTab.Items)
	if err != nil {
		return err
	}
	rem, err := encodeItems(remaining)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO customer_tabs (`+tabColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
			newTab.ID, newTab.OrderID, newTab.TableNumber, newTab.GroupID, newTab.Name, newTab.Status, newItems, newTab.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE customer_tabs SET items = $2, updated_at = now() WHERE id = $1`, sourceID, rem)
		return err
	})
}

// CloseTabMergingInto writes the target's merged items and closes the source
// in one transaction (merge).
func (s *Store) CloseTabMergingInto(ctx context.Context, sourceID, targetID string, targetItems []domain.OrderItem) error {
	b, err := encodeItems(targetItems)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE customer_tabs SET items = $2, updated_at = now() WHERE id = $1`, targetID, b); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE customer_tabs SET status = 'CLOSED', updated_at = now() WHERE id = $1`, sourceID)
		return err
	})
}

// CloseTab marks a tab CLOSED.
func (s *Store) CloseTab(ctx context.Context, tabID string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE customer_tabs SET status = 'CLOSED', updated_at = now() WHERE id = $1`, tabID)
	if err != nil {
		return fmt.Errorf("remote: close tab: %w", err)
	}
	return nil
}

// GroupForTable returns the active group a table belongs to, or nil.
func (s *Store) GroupForTable(ctx context.Context, tableNumber int) (*string, error) {
	var groupID string
	err := s.Pool.QueryRow(ctx,
		`SELECT group_id FROM table_links WHERE table_number = $1`, tableNumber).Scan(&groupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("remote: group lookup: %w", err)
	}
	return &groupID, nil
}

// GroupTables lists the member links of a group.
func (s *Store) GroupTables(ctx context.Context, groupID string) ([]domain.TableLink, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT group_id, table_number, is_primary, created_at
		   FROM table_links WHERE group_id = $1 ORDER BY table_number`, groupID)
	if err != nil {
		return nil, fmt.Errorf("remote: group tables: %w", err)
	}
	defer rows.Close()

	var links []domain.TableLink
	for rows.Next() {
		var l domain.TableLink
		if err := rows.Scan(&l.GroupID, &l.TableNumber, &l.Primary, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// OpenTabsForTables lists OPEN tabs across the given tables.
func (s *Store) OpenTabsForTables(ctx context.Context, tableNumbers []int) ([]domain.CustomerTab, error) {
	if len(tableNumbers) == 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT `+tabColumns+`
		   FROM customer_tabs
		  WHERE table_number = ANY($1) AND status = 'OPEN'
		  ORDER BY created_at`, tableNumbers)
	if err != nil {
		return nil, fmt.Errorf("remote: open tabs: %w", err)
	}
	defer rows.Close()

	var tabs []domain.CustomerTab
	for rows.Next() {
		t, err := scanTab(rows)
		if err != nil {
			return nil, err
		}
		tabs = append(tabs, *t)
	}
	return tabs, rows.Err()
}

// LinkTables records a new group's membership atomically. The unique
// constraint on table_number is the hard backstop for "one active group per
// table".
func (s *Store) LinkTables(ctx context.Context, links []domain.TableLink) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, l := range links {
			if _, err := tx.Exec(ctx,
				`INSERT INTO table_links (group_id, table_number, is_primary, created_at)
				 VALUES ($1, $2, $3, $4)`,
				l.GroupID, l.TableNumber, l.Primary, l.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// UnlinkTables removes a group's membership records.
func (s *Store) UnlinkTables(ctx context.Context, groupID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM table_links WHERE group_id = $1`, groupID)
	if err != nil {
		return fmt.Errorf("remote: unlink: %w", err)
	}
	return nil
}

// CreateOrder opens a remote order record, the durability root for dine-in
// orders. tableNumber and guestCount are nil for non-dine-in orders.
func (s *Store) CreateOrder(ctx context.Context, tableNumber, guestCount *int) (*domain.ActiveOrder, error) {
	id := uuid.NewString()
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO orders (id, table_number, guest_count, status, created_at)
		 VALUES ($1, $2, $3, 'ACTIVE', $4)`,
		id, tableNumber, guestCount, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("remote: create order: %w", err)
	}
	o := &domain.ActiveOrder{OrderID: id, Status: "ACTIVE"}
	if tableNumber != nil {
		o.TableNumber = *tableNumber
	}
	return o, nil
}

// GetActiveOrders lists every ACTIVE order with its linked tables.
func (s *Store) GetActiveOrders(ctx context.Context) ([]domain.ActiveOrder, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, COALESCE(table_number, 0), status
		   FROM orders WHERE status = 'ACTIVE' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("remote: active orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.ActiveOrder
	for rows.Next() {
		var o domain.ActiveOrder
		if err := rows.Scan(&o.OrderID, &o.TableNumber, &o.Status); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		if orders[i].TableNumber == 0 {
			continue
		}
		group, err := s.GroupForTable(ctx, orders[i].TableNumber)
		if err != nil {
			return nil, err
		}
		if group == nil {
			continue
		}
		links, err := s.GroupTables(ctx, *group)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			orders[i].LinkedTables = append(orders[i].LinkedTables, l.TableNumber)
		}
	}
	return orders, nil
}

// ListTables returns the table registry view.
func (s *Store) ListTables(ctx context.Context) ([]domain.RestaurantTable, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT table_number, capacity, status FROM restaurant_tables ORDER BY table_number`)
	if err != nil {
		return nil, fmt.Errorf("remote: list tables: %w", err)
	}
	defer rows.Close()

	var tables []domain.RestaurantTable
	for rows.Next() {
		var t domain.RestaurantTable
		if err := rows.Scan(&t.TableNumber, &t.Capacity, &t.Status); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// CompleteOrder marks an order COMPLETED once settled. found is false when
// no ACTIVE order carries the id.
func (s *Store) CompleteOrder(ctx context.Context, orderID string) (bool, error) {
	ct, err := s.Pool.Exec(ctx,
		`UPDATE orders SET status = 'COMPLETED' WHERE id = $1 AND status = 'ACTIVE'`, orderID)
	if err != nil {
		return false, fmt.Errorf("remote: complete order: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// inTx runs fn inside one transaction.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("remote: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return fmt.Errorf("remote: tx: %w", err)
	}
	return tx.Commit(ctx)
}
