// Package remote is the pgx-backed client for the shared restaurant
// database: order records, customer tabs, table links, and the table
// registry. Everything terminal-local (draft sessions, the crash sentinel,
// the print-job log) lives in internal/repo instead; this package holds the
// state that must be visible to every terminal in the building.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool against dsn and verifies it with a ping. The
// restaurant server may still be booting when a terminal starts, so the ping
// is retried a few times before giving up.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("remote: parse dsn: %w", err)
	}

	const (
		maxAttempts = 5
		retryDelay  = 2 * time.Second
	)
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("remote: connect canceled: %w", ctx.Err())
		}
	}
	pool.Close()
	return nil, fmt.Errorf("remote: database unreachable after %d attempts: %w", 5, err)
}

// EnsureSchema creates the remote tables when absent. The shared server
// normally provisions these; running the DDL here keeps a standalone
// terminal (or a test database) usable out of the box.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS restaurant_tables (
    table_number INT PRIMARY KEY,
    capacity     INT NOT NULL DEFAULT 4,
    status       TEXT NOT NULL DEFAULT 'AVAILABLE'
);

CREATE TABLE IF NOT EXISTS orders (
    id           UUID PRIMARY KEY,
    table_number INT,
    guest_count  INT,
    status       TEXT NOT NULL DEFAULT 'ACTIVE',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_orders_table_active ON orders (table_number) WHERE status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS customer_tabs (
    id           UUID PRIMARY KEY,
    order_id     UUID NOT NULL REFERENCES orders (id),
    table_number INT NOT NULL,
    group_id     UUID,
    name         TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'OPEN',
    items        JSONB NOT NULL DEFAULT '[]',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tabs_table_open ON customer_tabs (table_number) WHERE status = 'OPEN';

CREATE TABLE IF NOT EXISTS table_links (
    group_id     UUID NOT NULL,
    table_number INT NOT NULL,
    is_primary   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (group_id, table_number),
    UNIQUE (table_number)
);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("remote: ensure schema: %w", err)
	}
	return nil
}
