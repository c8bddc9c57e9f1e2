// Package services – OrderSessionController
//
// This file implements the OrderSessionController, which makes the
// in-progress non-dine-in order resilient to process crashes. Every mutation
// updates in-memory state synchronously and schedules a debounced write of
// the full session snapshot to the local store; the crash sentinel is written
// synchronously so the next startup can tell a crash from a clean exit.
//
// DINE_IN orders are excluded on purpose: their durability is delegated to
// the remote order record the moment any item is added, so recovering one
// means re-reading the server, not local storage.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-pos-backend/internal/domain"
	"github.com/tbourn/go-pos-backend/internal/repo"
)

// SessionStore defines the local persistence contract required by the
// OrderSessionController. Implementations wrap the repo package.
type SessionStore interface {
	// SaveDraft upserts the terminal's draft snapshot. Rejects empty snapshots.
	SaveDraft(ctx context.Context, db *gorm.DB, s *domain.DraftOrderSession) error

	// GetDraft fetches the stored snapshot, or repo.ErrNotFound.
	GetDraft(ctx context.Context, db *gorm.DB, terminalID string) (*domain.DraftOrderSession, error)

	// DeleteDraft clears the stored snapshot (idempotent).
	DeleteDraft(ctx context.Context, db *gorm.DB, terminalID string) error

	// CleanExit reads the crash sentinel; a missing row reads as clean.
	CleanExit(ctx context.Context, db *gorm.DB, terminalID string) (bool, error)

	// SetCleanExit writes the crash sentinel synchronously.
	SetCleanExit(ctx context.Context, db *gorm.DB, terminalID string, clean bool) error
}

// SessionSnapshot is the restore preview handed to the operator: the exact
// state that would be rehydrated if they choose to restore.
type SessionSnapshot struct {
	SessionID     string                  `json:"session_id"`
	OrderType     domain.OrderType        `json:"order_type"`
	Items         []domain.OrderItem      `json:"items"`
	Customer      domain.CustomerSnapshot `json:"customer"`
	TableNumber   *int                    `json:"table_number,omitempty"`
	GuestCount    *int                    `json:"guest_count,omitempty"`
	Totals        domain.Totals           `json:"totals"`
	LastMutatedAt time.Time               `json:"last_mutated_at"`
}

// StartupDecision is the result of the crash-recovery check on launch.
type StartupDecision struct {
	// RestoreAvailable is true only when the previous exit was abnormal and
	// a non-empty snapshot survived. The UI must then offer restore-or-discard.
	RestoreAvailable bool             `json:"restore_available"`
	Snapshot         *SessionSnapshot `json:"snapshot,omitempty"`
}

// OrderSessionController orchestrates the session store, the crash sentinel,
// and the in-memory order state for one terminal. It is the single writer of
// both persisted records.
type OrderSessionController struct {
	// DB is the GORM handle for the terminal-local database.
	DB *gorm.DB
	// Store is the session persistence used by this controller.
	Store SessionStore

	// TerminalID scopes all persisted state to this installation.
	TerminalID string
	// Debounce is the coalescing window for snapshot writes.
	Debounce time.Duration
	// TaxRate recomputes display totals on each snapshot.
	TaxRate float64
	// Log receives persistence-failure warnings; failures never propagate to
	// the mutation path.
	Log zerolog.Logger

	mu        sync.Mutex
	timer     *time.Timer
	sessionID string
	orderType domain.OrderType
	items     []domain.OrderItem
	customer  domain.CustomerSnapshot
	tableNum  *int
	guests    *int
	createdAt time.Time
	tracking  bool // an order with items is in progress
}

// NewOrderSessionController constructs a controller with the default 2s
// debounce window.
func NewOrderSessionController(db *gorm.DB, store SessionStore, terminalID string, log zerolog.Logger) *OrderSessionController {
	return &OrderSessionController{
		DB:         db,
		Store:      store,
		TerminalID: terminalID,
		Debounce:   2 * time.Second,
		Log:        log,
	}
}

// RecordMutation applies an order mutation: it replaces the in-memory state
// synchronously and schedules a debounced persist of the full snapshot.
//
// The crash sentinel flips to false the first time items becomes non-empty.
// When items drops back to zero, the stored snapshot is cleared and the
// sentinel reset — there is nothing left to recover. DINE_IN mutations end
// local tracking entirely (the remote order record owns their durability).
func (c *OrderSessionController) RecordMutation(ctx context.Context, items []domain.OrderItem, orderType domain.OrderType, customer domain.CustomerSnapshot, tableNumber, guestCount *int) error {
	if !orderType.Valid() {
		return ErrInvalidOrderType
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if orderType == domain.OrderTypeDineIn {
		c.stopTrackingLocked(ctx)
		return nil
	}

	wasEmpty := !c.tracking
	c.orderType = orderType
	c.customer = customer
	c.tableNum = tableNumber
	c.guests = guestCount
	c.items = items

	if len(items) == 0 {
		c.stopTrackingLocked(ctx)
		return nil
	}

	if wasEmpty {
		c.sessionID = uuid.NewString()
		c.createdAt = time.Now().UTC()
		c.tracking = true
		// Synchronous: the sentinel is the basis of the next startup's
		// recovery decision. A failed write is logged and retried once but
		// never blocks the sale.
		c.writeSentinel(ctx, false)
	}

	c.scheduleFlushLocked()
	return nil
}

// OnStartup runs the crash-recovery check. A clean sentinel proves the prior
// order completed or was deliberately abandoned, so stale store contents are
// discarded. A dirty sentinel with a non-empty snapshot yields a
// restore-or-discard decision; a dirty sentinel with nothing recoverable
// just resets the sentinel.
func (c *OrderSessionController) OnStartup(ctx context.Context) (*StartupDecision, error) {
	clean, err := c.Store.CleanExit(ctx, c.DB, c.TerminalID)
	if err != nil {
		// Degrade to "start fresh" rather than blocking launch.
		c.Log.Error().Err(err).Msg("session: sentinel read failed, starting fresh")
		return &StartupDecision{}, nil
	}

	if clean {
		if err := c.Store.DeleteDraft(ctx, c.DB, c.TerminalID); err != nil {
			c.Log.Warn().Err(err).Msg("session: stale draft cleanup failed")
		}
		return &StartupDecision{}, nil
	}

	s, err := c.Store.GetDraft(ctx, c.DB, c.TerminalID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			c.Log.Error().Err(err).Msg("session: draft read failed, starting fresh")
		}
		c.writeSentinel(ctx, true)
		return &StartupDecision{}, nil
	}

	snap, err := c.snapshotFrom(s)
	if err != nil || len(snap.Items) == 0 {
		if err != nil {
			c.Log.Error().Err(err).Msg("session: draft snapshot corrupt, starting fresh")
		}
		_ = c.Store.DeleteDraft(ctx, c.DB, c.TerminalID)
		c.writeSentinel(ctx, true)
		return &StartupDecision{}, nil
	}

	return &StartupDecision{RestoreAvailable: true, Snapshot: snap}, nil
}

// Restore rehydrates the in-memory order state from the stored snapshot and
// resumes normal mutation tracking. The snapshot stays persisted until the
// order completes or is cleared, so a second crash is still covered.
func (c *OrderSessionController) Restore(ctx context.Context) (*SessionSnapshot, error) {
	s, err := c.Store.GetDraft(ctx, c.DB, c.TerminalID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoRestorableSession
		}
		return nil, err
	}
	snap, err := c.snapshotFrom(s)
	if err != nil {
		return nil, ErrNoRestorableSession
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = snap.SessionID
	c.orderType = snap.OrderType
	c.items = snap.Items
	c.customer = snap.Customer
	c.tableNum = snap.TableNumber
	c.guests = snap.GuestCount
	c.createdAt = s.CreatedAt
	c.tracking = true
	c.writeSentinel(ctx, false)

	return snap, nil
}

// Discard drops the stored snapshot and marks a clean state; the operator
// chose not to recover.
func (c *OrderSessionController) Discard(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTrackingLocked(ctx)
	return nil
}

// OnCheckoutComplete clears the store after the order reached the remote
// record; local recovery state is no longer needed.
func (c *OrderSessionController) OnCheckoutComplete(ctx context.Context) error {
	return c.Discard(ctx)
}

// OnExplicitClear clears the store when the operator abandons the order.
func (c *OrderSessionController) OnExplicitClear(ctx context.Context) error {
	return c.Discard(ctx)
}

// MarkCleanExit is the intentional-exit path: it cancels pending writes and
// sets the sentinel without touching the stored snapshot, so a deliberate
// shutdown mid-order is not misread as a crash.
func (c *OrderSessionController) MarkCleanExit(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.writeSentinel(ctx, true)
}

// Flush persists any pending snapshot immediately, bypassing the debounce
// window. Used on graceful shutdown.
func (c *OrderSessionController) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	s, ok := c.buildDraftLocked()
	c.mu.Unlock()
	if ok {
		c.persist(ctx, s)
	}
}

// stopTrackingLocked ends local crash tracking: pending writes are cancelled,
// the stored snapshot removed, and the sentinel set clean. Callers hold c.mu.
func (c *OrderSessionController) stopTrackingLocked(ctx context.Context) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.sessionID = ""
	c.items = nil
	c.tracking = false
	if err := c.Store.DeleteDraft(ctx, c.DB, c.TerminalID); err != nil {
		c.Log.Warn().Err(err).Msg("session: draft delete failed")
	}
	c.writeSentinel(ctx, true)
}

// scheduleFlushLocked (re)arms the debounce timer. N rapid mutations collapse
// into one write reflecting only the final state. Callers hold c.mu.
func (c *OrderSessionController) scheduleFlushLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.Debounce, func() {
		c.mu.Lock()
		c.timer = nil
		s, ok := c.buildDraftLocked()
		c.mu.Unlock()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.persist(ctx, s)
	})
}

// buildDraftLocked assembles the current snapshot. ok is false when there is
// nothing to persist. Callers hold c.mu.
func (c *OrderSessionController) buildDraftLocked() (*domain.DraftOrderSession, bool) {
	if !c.tracking || len(c.items) == 0 {
		return nil, false
	}
	s := &domain.DraftOrderSession{
		ID:          c.sessionID,
		TerminalID:  c.TerminalID,
		OrderType:   c.orderType,
		TableNumber: c.tableNum,
		GuestCount:  c.guests,
		CreatedAt:   c.createdAt,
	}
	if err := s.SetItems(c.items); err != nil {
		c.Log.Error().Err(err).Msg("session: snapshot encode failed")
		return nil, false
	}
	if err := s.SetCustomer(c.customer); err != nil {
		c.Log.Error().Err(err).Msg("session: customer encode failed")
	}
	totals := domain.ComputeTotals(c.items, c.TaxRate)
	s.Subtotal, s.Tax, s.Total = totals.Subtotal, totals.Tax, totals.Total
	return s, true
}

// persist writes one snapshot. A failure is logged and left for the next
// debounce tick; losing crash-recovery fidelity is acceptable, blocking a
// live sale is not.
func (c *OrderSessionController) persist(ctx context.Context, s *domain.DraftOrderSession) {
	if err := c.Store.SaveDraft(ctx, c.DB, s); err != nil {
		c.Log.Warn().Err(err).Msg("session: snapshot persist failed, will retry on next mutation")
		c.mu.Lock()
		if c.tracking {
			c.scheduleFlushLocked()
		}
		c.mu.Unlock()
	}
}

// writeSentinel writes the crash sentinel, retrying once on failure. A missed
// write here is the one failure mode that can cost an order, so it is worth a
// second synchronous attempt.
func (c *OrderSessionController) writeSentinel(ctx context.Context, clean bool) {
	if err := c.Store.SetCleanExit(ctx, c.DB, c.TerminalID, clean); err != nil {
		c.Log.Error().Err(err).Bool("clean", clean).Msg("session: sentinel write failed, retrying")
		if err := c.Store.SetCleanExit(ctx, c.DB, c.TerminalID, clean); err != nil {
			c.Log.Error().Err(err).Bool("clean", clean).Msg("session: sentinel retry failed")
		}
	}
}

// snapshotFrom converts a stored draft into the restore preview.
func (c *OrderSessionController) snapshotFrom(s *domain.DraftOrderSession) (*SessionSnapshot, error) {
	items, err := s.Items()
	if err != nil {
		return nil, err
	}
	return &SessionSnapshot{
		SessionID:     s.ID,
		OrderType:     s.OrderType,
		Items:         items,
		Customer:      s.Customer(),
		TableNumber:   s.TableNumber,
		GuestCount:    s.GuestCount,
		Totals:        domain.Totals{Subtotal: s.Subtotal, Tax: s.Tax, Total: s.Total},
		LastMutatedAt: s.LastMutatedAt,
	}, nil
}
