// Package repo implements the terminal-local persistence layer, backed by
// GORM over SQLite. This file provides the Session Store and Crash Sentinel
// repositories.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only persistence
// and query composition. Debounce, restore decisions, and lifecycle rules
// live in services.OrderSessionController.
//
// Error semantics:
//   - When a draft session is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - SaveDraftSession rejects zero-item snapshots with ErrEmptySnapshot:
//     a session with nothing to recover must never be persisted.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrEmptySnapshot is returned when a caller attempts to persist a draft
// session with no line items.
var ErrEmptySnapshot = errors.New("draft session has no items")

// SaveDraftSession upserts the single draft-session row for the session's
// terminal, overwriting any previous snapshot. The row is keyed by terminal,
// not by session ID: the store holds only the latest recoverable state.
func SaveDraftSession(ctx context.Context, db *gorm.DB, s *domain.DraftOrderSession) error {
	items, err := s.Items()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return ErrEmptySnapshot
	}
	s.LastMutatedAt = time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.LastMutatedAt
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "terminal_id"}},
			UpdateAll: true,
		}).
		Create(s).Error
}

// GetDraftSession fetches the stored snapshot for a terminal, or ErrNotFound
// when nothing was persisted (or the store was cleared).
func GetDraftSession(ctx context.Context, db *gorm.DB, terminalID string) (*domain.DraftOrderSession, error) {
	var s domain.DraftOrderSession
	err := db.WithContext(ctx).
		Where("terminal_id = ?", terminalID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteDraftSession clears the stored snapshot for a terminal. Deleting an
// absent row is not an error: checkout, discard, and confirmed restoration
// all call this unconditionally.
func DeleteDraftSession(ctx context.Context, db *gorm.DB, terminalID string) error {
	return db.WithContext(ctx).
		Where("terminal_id = ?", terminalID).
		Delete(&domain.DraftOrderSession{}).Error
}

// GetCleanExit reads the crash sentinel for a terminal. A missing row means a
// fresh install and counts as a clean exit — there is nothing to recover.
func GetCleanExit(ctx context.Context, db *gorm.DB, terminalID string) (bool, error) {
	var st domain.TerminalState
	err := db.WithContext(ctx).
		Where("terminal_id = ?", terminalID).
		First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return st.CleanExit, nil
}

// SetCleanExit writes the crash sentinel synchronously. Callers must treat a
// returned error as best-effort logged failure, never as a reason to block
// the mutation or checkout path.
func SetCleanExit(ctx context.Context, db *gorm.DB, terminalID string, clean bool) error {
	st := domain.TerminalState{
		TerminalID: terminalID,
		CleanExit:  clean,
		UpdatedAt:  time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "terminal_id"}},
			UpdateAll: true,
		}).
		Create(&st).Error
}
