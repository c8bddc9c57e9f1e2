// Package repo implements the terminal-local persistence layer, backed by
// GORM over SQLite (pure Go driver). This file contains database
// bootstrapping helpers and schema migrations.
//
// The local database is single-writer: one POS terminal owns one draft
// session, one crash sentinel row, and its own print-job log. Nothing here is
// shared across terminals.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

// OpenSQLite opens (or creates) the terminal-local SQLite database and
// applies PRAGMAs. WAL with synchronous=NORMAL keeps the frequent sentinel
// and snapshot writes cheap while surviving process crashes.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Trace local queries alongside the HTTP spans.
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the local tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.DraftOrderSession{},
		&domain.TerminalState{},
		&domain.PrintJob{},
	)
}
