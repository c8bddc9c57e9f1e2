// Package repo implements the terminal-local persistence layer, backed by
// GORM over SQLite. This file provides the durable print-job log.
//
// The log is append-mostly: jobs are inserted once and then move through the
// QUEUED → PRINTING → SUCCEEDED/FAILED state machine via guarded updates
// (UPDATE ... WHERE status = <expected>), so a transition that lost a race
// affects zero rows and reports false instead of corrupting state. The
// services.PrintJobQueue owns which transitions are legal and when; this file
// only enforces that no illegal write can slip through.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

// InsertPrintJob persists a new job in QUEUED state and assigns the next
// per-order sequence number. When the job carries a dedupe key and a job with
// that key already exists, the existing job is returned unchanged — enqueue
// is idempotent at the UI retry edge.
func InsertPrintJob(ctx context.Context, db *gorm.DB, job *domain.PrintJob) (*domain.PrintJob, error) {
	var out *domain.PrintJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if job.DedupeKey != nil && *job.DedupeKey != "" {
			var existing domain.PrintJob
			err := tx.Where("dedupe_key = ?", *job.DedupeKey).First(&existing).Error
			if err == nil {
				out = &existing
				return nil
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
		}

		var maxSeq int
		row := struct{ S *int }{}
		if err := tx.Model(&domain.PrintJob{}).
			Select("MAX(seq) as s").
			Where("order_id = ?", job.OrderID).
			Scan(&row).Error; err != nil {
			return err
		}
		if row.S != nil {
			maxSeq = *row.S
		}

		job.ID = uuid.NewString()
		job.Seq = maxSeq + 1
		job.Status = domain.JobQueued
		job.AttemptCount = 0
		job.CreatedAt = time.Now().UTC()
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListQueued returns up to limit QUEUED jobs in dispatch order: enqueue order
// overall, per-order sequence as the tiebreaker.
func ListQueued(ctx context.Context, db *gorm.DB, limit int) ([]domain.PrintJob, error) {
	var jobs []domain.PrintJob
	err := db.WithContext(ctx).
		Where("status = ?", domain.JobQueued).
		Order("created_at asc, seq asc").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// OrderHasEarlierPending reports whether any job for the same order with a
// lower sequence number has not yet succeeded. Such a job must dispatch (or
// be resolved by an operator) first, so a kitchen ticket is never observed
// after its receipt.
func OrderHasEarlierPending(ctx context.Context, db *gorm.DB, orderID string, seq int) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.PrintJob{}).
		Where("order_id = ? AND seq < ? AND status <> ?", orderID, seq, domain.JobSucceeded).
		Count(&n).Error
	return n > 0, err
}

// ClaimQueued moves a job QUEUED → PRINTING and counts the dispatch attempt.
// It returns false when the job was no longer QUEUED (already claimed,
// retried, or resolved), in which case the caller must skip it.
func ClaimQueued(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.PrintJob{}).
		Where("id = ? AND status = ?", id, domain.JobQueued).
		Updates(map[string]interface{}{
			"status":          domain.JobPrinting,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkSucceeded moves a job PRINTING → SUCCEEDED. A SUCCEEDED job is
// immutable from then on; no other function touches it.
func MarkSucceeded(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.PrintJob{}).
		Where("id = ? AND status = ?", id, domain.JobPrinting).
		Updates(map[string]interface{}{
			"status":       domain.JobSucceeded,
			"completed_at": now,
			"last_error":   "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed moves a job PRINTING → FAILED and records the delivery error.
func MarkFailed(ctx context.Context, db *gorm.DB, id, lastErr string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.PrintJob{}).
		Where("id = ? AND status = ?", id, domain.JobPrinting).
		Updates(map[string]interface{}{
			"status":     domain.JobFailed,
			"last_error": lastErr,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListFailedRetryable returns FAILED jobs that have attempts left, oldest
// first. Backoff eligibility is the queue's decision, not the log's.
func ListFailedRetryable(ctx context.Context, db *gorm.DB, maxRetries, limit int) ([]domain.PrintJob, error) {
	var jobs []domain.PrintJob
	err := db.WithContext(ctx).
		Where("status = ? AND attempt_count < ?", domain.JobFailed, maxRetries).
		Order("last_attempt_at asc").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// RequeueFailed moves a job FAILED → QUEUED and flags the next output as a
// reprint. Returns false when the job was not FAILED. This is the only path
// back into the queue, used both by automatic backoff retry and by explicit
// operator retry; the attempt ceiling is enforced by the caller for the
// automatic path only.
func RequeueFailed(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.PrintJob{}).
		Where("id = ? AND status = ?", id, domain.JobFailed).
		Updates(map[string]interface{}{
			"status":  domain.JobQueued,
			"reprint": true,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SweepStuckPrinting forces PRINTING jobs whose last attempt started before
// cutoff into FAILED so they become eligible for retry instead of hanging in
// flight forever. Returns the number of jobs swept.
func SweepStuckPrinting(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.PrintJob{}).
		Where("status = ? AND last_attempt_at < ?", domain.JobPrinting, cutoff).
		Updates(map[string]interface{}{
			"status":     domain.JobFailed,
			"last_error": "watchdog: dispatch never resolved",
		})
	return res.RowsAffected, res.Error
}

// GetPrintJob fetches a single job by ID, or ErrNotFound.
func GetPrintJob(ctx context.Context, db *gorm.DB, id string) (*domain.PrintJob, error) {
	var j domain.PrintJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CountByStatus returns job counts grouped by status, for operator-visible
// queue health. Statuses with no jobs are absent from the map.
func CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.JobStatus]int64, error) {
	var rows []struct {
		Status domain.JobStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.PrintJob{}).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.JobStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// CountExhausted returns the number of FAILED jobs at or past the retry
// ceiling — the jobs needing explicit operator attention.
func CountExhausted(ctx context.Context, db *gorm.DB, maxRetries int) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.PrintJob{}).
		Where("status = ? AND attempt_count >= ?", domain.JobFailed, maxRetries).
		Count(&n).Error
	return n, err
}

// ListJobsPage returns a page of jobs, optionally filtered by status, newest
// first. Use CountJobs for pagination metadata.
func ListJobsPage(ctx context.Context, db *gorm.DB, status *domain.JobStatus, offset, limit int) ([]domain.PrintJob, error) {
	q := db.WithContext(ctx).Model(&domain.PrintJob{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var jobs []domain.PrintJob
	err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&jobs).Error
	return jobs, err
}

// CountJobs returns the total number of jobs, optionally filtered by status.
func CountJobs(ctx context.Context, db *gorm.DB, status *domain.JobStatus) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.PrintJob{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
