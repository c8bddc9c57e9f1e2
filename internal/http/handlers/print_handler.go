// Print-job HTTP handlers.
//
// This file exposes the durable print queue:
//   - POST /print-jobs            (enqueue; returns immediately, never blocks on I/O)
//   - GET  /print-jobs            (list, paginated, optional status filter)
//   - GET  /print-jobs/:id        (inspect one job)
//   - POST /print-jobs/process    (drain the queue now)
//   - POST /print-jobs/:id/retry  (explicit operator retry, bypasses the ceiling)
//   - GET  /print-queue/stats     (operator health indicator)
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pos-backend/internal/domain"
	"github.com/tbourn/go-pos-backend/internal/services"
	"github.com/tbourn/go-pos-backend/internal/utils"
)

// EnqueueJobRequest is the JSON payload for enqueueing a print job. Payload
// must be the fully rendered ticket content.
type EnqueueJobRequest struct {
	OrderID       string              `json:"order_id" binding:"required"`
	Template      domain.TemplateType `json:"template" binding:"required,oneof=KITCHEN CUSTOMER_RECEIPT"`
	PrinterTarget string              `json:"printer_target" binding:"required"`
	Payload       string              `json:"payload" binding:"required"`
	DedupeKey     string              `json:"dedupe_key"`
}

// ProcessQueueRequest tunes one explicit queue drain.
type ProcessQueueRequest struct {
	MaxJobs       int  `json:"max_jobs"`
	IncludeFailed bool `json:"include_failed"`
}

// JobListResponse is the paginated job listing envelope.
type JobListResponse struct {
	Items      []domain.PrintJob `json:"items"`
	Pagination utils.Pagination  `json:"pagination"`
}

// EnqueueJob handles POST /print-jobs.
func (h *Handlers) EnqueueJob(c *gin.Context) {
	var req EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order_id, template, printer_target and payload are required")
		return
	}
	job, err := h.queue.Enqueue(c.Request.Context(), req.OrderID, req.Template, req.PrinterTarget, req.Payload, req.DedupeKey)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusAccepted, job)
}

// ProcessQueue handles POST /print-jobs/process.
func (h *Handlers) ProcessQueue(c *gin.Context) {
	var req ProcessQueueRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid process payload")
			return
		}
	}
	report, err := h.queue.AutoProcessQueue(c.Request.Context(), req.MaxJobs, req.IncludeFailed)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}

// RetryJob handles POST /print-jobs/:id/retry.
func (h *Handlers) RetryJob(c *gin.Context) {
	err := h.queue.RetryJob(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrJobNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "print job not found")
	case errors.Is(err, services.ErrRetryNotAllowed):
		fail(c, http.StatusConflict, ErrCodeRetryNotAllowed, "only failed jobs can be retried")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// GetJob handles GET /print-jobs/:id.
func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.queue.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "print job not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, job)
}

// ListJobs handles GET /print-jobs with ?status=, ?page=, ?page_size=.
func (h *Handlers) ListJobs(c *gin.Context) {
	var status *domain.JobStatus
	if s := c.Query("status"); s != "" {
		st := domain.JobStatus(s)
		switch st {
		case domain.JobQueued, domain.JobPrinting, domain.JobSucceeded, domain.JobFailed:
			status = &st
		default:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
			return
		}
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	jobs, total, err := h.queue.ListJobs(c.Request.Context(), status, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, JobListResponse{
		Items:      jobs,
		Pagination: utils.NewPagination(page, pageSize, total),
	})
}

// QueueStats handles GET /print-queue/stats.
func (h *Handlers) QueueStats(c *gin.Context) {
	stats, err := h.queue.GetStats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}
