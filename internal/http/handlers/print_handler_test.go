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

// fakeQueue is a scriptable PrintQueue.
type fakeQueue struct {
	job    *domain.PrintJob
	jobs   []domain.PrintJob
	total  int64
	report services.ProcessReport
	stats  services.QueueStats
	err    error

	lastDedupe  string
	lastMax     int
	lastFailed  bool
	lastStatus  *domain.JobStatus
	lastRetryID string
}

func (f *fakeQueue) Enqueue(_ context.Context, orderID string, tmpl domain.TemplateType, target, payload, dedupeKey string) (*domain.PrintJob, error) {
	f.lastDedupe = dedupeKey
	return f.job, f.err
}

func (f *fakeQueue) ProcessQueue(_ context.Context, maxJobs int) (services.ProcessReport, error) {
	f.lastMax = maxJobs
	return f.report, f.err
}

func (f *fakeQueue) AutoProcessQueue(_ context.Context, maxJobs int, includeFailed bool) (services.ProcessReport, error) {
	f.lastMax, f.lastFailed = maxJobs, includeFailed
	return f.report, f.err
}

func (f *fakeQueue) RetryJob(_ context.Context, jobID string) error {
	f.lastRetryID = jobID
	return f.err
}

func (f *fakeQueue) GetStats(context.Context) (services.QueueStats, error) {
	return f.stats, f.err
}

func (f *fakeQueue) ListJobs(_ context.Context, status *domain.JobStatus, page, pageSize int) ([]domain.PrintJob, int64, error) {
	f.lastStatus = status
	return f.jobs, f.total, f.err
}

func (f *fakeQueue) GetJob(_ context.Context, jobID string) (*domain.PrintJob, error) {
	return f.job, f.err
}

func newPrintRouter(fq *fakeQueue) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(nil, nil, nil, fq)
	r := gin.New()
	r.POST("/print-jobs", h.EnqueueJob)
	r.GET("/print-jobs", h.ListJobs)
	r.GET("/print-jobs/:id", h.GetJob)
	r.POST("/print-jobs/process", h.ProcessQueue)
	r.POST("/print-jobs/:id/retry", h.RetryJob)
	r.GET("/print-queue/stats", h.QueueStats)
	return r
}

func TestEnqueueJob(t *testing.T) {
	fq := &fakeQueue{job: &domain.PrintJob{ID: "job-1", Status: domain.JobQueued}}
	r := newPrintRouter(fq)

	body := `{"order_id":"o1","template":"KITCHEN","printer_target":"kitchen-1","payload":"2x Soup","dedupe_key":"o1-k-1"}`
	w := do(r, http.MethodPost, "/print-jobs", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("enqueue = %d body=%s", w.Code, w.Body.String())
	}
	if fq.lastDedupe != "o1-k-1" {
		t.Fatalf("dedupe key not forwarded: %q", fq.lastDedupe)
	}

	// Unknown template fails binding
	w = do(r, http.MethodPost, "/print-jobs", `{"order_id":"o1","template":"POSTER","printer_target":"x","payload":"y"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad template = %d", w.Code)
	}

	// Missing payload
	w = do(r, http.MethodPost, "/print-jobs", `{"order_id":"o1","template":"KITCHEN","printer_target":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing payload = %d", w.Code)
	}
}

func TestProcessQueue(t *testing.T) {
	fq := &fakeQueue{report: services.ProcessReport{Dispatched: 2, Succeeded: 2}}
	r := newPrintRouter(fq)

	// Without body: defaults
	w := do(r, http.MethodPost, "/print-jobs/process", "")
	if w.Code != http.StatusOK {
		t.Fatalf("process = %d body=%s", w.Code, w.Body.String())
	}
	var rep services.ProcessReport
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil || rep.Succeeded != 2 {
		t.Fatalf("report: %s (%v)", w.Body.String(), err)
	}

	// With tuning body
	w = do(r, http.MethodPost, "/print-jobs/process", `{"max_jobs":5,"include_failed":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("process with body = %d", w.Code)
	}
	if fq.lastMax != 5 || !fq.lastFailed {
		t.Fatalf("tuning not forwarded: max=%d failed=%v", fq.lastMax, fq.lastFailed)
	}
}

func TestRetryJob(t *testing.T) {
	fq := &fakeQueue{}
	r := newPrintRouter(fq)

	if w := do(r, http.MethodPost, "/print-jobs/job-1/retry", ""); w.Code != http.StatusNoContent {
		t.Fatalf("retry = %d", w.Code)
	}
	if fq.lastRetryID != "job-1" {
		t.Fatalf("job id not forwarded: %q", fq.lastRetryID)
	}

	fq.err = services.ErrJobNotFound
	w := do(r, http.MethodPost, "/print-jobs/missing/retry", "")
	if w.Code != http.StatusNotFound || errCode(t, w) != ErrCodeNotFound {
		t.Fatalf("missing: code=%d body=%s", w.Code, w.Body.String())
	}

	fq.err = services.ErrRetryNotAllowed
	w = do(r, http.MethodPost, "/print-jobs/job-1/retry", "")
	if w.Code != http.StatusConflict || errCode(t, w) != ErrCodeRetryNotAllowed {
		t.Fatalf("not failed: code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestGetJob(t *testing.T) {
	fq := &fakeQueue{job: &domain.PrintJob{ID: "job-1", Status: domain.JobSucceeded}}
	r := newPrintRouter(fq)

	w := do(r, http.MethodGet, "/print-jobs/job-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	var job domain.PrintJob
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil || job.ID != "job-1" {
		t.Fatalf("job body: %s (%v)", w.Body.String(), err)
	}

	fq.err = services.ErrJobNotFound
	w = do(r, http.MethodGet, "/print-jobs/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing = %d", w.Code)
	}
}

func TestListJobs(t *testing.T) {
	fq := &fakeQueue{
		jobs:  []domain.PrintJob{{ID: "job-1"}, {ID: "job-2"}},
		total: 12,
	}
	r := newPrintRouter(fq)

	w := do(r, http.MethodGet, "/print-jobs?status=FAILED&page=2&page_size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d body=%s", w.Code, w.Body.String())
	}
	if fq.lastStatus == nil || *fq.lastStatus != domain.JobFailed {
		t.Fatalf("status filter not forwarded: %v", fq.lastStatus)
	}
	var resp JobListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Pagination.Total != 12 || resp.Pagination.TotalPages != 6 {
		t.Fatalf("unexpected listing: %+v", resp)
	}

	// Unknown status filter
	w = do(r, http.MethodGet, "/print-jobs?status=LOST", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad status = %d", w.Code)
	}
}

func TestQueueStats(t *testing.T) {
	fq := &fakeQueue{stats: services.QueueStats{
		Counts:    map[domain.JobStatus]int64{domain.JobQueued: 3, domain.JobFailed: 1},
		Exhausted: 1,
	}}
	r := newPrintRouter(fq)

	w := do(r, http.MethodGet, "/print-queue/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	var stats services.QueueStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Counts[domain.JobQueued] != 3 || stats.Exhausted != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
