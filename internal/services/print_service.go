// Package services – PrintJobQueue
//
// This file implements the PrintJobQueue, which guarantees that every
// committed order eventually produces its kitchen ticket and customer
// receipt, surviving transient printer or network unavailability, without
// ever blocking the checkout path on hardware I/O.
//
// Duplicate-output note: printers cannot be asked "did you already print
// this", so a delivery that was acked after the ack was lost may print
// twice. The queue accepts that risk, bounds it with a low retry ceiling,
// and labels every re-queued job as a reprint so the operator can recognize
// and discard a duplicate.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-pos-backend/internal/domain"
	"github.com/tbourn/go-pos-backend/internal/printer"
)

var (
	// dispatchTotal counts dispatch attempts by transport and outcome.
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_print_dispatch_total",
			Help: "Total print dispatch attempts by transport and outcome.",
		},
		[]string{"transport", "outcome"},
	)

	// queueDepth gauges jobs per status, refreshed on every stats read.
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_print_queue_jobs",
			Help: "Print jobs currently in each status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(dispatchTotal, queueDepth)
}

// PrintJobRepo defines the durable-log contract required by the queue.
// Implementations wrap the repo package; every transition is a guarded
// update that reports whether it won.
type PrintJobRepo interface {
	Insert(ctx context.Context, db *gorm.DB, job *domain.PrintJob) (*domain.PrintJob, error)
	Get(ctx context.Context, db *gorm.DB, id string) (*domain.PrintJob, error)
	ListQueued(ctx context.Context, db *gorm.DB, limit int) ([]domain.PrintJob, error)
	OrderHasEarlierPending(ctx context.Context, db *gorm.DB, orderID string, seq int) (bool, error)
	Claim(ctx context.Context, db *gorm.DB, id string) (bool, error)
	Succeed(ctx context.Context, db *gorm.DB, id string) (bool, error)
	Fail(ctx context.Context, db *gorm.DB, id, lastErr string) (bool, error)
	ListFailedRetryable(ctx context.Context, db *gorm.DB, maxRetries, limit int) ([]domain.PrintJob, error)
	Requeue(ctx context.Context, db *gorm.DB, id string) (bool, error)
	SweepStuck(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.JobStatus]int64, error)
	CountExhausted(ctx context.Context, db *gorm.DB, maxRetries int) (int64, error)
	ListPage(ctx context.Context, db *gorm.DB, status *domain.JobStatus, offset, limit int) ([]domain.PrintJob, error)
	Count(ctx context.Context, db *gorm.DB, status *domain.JobStatus) (int64, error)
}

// StatusPublisher receives job transitions and queue snapshots for the UI.
// Implementations must be non-blocking and tolerate broker outages.
type StatusPublisher interface {
	JobStatusChanged(job *domain.PrintJob)
	QueueHealth(counts map[domain.JobStatus]int64, exhausted int64)
}

// TransportResolver maps a printer target to its delivery channel. Returning
// nil fails the job visibly instead of losing it.
type TransportResolver func(target string) printer.Transport

// StaticTransport resolves every target to one transport — the common
// single-helper deployment.
func StaticTransport(t printer.Transport) TransportResolver {
	return func(string) printer.Transport { return t }
}

// QueueStats is the operator-visible queue health summary.
type QueueStats struct {
	// Counts holds job totals per status.
	Counts map[domain.JobStatus]int64 `json:"counts"`
	// Exhausted counts FAILED jobs at the retry ceiling; they stay visible
	// until an operator retries or resolves them.
	Exhausted int64 `json:"exhausted"`
}

// ProcessReport summarizes one queue drain.
type ProcessReport struct {
	Dispatched int `json:"dispatched"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// PrintJobQueue owns the durable print-job log and its state machine. One
// terminal drains its own queue; there is no cross-terminal coordination.
type PrintJobQueue struct {
	// DB is the GORM handle for the terminal-local database.
	DB *gorm.DB
	// Jobs is the durable log repository.
	Jobs PrintJobRepo
	// Transports resolves printer targets to delivery channels.
	Transports TransportResolver
	// Events receives transitions; may be nil.
	Events StatusPublisher
	// Log receives dispatch telemetry.
	Log zerolog.Logger

	// MaxRetries caps automatic attempts per job (default 3, kept low to
	// bound duplicate output).
	MaxRetries int
	// BaseDelay seeds the exponential backoff (delay = BaseDelay * 2^attempts).
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// DispatchTimeout bounds each dispatch; expiry counts as unreachable.
	DispatchTimeout time.Duration

	// Now is injected for backoff tests.
	Now func() time.Time
}

// NewPrintJobQueue constructs a queue with production defaults.
func NewPrintJobQueue(db *gorm.DB, jobs PrintJobRepo, transports TransportResolver, log zerolog.Logger) *PrintJobQueue {
	return &PrintJobQueue{
		DB:              db,
		Jobs:            jobs,
		Transports:      transports,
		Log:             log,
		MaxRetries:      3,
		BaseDelay:       5 * time.Second,
		MaxDelay:        60 * time.Second,
		DispatchTimeout: 5 * time.Second,
		Now:             time.Now,
	}
}

// Enqueue records a new job and returns immediately with QUEUED status. The
// payload must be the fully rendered ticket content: later template edits
// cannot alter queued history. A non-empty dedupeKey makes the call
// idempotent — re-enqueueing the same key returns the original job.
func (q *PrintJobQueue) Enqueue(ctx context.Context, orderID string, template domain.TemplateType, target, payload, dedupeKey string) (*domain.PrintJob, error) {
	job := &domain.PrintJob{
		OrderID:       orderID,
		Template:      template,
		PrinterTarget: target,
		Payload:       payload,
	}
	if dedupeKey != "" {
		job.DedupeKey = &dedupeKey
	}
	out, err := q.Jobs.Insert(ctx, q.DB, job)
	if err != nil {
		return nil, err
	}
	q.publish(out)
	return out, nil
}

// ProcessQueue dispatches up to maxJobs QUEUED jobs. Dispatch is serialized
// per printer target to preserve output ordering on a single device and
// concurrent across distinct targets. Jobs whose order still has an earlier
// unresolved job are skipped, so a receipt never prints before its kitchen
// ticket.
func (q *PrintJobQueue) ProcessQueue(ctx context.Context, maxJobs int) (ProcessReport, error) {
	if maxJobs <= 0 {
		maxJobs = 25
	}
	jobs, err := q.Jobs.ListQueued(ctx, q.DB, maxJobs)
	if err != nil {
		return ProcessReport{}, err
	}

	byTarget := make(map[string][]domain.PrintJob)
	order := make([]string, 0, 4)
	for _, j := range jobs {
		if _, seen := byTarget[j.PrinterTarget]; !seen {
			order = append(order, j.PrinterTarget)
		}
		byTarget[j.PrinterTarget] = append(byTarget[j.PrinterTarget], j)
	}

	var (
		mu     sync.Mutex
		report ProcessReport
		wg     sync.WaitGroup
	)
	for _, target := range order {
		wg.Add(1)
		go func(target string, batch []domain.PrintJob) {
			defer wg.Done()
			for i := range batch {
				outcome := q.dispatchOne(ctx, &batch[i])
				mu.Lock()
				switch outcome {
				case dispatchSucceeded:
					report.Dispatched++
					report.Succeeded++
				case dispatchFailed:
					report.Dispatched++
					report.Failed++
				default:
					report.Skipped++
				}
				mu.Unlock()
			}
		}(target, byTarget[target])
	}
	wg.Wait()
	return report, nil
}

type dispatchOutcome int

const (
	dispatchSkipped dispatchOutcome = iota
	dispatchSucceeded
	dispatchFailed
)

// dispatchOne runs one job through claim → dispatch → transition.
func (q *PrintJobQueue) dispatchOne(ctx context.Context, job *domain.PrintJob) dispatchOutcome {
	blocked, err := q.Jobs.OrderHasEarlierPending(ctx, q.DB, job.OrderID, job.Seq)
	if err != nil {
		q.Log.Error().Err(err).Str("job_id", job.ID).Msg("print: ordering check failed")
		return dispatchSkipped
	}
	if blocked {
		return dispatchSkipped
	}

	claimed, err := q.Jobs.Claim(ctx, q.DB, job.ID)
	if err != nil {
		q.Log.Error().Err(err).Str("job_id", job.ID).Msg("print: claim failed")
		return dispatchSkipped
	}
	if !claimed {
		return dispatchSkipped
	}

	transport := q.Transports(job.PrinterTarget)
	if transport == nil {
		q.fail(ctx, job.ID, "no transport configured for target "+job.PrinterTarget)
		dispatchTotal.WithLabelValues("none", "rejected").Inc()
		return dispatchFailed
	}

	dctx, cancel := context.WithTimeout(ctx, q.DispatchTimeout)
	res, err := transport.Dispatch(dctx, job)
	cancel()
	if err != nil {
		q.fail(ctx, job.ID, "dispatch error: "+err.Error())
		dispatchTotal.WithLabelValues(transport.Name(), "error").Inc()
		return dispatchFailed
	}

	dispatchTotal.WithLabelValues(transport.Name(), res.Outcome.String()).Inc()
	switch res.Outcome {
	case printer.Delivered:
		if ok, err := q.Jobs.Succeed(ctx, q.DB, job.ID); err != nil || !ok {
			q.Log.Error().Err(err).Bool("won", ok).Str("job_id", job.ID).Msg("print: success transition lost")
			return dispatchSkipped
		}
		q.publishByID(ctx, job.ID)
		return dispatchSucceeded
	case printer.Rejected:
		q.Log.Warn().
			Str("job_id", job.ID).
			Str("transport", transport.Name()).
			Str("reason", res.Reason).
			Msg("print: job rejected by channel")
		q.fail(ctx, job.ID, "rejected: "+res.Reason)
		return dispatchFailed
	default: // printer.Unreachable
		q.Log.Warn().
			Str("job_id", job.ID).
			Str("transport", transport.Name()).
			Str("reason", res.Reason).
			Msg("print: channel unreachable")
		q.fail(ctx, job.ID, "unreachable: "+res.Reason)
		return dispatchFailed
	}
}

// ProcessFailedJobs re-queues FAILED jobs that still have attempts left and
// whose backoff window has elapsed since the last attempt. Calling it in a
// tight loop never retries faster than the backoff allows. Returns the
// number of jobs re-queued.
func (q *PrintJobQueue) ProcessFailedJobs(ctx context.Context, maxRetries, maxJobs int) (int, error) {
	if maxRetries <= 0 {
		maxRetries = q.MaxRetries
	}
	if maxJobs <= 0 {
		maxJobs = 25
	}
	jobs, err := q.Jobs.ListFailedRetryable(ctx, q.DB, maxRetries, maxJobs)
	if err != nil {
		return 0, err
	}

	now := q.now()
	requeued := 0
	for i := range jobs {
		j := &jobs[i]
		if j.LastAttemptAt != nil {
			if now.Sub(*j.LastAttemptAt) < q.backoffDelay(j.AttemptCount) {
				continue
			}
		}
		ok, err := q.Jobs.Requeue(ctx, q.DB, j.ID)
		if err != nil {
			q.Log.Error().Err(err).Str("job_id", j.ID).Msg("print: requeue failed")
			continue
		}
		if ok {
			requeued++
			q.publishByID(ctx, j.ID)
		}
	}
	return requeued, nil
}

// AutoProcessQueue drains the queue and then optionally sweeps failed jobs
// back in. Intended to run on a fixed interval and whenever a printer
// heartbeat succeeds.
func (q *PrintJobQueue) AutoProcessQueue(ctx context.Context, maxJobs int, includeFailed bool) (ProcessReport, error) {
	report, err := q.ProcessQueue(ctx, maxJobs)
	if err != nil {
		return report, err
	}
	if includeFailed {
		if _, err := q.ProcessFailedJobs(ctx, q.MaxRetries, maxJobs); err != nil {
			return report, err
		}
	}
	return report, nil
}

// RetryJob is the explicit operator retry: the only path past the automatic
// ceiling. It re-queues a FAILED job regardless of attempt count.
func (q *PrintJobQueue) RetryJob(ctx context.Context, jobID string) error {
	job, err := q.Jobs.Get(ctx, q.DB, jobID)
	if err != nil {
		return ErrJobNotFound
	}
	if job.Status != domain.JobFailed {
		return ErrRetryNotAllowed
	}
	ok, err := q.Jobs.Requeue(ctx, q.DB, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRetryNotAllowed
	}
	q.publishByID(ctx, jobID)
	return nil
}

// GetJob returns one job by id.
func (q *PrintJobQueue) GetJob(ctx context.Context, jobID string) (*domain.PrintJob, error) {
	job, err := q.Jobs.Get(ctx, q.DB, jobID)
	if err != nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// SweepStuck forces PRINTING jobs older than maxAge into FAILED so a hung
// dispatch becomes retryable instead of stuck in flight forever.
func (q *PrintJobQueue) SweepStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := q.Jobs.SweepStuck(ctx, q.DB, q.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.Log.Warn().Int64("jobs", n).Msg("print: watchdog forced stuck jobs to FAILED")
	}
	return n, nil
}

// GetStats returns queue health for the operator indicator and refreshes the
// Prometheus gauges.
func (q *PrintJobQueue) GetStats(ctx context.Context) (QueueStats, error) {
	counts, err := q.Jobs.CountByStatus(ctx, q.DB)
	if err != nil {
		return QueueStats{}, err
	}
	exhausted, err := q.Jobs.CountExhausted(ctx, q.DB, q.MaxRetries)
	if err != nil {
		return QueueStats{}, err
	}
	for _, st := range []domain.JobStatus{domain.JobQueued, domain.JobPrinting, domain.JobSucceeded, domain.JobFailed} {
		queueDepth.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	stats := QueueStats{Counts: counts, Exhausted: exhausted}
	if q.Events != nil {
		q.Events.QueueHealth(counts, exhausted)
	}
	return stats, nil
}

// ListJobs returns a page of jobs, optionally filtered by status, plus the
// total for pagination.
func (q *PrintJobQueue) ListJobs(ctx context.Context, status *domain.JobStatus, page, pageSize int) ([]domain.PrintJob, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := q.Jobs.Count(ctx, q.DB, status)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PrintJob{}, 0, nil
	}
	jobs, err := q.Jobs.ListPage(ctx, q.DB, status, (page-1)*pageSize, pageSize)
	return jobs, total, err
}

// backoffDelay computes the retry delay for a job with the given attempt
// count: BaseDelay * 2^attempts, capped at MaxDelay.
func (q *PrintJobQueue) backoffDelay(attempts int) time.Duration {
	d := q.BaseDelay
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= q.MaxDelay {
			return q.MaxDelay
		}
	}
	if d > q.MaxDelay {
		return q.MaxDelay
	}
	return d
}

func (q *PrintJobQueue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

// fail records a delivery failure; the transition can only lose to a
// concurrent watchdog sweep, which reaches the same state.
func (q *PrintJobQueue) fail(ctx context.Context, jobID, reason string) {
	if ok, err := q.Jobs.Fail(ctx, q.DB, jobID, reason); err != nil || !ok {
		q.Log.Error().Err(err).Bool("won", ok).Str("job_id", jobID).Msg("print: failure transition lost")
		return
	}
	q.publishByID(ctx, jobID)
}

// publishByID re-reads the job so the event carries post-transition state.
func (q *PrintJobQueue) publishByID(ctx context.Context, jobID string) {
	if q.Events == nil {
		return
	}
	if job, err := q.Jobs.Get(ctx, q.DB, jobID); err == nil {
		q.Events.JobStatusChanged(job)
	}
}

func (q *PrintJobQueue) publish(job *domain.PrintJob) {
	if q.Events != nil {
		q.Events.JobStatusChanged(job)
	}
}
