// Package events publishes print-job status transitions and queue-health
// snapshots over NATS so the UI (and any dashboard) can observe delivery
// progress without polling the terminal. Publication is strictly
// best-effort: the queue must keep draining when the broker is down, so
// every failure here is logged and swallowed.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

const (
	// SubjectJobStatus carries one message per job state transition, with
	// the new status as the subject suffix (e.g. pos.print.job.FAILED).
	SubjectJobStatus = "pos.print.job."
	// SubjectQueueHealth carries periodic queue-health snapshots.
	SubjectQueueHealth = "pos.print.queue.health"
)

// JobStatusEvent is the wire shape for a job transition.
type JobStatusEvent struct {
	TerminalID   string           `json:"terminal_id"`
	JobID        string           `json:"job_id"`
	OrderID      string           `json:"order_id"`
	Template     string           `json:"template"`
	Status       domain.JobStatus `json:"status"`
	AttemptCount int              `json:"attempt_count"`
	LastError    string           `json:"last_error,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// QueueHealthEvent is the wire shape for a queue snapshot.
type QueueHealthEvent struct {
	TerminalID string                      `json:"terminal_id"`
	Counts     map[domain.JobStatus]int64  `json:"counts"`
	Exhausted  int64                       `json:"exhausted"`
	OccurredAt time.Time                   `json:"occurred_at"`
}

// NATSPublisher publishes queue events for one terminal.
type NATSPublisher struct {
	conn       *nats.Conn
	terminalID string
	log        zerolog.Logger
}

// NewNATSPublisher connects to the broker. The connection reconnects
// automatically; publishes while disconnected are buffered by the client up
// to its pending limit and dropped beyond it, which is acceptable for
// advisory status traffic.
func NewNATSPublisher(url, terminalID string, log zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, terminalID: terminalID, log: log}, nil
}

// JobStatusChanged publishes one transition. Nil-safe: a nil publisher is a
// no-op so the queue can run without a broker configured.
func (p *NATSPublisher) JobStatusChanged(job *domain.PrintJob) {
	if p == nil || job == nil {
		return
	}
	evt := JobStatusEvent{
		TerminalID:   p.terminalID,
		JobID:        job.ID,
		OrderID:      job.OrderID,
		Template:     string(job.Template),
		Status:       job.Status,
		AttemptCount: job.AttemptCount,
		LastError:    job.LastError,
		OccurredAt:   time.Now().UTC(),
	}
	p.publish(SubjectJobStatus+string(job.Status), evt)
}

// QueueHealth publishes a queue snapshot.
func (p *NATSPublisher) QueueHealth(counts map[domain.JobStatus]int64, exhausted int64) {
	if p == nil {
		return
	}
	evt := QueueHealthEvent{
		TerminalID: p.terminalID,
		Counts:     counts,
		Exhausted:  exhausted,
		OccurredAt: time.Now().UTC(),
	}
	p.publish(SubjectQueueHealth, evt)
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

func (p *NATSPublisher) publish(subject string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		p.log.Error().Err(err).Str("subject", subject).Msg("events: encode failed")
		return
	}
	if err := p.conn.Publish(subject, b); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("events: publish failed")
	}
}
