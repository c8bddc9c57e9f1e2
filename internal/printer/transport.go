// Package printer contains the transport adapters that perform the actual
// I/O toward printing hardware. Nothing else in the system talks to a
// printer: the queue hands a job to a Transport and interprets the outcome;
// the Transport never mutates job state.
package printer

import (
	"context"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

// Outcome classifies a dispatch result.
type Outcome int

const (
	// Delivered: the channel accepted the job.
	Delivered Outcome = iota
	// Rejected: the channel answered and refused the job (bad payload,
	// printer error state). Retrying may still help once the cause clears.
	Rejected
	// Unreachable: the channel did not answer (network down, helper process
	// gone, timeout).
	Unreachable
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// Result is the uniform dispatch result. The queue treats Rejected and
// Unreachable identically (both become FAILED) but logs them distinctly.
type Result struct {
	Outcome Outcome
	// Reason carries the channel's refusal detail for Rejected, or the
	// transport error for Unreachable. Empty on Delivered.
	Reason string
}

// Transport is the delivery channel abstraction: a local print-service
// helper or a remote queue-processing worker. Implementations must honor
// ctx cancellation — the queue bounds every dispatch with a timeout.
type Transport interface {
	// Name identifies the transport in logs and diagnostics.
	Name() string

	// Dispatch delivers one job. The error return is reserved for misuse
	// (nil job); delivery failures are expressed through the Result.
	Dispatch(ctx context.Context, job *domain.PrintJob) (Result, error)

	// Reachable reports whether the channel currently answers a heartbeat.
	// Used to trigger queue draining when a printer comes back.
	Reachable(ctx context.Context) bool
}
