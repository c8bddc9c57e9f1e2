// Local print-service transport.
//
// Delivery channel for the common deployment: a helper process on the same
// host (or LAN) exposing a small HTTP API in front of the physical printer.
// A 2xx answer is an ack; any other answer is a rejection; a transport error
// or timeout means the helper is unreachable.
package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

// HTTPTransport delivers jobs to a local print-service helper over HTTP.
type HTTPTransport struct {
	// BaseURL is the helper's root, e.g. "http://127.0.0.1:9100".
	BaseURL string
	// Client is the HTTP client; a default with a short timeout is used
	// when nil. Per-dispatch deadlines still come from ctx.
	Client *http.Client
}

// NewHTTPTransport constructs a transport against the helper at baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Transport.
func (t *HTTPTransport) Name() string { return "local-http" }

// printRequest is the wire payload for the helper's /print endpoint.
type printRequest struct {
	JobID    string `json:"job_id"`
	Target   string `json:"target"`
	Template string `json:"template"`
	Payload  string `json:"payload"`
	Reprint  bool   `json:"reprint"`
}

// Dispatch implements Transport.
func (t *HTTPTransport) Dispatch(ctx context.Context, job *domain.PrintJob) (Result, error) {
	if job == nil {
		return Result{}, fmt.Errorf("printer: nil job")
	}

	body, err := json.Marshal(printRequest{
		JobID:    job.ID,
		Target:   job.PrinterTarget,
		Template: string(job.Template),
		Payload:  job.Payload,
		Reprint:  job.Reprint,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/print", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client().Do(req)
	if err != nil {
		return Result{Outcome: Unreachable, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Outcome: Delivered}, nil
	}

	// Keep the helper's refusal detail, capped; thermal printers produce
	// terse errors ("out of paper", "cover open") worth surfacing.
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return Result{
		Outcome: Rejected,
		Reason:  fmt.Sprintf("status %d: %s", resp.StatusCode, string(detail)),
	}, nil
}

// Reachable implements Transport with a GET /health heartbeat.
func (t *HTTPTransport) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := t.client().Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}
