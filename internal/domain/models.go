// Package domain defines the persistence models for the POS resilience
// subsystem. These types are mapped with GORM onto the terminal-local SQLite
// database and form the crash-recovery and print-delivery data layer.
package domain

import (
	"encoding/json"
	"time"
)

// OrderType classifies how an order will be fulfilled.
type OrderType string

const (
	OrderTypeDineIn     OrderType = "DINE_IN"
	OrderTypeCollection OrderType = "COLLECTION"
	OrderTypeDelivery   OrderType = "DELIVERY"
	OrderTypeWaiting    OrderType = "WAITING"
)

// Valid reports whether t is one of the known order types.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDineIn, OrderTypeCollection, OrderTypeDelivery, OrderTypeWaiting:
		return true
	}
	return false
}

// TemplateType selects which physical document a print job produces.
type TemplateType string

const (
	TemplateKitchen         TemplateType = "KITCHEN"
	TemplateCustomerReceipt TemplateType = "CUSTOMER_RECEIPT"
)

// JobStatus is the print-job state machine position.
//
// Transitions: QUEUED → PRINTING → SUCCEEDED, PRINTING → FAILED on nack or
// timeout, FAILED → QUEUED only through retry while the attempt ceiling has
// not been reached. SUCCEEDED is immutable.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobPrinting  JobStatus = "PRINTING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// TabStatus is the lifecycle state of a customer tab.
type TabStatus string

const (
	TabOpen   TabStatus = "OPEN"
	TabClosed TabStatus = "CLOSED"
)

// CustomerSnapshot is a denormalized contact/address copy attached to a draft
// session. It is display data for recovery; the customer record elsewhere
// remains the source of truth.
type CustomerSnapshot struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Address  string `json:"address,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

// DraftOrderSession is the unit of crash recovery: a full snapshot of the
// in-progress order, overwritten on every debounced persist. Exactly one row
// exists per terminal; a session with zero items is never persisted.
//
// Fields:
//   - ID: opaque session identifier, regenerated per session.
//   - TerminalID: owning terminal installation; unique (single row).
//   - OrderType: DINE_IN | COLLECTION | DELIVERY | WAITING.
//   - ItemsJSON: the ordered line items, serialized as JSON (snapshot column).
//   - TableNumber / GuestCount: present only for DINE_IN.
//   - CustomerJSON: serialized CustomerSnapshot.
//   - Subtotal / Tax / Total: recomputed display totals, not billing data.
type DraftOrderSession struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	TerminalID    string    `json:"terminal_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_draft_terminal"`
	OrderType     OrderType `json:"order_type"     gorm:"type:varchar(16);not null"`
	ItemsJSON     string    `json:"-"              gorm:"type:text;not null"`
	TableNumber   *int      `json:"table_number,omitempty"`
	GuestCount    *int      `json:"guest_count,omitempty"`
	CustomerJSON  string    `json:"-"              gorm:"type:text"`
	Subtotal      float64   `json:"subtotal"`
	Tax           float64   `json:"tax"`
	Total         float64   `json:"total"`
	CreatedAt     time.Time `json:"created_at"`
	LastMutatedAt time.Time `json:"last_mutated_at"`
}

// TableName returns the database table name for DraftOrderSession.
func (DraftOrderSession) TableName() string { return "draft_sessions" }

// Items decodes the serialized line items. A corrupt column yields an error;
// callers decide whether that degrades to "start fresh".
func (s *DraftOrderSession) Items() ([]OrderItem, error) {
	if s.ItemsJSON == "" {
		return nil, nil
	}
	var items []OrderItem
	if err := json.Unmarshal([]byte(s.ItemsJSON), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SetItems serializes items into the snapshot column.
func (s *DraftOrderSession) SetItems(items []OrderItem) error {
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	s.ItemsJSON = string(b)
	return nil
}

// Customer decodes the serialized customer snapshot, returning a zero value
// when none was captured.
func (s *DraftOrderSession) Customer() CustomerSnapshot {
	var c CustomerSnapshot
	if s.CustomerJSON != "" {
		_ = json.Unmarshal([]byte(s.CustomerJSON), &c)
	}
	return c
}

// SetCustomer serializes the customer snapshot.
func (s *DraftOrderSession) SetCustomer(c CustomerSnapshot) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.CustomerJSON = string(b)
	return nil
}

// TerminalState is the crash sentinel: a single synchronously written row per
// terminal whose CleanExit flag distinguishes a clean process exit from an
// abnormal termination. A false value observed at startup is the only trigger
// for offering session restoration.
type TerminalState struct {
	TerminalID string    `json:"terminal_id" gorm:"type:varchar(64);primaryKey"`
	CleanExit  bool      `json:"clean_exit"  gorm:"not null"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for TerminalState.
func (TerminalState) TableName() string { return "terminal_state" }

// PrintJob is one durable request to produce physical output. The payload is
// the fully resolved ticket content captured at enqueue time, so later
// template edits cannot alter history.
//
// Fields:
//   - Seq: monotonic per-order sequence assigned at enqueue; jobs for the
//     same order dispatch in Seq order.
//   - PrinterTarget: logical printer the job must reach; dispatch is
//     serialized per target to preserve output ordering on one device.
//   - DedupeKey: optional caller-supplied key making enqueue idempotent.
//   - AttemptCount: only ever increases.
//   - Reprint: set when the job is re-queued after a failure so the printed
//     header labels the output as a possible duplicate.
type PrintJob struct {
	ID            string       `json:"id"             gorm:"type:char(36);primaryKey"`
	OrderID       string       `json:"order_id"       gorm:"type:char(36);not null;index:idx_job_order,priority:1"`
	Seq           int          `json:"seq"            gorm:"not null;index:idx_job_order,priority:2"`
	Template      TemplateType `json:"template"       gorm:"type:varchar(24);not null"`
	PrinterTarget string       `json:"printer_target" gorm:"type:varchar(64);not null;index"`
	Payload       string       `json:"payload"        gorm:"type:text;not null"`
	DedupeKey     *string      `json:"dedupe_key,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_job_dedupe"`
	Status        JobStatus    `json:"status"         gorm:"type:varchar(12);not null;index"`
	AttemptCount  int          `json:"attempt_count"  gorm:"not null;default:0"`
	LastError     string       `json:"last_error,omitempty" gorm:"type:text"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty"`
	Reprint       bool         `json:"reprint"        gorm:"not null;default:false"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// TableName returns the database table name for PrintJob.
func (PrintJob) TableName() string { return "print_jobs" }

// Terminal reports whether the job can make no further automatic progress:
// either it succeeded, or it failed and has consumed all maxRetries attempts.
func (j *PrintJob) Terminal(maxRetries int) bool {
	if j.Status == JobSucceeded {
		return true
	}
	return j.Status == JobFailed && j.AttemptCount >= maxRetries
}
