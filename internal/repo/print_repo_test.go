package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-pos-backend/internal/domain"
)

func newJob(orderID string, tpl domain.TemplateType) *domain.PrintJob {
	return &domain.PrintJob{
		OrderID:       orderID,
		Template:      tpl,
		PrinterTarget: "kitchen-1",
		Payload:       "== TICKET ==",
	}
}

func TestInsertPrintJob_AssignsPerOrderSequence(t *testing.T) {
	db := newTestDB(t, &domain.PrintJob{})
	ctx := context.Background()

	j1, err := InsertPrintJob(ctx, db, newJob("o1", domain.TemplateKitchen))
	if err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	j2, err := InsertPrintJob(ctx, db, newJob("o1", domain.TemplateCustomerReceipt))
	if err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	other, err := InsertPrintJob(ctx, db, newJob("o2", domain.TemplateKitchen))
	if err != nil {
		t.Fatalf("insert other order: %v", err)
	}

	if j1.Seq != 1 || j2.Seq != 2 {
		t.Fatalf("per-order sequence wrong: %d then %d", j1.Seq, j2.Seq)
	}
	if other.Seq != 1 {
		t.Fatalf("sequence must restart per order, got %d", other.Seq)
	}
	if j1.Status != domain.JobQueued || j1.AttemptCount != 0 {
		t.Fatalf("new job must be QUEUED with zero attempts: %+v", j1)
	}
}

func TestInsertPrintJob_DedupeKeyReturnsExisting(t *testing.T) {
	db := newTestDB(t, &domain.PrintJob{})
	ctx := context.Background()

	key := "checkout-abc-kitchen"
	a := newJob("o1", domain.TemplateKitchen)
	a.DedupeKey = &key
	first, err := InsertPrintJob(ctx, db, a)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	b := newJob("o1", domain.TemplateKitchen)
	b.DedupeKey = &key
	second, err := InsertPrintJob(ctx, db, b)
	if err != nil {
		t.Fatalf("idempotent insert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing job back, got %s vs %s", second.ID, first.ID)
	}

	n, err := CountJobs(ctx, db, nil)
	if err != nil || n != 1 {
		t.Fatalf("expected single job, got n=%d err=%v", n, err)
	}
}

func TestClaimQueued_GuardsStatus(t *testing.T) {
	db := newTestDB(t, &domain.PrintJob{})
	ctx := context.Background()

	j, err := InsertPrintJob(ctx, db, newJob("o1", domain.TemplateKitchen))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err := ClaimQueued(ctx, db, j.ID)
	if err != nil || !ok {
		t.Fatalf("first claim should win: ok=%v err=%v", ok, err)
	}
	ok, err = ClaimQueued(ctx, db, j.ID)
	if err != nil || ok {
		t.Fatalf("second claim must lose: ok=%v err=%v", ok, err)
	}

	got, err := GetPrintJob(ctx, db, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobPrinting || got.AttemptCount != 1 || got.LastAttemptAt == nil {
		t.Fatalf("claim did not record attempt: %+v", got)
	}
}

func TestStateMachine_FailRequeueSucceed(t *testing.T) {
	db := newTestDB(t, &domain.PrintJob{})
	ctx := context.Background()

	j, _ := InsertPrintJob(ctx, db, newJob("o1", domain.TemplateKitchen))

	// SUCCEEDED only from PRINTING.
	if ok, _ := MarkSucceeded(ctx, db, j.ID); ok {
		t.Fatalf("QUEUED job must not jump to SUCCEEDED")
	}

	if ok, _ := ClaimQueued(ctx, db, j.ID); !ok {
		t.Fatalf("claim failed")
	}
	if ok, _ := MarkFailed(ctx, db, j.ID, "printer unreachable"); !ok {
		t.Fatalf("fail transition lost")
	}

	got, _ := GetPrintJob(ctx, db, j.ID)
	if got.Status != domain.JobFailed || got.LastError != "printer unreachable" {
		t.Fatalf("failure not recorded: %+v", got)
	}

	// FAILED → QUEUED via retry flags reprint.
	if ok, _ := RequeueFailed(ctx, db, j.ID); !ok {
		t.Fatalf("requeue lost")
	}
	got, _ = GetPrintJob(ctx, db, j.ID)
	if got.Status != domain.JobQueued || !got.Reprint {
		t.Fatalf("requeue did not flag reprint: %+v", got)
	}

	// Second attempt succeeds; job becomes immutable.
	if ok, _ := ClaimQueued(ctx, db, j.ID); !ok {
		t.Fatalf("reclaim failed")
	}
	if ok, _ := MarkSucceeded(ctx, db, j.ID); !ok {
		t.Fatalf("succeed transition lost")
	}
	if ok, _ := RequeueFailed(ctx, db, j.ID); ok {
		t.Fatalf("SUCCEEDED job must not be requeued")
	}
	got, _ = GetPrintJob(ctx, db, j.ID)
	if got.AttemptCount != 2 || got.CompletedAt == nil {
		t.Fatalf("attempt accounting wrong: %+v", got)
	}
}

func TestOrderHasEarlierPending(t *testing.T) {
	db := newTestDB(t, &domain.PrintJob{})
	ctx := context.Background()

	kitchen, _ := InsertPrintJob(ctx, db, newJob("o1", domain.TemplateKitchen))
	receipt, _ := InsertPrintJob(ctx, db, newJob("o1", domain.TemplateCustomerReceipt))

	blocked, err := OrderHasEarlierPending(ctx, db, receipt.OrderID, receipt.Seq)
	if err != nil || !blocked {
		t.Fatalf("receipt must wait for kitchen ticket: blocked=%v err=%v", blocked, err)
	}

	ClaimQueued(ctx, db, kitchen.ID)
	MarkSucceeded(ctx, db, kitchen.ID)

	blocked, err = OrderHasEarlierPending(ctx, db, receipt.OrderID, receipt.Seq)
	if err != nil || blocked {
		t.Fatalf("receipt must be dispatchable once kitchen succeeded: blocked=%v err=%v", blocked, err)
	}
}

func TestSweepStuckPrinting(t *testing.T) {
	db := newTestDB(t, &domain.PrintJob{})
	ctx := context.Background()

	j, _ := InsertPrintJob(ctx, db, newJob("o1", domain.TemplateKitchen))
	ClaimQueued(ctx, db, j.ID)

	// Cutoff in the past: nothing stuck yet.
	n, err := SweepStuckPrinting(ctx, db, time.Now().UTC().Add(-time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("fresh PRINTING job must not be swept: n=%d err=%v", n, err)
	}

	// Cutoff in the future: the in-flight job is overdue.
	n, err = SweepStuckPrinting(ctx, db, time.Now().UTC().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 swept job, got n=%d err=%v", n, err)
	}
	got, _ := GetPrintJob(ctx, db, j.ID)
	if got.Status != domain.JobFailed {
		t.Fatalf("swept job must be FAILED: %+v", got)
	}
}

func TestCountByStatusAndExhausted(t *testing.T) {
	db := newTestDB(t, &domain.PrintJob{})
	ctx := context.Background()

	a, _ := InsertPrintJob(ctx, db, newJob("o1", domain.TemplateKitchen))
	InsertPrintJob(ctx, db, newJob("o2", domain.TemplateKitchen))

	// Fail o1's job three times.
	for i := 0; i < 3; i++ {
		ClaimQueued(ctx, db, a.ID)
		MarkFailed(ctx, db, a.ID, "nack")
		if i < 2 {
			RequeueFailed(ctx, db, a.ID)
		}
	}

	counts, err := CountByStatus(ctx, db)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[domain.JobQueued] != 1 || counts[domain.JobFailed] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	exhausted, err := CountExhausted(ctx, db, 3)
	if err != nil || exhausted != 1 {
		t.Fatalf("expected 1 exhausted job, got n=%d err=%v", exhausted, err)
	}

	retryable, err := ListFailedRetryable(ctx, db, 3, 10)
	if err != nil || len(retryable) != 0 {
		t.Fatalf("job at ceiling must not be auto-retryable: %v err=%v", retryable, err)
	}
}

func TestListJobsPage_StatusFilter(t *testing.T) {
	db := newTestDB(t, &domain.PrintJob{})
	ctx := context.Background()

	InsertPrintJob(ctx, db, newJob("o1", domain.TemplateKitchen))
	j, _ := InsertPrintJob(ctx, db, newJob("o2", domain.TemplateKitchen))
	ClaimQueued(ctx, db, j.ID)
	MarkSucceeded(ctx, db, j.ID)

	status := domain.JobSucceeded
	jobs, err := ListJobsPage(ctx, db, &status, 0, 10)
	if err != nil {
		t.Fatalf("ListJobsPage: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != j.ID {
		t.Fatalf("filter mismatch: %+v", jobs)
	}

	all, err := ListJobsPage(ctx, db, nil, 0, 10)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 jobs unfiltered, got %d err=%v", len(all), err)
	}
}
