package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-pos-backend/internal/config"
	"github.com/tbourn/go-pos-backend/internal/domain"
	"github.com/tbourn/go-pos-backend/internal/printer"
	"github.com/tbourn/go-pos-backend/internal/services"
)

// --- tiny fake transport to satisfy printer.Transport ---
type fakeTransport struct{ outcome printer.Outcome }

func (fakeTransport) Name() string { return "fake" }

func (f fakeTransport) Dispatch(_ context.Context, _ *domain.PrintJob) (printer.Result, error) {
	return printer.Result{Outcome: f.outcome}, nil
}

func (fakeTransport) Reachable(_ context.Context) bool { return true }

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// schema so handlers don't explode on list endpoints
	if err := db.AutoMigrate(&domain.DraftOrderSession{}, &domain.TerminalState{}, &domain.PrintJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		TerminalID:      "till-1",
		SessionDebounce: 50 * time.Millisecond,
		TaxRate:         0.20,
		RateRPS:         100,
		RateBurst:       50,
		CORS:            config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		OTEL:            config.OTELConfig{ServiceName: "test-svc"},
		Print: config.PrintConfig{
			MaxRetries:      3,
			BaseDelay:       5 * time.Second,
			MaxDelay:        60 * time.Second,
			DispatchTimeout: time.Second,
		},
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	db := newTestDB(t, "routerdb")

	app := RegisterRoutes(r, db, nil, services.StaticTransport(fakeTransport{}), nil, cfg)
	if app == nil || app.Session == nil || app.Queue == nil {
		t.Fatalf("expected constructed services, got %+v", app)
	}

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (DELETE /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /health expected 405, got %d", w.Code)
	}

	// RequestID header set by the pipeline
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	db := newTestDB(t, "routerdb_cors")

	RegisterRoutes(r, db, nil, services.StaticTransport(fakeTransport{}), nil, cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_TabRoutesRequireSharedStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	db := newTestDB(t, "routerdb_notabs")
	// nil TabStore: no shared restaurant database configured
	app := RegisterRoutes(r, db, nil, services.StaticTransport(fakeTransport{}), nil, testConfig())
	if app.Tabs != nil {
		t.Fatalf("expected no tab manager without a shared store")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tables/5/tabs", bytes.NewBufferString(`{"name":"Anna"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("POST /tables/5/tabs without store expected 404, got %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

// End-to-end over HTTP: enqueue a job, drain the queue against a transport
// that delivers, and read the job back as SUCCEEDED.
func TestPipeline_PrintJobLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	db := newTestDB(t, "routerdb_jobs")
	RegisterRoutes(r, db, nil, services.StaticTransport(fakeTransport{outcome: printer.Delivered}), nil, testConfig())

	// Enqueue
	body := `{"order_id":"order-9","template":"KITCHEN","printer_target":"kitchen-1","payload":"2x Margherita"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/print-jobs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /print-jobs = %d body=%s", w.Code, w.Body.String())
	}
	var job domain.PrintJob
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ID == "" || job.Status != domain.JobQueued {
		t.Fatalf("unexpected enqueued job: %+v", job)
	}

	// Drain
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/print-jobs/process", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /print-jobs/process = %d body=%s", w.Code, w.Body.String())
	}
	var report services.ProcessReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("expected 1 succeeded, got %+v", report)
	}

	// Read back
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/print-jobs/"+job.ID, nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /print-jobs/%s = %d", job.ID, w.Code)
	}
	var got domain.PrintJob
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if got.Status != domain.JobSucceeded {
		t.Fatalf("job status = %s; want %s", got.Status, domain.JobSucceeded)
	}

	// Stats reflect the terminal state
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/print-queue/stats", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /print-queue/stats = %d", w.Code)
	}
}

func Test_sessionStoreShim_Proxies(t *testing.T) {
	db := newTestDB(t, "routerdb_sessshim")
	shim := sessionStoreShim{}
	ctx := context.Background()

	// Sentinel: missing row reads as clean
	clean, err := shim.CleanExit(ctx, db, "till-1")
	if err != nil || !clean {
		t.Fatalf("CleanExit default = %v, %v; want true, nil", clean, err)
	}
	if err := shim.SetCleanExit(ctx, db, "till-1", false); err != nil {
		t.Fatalf("SetCleanExit: %v", err)
	}
	clean, err = shim.CleanExit(ctx, db, "till-1")
	if err != nil || clean {
		t.Fatalf("CleanExit after dirty = %v, %v; want false, nil", clean, err)
	}

	// Draft round-trip
	s := &domain.DraftOrderSession{
		ID:         "sess-1",
		TerminalID: "till-1",
		OrderType:  domain.OrderTypeCollection,
	}
	if err := s.SetItems([]domain.OrderItem{{MenuItemID: "cola", Name: "Cola", Quantity: 2, UnitPrice: 3}}); err != nil {
		t.Fatalf("SetItems: %v", err)
	}
	if err := shim.SaveDraft(ctx, db, s); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	got, err := shim.GetDraft(ctx, db, "till-1")
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if got.ID != "sess-1" || got.OrderType != domain.OrderTypeCollection {
		t.Fatalf("GetDraft mismatch: %+v", got)
	}
	if err := shim.DeleteDraft(ctx, db, "till-1"); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
}

func Test_printRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t, "routerdb_printshim")
	shim := printRepoShim{}
	ctx := context.Background()

	j1, err := shim.Insert(ctx, db, &domain.PrintJob{
		OrderID: "order-1", Template: domain.TemplateKitchen,
		PrinterTarget: "kitchen-1", Payload: "1x Soup",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	j2, err := shim.Insert(ctx, db, &domain.PrintJob{
		OrderID: "order-1", Template: domain.TemplateCustomerReceipt,
		PrinterTarget: "front-1", Payload: "receipt",
	})
	if err != nil {
		t.Fatalf("Insert second: %v", err)
	}
	if j2.Seq <= j1.Seq {
		t.Fatalf("per-order sequence not monotonic: %d then %d", j1.Seq, j2.Seq)
	}

	queued, err := shim.ListQueued(ctx, db, 10)
	if err != nil || len(queued) != 2 {
		t.Fatalf("ListQueued = %d, %v; want 2, nil", len(queued), err)
	}

	blocked, err := shim.OrderHasEarlierPending(ctx, db, "order-1", j2.Seq)
	if err != nil || !blocked {
		t.Fatalf("OrderHasEarlierPending(j2) = %v, %v; want true, nil", blocked, err)
	}

	won, err := shim.Claim(ctx, db, j1.ID)
	if err != nil || !won {
		t.Fatalf("Claim = %v, %v; want true, nil", won, err)
	}
	won, err = shim.Succeed(ctx, db, j1.ID)
	if err != nil || !won {
		t.Fatalf("Succeed = %v, %v; want true, nil", won, err)
	}

	won, err = shim.Claim(ctx, db, j2.ID)
	if err != nil || !won {
		t.Fatalf("Claim j2 = %v, %v", won, err)
	}
	won, err = shim.Fail(ctx, db, j2.ID, "unreachable: down")
	if err != nil || !won {
		t.Fatalf("Fail j2 = %v, %v", won, err)
	}

	retryable, err := shim.ListFailedRetryable(ctx, db, 3, 10)
	if err != nil || len(retryable) != 1 {
		t.Fatalf("ListFailedRetryable = %d, %v; want 1, nil", len(retryable), err)
	}
	won, err = shim.Requeue(ctx, db, j2.ID)
	if err != nil || !won {
		t.Fatalf("Requeue = %v, %v", won, err)
	}

	counts, err := shim.CountByStatus(ctx, db)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[domain.JobSucceeded] != 1 || counts[domain.JobQueued] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	if _, err := shim.CountExhausted(ctx, db, 3); err != nil {
		t.Fatalf("CountExhausted: %v", err)
	}
	if n, err := shim.SweepStuck(ctx, db, time.Now().Add(-time.Minute)); err != nil || n != 0 {
		t.Fatalf("SweepStuck = %d, %v; want 0, nil", n, err)
	}

	page, err := shim.ListPage(ctx, db, nil, 0, 10)
	if err != nil || len(page) != 2 {
		t.Fatalf("ListPage = %d, %v; want 2, nil", len(page), err)
	}
	total, err := shim.Count(ctx, db, nil)
	if err != nil || total != 2 {
		t.Fatalf("Count = %d, %v; want 2, nil", total, err)
	}

	got, err := shim.Get(ctx, db, j1.ID)
	if err != nil || got.Status != domain.JobSucceeded {
		t.Fatalf("Get = %+v, %v", got, err)
	}
}
