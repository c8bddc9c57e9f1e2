// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - One terminal per process: every request is stamped with the terminal ID
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tbourn/go-pos-backend/internal/config"
	"github.com/tbourn/go-pos-backend/internal/domain"
	"github.com/tbourn/go-pos-backend/internal/http/handlers"
	"github.com/tbourn/go-pos-backend/internal/http/middleware"
	"github.com/tbourn/go-pos-backend/internal/repo"
	"github.com/tbourn/go-pos-backend/internal/services"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// sessionStoreShim adapts the repository free functions to the
// services.SessionStore interface expected by the OrderSessionController.
// This keeps services decoupled from the concrete repo package while reusing
// existing functions.
type sessionStoreShim struct{}

// SaveDraft proxies repo.SaveDraftSession.
func (sessionStoreShim) SaveDraft(ctx context.Context, db *gorm.DB, s *domain.DraftOrderSession) error {
	return repo.SaveDraftSession(ctx, db, s)
}

// GetDraft proxies repo.GetDraftSession.
func (sessionStoreShim) GetDraft(ctx context.Context, db *gorm.DB, terminalID string) (*domain.DraftOrderSession, error) {
	return repo.GetDraftSession(ctx, db, terminalID)
}

// DeleteDraft proxies repo.DeleteDraftSession.
func (sessionStoreShim) DeleteDraft(ctx context.Context, db *gorm.DB, terminalID string) error {
	return repo.DeleteDraftSession(ctx, db, terminalID)
}

// CleanExit proxies repo.GetCleanExit.
func (sessionStoreShim) CleanExit(ctx context.Context, db *gorm.DB, terminalID string) (bool, error) {
	return repo.GetCleanExit(ctx, db, terminalID)
}

// SetCleanExit proxies repo.SetCleanExit.
func (sessionStoreShim) SetCleanExit(ctx context.Context, db *gorm.DB, terminalID string, clean bool) error {
	return repo.SetCleanExit(ctx, db, terminalID, clean)
}

// printRepoShim adapts the repository free functions to the
// services.PrintJobRepo interface expected by the PrintJobQueue.
type printRepoShim struct{}

func (printRepoShim) Insert(ctx context.Context, db *gorm.DB, job *domain.PrintJob) (*domain.PrintJob, error) {
	return repo.InsertPrintJob(ctx, db, job)
}

func (printRepoShim) Get(ctx context.Context, db *gorm.DB, id string) (*domain.PrintJob, error) {
	return repo.GetPrintJob(ctx, db, id)
}

func (printRepoShim) ListQueued(ctx context.Context, db *gorm.DB, limit int) ([]domain.PrintJob, error) {
	return repo.ListQueued(ctx, db, limit)
}

func (printRepoShim) OrderHasEarlierPending(ctx context.Context, db *gorm.DB, orderID string, seq int) (bool, error) {
	return repo.OrderHasEarlierPending(ctx, db, orderID, seq)
}

func (printRepoShim) Claim(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	return repo.ClaimQueued(ctx, db, id)
}

func (printRepoShim) Succeed(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	return repo.MarkSucceeded(ctx, db, id)
}

func (printRepoShim) Fail(ctx context.Context, db *gorm.DB, id, lastErr string) (bool, error) {
	return repo.MarkFailed(ctx, db, id, lastErr)
}

func (printRepoShim) ListFailedRetryable(ctx context.Context, db *gorm.DB, maxRetries, limit int) ([]domain.PrintJob, error) {
	return repo.ListFailedRetryable(ctx, db, maxRetries, limit)
}

func (printRepoShim) Requeue(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	return repo.RequeueFailed(ctx, db, id)
}

func (printRepoShim) SweepStuck(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	return repo.SweepStuckPrinting(ctx, db, cutoff)
}

func (printRepoShim) CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.JobStatus]int64, error) {
	return repo.CountByStatus(ctx, db)
}

func (printRepoShim) CountExhausted(ctx context.Context, db *gorm.DB, maxRetries int) (int64, error) {
	return repo.CountExhausted(ctx, db, maxRetries)
}

func (printRepoShim) ListPage(ctx context.Context, db *gorm.DB, status *domain.JobStatus, offset, limit int) ([]domain.PrintJob, error) {
	return repo.ListJobsPage(ctx, db, status, offset, limit)
}

func (printRepoShim) Count(ctx context.Context, db *gorm.DB, status *domain.JobStatus) (int64, error) {
	return repo.CountJobs(ctx, db, status)
}

// App bundles the constructed services so the caller can drive their
// lifecycle (startup recovery, background queue drain, graceful shutdown)
// outside the request path.
type App struct {
	Session *services.OrderSessionController
	Tabs    *services.CustomerTabManager
	Queue   *services.PrintJobQueue
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, constructs the application services, and returns them for lifecycle
// management. tabs may be nil (no shared restaurant database configured); the
// tab endpoints are then not mounted. events may be nil to disable status
// publication.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. TerminalID: stamp the owning till
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Rate limiter (per terminal/IP)
//  9. CORS
// 10. gzip compression
func RegisterRoutes(r *gin.Engine, db *gorm.DB, tabs services.RestaurantStore, transports services.TransportResolver, events services.StatusPublisher, cfg config.Config) *App {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Terminal identity for logs and rate-limit buckets
	r.Use(middleware.TerminalID(cfg.TerminalID))

	// 4) Structured logging with redaction (guest contact details show up in
	// tab names and queries more often than anyone intends)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB; ticket payloads stay well under this)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per terminal/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByTerminalOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Compression (skip /metrics; Prometheus negotiates its own encoding)
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/stores
	sessionCtl := services.NewOrderSessionController(db, sessionStoreShim{}, cfg.TerminalID, log.With().Str("component", "session").Logger())
	sessionCtl.Debounce = cfg.SessionDebounce
	sessionCtl.TaxRate = cfg.TaxRate

	queue := services.NewPrintJobQueue(db, printRepoShim{}, transports, log.With().Str("component", "print").Logger())
	queue.MaxRetries = cfg.Print.MaxRetries
	queue.BaseDelay = cfg.Print.BaseDelay
	queue.MaxDelay = cfg.Print.MaxDelay
	queue.DispatchTimeout = cfg.Print.DispatchTimeout
	queue.Events = events

	var tabMgr *services.CustomerTabManager
	if tabs != nil {
		tabMgr = services.NewCustomerTabManager(tabs, log.With().Str("component", "tabs").Logger())
	}

	h := handlers.New(sessionCtl, tabMgr, tabMgr, queue)

	// Order session resilience
	session := r.Group("/session")
	{
		session.GET("/startup", h.StartupCheck)
		session.POST("/restore", h.RestoreSession)
		session.POST("/discard", h.DiscardSession)
		session.POST("/mutate", h.MutateSession)
		session.POST("/checkout", h.CheckoutComplete)
	}

	// Customer tabs, orders, and table links need the shared restaurant
	// database.
	if tabMgr != nil {
		orders := r.Group("/orders")
		{
			orders.POST("", h.OpenOrder)
			orders.GET("/active", h.ListActiveOrders)
			orders.POST("/:id/complete", h.CompleteOrder)
		}
		r.GET("/tables", h.ListTables)

		r.POST("/tables/:table/tabs", h.CreateTab)
		r.POST("/table-links", h.LinkTables)
		r.DELETE("/table-links/:group", h.UnlinkTables)

		tabsGrp := r.Group("/tabs")
		{
			tabsGrp.POST("/:id/items", h.AddItems)
			tabsGrp.POST("/:id/split", h.SplitTab)
			tabsGrp.POST("/:id/merge", h.MergeTabs)
			tabsGrp.POST("/:id/move", h.MoveItems)
			tabsGrp.POST("/:id/close", h.CloseTab)
		}
	}

	// Print job queue
	jobs := r.Group("/print-jobs")
	{
		jobs.POST("", h.EnqueueJob)
		jobs.GET("", h.ListJobs)
		jobs.GET("/:id", h.GetJob)
		jobs.POST("/process", h.ProcessQueue)
		jobs.POST("/:id/retry", h.RetryJob)
	}
	r.GET("/print-queue/stats", h.QueueStats)

	return &App{Session: sessionCtl, Tabs: tabMgr, Queue: queue}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
