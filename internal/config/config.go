// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes terminal identity,
// local and remote database settings, print-queue tuning, transports, rate
// limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-pos-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// PrintConfig defines print-queue tuning.
type PrintConfig struct {
	MaxRetries      int           // PRINT_MAX_RETRIES: automatic attempt ceiling per job
	BaseDelay       time.Duration // PRINT_BASE_DELAY: backoff seed
	MaxDelay        time.Duration // PRINT_MAX_DELAY: backoff cap
	DispatchTimeout time.Duration // PRINT_DISPATCH_TIMEOUT: per-dispatch deadline
	SweepAge        time.Duration // PRINT_SWEEP_AGE: watchdog age for stuck PRINTING jobs
	ProcessInterval time.Duration // PRINT_PROCESS_INTERVAL: background drain cadence
	Mode            string        // PRINT_MODE: http|amqp
	HTTPBaseURL     string        // PRINT_HTTP_URL: local print-service helper
	AMQPURL         string        // PRINT_AMQP_URL: remote print-worker broker
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Terminal identity
	TerminalID string // TERMINAL_ID: scopes all local state

	// Storage
	DBPath string // TERMINAL_DB_PATH: terminal-local SQLite file
	PGDSN  string // PG_DSN: shared restaurant database; empty disables remote features

	// Session resilience
	SessionDebounce time.Duration // SESSION_DEBOUNCE: snapshot coalescing window
	TaxRate         float64       // TAX_RATE: display-total recomputation

	// Print queue
	Print PrintConfig

	// Events
	NATSURL string // NATS_URL: status broker; empty disables publication

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Terminal identity
		TerminalID: getenv("TERMINAL_ID", "till-1"),

		// Storage
		DBPath: getenv("TERMINAL_DB_PATH", "terminal.db"),
		PGDSN:  getenv("PG_DSN", ""),

		// Session resilience
		SessionDebounce: getdur("SESSION_DEBOUNCE", 2*time.Second),
		TaxRate:         getfloat("TAX_RATE", 0.20),

		// Print queue
		Print: PrintConfig{
			MaxRetries:      getint("PRINT_MAX_RETRIES", 3),
			BaseDelay:       getdur("PRINT_BASE_DELAY", 5*time.Second),
			MaxDelay:        getdur("PRINT_MAX_DELAY", 60*time.Second),
			DispatchTimeout: getdur("PRINT_DISPATCH_TIMEOUT", 5*time.Second),
			SweepAge:        getdur("PRINT_SWEEP_AGE", 2*time.Minute),
			ProcessInterval: getdur("PRINT_PROCESS_INTERVAL", 10*time.Second),
			Mode:            strings.ToLower(getenv("PRINT_MODE", "http")),
			HTTPBaseURL:     getenv("PRINT_HTTP_URL", "http://127.0.0.1:9100"),
			AMQPURL:         getenv("PRINT_AMQP_URL", ""),
		},

		// Events
		NATSURL: getenv("NATS_URL", ""),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 25.0),
		RateBurst: getint("RATE_BURST", 50),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-pos-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.TerminalID) == "" {
		return cfg, errors.New("TERMINAL_ID must not be empty")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("TERMINAL_DB_PATH must not be empty")
	}
	if cfg.SessionDebounce <= 0 {
		return cfg, errors.New("SESSION_DEBOUNCE must be > 0")
	}
	if cfg.TaxRate < 0 || cfg.TaxRate > 1 {
		return cfg, errors.New("TAX_RATE must be between 0 and 1")
	}
	if cfg.Print.MaxRetries < 1 {
		return cfg, errors.New("PRINT_MAX_RETRIES must be >= 1")
	}
	if cfg.Print.BaseDelay <= 0 || cfg.Print.MaxDelay <= 0 || cfg.Print.DispatchTimeout <= 0 {
		return cfg, errors.New("print delays must be positive durations")
	}
	if cfg.Print.MaxDelay < cfg.Print.BaseDelay {
		return cfg, errors.New("PRINT_MAX_DELAY must be >= PRINT_BASE_DELAY")
	}
	if cfg.Print.SweepAge <= 0 || cfg.Print.ProcessInterval <= 0 {
		return cfg, errors.New("PRINT_SWEEP_AGE and PRINT_PROCESS_INTERVAL must be > 0")
	}
	switch cfg.Print.Mode {
	case "http", "amqp":
	default:
		return cfg, errors.New("PRINT_MODE must be http or amqp")
	}
	if cfg.Print.Mode == "amqp" && strings.TrimSpace(cfg.Print.AMQPURL) == "" {
		return cfg, errors.New("PRINT_AMQP_URL must be set when PRINT_MODE=amqp")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
