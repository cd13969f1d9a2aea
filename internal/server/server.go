// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/chronofi/chronolend/internal/chronotype"
	"github.com/chronofi/chronolend/internal/collateral"
	"github.com/chronofi/chronolend/internal/config"
	"github.com/chronofi/chronolend/internal/fixedpoint"
	"github.com/chronofi/chronolend/internal/health"
	"github.com/chronofi/chronolend/internal/idgen"
	"github.com/chronofi/chronolend/internal/ledger"
	"github.com/chronofi/chronolend/internal/logging"
	"github.com/chronofi/chronolend/internal/metrics"
	"github.com/chronofi/chronolend/internal/penalty"
	"github.com/chronofi/chronolend/internal/profile"
	"github.com/chronofi/chronolend/internal/ratelimit"
	"github.com/chronofi/chronolend/internal/rates"
	"github.com/chronofi/chronolend/internal/realtime"
	"github.com/chronofi/chronolend/internal/security"
	"github.com/chronofi/chronolend/internal/tokens"
	"github.com/chronofi/chronolend/internal/traces"
	"github.com/chronofi/chronolend/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	registry       *tokens.Registry
	predictor      chronotype.Predictor
	profiles       *profile.Service
	loans          *ledger.Service
	loanTimer      *ledger.Timer
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	healthChecks   *health.Registry
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	shutdownTraces func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPredictor sets a custom chronotype predictor (for testing)
func WithPredictor(p chronotype.Predictor) Option {
	return func(s *Server) {
		s.predictor = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		registry:     tokens.DefaultRegistry(),
		healthChecks: health.NewRegistry(),
	}

	// Apply options first (may set predictor/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Chronotype classifier client (optional; neutral fallback without it)
	if s.predictor == nil && cfg.PredictorURL != "" {
		client := chronotype.NewHTTPPredictor(cfg.PredictorURL, cfg.PredictorTimeout)
		s.predictor = chronotype.NewResilientPredictor(client, s.logger).
			WithPolicy(cfg.PredictorMaxAttempts, 0, cfg.PredictorTimeout)
		s.logger.Info("chronotype classifier enabled", "url", cfg.PredictorURL)
	} else if s.predictor == nil {
		s.logger.Info("chronotype classifier not configured, using neutral fallback")
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		profileStore profile.Store
		loanStore    ledger.Store
		eventStore   ledger.EventStore
		vault        ledger.Vault
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgProfiles := profile.NewPostgresStore(db)
		if err := pgProfiles.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate profile store", "error", err)
		}
		profileStore = pgProfiles

		pgLoans := ledger.NewPostgresStore(db)
		if err := pgLoans.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate loan store", "error", err)
		}
		loanStore = pgLoans

		pgEvents := ledger.NewPostgresEventStore(db)
		if err := pgEvents.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate event store", "error", err)
		}
		eventStore = pgEvents

		pgVault := ledger.NewPostgresVault(db)
		if err := pgVault.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate vault store", "error", err)
		}
		vault = pgVault

		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			st := health.Status{Name: "database", Healthy: true}
			if err := db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	} else {
		profileStore = profile.NewMemoryStore()
		loanStore = ledger.NewMemoryStore()
		eventStore = ledger.NewMemoryEventStore()
		vault = ledger.NewMemoryVault()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Behavioral profile service
	s.profiles = profile.NewService(profileStore, s.predictor, cfg.MinSessionsForML, cfg.MLUpdateFrequency, s.logger)

	// Loan ledger service
	penalties, err := penalty.NewSchedule(cfg.GraceDays, cfg.MinorDays, cfg.MajorDays)
	if err != nil {
		return nil, fmt.Errorf("invalid penalty schedule: %w", err)
	}
	collateralEngine := collateral.NewEngine(s.registry, cfg.MinCollateralPctBps, cfg.MaxCollateralPctBps, cfg.MinSessionsForML)
	rateEngine := rates.NewEngine(s.registry, cfg.MinSessionsForML)
	s.loans = ledger.NewService(
		loanStore,
		eventStore,
		vault,
		s.profiles,
		collateralEngine,
		rateEngine,
		penalties,
		s.registry,
		cfg.LoanTermDays,
		s.logger,
	)
	s.logger.Info("loan ledger enabled",
		"loanTermDays", cfg.LoanTermDays,
		"collateralBandBps", fmt.Sprintf("[%d,%d]", cfg.MinCollateralPctBps, cfg.MaxCollateralPctBps),
	)

	// Realtime hub for WebSocket streaming of loan events
	s.realtimeHub = realtime.NewHub(s.logger)
	s.loans.WithBroadcaster(&hubBroadcaster{s.realtimeHub})
	s.logger.Info("realtime streaming enabled")

	// Background forfeiture sweep
	s.loanTimer = ledger.NewTimer(s.loans, cfg.ForfeitSweepInterval, s.logger)

	// Configure gin
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// hubBroadcaster adapts the realtime hub to the ledger's broadcaster
// contract.
type hubBroadcaster struct {
	hub *realtime.Hub
}

func (b *hubBroadcaster) BroadcastLoanEvent(kind string, data map[string]interface{}) {
	b.hub.BroadcastLoanEvent(realtime.EventType(kind), data)
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time loan event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	v1.GET("/platform", s.platformHandler)
	v1.GET("/tokens", s.tokensHandler)

	// Loan lifecycle and borrower insight routes
	loanHandler := ledger.NewHandler(s.loans)
	loanHandler.RegisterRoutes(v1)

	profileHandler := profile.NewHandler(s.profiles)
	profileHandler.RegisterRoutes(v1)

	// Admin routes (forfeiture, deposits, chronotype override)
	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())
	loanHandler.RegisterAdminRoutes(admin)
	profileHandler.RegisterAdminRoutes(admin)
}

// adminAuthMiddleware guards admin routes with a shared secret header.
// Without a configured secret, admin routes stay open in development and
// are disabled everywhere else.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin routes require ADMIN_SECRET to be configured",
			})
			return
		}
		if c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthChecks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Chronolend",
		"description": "Collateralized lending priced by behavioral rhythm",
		"version":     "0.1.0",
	})
}

// platformHandler returns protocol parameters
func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"platform": gin.H{
			"name":                "Chronolend",
			"version":             "0.1.0",
			"loanTermDays":        s.cfg.LoanTermDays,
			"minCollateralPctBps": s.cfg.MinCollateralPctBps,
			"maxCollateralPctBps": s.cfg.MaxCollateralPctBps,
			"minSessionsForML":    s.cfg.MinSessionsForML,
		},
		"instructions": gin.H{
			"terms":  "GET /v1/borrowers/{address}/terms?token=ETH&amount=0.20 previews collateral and rate",
			"borrow": "POST /v1/loans with borrower, token, amount, and collateral",
			"repay":  "POST /v1/loans/{id}/repay before the deadline to avoid penalties",
		},
	})
}

// tokensHandler lists the borrowable asset classes
func (s *Server) tokensHandler(c *gin.Context) {
	out := make([]gin.H, 0, len(tokens.All))
	for _, t := range tokens.All {
		class, err := s.registry.Get(t)
		if err != nil {
			continue
		}
		out = append(out, gin.H{
			"symbol":           t.String(),
			"baseValue":        fixedpoint.Format(class.BaseValue),
			"baseRateBps":      class.BaseRateBps,
			"collateralPctBps": class.RiskMultiplierBps,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start forfeiture sweep timer
	go s.loanTimer.Start(runCtx)

	// Periodic DB pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop forfeiture timer
	if s.loanTimer != nil {
		s.loanTimer.Stop()
		s.logger.Info("forfeiture timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
