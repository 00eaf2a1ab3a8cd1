// Package server provides the HTTP server for the DevGrid control plane.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/config"
	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/etcd"
	"github.com/devgrid/devgrid/internal/repository/memory"
	"github.com/devgrid/devgrid/internal/repository/postgres"
	"github.com/devgrid/devgrid/internal/repository/redis"
	"github.com/devgrid/devgrid/internal/server/middleware"
	authservice "github.com/devgrid/devgrid/internal/services/auth"
	branchservice "github.com/devgrid/devgrid/internal/services/branch"
	identityservice "github.com/devgrid/devgrid/internal/services/identity"
	pipelineservice "github.com/devgrid/devgrid/internal/services/pipeline"
	prservice "github.com/devgrid/devgrid/internal/services/pullrequest"
	releaseservice "github.com/devgrid/devgrid/internal/services/release"
	workitemservice "github.com/devgrid/devgrid/internal/services/workitem"
)

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	// Infrastructure
	db    *postgres.DB
	cache *redis.Cache
	etcd  *etcd.Client

	// Repository interfaces (abstracted for swappable backends)
	userRepo     authservice.UserRepository
	auditRepo    authservice.AuditRepository
	workItemRepo workitemservice.Repository
	prRepo       prservice.Repository

	// Memory-only repositories (no PostgreSQL equivalent yet)
	groupRepo      *memory.GroupRepository
	branchRepo     *memory.BranchRepository
	pipelineRepo   *memory.PipelineRepository
	variableRepo   *memory.VariableRepository
	agentRepo      *memory.AgentRepository
	connectionRepo *memory.ConnectionRepository
	releaseRepo    *memory.ReleaseRepository

	// Services
	jwtManager        *authservice.JWTManager
	authService       *authservice.Service
	identityService   *identityservice.Service
	branchService     *branchservice.Service
	prService         *prservice.Service
	workItemService   *workitemservice.Service
	pipelineService   *pipelineservice.Service
	variableService   *pipelineservice.VariableService
	agentService      *pipelineservice.AgentService
	connectionService *pipelineservice.ConnectionService
	releaseService    *releaseservice.Service

	// Leader election (for HA)
	leader *etcd.Leader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL enables PostgreSQL as the data store.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis enables Redis caching, sessions and event publishing.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd enables etcd for distributed coordination.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// New creates a new server instance.
func New(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config: cfg,
		logger: logger,
		mux:    mux,
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	// Initialize repositories
	s.initRepositories()

	// Initialize services
	s.initServices()

	// Register routes
	s.registerRoutes()

	// Create HTTP server
	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// initRepositories initializes data repositories.
func (s *Server) initRepositories() {
	if s.db != nil {
		// Use PostgreSQL repositories
		s.logger.Info("Initializing PostgreSQL repositories")
		s.userRepo = postgres.NewUserRepository(s.db, s.logger)
		s.auditRepo = postgres.NewAuditRepository(s.db, s.logger)
		s.workItemRepo = postgres.NewWorkItemRepository(s.db, s.logger)
		s.prRepo = postgres.NewPullRequestRepository(s.db, s.logger)
	} else {
		// Use in-memory repositories (development mode)
		s.logger.Info("Initializing in-memory repositories")
		s.userRepo = memory.NewUserRepository()
		s.auditRepo = memory.NewAuditRepository()
		s.workItemRepo = memory.NewWorkItemRepository()
		s.prRepo = memory.NewPullRequestRepository()
	}

	// These remain in-memory for now (PostgreSQL implementations can be added later)
	s.groupRepo = memory.NewGroupRepository()
	s.branchRepo = memory.NewBranchRepository()
	s.pipelineRepo = memory.NewPipelineRepository()
	s.variableRepo = memory.NewVariableRepository()
	s.agentRepo = memory.NewAgentRepository()
	s.connectionRepo = memory.NewConnectionRepository()
	s.releaseRepo = memory.NewReleaseRepository()

	s.logger.Info("Repositories initialized",
		zap.Bool("postgres", s.db != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("etcd", s.etcd != nil),
	)
}

// initServices initializes business logic services.
func (s *Server) initServices() {
	s.logger.Info("Initializing services")

	s.jwtManager = authservice.NewJWTManager(s.config.Auth)

	var sessions authservice.SessionStore
	if s.cache != nil {
		sessions = s.cache
	} else {
		sessions = memory.NewSessionStore()
	}
	s.authService = authservice.NewService(s.userRepo, s.auditRepo, sessions, s.jwtManager, s.logger)

	// Seed a bootstrap admin in development mode so the API is usable
	// without migrations.
	if s.db == nil {
		if _, err := s.authService.CreateUser(context.Background(), "admin", "admin@devgrid.local", "admin", []domain.Role{domain.RoleAdmin}); err != nil {
			s.logger.Warn("Failed to seed admin user", zap.Error(err))
		}
	}

	s.identityService = identityservice.NewService(s.groupRepo, s.userRepo, s.logger)

	s.branchService = branchservice.NewService(s.branchRepo, s.identityService, s.config.Policy, s.logger)
	if s.cache != nil {
		s.branchService.WithCache(s.cache)
	}

	s.prService = prservice.NewService(s.prRepo, s.branchRepo, s.userRepo, s.config.Policy, s.logger).
		WithWorkItems(s.workItemRepo).
		WithAudit(s.auditRepo).
		WithPermissions(s.branchService)
	if s.cache != nil {
		s.prService.WithEvents(s.cache)
		s.prService.WithCache(s.cache)
	}
	if s.etcd != nil {
		s.prService.WithLocker(&etcdLocker{client: s.etcd})
	}

	s.workItemService = workitemservice.NewService(s.workItemRepo, s.logger)

	s.pipelineService = pipelineservice.NewService(s.pipelineRepo, s.config.Pipeline, s.logger)
	s.releaseService = releaseservice.NewService(s.releaseRepo, s.userRepo, s.logger).
		WithRunResumer(s.pipelineService)
	s.pipelineService.WithApprovals(s.releaseService)
	if s.cache != nil {
		s.pipelineService.WithEvents(s.cache)
		s.releaseService.WithEvents(s.cache)
	}

	s.variableService = pipelineservice.NewVariableService(s.variableRepo, s.logger)

	var registry pipelineservice.AgentRegistry
	if s.etcd != nil {
		registry = s.etcd
	}
	s.agentService = pipelineservice.NewAgentService(s.agentRepo, registry, s.logger)

	s.connectionService = pipelineservice.NewConnectionService(s.connectionRepo, s.logger)

	s.logger.Info("Services initialized",
		zap.Strings("protected_branches", s.config.Policy.ProtectedBranches),
		zap.Int("default_min_reviewers", s.config.Policy.DefaultMinReviewers),
	)
}

// etcdLocker adapts the etcd client to the pull request locker interface.
type etcdLocker struct {
	client *etcd.Client
}

func (l *etcdLocker) TryAcquireLock(ctx context.Context, key string, timeout time.Duration) (prservice.Unlocker, error) {
	lock, err := l.client.TryAcquireLock(ctx, key, timeout)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.HandleFunc("/live", s.liveHandler)

	// API info
	s.mux.HandleFunc("/api/v1/info", s.infoHandler)

	// REST API
	s.mux.Handle("/api/v1/auth/", NewAuthHandler(s))
	s.mux.Handle("/api/v1/users", NewUserHandler(s))
	s.mux.Handle("/api/v1/users/", NewUserHandler(s))
	s.mux.Handle("/api/v1/groups", NewGroupHandler(s))
	s.mux.Handle("/api/v1/groups/", NewGroupHandler(s))
	s.mux.Handle("/api/v1/branches", NewBranchHandler(s))
	s.mux.Handle("/api/v1/branches/", NewBranchHandler(s))
	s.mux.Handle("/api/v1/pullrequests", NewPullRequestHandler(s))
	s.mux.Handle("/api/v1/pullrequests/", NewPullRequestHandler(s))
	s.mux.Handle("/api/v1/workitems", NewWorkItemHandler(s))
	s.mux.Handle("/api/v1/workitems/", NewWorkItemHandler(s))
	s.mux.Handle("/api/v1/pipelines", NewPipelineHandler(s))
	s.mux.Handle("/api/v1/pipelines/", NewPipelineHandler(s))
	s.mux.Handle("/api/v1/runs/", NewPipelineHandler(s))
	s.mux.Handle("/api/v1/variables", NewVariableHandler(s))
	s.mux.Handle("/api/v1/variables/", NewVariableHandler(s))
	s.mux.Handle("/api/v1/variable-groups", NewVariableHandler(s))
	s.mux.Handle("/api/v1/variable-groups/", NewVariableHandler(s))
	s.mux.Handle("/api/v1/pools", NewAgentHandler(s))
	s.mux.Handle("/api/v1/pools/", NewAgentHandler(s))
	s.mux.Handle("/api/v1/agents/", NewAgentHandler(s))
	s.mux.Handle("/api/v1/connections", NewConnectionHandler(s))
	s.mux.Handle("/api/v1/connections/", NewConnectionHandler(s))
	s.mux.Handle("/api/v1/environments", NewReleaseHandler(s))
	s.mux.Handle("/api/v1/environments/", NewReleaseHandler(s))
	s.mux.Handle("/api/v1/approvals", NewReleaseHandler(s))
	s.mux.Handle("/api/v1/approvals/", NewReleaseHandler(s))
	s.mux.Handle("/api/v1/audit", NewAuditHandler(s))

	// Event stream (WebSocket)
	if s.cache != nil {
		s.mux.Handle("/api/v1/events", NewEventsHandler(s))
	}

	s.logger.Info("All routes registered")
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	// CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	// Apply middleware
	authn := middleware.NewAuthenticator(s.jwtManager, s.logger)
	handler = authn.Wrap(handler)
	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks
		if r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/live" {
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"devgrid-controlplane"}`)
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	// Check PostgreSQL
	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			ready = false
			details["postgres"] = "unhealthy"
		} else {
			details["postgres"] = "healthy"
		}
	}

	// Check Redis
	if s.cache != nil {
		if err := s.cache.Health(ctx); err != nil {
			ready = false
			details["redis"] = "unhealthy"
		} else {
			details["redis"] = "healthy"
		}
	}

	// Check etcd
	if s.etcd != nil {
		if err := s.etcd.Health(ctx); err != nil {
			ready = false
			details["etcd"] = "unhealthy"
		} else {
			details["etcd"] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"ready":true,"components":%s}`, toJSON(details))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"ready":false,"components":%s}`, toJSON(details))
	}
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"alive":true}`)
}

// infoHandler returns API information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"name": "DevGrid Control Plane",
		"version": "0.1.0",
		"api_version": "v1",
		"description": "DevOps Resource Registry and Approval Workflow",
		"services": ["Auth", "Identity", "Branches", "PullRequests", "WorkItems", "Pipelines", "Releases"],
		"infrastructure": {
			"postgres": %t,
			"redis": %t,
			"etcd": %t
		}
	}`, s.db != nil, s.cache != nil, s.etcd != nil)
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	// Scheduled work (cron triggers, stale agent sweeps) runs on one
	// instance only. Without etcd a single instance assumes leadership.
	var leading atomic.Bool
	leading.Store(s.etcd == nil)

	// Start leader election if etcd is available
	if s.etcd != nil {
		leader, err := s.etcd.CampaignForLeader(ctx, "controlplane", func(isLeader bool) {
			leading.Store(isLeader)
			if isLeader {
				s.logger.Info("This instance is now the leader")
			} else {
				s.logger.Info("This instance is now a follower")
			}
		})
		if err != nil {
			s.logger.Warn("Failed to start leader election", zap.Error(err))
		} else {
			s.leader = leader
		}
	}

	go s.runScheduledWork(ctx, &leading)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	return s.Shutdown()
}

// runScheduledWork evaluates cron triggers and sweeps stale agents on every
// tick while this instance holds leadership.
func (s *Server) runScheduledWork(ctx context.Context, leading *atomic.Bool) {
	tick := s.config.Pipeline.ScheduledTriggerTick
	if tick <= 0 {
		tick = time.Minute
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !leading.Load() {
				last = now
				continue
			}

			runs, err := s.pipelineService.EvaluateScheduledTriggers(ctx, last, now)
			if err != nil {
				s.logger.Warn("Scheduled trigger evaluation failed", zap.Error(err))
			} else if len(runs) > 0 {
				s.logger.Info("Scheduled runs started", zap.Int("count", len(runs)))
			}

			if _, err := s.agentService.SweepStale(ctx); err != nil {
				s.logger.Warn("Stale agent sweep failed", zap.Error(err))
			}

			last = now
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	// Resign from leadership
	if s.leader != nil {
		if err := s.leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}

	// Close HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	// Close infrastructure connections
	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

// toJSON converts a map to JSON string.
func toJSON(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	result := "{"
	first := true
	for k, v := range m {
		if !first {
			result += ","
		}
		result += fmt.Sprintf(`"%s":"%s"`, k, v)
		first = false
	}
	result += "}"
	return result
}
