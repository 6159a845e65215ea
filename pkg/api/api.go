package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethpandaops/jenkdash/pkg/api/docs"
	"github.com/ethpandaops/jenkdash/pkg/auth"
	"github.com/ethpandaops/jenkdash/pkg/config"
	"github.com/ethpandaops/jenkdash/pkg/jenkins"
	"github.com/ethpandaops/jenkdash/pkg/metrics"
	"github.com/ethpandaops/jenkdash/pkg/store"
	"github.com/ethpandaops/jenkdash/pkg/watcher"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP API server.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	Handler() http.Handler
	BroadcastJobChanges(changes []watcher.JobChange)
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version" example:"v0.1.0"`
	GitCommit string `json:"git_commit" example:"abc1234"`
	BuildDate string `json:"build_date" example:"2024-01-15T10:30:00Z"`
}

// Deps are the collaborators the server calls into. Watcher and Metrics are
// optional.
type Deps struct {
	Store    store.Store
	Auth     auth.Service
	Jenkins  jenkins.Client
	Watcher  watcher.Watcher
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Build    BuildInfo
}

type server struct {
	log     logrus.FieldLogger
	cfg     *config.Config
	store   store.Store
	auth    auth.Service
	jenkins jenkins.Client
	watcher watcher.Watcher
	metrics *metrics.Metrics
	gather  prometheus.Gatherer
	build   BuildInfo
	hub     *Hub
	srv     *http.Server
	router  chi.Router

	authRateLimiter          *IPRateLimiter
	publicRateLimiter        *IPRateLimiter
	authenticatedRateLimiter *IPRateLimiter

	ctx    context.Context
	cancel context.CancelFunc
}

// Ensure server implements Server.
var _ Server = (*server)(nil)

// NewServer creates a new API server. The websocket hub and rate limiter
// sweepers run until Stop.
func NewServer(log logrus.FieldLogger, cfg *config.Config, deps Deps) Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		store:   deps.Store,
		auth:    deps.Auth,
		jenkins: deps.Jenkins,
		watcher: deps.Watcher,
		metrics: deps.Metrics,
		gather:  deps.Gatherer,
		build:   deps.Build,
		ctx:     ctx,
		cancel:  cancel,
	}

	if s.gather == nil {
		s.gather = prometheus.DefaultGatherer
	}

	s.hub = NewHub(log, func(n int) {
		if s.metrics != nil {
			s.metrics.SetWebSocketClients(n)
		}
	})

	if cfg.Server.RateLimit.Enabled {
		rl := cfg.Server.RateLimit
		s.authRateLimiter = NewIPRateLimiter(ctx, rl.Auth.RequestsPerMinute)
		s.publicRateLimiter = NewIPRateLimiter(ctx, rl.Public.RequestsPerMinute)
		s.authenticatedRateLimiter = NewIPRateLimiter(ctx, rl.Authenticated.RequestsPerMinute)

		s.log.WithFields(logrus.Fields{
			"auth_rpm":          rl.Auth.RequestsPerMinute,
			"public_rpm":        rl.Public.RequestsPerMinute,
			"authenticated_rpm": rl.Authenticated.RequestsPerMinute,
		}).Info("Rate limiting enabled")
	}

	if !cfg.Auth.Enabled() {
		s.log.Warn("No authentication method enabled, API is open to anyone who can reach it")
	}

	go s.hub.Run(ctx)

	s.setupRouter()

	return s
}

// Start starts listening. It returns once the listener goroutine is running.
func (s *server) Start(_ context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("addr", s.cfg.Server.Listen).Info("Starting API server")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and the hub.
func (s *server) Stop() error {
	defer s.cancel()

	if s.srv == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *server) Handler() http.Handler {
	return s.router
}

// BroadcastJobChanges pushes watcher results to websocket clients.
func (s *server) BroadcastJobChanges(changes []watcher.JobChange) {
	s.hub.Broadcast(&Message{Type: MessageTypeJobStatus, Payload: changes})
}

func (s *server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests(s.log))
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(s.cfg.Server.CORSOrigins) > 0 {
		r.Use(corsMiddleware(s.cfg.Server.CORSOrigins))
	}

	authenticate := auth.OpenMiddleware()
	if s.cfg.Auth.Enabled() {
		authenticate = auth.Middleware(s.auth)
	}

	limit := func(r chi.Router, l *IPRateLimiter) {
		if l != nil {
			r.Use(l.Middleware)
		}
	}

	r.Group(func(r chi.Router) {
		limit(r, s.publicRateLimiter)

		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			limit(r, s.publicRateLimiter)
			r.Get("/openapi.json", s.handleOpenAPISpec)
		})

		r.Group(func(r chi.Router) {
			limit(r, s.authRateLimiter)
			r.Post("/auth/login", s.handleLogin)
			r.Get("/auth/github", s.handleGitHubAuth)
			r.Get("/auth/github/callback", s.handleGitHubCallback)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			limit(r, s.authenticatedRateLimiter)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Get("/status", s.handleStatus)
			r.Get("/ws", s.handleWebSocket)

			r.Route("/jenkins", func(r chi.Router) {
				r.Get("/status", s.handleJenkinsStatus)
				r.Get("/test", s.handleTestConnection)
				r.Get("/jobs", s.handleListJobs)
				r.Get("/jobs/{name}", s.handleGetJob)
				r.Get("/jobs/{name}/config", s.handleGetJobConfig)
				r.Get("/jobs/{name}/script", s.handleGetJobScript)
				r.Get("/server-info", s.handleServerInfo)
				r.Get("/debug", s.handleDebugInfo)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireAdmin())

					r.Post("/connect", s.handleConnect)
					r.Post("/disconnect", s.handleDisconnect)
					r.Put("/jobs/{name}/config", s.handleUpdateJobConfig)
					r.Put("/jobs/{name}/script", s.handleUpdateJobScript)
				})
			})

			r.With(auth.RequireAdmin()).Get("/audit", s.handleListAudit)
		})
	})

	if dir := s.cfg.Server.StaticDir; dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}

	s.router = r
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 1 && origins[0] == "*"

	originSet := make(map[string]bool, len(origins))
	for _, origin := range origins {
		originSet[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (allowAll || originSet[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// logRequests logs one line per request through logrus.
func logRequests(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("HTTP request")
		})
	}
}

// instrument records request metrics labeled with the route pattern, so
// job names never become label values.
func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)

			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		s.metrics.RecordHTTPRequest(r.Method, pattern, strconv.Itoa(status), time.Since(start).Seconds())
	})
}

// ============================================================================
// Response helpers
// ============================================================================

// ErrorResponse is the error format of the non-Jenkins endpoints.
type ErrorResponse struct {
	Error string `json:"error" example:"Something went wrong"`
}

// RateLimitErrorResponse is returned when rate limit is exceeded.
type RateLimitErrorResponse struct {
	Error string `json:"error" example:"rate limit exceeded"`
}

func (s *server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// recordAudit stores an audit entry for the current user. Failures are
// logged and never fail the request.
func (s *server) recordAudit(r *http.Request, action store.AuditAction, entityType store.AuditEntityType, entityID, details string) {
	actor := ""
	if user := auth.UserFromContext(r.Context()); user != nil {
		actor = user.Username
	}

	entry := &store.AuditEntry{
		ID:         uuid.New().String(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Details:    details,
		CreatedAt:  time.Now(),
	}

	if err := s.store.CreateAuditEntry(r.Context(), entry); err != nil {
		s.log.WithError(err).WithField("action", action).Warn("Failed to write audit entry")
	}
}

// ============================================================================
// System handlers
// ============================================================================

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string       `json:"status" example:"ok"`
	Config HealthConfig `json:"config"`
}

// HealthConfig contains public configuration information.
type HealthConfig struct {
	Auth HealthAuthConfig `json:"auth"`
}

// HealthAuthConfig indicates which authentication methods are enabled.
type HealthAuthConfig struct {
	Basic  bool `json:"basic" example:"true"`
	GitHub bool `json:"github" example:"false"`
}

// handleOpenAPISpec godoc
//
//	@Summary		OpenAPI specification
//	@Description	Returns the OpenAPI specification for the API
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	object	"OpenAPI specification"
//	@Router			/openapi.json [get]
func (s *server) handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(docs.SwaggerInfo.ReadDoc()))
}

// handleHealth godoc
//
//	@Summary		Health check
//	@Description	Returns the health status of the API server
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		429	{object}	RateLimitErrorResponse	"Rate limit exceeded"
//	@Router			/health [get]
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Config: HealthConfig{
			Auth: HealthAuthConfig{
				Basic:  s.cfg.Auth.Basic.Enabled,
				GitHub: s.cfg.Auth.GitHub.Enabled,
			},
		},
	})
}

// ComponentStatus is the health of one subsystem.
type ComponentStatus string

const (
	ComponentStatusHealthy   ComponentStatus = "healthy"
	ComponentStatusDegraded  ComponentStatus = "degraded"
	ComponentStatusUnhealthy ComponentStatus = "unhealthy"
)

// SystemStatusResponse is the response for GET /status.
type SystemStatusResponse struct {
	Status    ComponentStatus `json:"status" example:"healthy"`
	Timestamp string          `json:"timestamp" example:"2024-01-15T10:30:00Z"`
	Database  DatabaseStatus  `json:"database"`
	Jenkins   JenkinsStatus   `json:"jenkins"`
	WebSocket WebSocketStatus `json:"websocket"`
	Version   BuildInfo       `json:"version"`
}

// DatabaseStatus reports database reachability.
type DatabaseStatus struct {
	Status  ComponentStatus `json:"status" example:"healthy"`
	Latency string          `json:"latency,omitempty" example:"2ms"`
	Error   string          `json:"error,omitempty"`
}

// JenkinsStatus reports the Jenkins session and the watcher's last poll.
type JenkinsStatus struct {
	Status    ComponentStatus `json:"status" example:"healthy"`
	Connected bool            `json:"connected" example:"true"`
	BaseURL   string          `json:"base_url,omitempty" example:"https://ci.example.com"`
	LastPoll  string          `json:"last_poll,omitempty" example:"2024-01-15T10:30:00Z"`
}

// WebSocketStatus reports connected websocket clients.
type WebSocketStatus struct {
	Clients int `json:"clients" example:"2"`
}

// handleStatus godoc
//
//	@Summary		System status
//	@Description	Returns database, Jenkins session and websocket status
//	@Tags			system
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	SystemStatusResponse
//	@Failure		401	{object}	ErrorResponse
//	@Router			/status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatusResponse{
		Status:    ComponentStatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		WebSocket: WebSocketStatus{Clients: s.hub.ClientCount()},
		Version:   s.build,
	}

	dbCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStart := time.Now()

	if err := s.store.Ping(dbCtx); err != nil {
		resp.Database = DatabaseStatus{Status: ComponentStatusUnhealthy, Error: err.Error()}
		resp.Status = ComponentStatusDegraded
	} else {
		resp.Database = DatabaseStatus{
			Status:  ComponentStatusHealthy,
			Latency: fmt.Sprintf("%dms", time.Since(dbStart).Milliseconds()),
		}
	}

	resp.Jenkins = JenkinsStatus{
		Status:    ComponentStatusHealthy,
		Connected: s.jenkins.IsConnected(),
		BaseURL:   s.jenkins.BaseURL(),
	}

	if !resp.Jenkins.Connected {
		resp.Jenkins.Status = ComponentStatusUnhealthy
		resp.Status = ComponentStatusDegraded
	}

	if s.watcher != nil {
		if last := s.watcher.LastPoll(); !last.IsZero() {
			resp.Jenkins.LastPoll = last.UTC().Format(time.RFC3339)
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleWebSocket godoc
//
//	@Summary		WebSocket connection
//	@Description	Streams connection_status and job_status events
//	@Tags			websocket
//	@Param			token	query	string	false	"Authentication token"
//	@Success		101		"WebSocket connection established"
//	@Failure		401		{object}	ErrorResponse
//	@Router			/ws [get]
func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	hello := &Message{Type: MessageTypeConnectionStatus, Payload: s.connectionStatus()}

	serveWs(s.hub, auth.UserFromContext(r.Context()), s.cfg.Server.CORSOrigins, hello, w, r)
}

// AuditListResponse is a page of audit entries.
type AuditListResponse struct {
	Entries []*store.AuditEntry `json:"entries"`
	Total   int                 `json:"total" example:"42"`
	Limit   int                 `json:"limit" example:"50"`
	Offset  int                 `json:"offset" example:"0"`
}

// handleListAudit godoc
//
//	@Summary		List audit entries
//	@Description	Returns audit log entries, newest first
//	@Tags			audit
//	@Security		BearerAuth
//	@Produce		json
//	@Param			entity_type	query		string	false	"jenkins, job or user"
//	@Param			entity_id	query		string	false	"Entity ID"
//	@Param			action		query		string	false	"Action"
//	@Param			actor		query		string	false	"Username"
//	@Param			since		query		string	false	"RFC3339 lower bound"
//	@Param			until		query		string	false	"RFC3339 upper bound"
//	@Param			limit		query		int		false	"Page size (1-500, default 50)"
//	@Param			offset		query		int		false	"Offset"
//	@Success		200			{object}	AuditListResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		403			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/audit [get]
func (s *server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.AuditQueryOpts{Limit: 50}

	if v := q.Get("entity_type"); v != "" {
		et := store.AuditEntityType(v)
		opts.EntityType = &et
	}

	if v := q.Get("entity_id"); v != "" {
		opts.EntityID = &v
	}

	if v := q.Get("action"); v != "" {
		a := store.AuditAction(v)
		opts.Action = &a
	}

	if v := q.Get("actor"); v != "" {
		opts.Actor = &v
	}

	for key, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(key)
		if v == "" {
			continue
		}

		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid "+key+" timestamp")

			return
		}

		*dst = &t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")

			return
		}

		opts.Limit = n
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid offset")

			return
		}

		opts.Offset = n
	}

	entries, total, err := s.store.ListAuditEntries(r.Context(), opts)
	if err != nil {
		s.log.WithError(err).Error("Failed to list audit entries")
		s.writeError(w, http.StatusInternalServerError, "Failed to list audit entries")

		return
	}

	s.writeJSON(w, http.StatusOK, AuditListResponse{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}
