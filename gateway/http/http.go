// Package http serves the feed client's read API and command endpoint over
// HTTP for consumers running outside the process.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/feed"
	"github.com/domody/syris/health"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/protocol"
	"github.com/domody/syris/requests"
	"github.com/domody/syris/store"
)

// Backend is the feed surface the API exposes; *feed.Feed implements it.
type Backend interface {
	health.Source
	Target() string
	Messages() []protocol.ServerMessage
	Event(id string) (protocol.TransportEvent, bool)
	EventsForRequest(id string) []protocol.TransportEvent
	EventsForEntity(id string) []protocol.TransportEvent
	EventsForTrace(id string) []protocol.TransportEvent
	Request(id string) (requests.Request, bool)
	Requests() []requests.Request
	Entity(id string) (store.Entity, bool)
	Integration(id string) (store.IntegrationHealth, bool)
	SendCommand(text, requestID string) (string, error)
	Recent(limit int) []protocol.TransportEvent
	Preferences() feed.Preferences
	SetPreferences(p feed.Preferences) error
}

// getOrGenerateRequestID extracts the request ID from headers or generates
// a new one so API calls can be correlated in logs
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	// 16 hex characters (8 random bytes)
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics exposes registry on /metrics and counts API requests in it.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		g.registry = registry
	}
}

// Gateway serves the HTTP API.
type Gateway struct {
	config   Config
	backend  Backend
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	handler  http.Handler

	requestsTotal *prometheus.CounterVec
	// commandLimiter is nil when commands are not rate limited.
	commandLimiter *rate.Limiter

	running atomic.Bool
	mu      sync.Mutex
	server  *http.Server
	addr    string
	done    chan struct{}
}

// NewGateway creates a Gateway over backend.
func NewGateway(config Config, backend Backend, opts ...Option) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway", "backend is required")
	}
	if config.MaxRequestSize == 0 {
		config.MaxRequestSize = DefaultMaxRequestSize
	}

	g := &Gateway{config: config, backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "http")
	if config.CommandRate > 0 {
		g.commandLimiter = rate.NewLimiter(rate.Limit(config.CommandRate), config.CommandBurst)
	}

	if g.registry != nil {
		g.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by method and status code",
		}, []string{"method", "code"})
		if err := g.registry.RegisterCounterVec("http", "requests", g.requestsTotal); err != nil {
			return nil, err
		}
	}

	g.handler = g.wrap(g.routes())
	return g, nil
}

// Handler returns the API handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Addr returns the bound listen address once started.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start(_ context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start", "gateway already running")
	}

	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		g.running.Store(false)
		return errors.WrapFatal(err, "Gateway", "Start", "listen on "+g.config.Addr)
	}

	server := &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})

	g.mu.Lock()
	g.server = server
	g.addr = ln.Addr().String()
	g.done = done
	g.mu.Unlock()

	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.logger.Error("HTTP server stopped", "error", err)
		}
	}()
	g.logger.Info("HTTP API listening", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts the server down.
func (g *Gateway) Stop(timeout time.Duration) error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	g.mu.Lock()
	server, done := g.server, g.done
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "shutdown server")
	}
	<-done
	return nil
}

func (g *Gateway) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", g.handleStatus)
	mux.HandleFunc("GET /api/messages", g.handleMessages)
	mux.HandleFunc("GET /api/events", g.handleRecent)
	mux.HandleFunc("GET /api/events/{id}", g.handleEvent)
	mux.HandleFunc("GET /api/requests", g.handleRequests)
	mux.HandleFunc("GET /api/requests/{id}", g.handleRequest)
	mux.HandleFunc("GET /api/requests/{id}/events", g.eventsHandler(g.backend.EventsForRequest))
	mux.HandleFunc("GET /api/entities/{id}", g.handleEntity)
	mux.HandleFunc("GET /api/entities/{id}/events", g.eventsHandler(g.backend.EventsForEntity))
	mux.HandleFunc("GET /api/traces/{id}/events", g.eventsHandler(g.backend.EventsForTrace))
	mux.HandleFunc("GET /api/integrations", g.handleIntegrations)
	mux.HandleFunc("GET /api/integrations/{id}", g.handleIntegration)
	mux.HandleFunc("POST /api/commands", g.handleCommand)
	mux.HandleFunc("GET /api/preferences", g.handlePreferences)
	mux.HandleFunc("PUT /api/preferences", g.handleSetPreferences)
	mux.HandleFunc("GET /healthz", g.handleHealth)
	if g.registry != nil {
		mux.Handle("GET /metrics", g.registry.Handler())
	}
	return mux
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (g *Gateway) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		if g.config.EnableCORS {
			g.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		if g.requestsTotal != nil {
			g.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.code)).Inc()
		}
		g.logger.Debug("API request", "request_id", requestID, "method", r.Method,
			"path", r.URL.Path, "code", rec.code)
	})
}

type statusResponse struct {
	Status    string      `json:"status"`
	Target    string      `json:"target"`
	Stats     store.Stats `json:"stats"`
	Requests  int         `json:"requests"`
	Timestamp time.Time   `json:"timestamp"`
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, statusResponse{
		Status:    string(g.backend.Status()),
		Target:    g.backend.Target(),
		Stats:     g.backend.Stats(),
		Requests:  len(g.backend.Requests()),
		Timestamp: time.Now(),
	})
}

// queryLimit parses the optional limit parameter. ok is false after an
// error response has been written.
func (g *Gateway) queryLimit(w http.ResponseWriter, r *http.Request) (limit int, ok bool) {
	limit = DefaultMessagesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return 0, false
		}
		limit = n
	}
	return limit, true
}

func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := g.queryLimit(w, r)
	if !ok {
		return
	}

	msgs := g.backend.Messages()
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if msgs == nil {
		msgs = []protocol.ServerMessage{}
	}
	g.writeJSON(w, http.StatusOK, msgs)
}

// handleRecent serves the newest events matching the saved view
// preferences.
func (g *Gateway) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, ok := g.queryLimit(w, r)
	if !ok {
		return
	}
	events := g.backend.Recent(limit)
	if events == nil {
		events = []protocol.TransportEvent{}
	}
	g.writeJSON(w, http.StatusOK, events)
}

func (g *Gateway) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := g.backend.Event(r.PathValue("id"))
	if !ok {
		g.writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	g.writeJSON(w, http.StatusOK, ev)
}

func (g *Gateway) handleRequests(w http.ResponseWriter, _ *http.Request) {
	list := g.backend.Requests()
	if list == nil {
		list = []requests.Request{}
	}
	g.writeJSON(w, http.StatusOK, list)
}

func (g *Gateway) handleRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := g.backend.Request(r.PathValue("id"))
	if !ok {
		g.writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	g.writeJSON(w, http.StatusOK, req)
}

func (g *Gateway) eventsHandler(lookup func(string) []protocol.TransportEvent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events := lookup(r.PathValue("id"))
		if events == nil {
			events = []protocol.TransportEvent{}
		}
		g.writeJSON(w, http.StatusOK, events)
	}
}

func (g *Gateway) handleEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := g.backend.Entity(r.PathValue("id"))
	if !ok {
		g.writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	g.writeJSON(w, http.StatusOK, e)
}

func (g *Gateway) handleIntegrations(w http.ResponseWriter, _ *http.Request) {
	list := g.backend.Integrations()
	if list == nil {
		list = []store.IntegrationHealth{}
	}
	g.writeJSON(w, http.StatusOK, list)
}

func (g *Gateway) handleIntegration(w http.ResponseWriter, r *http.Request) {
	h, ok := g.backend.Integration(r.PathValue("id"))
	if !ok {
		g.writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	g.writeJSON(w, http.StatusOK, h)
}

type commandRequest struct {
	Text      string `json:"text"`
	RequestID string `json:"request_id,omitempty"`
}

type commandResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if g.commandLimiter != nil && !g.commandLimiter.Allow() {
		w.Header().Set("Retry-After", "1")
		g.writeError(w, http.StatusTooManyRequests, "command rate limit exceeded")
		return
	}

	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var cmd commandRequest
	if err := protocol.Unmarshal(body, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(cmd.Text) == "" {
		g.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	id, err := g.backend.SendCommand(cmd.Text, cmd.RequestID)
	if err != nil {
		g.logger.Debug("Command rejected", "error", err)
		g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
		return
	}

	status := string(requests.StatusQueued)
	if req, ok := g.backend.Request(id); ok {
		status = string(req.Status)
	}
	g.writeJSON(w, http.StatusAccepted, commandResponse{RequestID: id, Status: status})
}

// readBody reads the request body up to MaxRequestSize. ok is false after
// an error response has been written.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	// Read one byte past the limit to detect oversized bodies
	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize))
		return nil, false
	}
	return body, true
}

func (g *Gateway) handlePreferences(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.backend.Preferences())
}

func (g *Gateway) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, ok := g.readBody(w, r)
	if !ok {
		return
	}
	var prefs feed.Preferences
	if err := protocol.Unmarshal(body, &prefs); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := g.backend.SetPreferences(prefs); err != nil {
		g.logger.Debug("Preferences rejected", "error", err)
		g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
		return
	}
	g.writeJSON(w, http.StatusOK, g.backend.Preferences())
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := health.Check(g.backend)
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, status)
}

// applyCORS applies CORS headers to the response
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes
func (g *Gateway) mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	if errors.Is(err, requests.ErrAlreadyTracked) {
		return http.StatusConflict
	}
	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.Is(err, errors.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.IsTransient(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sanitizeError returns a safe error message for external clients
func (g *Gateway) sanitizeError(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case errors.Is(err, requests.ErrAlreadyTracked):
		return "request id already in use"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.Is(err, errors.ErrNotFound):
		return "resource not found"
	case errors.IsTransient(err):
		return "service temporarily unavailable"
	}
	return "internal server error"
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := protocol.Marshal(v)
	if err != nil {
		g.logger.Error("Encode response failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	data, _ := protocol.Marshal(map[string]any{
		"error":  message,
		"status": statusCode,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}
