// Package requests tracks commands submitted by this client and projects
// their lifecycle (queued, running, done, failed) from the server messages
// that mention them.
package requests

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/pkg/clock"
	"github.com/domody/syris/protocol"
)

// Status is the lifecycle state of a tracked request.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is done or failed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ErrAlreadyTracked is returned by Track for a request id already in use.
var ErrAlreadyTracked = errors.New("request already tracked")

// Default error texts when the server gives none.
const (
	errAckFailed   = "ack failed"
	errServerError = "error"
	errToolFailure = "tool failure"
)

// Request is one command submitted by this client.
type Request struct {
	RequestID     string `json:"request_id"`
	Text          string `json:"text,omitempty"`
	Status        Status `json:"status"`
	CreatedAtMs   int64  `json:"created_at_ms"`
	UpdatedAtMs   int64  `json:"updated_at_ms"`
	LastEventTsMs int64  `json:"last_event_ts_ms,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Config controls lifecycle projection.
type Config struct {
	// GuardTerminal freezes done and failed requests. When false a later
	// assistant event can still mark a failed request done, and a later
	// failure can still mark a done request failed.
	GuardTerminal bool `json:"guard_terminal" yaml:"guard_terminal"`
}

// DefaultConfig returns the default lifecycle settings.
func DefaultConfig() Config {
	return Config{GuardTerminal: true}
}

// Tracker owns the tracked requests. Track creates records; Apply only
// transitions existing ones. Records are never deleted.
type Tracker struct {
	mu       sync.RWMutex
	requests map[string]*Request

	cfg         Config
	clock       clock.Clock
	logger      *slog.Logger
	transitions *prometheus.CounterVec
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock stamping request updates.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a Tracker. A non-nil registry receives a transition counter.
func New(cfg Config, registry *metric.MetricsRegistry, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		requests: make(map[string]*Request),
		cfg:      cfg,
		clock:    clock.Real(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "requests")

	if registry != nil {
		t.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "requests",
			Name:      "transitions_total",
			Help:      "Request lifecycle transitions by target status",
		}, []string{"status"})
		if err := registry.RegisterCounterVec("requests", "transitions", t.transitions); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Track creates a queued request. Only the command dispatcher calls it.
func (t *Tracker) Track(requestID, text string) (Request, error) {
	if requestID == "" {
		return Request{}, errors.WrapInvalid(errors.New("empty request id"), "Tracker", "Track", "create request")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.requests[requestID]; exists {
		return Request{}, errors.WrapInvalid(
			fmt.Errorf("%w: %s", ErrAlreadyTracked, requestID), "Tracker", "Track", "create request")
	}

	now := clock.NowMs(t.clock)
	r := &Request{
		RequestID:   requestID,
		Text:        text,
		Status:      StatusQueued,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	t.requests[requestID] = r
	t.count(StatusQueued)
	return *r, nil
}

// Has reports whether requestID is tracked.
func (t *Tracker) Has(requestID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.requests[requestID]
	return ok
}

// Get returns a copy of one request.
func (t *Tracker) Get(requestID string) (Request, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.requests[requestID]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

// List returns every request, oldest first.
func (t *Tracker) List() []Request {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Request, 0, len(t.requests))
	for _, r := range t.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs == out[j].CreatedAtMs {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAtMs < out[j].CreatedAtMs
	})
	return out
}

// Len returns the number of tracked requests.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.requests)
}

// Apply projects one ingested server message onto the tracked requests and
// returns the request it updated, if any. Messages about unknown requests
// are ignored.
func (t *Tracker) Apply(msg protocol.ServerMessage) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch m := msg.(type) {
	case protocol.EventMessage:
		return t.applyEvent(m.Event)

	case protocol.Ack:
		r, ok := t.requests[m.RequestID]
		if !ok {
			return Request{}, false
		}
		r.UpdatedAtMs = clock.NowMs(t.clock)
		if !m.OK {
			t.fail(r, orDefault(m.Message, errAckFailed))
		}
		return *r, true

	case protocol.ErrorMessage:
		if m.RequestID == "" {
			return Request{}, false
		}
		r, ok := t.requests[m.RequestID]
		if !ok {
			return Request{}, false
		}
		r.UpdatedAtMs = clock.NowMs(t.clock)
		t.fail(r, orDefault(m.Message, errServerError))
		return *r, true
	}

	return Request{}, false
}

func (t *Tracker) applyEvent(ev protocol.TransportEvent) (Request, bool) {
	if ev.RequestID == "" {
		return Request{}, false
	}
	r, ok := t.requests[ev.RequestID]
	if !ok {
		return Request{}, false
	}

	r.UpdatedAtMs = clock.NowMs(t.clock)
	r.LastEventTsMs = ev.TsMs

	if r.Status == StatusQueued && ev.Kind != protocol.KindInput {
		t.transition(r, StatusRunning)
	}

	if ev.Kind == protocol.KindAssistant && t.mutable(r) {
		t.transition(r, StatusDone)
	}

	if tool, isTool := protocol.AsToolPayload(ev); isTool && tool.Phase == protocol.PhaseFailure {
		msg := errToolFailure
		if tool.Error != nil && tool.Error.Message != "" {
			msg = tool.Error.Message
		}
		t.fail(r, msg)
	}

	return *r, true
}

// mutable reports whether r may still change status.
func (t *Tracker) mutable(r *Request) bool {
	return !t.cfg.GuardTerminal || !r.Status.Terminal()
}

func (t *Tracker) fail(r *Request, message string) {
	if !t.mutable(r) {
		return
	}
	r.Error = message
	t.transition(r, StatusFailed)
}

func (t *Tracker) transition(r *Request, to Status) {
	if r.Status == to {
		return
	}
	t.logger.Debug("Request transition", "request_id", r.RequestID, "from", r.Status, "to", to)
	r.Status = to
	t.count(to)
}

func (t *Tracker) count(s Status) {
	if t.transitions != nil {
		t.transitions.WithLabelValues(string(s)).Inc()
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
