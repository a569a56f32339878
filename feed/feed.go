// Package feed is the state container of the client. It wires the
// transport, store, request tracker and dispatcher together and exposes a
// narrow mutation surface (HandleFrame, Ingest, SendCommand) next to
// read-only selectors.
//
// Every mutation runs as one turn under a single mutex, so a frame is fully
// stored, indexed and projected before the next one is looked at, and a
// command is tracked before any frame about it can be applied.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/domody/syris/dispatch"
	"github.com/domody/syris/errors"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/pkg/clock"
	"github.com/domody/syris/protocol"
	"github.com/domody/syris/requests"
	"github.com/domody/syris/store"
	"github.com/domody/syris/transport"
)

// Config aggregates the component settings.
type Config struct {
	Transport transport.Config `json:"transport" yaml:"transport"`
	Store     store.Config     `json:"store" yaml:"store"`
	Requests  requests.Config  `json:"requests" yaml:"requests"`
	Dispatch  dispatch.Config  `json:"dispatch" yaml:"dispatch"`
	// PreferencesPath enables loading and saving view preferences.
	PreferencesPath string `json:"preferences_path,omitempty" yaml:"preferences_path,omitempty"`
}

// DefaultConfig returns defaults for every component.
func DefaultConfig() Config {
	return Config{
		Transport: transport.DefaultConfig(),
		Store:     store.DefaultConfig(),
		Requests:  requests.DefaultConfig(),
		Dispatch:  dispatch.DefaultConfig(),
	}
}

// Listener observes every ingested message, inside the ingest turn.
type Listener func(msg protocol.ServerMessage)

// Option configures a Feed.
type Option func(*options)

type options struct {
	clock    clock.Clock
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	dialer   transport.Dialer
}

// WithClock sets the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics exports component metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.registry = registry }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// Feed owns one connection and everything derived from it.
type Feed struct {
	// turn serialises ingest and dispatch.
	turn sync.Mutex

	store      *store.Store
	tracker    *requests.Tracker
	transport  *transport.Manager
	dispatcher *dispatch.Dispatcher

	listenersMu sync.RWMutex
	listeners   []Listener

	prefsMu   sync.RWMutex
	prefs     Preferences
	prefsPath string

	logger *slog.Logger
	core   *metric.Metrics
}

// New builds a Feed. It does not connect until Start.
func New(cfg Config, opts ...Option) (*Feed, error) {
	o := options{clock: clock.Real(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	f := &Feed{
		logger:    o.logger.With("component", "feed"),
		prefsPath: cfg.PreferencesPath,
	}
	if o.registry != nil {
		f.core = o.registry.CoreMetrics()
	}

	var err error
	f.store, err = store.New(cfg.Store,
		store.WithClock(o.clock), store.WithLogger(o.logger), store.WithMetrics(o.registry))
	if err != nil {
		return nil, errors.Wrap(err, "feed", "New", "create store")
	}

	f.tracker, err = requests.New(cfg.Requests, o.registry,
		requests.WithClock(o.clock), requests.WithLogger(o.logger))
	if err != nil {
		return nil, errors.Wrap(err, "feed", "New", "create tracker")
	}

	topts := []transport.Option{
		transport.WithClock(o.clock),
		transport.WithLogger(o.logger),
		transport.WithMetrics(o.registry),
		transport.WithFrameHandler(f.HandleFrame),
	}
	if o.dialer != nil {
		topts = append(topts, transport.WithDialer(o.dialer))
	}
	f.transport, err = transport.New(cfg.Transport, topts...)
	if err != nil {
		return nil, errors.Wrap(err, "feed", "New", "create transport")
	}

	f.dispatcher, err = dispatch.New(cfg.Dispatch, f.transport, f.tracker,
		dispatch.WithLogger(o.logger), dispatch.WithMetrics(o.registry))
	if err != nil {
		return nil, errors.Wrap(err, "feed", "New", "create dispatcher")
	}

	f.transport.OnStatus(func(s transport.Status) {
		if s != transport.StatusConnected {
			return
		}
		f.turn.Lock()
		defer f.turn.Unlock()
		f.dispatcher.Flush()
	})

	if f.prefsPath != "" {
		prefs, err := LoadPreferences(f.prefsPath)
		if err != nil {
			f.logger.Warn("Ignoring unreadable preferences", "path", f.prefsPath, "error", err)
		} else {
			f.prefs = prefs
		}
	}
	return f, nil
}

// Start connects to the feed server.
func (f *Feed) Start(ctx context.Context) error {
	return f.transport.Start(ctx)
}

// Close tears down the connection. Derived state stays readable.
func (f *Feed) Close() error {
	return f.transport.Close()
}

// OnIngest registers l for every later ingested message.
func (f *Feed) OnIngest(l Listener) {
	if l == nil {
		return
	}
	f.listenersMu.Lock()
	f.listeners = append(f.listeners, l)
	f.listenersMu.Unlock()
}

// OnStatus registers h for connection status transitions.
func (f *Feed) OnStatus(h transport.StatusHandler) {
	f.transport.OnStatus(h)
}

// HandleFrame decodes one raw frame and ingests it. Undecodable frames are
// dropped and counted.
func (f *Feed) HandleFrame(raw []byte) {
	msg, ok := protocol.Decode(raw)
	if !ok {
		if f.core != nil {
			f.core.RecordError("feed", "decode")
		}
		f.logger.Debug("Dropping undecodable frame", "bytes", len(raw))
		return
	}
	f.Ingest(msg)
}

// Ingest runs one turn: store, index and project msg, update request
// lifecycle, then notify listeners.
func (f *Feed) Ingest(msg protocol.ServerMessage) {
	if msg == nil {
		return
	}
	f.turn.Lock()
	defer f.turn.Unlock()

	f.store.Ingest(msg)
	if r, ok := f.tracker.Apply(msg); ok {
		f.logger.Debug("Request updated", "request_id", r.RequestID, "status", r.Status)
	}
	if f.core != nil {
		f.core.RecordIngest(string(msg.Type()))
	}

	f.listenersMu.RLock()
	listeners := f.listeners
	f.listenersMu.RUnlock()
	for _, l := range listeners {
		l(msg)
	}
}

// SendCommand tracks a chat command and sends it when connected.
func (f *Feed) SendCommand(text, requestID string) (string, error) {
	f.turn.Lock()
	defer f.turn.Unlock()
	return f.dispatcher.SendCommand(text, requestID)
}

// SendAction tracks a control command against an entity.
func (f *Feed) SendAction(action, entityID string, args protocol.Payload) (string, error) {
	f.turn.Lock()
	defer f.turn.Unlock()
	return f.dispatcher.SendAction(action, entityID, args)
}

// Dispatcher exposes the untracked outbound operations (ping, history,
// filters).
func (f *Feed) Dispatcher() *dispatch.Dispatcher { return f.dispatcher }

// Status returns the connection status.
func (f *Feed) Status() transport.Status { return f.transport.Status() }

// Target returns the URL of the feed server.
func (f *Feed) Target() string { return f.transport.Target() }

// Messages returns the retained server messages, oldest first.
func (f *Feed) Messages() []protocol.ServerMessage { return f.store.Messages() }

// Event looks up a retained event.
func (f *Feed) Event(id string) (protocol.TransportEvent, bool) { return f.store.Event(id) }

// EventsForRequest returns the events indexed under a request id.
func (f *Feed) EventsForRequest(id string) []protocol.TransportEvent {
	return f.store.EventsForRequest(id)
}

// EventsForEntity returns the events indexed under an entity id.
func (f *Feed) EventsForEntity(id string) []protocol.TransportEvent {
	return f.store.EventsForEntity(id)
}

// EventsForTrace returns the events indexed under a trace id.
func (f *Feed) EventsForTrace(id string) []protocol.TransportEvent {
	return f.store.EventsForTrace(id)
}

func (f *Feed) Integration(id string) (store.IntegrationHealth, bool) {
	return f.store.Integration(id)
}

func (f *Feed) Integrations() []store.IntegrationHealth { return f.store.Integrations() }

func (f *Feed) Entity(id string) (store.Entity, bool) { return f.store.Entity(id) }

func (f *Feed) Entities() []store.Entity { return f.store.Entities() }

func (f *Feed) Request(id string) (requests.Request, bool) { return f.tracker.Get(id) }

func (f *Feed) Requests() []requests.Request { return f.tracker.List() }

func (f *Feed) Stats() store.Stats { return f.store.Stats() }

// Recent returns the newest events matching the current preferences.
func (f *Feed) Recent(limit int) []protocol.TransportEvent {
	return f.store.Recent(limit, f.Preferences().Filter())
}

// Preferences returns the current view preferences.
func (f *Feed) Preferences() Preferences {
	f.prefsMu.RLock()
	defer f.prefsMu.RUnlock()
	return f.prefs
}

// SetPreferences replaces the view preferences and saves them when a
// preferences path is configured.
func (f *Feed) SetPreferences(p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	f.prefsMu.Lock()
	defer f.prefsMu.Unlock()
	if f.prefsPath != "" {
		if err := SavePreferences(f.prefsPath, p); err != nil {
			return err
		}
	}
	f.prefs = p
	return nil
}
