// Package transport keeps one websocket connection to the feed server open.
//
// The Manager runs a small state machine:
//
//	disconnected -> connecting -> connected -> disconnected -> reconnecting -> connecting
//
// On every connection it sends hello followed by subscribe before exposing
// Send. When the connection drops, Send is revoked at once and a single
// reconnect timer is armed with exponential backoff. Connection errors never
// reach callers; they are logged, counted and reflected in Status.
package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/pkg/clock"
	"github.com/domody/syris/pkg/ids"
	"github.com/domody/syris/pkg/retry"
	"github.com/domody/syris/pkg/tlsutil"
	"github.com/domody/syris/protocol"
)

// Status is the connection state surfaced to consumers.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
)

// Value maps the status onto the connection_status gauge.
func (s Status) Value() float64 {
	switch s {
	case StatusConnecting:
		return 1
	case StatusConnected:
		return 2
	case StatusReconnecting:
		return 3
	default:
		return 0
	}
}

// FrameHandler receives every raw frame in arrival order, on the
// connection's read goroutine.
type FrameHandler func(raw []byte)

// StatusHandler observes status transitions in order.
type StatusHandler func(Status)

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithClock sets the clock driving reconnect and keepalive timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics exports transport metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		m.registry = registry
	}
}

// WithFrameHandler sets the receiver of inbound frames.
func WithFrameHandler(h FrameHandler) Option {
	return func(m *Manager) {
		m.onFrame = h
	}
}

// Manager owns the feed connection.
type Manager struct {
	cfg      Config
	dialer   Dialer
	clock    clock.Clock
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *transportMetrics
	backoff  *retry.Backoff
	onFrame  FrameHandler

	mu     sync.Mutex
	status Status
	// conn is set only while connected; Send uses it.
	conn Conn
	// gen identifies the current connection attempt. Results of older
	// attempts are discarded.
	gen            uint64
	reconnectTimer clock.Timer
	pingTimer      clock.Timer
	started        bool
	closed         bool
	cancel         context.CancelFunc
	stopAfter      func() bool
	statusHandlers []StatusHandler
	// pendingStatus holds transitions not yet delivered to handlers;
	// notifying is set while one goroutine drains it.
	pendingStatus []Status
	notifying     bool

	wg sync.WaitGroup
}

// New creates a Manager. Call Start to connect.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		clock:  clock.Real(),
		logger: slog.Default(),
		status: StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
		if err != nil {
			return nil, errors.Wrap(err, "Manager", "New", "load tls config")
		}
		m.dialer = WebsocketDialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			TLSClientConfig:  tlsConfig,
		}
	}
	m.logger = m.logger.With("component", "transport")
	m.backoff = retry.NewBackoff(cfg.Reconnect)

	metrics, err := newTransportMetrics(m.registry)
	if err != nil {
		return nil, err
	}
	m.metrics = metrics
	m.metrics.status(StatusDisconnected)
	return m, nil
}

// OnStatus registers h for every later status transition. Handlers see
// transitions in order, run outside the manager lock and may call Send,
// Status or Connected, but not Close.
func (m *Manager) OnStatus(h StatusHandler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	m.statusHandlers = append(m.statusHandlers, h)
	m.mu.Unlock()
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected reports whether Send can currently deliver.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Target returns the URL the manager dials.
func (m *Manager) Target() string {
	return m.cfg.Target()
}

// Start begins connecting. Cancelling ctx closes the manager.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStopped, "Manager", "Start", "check state")
	}
	if m.started {
		m.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Manager", "Start", "check state")
	}
	m.started = true
	var runCtx context.Context
	runCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.stopAfter = context.AfterFunc(ctx, func() { _ = m.Close() })
	m.mu.Unlock()

	m.logger.Info("Connecting to feed", "url", m.cfg.Target())
	m.connect(runCtx)
	return nil
}

// Send encodes msg and writes it to the live connection. It fails with
// ErrNoConnection while not connected; nothing is buffered.
func (m *Manager) Send(msg protocol.ClientMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return errors.WrapInvalid(err, "Manager", "Send", "encode frame")
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Manager", "Send", "check connection")
	}
	return m.write(conn, data)
}

// Close stops the reconnect timer, closes the live connection and discards
// any dial still in flight. It waits for the read goroutine to exit, so it
// must not be called from a frame or status handler. Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopPingLocked()
	conn := m.conn
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
	}
	if m.stopAfter != nil {
		m.stopAfter()
	}
	m.metrics.backoff(0)
	m.setStatusAndUnlock(StatusDisconnected)

	if conn != nil {
		_ = conn.Close()
	}
	m.wg.Wait()
	m.logger.Info("Transport closed")
	return nil
}

func (m *Manager) connect(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.wg.Add(1)
	m.setStatusAndUnlock(StatusConnecting)

	go m.run(ctx, gen)
}

// run dials, performs the handshake and reads until the connection ends.
func (m *Manager) run(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	target := m.cfg.Target()
	conn, err := m.dialer.Dial(ctx, target, nil)
	if err != nil {
		m.metrics.dialFailed()
		m.logger.Debug("Dial failed", "url", target, "error", err)
		m.connectionLost(ctx, gen, nil)
		return
	}
	if !m.current(gen) {
		_ = conn.Close()
		return
	}

	if err := m.handshake(conn); err != nil {
		m.logger.Warn("Handshake failed", "url", target, "error", err)
		m.connectionLost(ctx, gen, conn)
		return
	}

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.backoff.Reset()
	m.metrics.connected()
	m.schedulePingLocked(gen)
	m.setStatusAndUnlock(StatusConnected)
	m.logger.Info("Connected to feed", "url", target)

	err = m.readLoop(conn)
	m.logger.Debug("Read loop ended", "error", err)
	m.connectionLost(ctx, gen, conn)
}

func (m *Manager) handshake(conn Conn) error {
	for _, msg := range []protocol.ClientMessage{m.cfg.hello(), m.cfg.subscribe()} {
		data, err := protocol.Encode(msg)
		if err != nil {
			return errors.WrapInvalid(err, "Manager", "handshake", "encode "+string(msg.Type()))
		}
		if err := m.write(conn, data); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return errors.WrapTransient(err, "Manager", "readLoop", "read frame")
		}
		m.metrics.frameReceived()
		if m.onFrame != nil {
			m.onFrame(data)
		}
	}
}

func (m *Manager) write(conn Conn, data []byte) error {
	if err := conn.WriteMessage(data); err != nil {
		m.metrics.sendFailed()
		return errors.WrapTransient(err, "Manager", "write", "write frame")
	}
	m.metrics.frameSent()
	return nil
}

// connectionLost revokes Send, closes conn and arms the reconnect timer,
// unless the attempt has been superseded or the manager closed.
func (m *Manager) connectionLost(ctx context.Context, gen uint64, conn Conn) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	wasConnected := m.conn != nil
	m.conn = nil
	m.stopPingLocked()
	m.setStatusAndUnlock(StatusDisconnected)

	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		m.logger.Info("Disconnected from feed")
	}
	m.scheduleReconnect(ctx, gen)
}

func (m *Manager) scheduleReconnect(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}

	delay, ok := m.backoff.Next()
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("Reconnect attempts exhausted", "max_retries", m.cfg.Reconnect.MaxRetries)
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.fireReconnect(ctx, gen) })
	m.metrics.backoff(delay.Seconds())
	attempt := m.backoff.Attempts()
	m.setStatusAndUnlock(StatusReconnecting)

	m.logger.Debug("Reconnect scheduled", "delay", delay, "attempt", attempt)
}

func (m *Manager) fireReconnect(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.mu.Unlock()

	m.metrics.reconnecting()
	m.connect(ctx)
}

func (m *Manager) schedulePingLocked(gen uint64) {
	if m.cfg.PingInterval <= 0 {
		return
	}
	m.pingTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() { m.ping(gen) })
}

func (m *Manager) stopPingLocked() {
	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
}

func (m *Manager) ping(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	m.schedulePingLocked(gen)
	m.mu.Unlock()

	if err := m.Send(protocol.Ping{Nonce: ids.NewNonce()}); err != nil {
		m.logger.Debug("Keepalive ping failed", "error", err)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && gen == m.gen
}

// setStatusAndUnlock records s and releases m.mu. Transitions are queued
// under m.mu and delivered in order by the first caller that finds no
// delivery running; handlers run with no manager lock held, so they may
// call Send, Status and Connected.
func (m *Manager) setStatusAndUnlock(s Status) {
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	m.metrics.status(s)
	m.pendingStatus = append(m.pendingStatus, s)
	if m.notifying {
		m.mu.Unlock()
		return
	}

	m.notifying = true
	for len(m.pendingStatus) > 0 {
		next := m.pendingStatus[0]
		m.pendingStatus = m.pendingStatus[1:]
		handlers := append([]StatusHandler(nil), m.statusHandlers...)
		m.mu.Unlock()
		for _, h := range handlers {
			h(next)
		}
		m.mu.Lock()
	}
	m.notifying = false
	m.mu.Unlock()
}
