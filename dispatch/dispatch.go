// Package dispatch turns user intents into outbound frames. Commands are
// tracked before they are sent, so a command typed while offline still shows
// up as a queued request.
package dispatch

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/pkg/buffer"
	"github.com/domody/syris/pkg/ids"
	"github.com/domody/syris/protocol"
	"github.com/domody/syris/requests"
)

// Source is stamped on every command this client sends.
const Source = "dashboard"

// DefaultOutboundQueue bounds the offline queue when FlushOnReconnect is set.
const DefaultOutboundQueue = 100

// Send outcomes, also used as the commands_total label.
const (
	OutcomeSent    = "sent"
	OutcomeQueued  = "queued"
	OutcomeOffline = "offline"
)

// Sender is the transport's send capability.
type Sender interface {
	Send(msg protocol.ClientMessage) error
	Connected() bool
}

// Config controls offline behaviour.
type Config struct {
	// FlushOnReconnect keeps commands submitted while offline and sends
	// them on the next connection. When false they never leave the process.
	FlushOnReconnect bool `json:"flush_on_reconnect" yaml:"flush_on_reconnect"`
	// OutboundQueue bounds the offline queue; the oldest command is
	// dropped on overflow.
	OutboundQueue int `json:"outbound_queue" yaml:"outbound_queue"`
}

// DefaultConfig returns fire-and-forget settings.
func DefaultConfig() Config {
	return Config{OutboundQueue: DefaultOutboundQueue}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.OutboundQueue < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "dispatch", "Validate", "check outbound_queue")
	}
	return nil
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics exports dispatch metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(d *Dispatcher) {
		d.registry = registry
	}
}

// Dispatcher sends commands and the other client frames.
type Dispatcher struct {
	cfg      Config
	sender   Sender
	tracker  *requests.Tracker
	queue    buffer.Buffer[protocol.ClientMessage]
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	commands *prometheus.CounterVec
}

// New creates a Dispatcher writing through sender and tracking commands in
// tracker.
func New(cfg Config, sender Sender, tracker *requests.Tracker, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil || tracker == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Dispatcher", "New", "check dependencies")
	}
	if cfg.OutboundQueue == 0 {
		cfg.OutboundQueue = DefaultOutboundQueue
	}

	d := &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		tracker: tracker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")

	if cfg.FlushOnReconnect {
		queue, err := buffer.NewCircularBuffer[protocol.ClientMessage](cfg.OutboundQueue,
			buffer.WithOverflowPolicy[protocol.ClientMessage](buffer.DropOldest),
			buffer.WithMetrics[protocol.ClientMessage](d.registry, "dispatch_outbound"),
			buffer.WithDropCallback[protocol.ClientMessage](func(msg protocol.ClientMessage) {
				d.logger.Warn("Outbound queue full, dropping oldest command", "type", msg.Type())
			}),
		)
		if err != nil {
			return nil, errors.Wrap(err, "Dispatcher", "New", "create outbound queue")
		}
		d.queue = queue
	}

	if d.registry != nil {
		d.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Commands submitted by outcome",
		}, []string{"outcome"})
		if err := d.registry.RegisterCounterVec("dispatch", "commands", d.commands); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SendCommand tracks a chat command and sends it when connected. An empty
// requestID gets a fresh "req_" id that no tracked request uses. The
// returned id is valid whether or not the command left the process.
func (d *Dispatcher) SendCommand(text, requestID string) (string, error) {
	id, err := d.track(requestID, text)
	if err != nil {
		return "", err
	}
	d.deliver(protocol.Command{
		RequestID: id,
		Mode:      protocol.ModeChat,
		Text:      text,
		Source:    Source,
	})
	return id, nil
}

// SendAction tracks a control command against an entity.
func (d *Dispatcher) SendAction(action, entityID string, args protocol.Payload) (string, error) {
	if action == "" {
		return "", errors.WrapInvalid(errors.New("empty action"), "Dispatcher", "SendAction", "check action")
	}
	label := action
	if entityID != "" {
		label = action + " " + entityID
	}
	id, err := d.track("", label)
	if err != nil {
		return "", err
	}
	d.deliver(protocol.Command{
		RequestID: id,
		Mode:      protocol.ModeControl,
		Action:    action,
		EntityID:  entityID,
		Args:      args,
		Source:    Source,
	})
	return id, nil
}

// Ping sends a keepalive ping and returns its nonce.
func (d *Dispatcher) Ping() (string, error) {
	nonce := ids.NewNonce()
	if err := d.sender.Send(protocol.Ping{Nonce: nonce}); err != nil {
		return "", err
	}
	return nonce, nil
}

// History asks the server to replay events. The limit is clamped like
// subscribe's recent_limit.
func (d *Dispatcher) History(q protocol.HistoryGet) error {
	if q.By == "" {
		q.By = protocol.HistoryRecent
	}
	if !q.By.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Dispatcher", "History", "check by")
	}
	q.Limit = protocol.ClampRecentLimit(q.Limit)
	return d.sender.Send(q)
}

// SetFilter replaces the server-side filters for this session.
func (d *Dispatcher) SetFilter(filters protocol.TransportFilters) error {
	return d.sender.Send(protocol.SetFilter{Filters: filters})
}

// Unsubscribe drops the named streams.
func (d *Dispatcher) Unsubscribe(streams ...string) error {
	if len(streams) == 0 {
		return nil
	}
	return d.sender.Send(protocol.Unsubscribe{StreamNames: streams})
}

// Flush sends queued commands in submission order. It stops at the first
// failure and keeps the unsent commands queued. Called on every connected
// transition; a no-op unless FlushOnReconnect is set.
func (d *Dispatcher) Flush() int {
	if d.queue == nil {
		return 0
	}
	sent := 0
	for {
		msg, ok := d.queue.Peek()
		if !ok {
			break
		}
		if err := d.sender.Send(msg); err != nil {
			d.logger.Debug("Flush interrupted", "error", err, "remaining", d.queue.Size())
			break
		}
		d.queue.Read()
		d.count(OutcomeSent)
		sent++
	}
	if sent > 0 {
		d.logger.Info("Flushed queued commands", "count", sent)
	}
	return sent
}

// Pending returns the number of queued offline commands.
func (d *Dispatcher) Pending() int {
	if d.queue == nil {
		return 0
	}
	return d.queue.Size()
}

func (d *Dispatcher) track(requestID, text string) (string, error) {
	if requestID == "" {
		requestID = ids.UniqueRequestID(d.tracker.Has)
	}
	if _, err := d.tracker.Track(requestID, text); err != nil {
		return "", err
	}
	return requestID, nil
}

func (d *Dispatcher) deliver(cmd protocol.Command) {
	if d.sender.Connected() {
		err := d.sender.Send(cmd)
		if err == nil {
			d.count(OutcomeSent)
			return
		}
		d.logger.Debug("Command send failed", "request_id", cmd.RequestID, "error", err)
	}

	if d.queue != nil {
		if err := d.queue.Write(cmd); err == nil {
			d.count(OutcomeQueued)
			d.logger.Debug("Command queued until reconnect", "request_id", cmd.RequestID)
			return
		}
	}
	d.count(OutcomeOffline)
	d.logger.Debug("Command not sent, transport offline", "request_id", cmd.RequestID)
}

func (d *Dispatcher) count(outcome string) {
	if d.commands != nil {
		d.commands.WithLabelValues(outcome).Inc()
	}
}
