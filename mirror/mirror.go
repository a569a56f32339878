// Package mirror republishes ingested feed events to NATS so other local
// processes can follow the feed without their own websocket. Publishing is
// best effort: failures are logged and counted, never retried.
package mirror

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/pkg/retry"
	"github.com/domody/syris/protocol"
)

// Defaults for Config.
const (
	DefaultSubjectPrefix = "syris.events"
	DefaultClientName    = "syris-feed-mirror"
	DefaultTimeout       = 5 * time.Second
	// DefaultDuplicates is the JetStream dedupe window for event ids.
	DefaultDuplicates = 2 * time.Minute
)

// Config enables the mirror when NATSURL is set.
type Config struct {
	NATSURL       string        `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	SubjectPrefix string        `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
	ClientName    string        `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Stream, when set, makes Connect create or update a JetStream stream
	// capturing <prefix>.> so mirrored events are retained.
	Stream string        `json:"stream,omitempty" yaml:"stream,omitempty"`
	MaxAge time.Duration `json:"max_age,omitempty" yaml:"max_age,omitempty"`
}

// Enabled reports whether a NATS URL is configured.
func (c Config) Enabled() bool { return c.NATSURL != "" }

// Validate checks the subject prefix and stream name.
func (c Config) Validate() error {
	if strings.ContainsAny(c.SubjectPrefix, " \t*>") || strings.HasSuffix(c.SubjectPrefix, ".") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "mirror", "Validate", "check subject_prefix")
	}
	if strings.ContainsAny(c.Stream, " \t.*>/\\") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "mirror", "Validate", "check stream")
	}
	if c.MaxAge < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "mirror", "Validate", "check max_age")
	}
	return nil
}

// Publisher is the subset of *nats.Conn the mirror needs.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics exports publish counters to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Mirror) {
		m.registry = registry
	}
}

// Mirror publishes live events to <prefix>.<kind>.
type Mirror struct {
	pub      Publisher
	conn     *nats.Conn
	prefix   string
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	published *prometheus.CounterVec
	failures  prometheus.Counter
}

// Connect dials NATS, retrying briefly, and returns a Mirror publishing on
// that connection.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Mirror, error) {
	if !cfg.Enabled() {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "mirror", "Connect", "check nats_url")
	}
	name := cfg.ClientName
	if name == "" {
		name = DefaultClientName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	natsOpts := []nats.Option{
		nats.Name(name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}

	conn, err := retry.DoWithResult(ctx, retry.Quick(), func() (*nats.Conn, error) {
		return nats.Connect(cfg.NATSURL, natsOpts...)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "mirror", "Connect", "connect to NATS")
	}

	m, err := New(conn, cfg, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg.Stream != "" {
		if err := m.ensureStream(ctx, conn, cfg); err != nil {
			conn.Close()
			return nil, err
		}
	}
	m.conn = conn
	m.logger.Info("Mirroring events to NATS", "url", conn.ConnectedUrlRedacted(), "prefix", m.prefix)
	return m, nil
}

// New returns a Mirror publishing through pub.
func New(pub Publisher, cfg Config, opts ...Option) (*Mirror, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "mirror", "New", "check publisher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	m := &Mirror{pub: pub, prefix: prefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "mirror")

	if m.registry != nil {
		m.published = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "mirror",
			Name:      "published_total",
			Help:      "Events published to NATS by kind",
		}, []string{"kind"})
		m.failures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syris",
			Subsystem: "mirror",
			Name:      "publish_failures_total",
			Help:      "Failed NATS publishes",
		})
		if err := m.registry.RegisterCounterVec("mirror", "published", m.published); err != nil {
			return nil, err
		}
		if err := m.registry.RegisterCounter("mirror", "failures", m.failures); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Subject returns the subject an event of kind is published on.
func (m *Mirror) Subject(kind protocol.EventKind) string {
	if kind == "" {
		kind = "unknown"
	}
	return m.prefix + "." + string(kind)
}

// Handle publishes the event carried by msg. Other frames are ignored.
// Its signature matches feed.Listener.
func (m *Mirror) Handle(msg protocol.ServerMessage) {
	em, ok := msg.(protocol.EventMessage)
	if !ok {
		return
	}
	if err := m.Publish(em.Event); err != nil {
		m.logger.Warn("Mirror publish failed", "event_id", em.Event.ID, "error", err)
	}
}

// ensureStream creates or updates the JetStream stream capturing every
// mirrored subject.
func (m *Mirror) ensureStream(ctx context.Context, conn *nats.Conn, cfg Config) error {
	js, err := jetstream.New(conn)
	if err != nil {
		return errors.WrapTransient(err, "mirror", "Connect", "create JetStream context")
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{m.prefix + ".>"},
		Storage:    jetstream.FileStorage,
		MaxAge:     cfg.MaxAge,
		Duplicates: DefaultDuplicates,
	})
	if err != nil {
		return errors.WrapTransient(err, "mirror", "Connect", "ensure stream "+cfg.Stream)
	}
	m.logger.Info("Mirror stream ready", "stream", stream.CachedInfo().Config.Name, "subjects", m.prefix+".>")
	return nil
}

// Publish sends one event as JSON. The event id rides in the Nats-Msg-Id
// header so a JetStream stream drops replayed duplicates.
func (m *Mirror) Publish(ev protocol.TransportEvent) error {
	data, err := protocol.Marshal(ev)
	if err != nil {
		m.fail()
		return errors.WrapInvalid(err, "Mirror", "Publish", "marshal event")
	}
	subject := m.Subject(ev.Kind)
	msg := nats.NewMsg(subject)
	msg.Data = data
	if ev.ID != "" {
		msg.Header.Set(nats.MsgIdHdr, ev.ID)
	}
	if err := m.pub.PublishMsg(msg); err != nil {
		m.fail()
		return errors.WrapTransient(err, "Mirror", "Publish", "publish to "+subject)
	}
	if m.published != nil {
		m.published.WithLabelValues(string(ev.Kind)).Inc()
	}
	return nil
}

// Close drains the NATS connection opened by Connect.
func (m *Mirror) Close() error {
	if m.conn == nil {
		return nil
	}
	if err := m.conn.Drain(); err != nil {
		m.conn.Close()
		return errors.WrapTransient(err, "Mirror", "Close", "drain connection")
	}
	return nil
}

func (m *Mirror) fail() {
	if m.failures != nil {
		m.failures.Inc()
	}
}
