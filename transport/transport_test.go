package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/pkg/clock"
	"github.com/domody/syris/pkg/retry"
	"github.com/domody/syris/pkg/tlsutil"
	"github.com/domody/syris/protocol"
)

const waitFor = 2 * time.Second

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeConn is an in-memory Conn. The test plays the server side.
type fakeConn struct {
	frames  chan []byte
	written chan []byte

	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 16),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.written <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) next(t *testing.T) protocol.ClientMessage {
	t.Helper()
	select {
	case raw := <-c.written:
		msg, err := protocol.DecodeClient(raw)
		require.NoError(t, err)
		return msg
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for frame")
		return nil
	}
}

// fakeDialer hands out fakeConns, failing while fail is set.
type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns []*fakeConn
	// gate, when set, holds every dial until it is closed or ctx ends.
	gate chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func newTestManager(t *testing.T, cfg Config, dialer *fakeDialer, opts ...Option) (*Manager, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(epoch)
	opts = append([]Option{WithDialer(dialer), WithClock(fake)}, opts...)
	m, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, fake
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want },
		waitFor, 5*time.Millisecond, "status never became %s (is %s)", want, m.Status())
}

func waitDeadline(t *testing.T, fake *clock.Fake, want time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		d, ok := fake.NextDeadline()
		return ok && d == want
	}, waitFor, 5*time.Millisecond, "no reconnect timer at %s", want)
}

func TestConfig_Target(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"defaults", DefaultConfig(), "ws://localhost:42315/ws"},
		{"secure host", Config{Host: "feed.example", Secure: true}, "wss://feed.example:42315/ws"},
		{"custom port and path", Config{Host: "10.0.0.5", Port: 9000, Path: "/feed"}, "ws://10.0.0.5:9000/feed"},
		{"url override", Config{URL: "ws://override:1/x", Host: "ignored"}, "ws://override:1/x"},
		{"ipv6 host", Config{Host: "::1", Port: 9000, Path: "/ws"}, "ws://[::1]:9000/ws"},
		{"ipv6 host secure", Config{Host: "fe80::2", Secure: true}, "wss://[fe80::2]:42315/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Target())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Port = 70000
	assert.True(t, errors.IsInvalid(bad.Validate()))

	bad = cfg
	bad.Host = ""
	assert.Error(t, bad.Validate())

	bad.URL = "ws://somewhere/ws"
	assert.NoError(t, bad.Validate())

	bad = cfg
	bad.TLS.MinVersion = "1.1"
	assert.True(t, errors.IsInvalid(bad.Validate()))
}

func TestNew_TLSConfigLoaded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Secure = true
	cfg.TLS.CAFiles = []string{filepath.Join(t.TempDir(), "missing.pem")}
	_, err := New(cfg)
	require.Error(t, err)

	cfg.TLS = tlsutil.ClientConfig{MinVersion: "1.3"}
	m, err := New(cfg)
	require.NoError(t, err)
	d, ok := m.dialer.(WebsocketDialer)
	require.True(t, ok)
	require.NotNil(t, d.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS13), d.TLSClientConfig.MinVersion)
	assert.Equal(t, "wss://localhost:42315/ws", m.Target())
}

func TestManager_HandshakeOnConnect(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := DefaultConfig()
	cfg.AuthToken = "secret"
	m, _ := newTestManager(t, cfg, dialer)

	require.NoError(t, m.Start(context.Background()))
	waitStatus(t, m, StatusConnected)

	conn := dialer.last()
	hello, ok := conn.next(t).(protocol.Hello)
	require.True(t, ok)
	assert.Equal(t, protocol.ProtocolVersion, hello.Protocol)
	assert.Equal(t, DefaultClientName, hello.Client)
	assert.Equal(t, []string{"events", "commands"}, hello.Cap)
	assert.Equal(t, "secret", hello.AuthToken)

	sub, ok := conn.next(t).(protocol.Subscribe)
	require.True(t, ok)
	require.Len(t, sub.Streams, 1)
	assert.Equal(t, "all", sub.Streams[0].Name)
	require.NotNil(t, sub.Options)
	assert.True(t, sub.Options.IncludeRecent)
	assert.Equal(t, DefaultRecentLimit, sub.Options.RecentLimit)
}

func TestManager_RecentLimitClamped(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := DefaultConfig()
	cfg.RecentLimit = 50000
	m, _ := newTestManager(t, cfg, dialer)

	require.NoError(t, m.Start(context.Background()))
	waitStatus(t, m, StatusConnected)

	conn := dialer.last()
	conn.next(t)
	sub := conn.next(t).(protocol.Subscribe)
	assert.Equal(t, protocol.MaxRecentLimit, sub.Options.RecentLimit)
}

func TestManager_StartTwice(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), &fakeDialer{})
	require.NoError(t, m.Start(context.Background()))
	err := m.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestManager_SendRevokedOnDisconnect(t *testing.T) {
	dialer := &fakeDialer{}
	m, fake := newTestManager(t, DefaultConfig(), dialer)

	require.NoError(t, m.Start(context.Background()))
	waitStatus(t, m, StatusConnected)
	require.NoError(t, m.Send(protocol.Ping{Nonce: "n1"}))

	dialer.setFail(true)
	dialer.last().Close()
	waitStatus(t, m, StatusReconnecting)

	err := m.Send(protocol.Ping{Nonce: "n2"})
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.False(t, m.Connected())
	assert.Equal(t, 1, fake.Pending(), "exactly one reconnect timer")
}

func TestManager_BackoffSchedule(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	m, fake := newTestManager(t, DefaultConfig(), dialer)

	require.NoError(t, m.Start(context.Background()))

	for i, want := range []time.Duration{250, 425, 722} {
		want *= time.Millisecond
		waitDeadline(t, fake, want)
		waitStatus(t, m, StatusReconnecting)
		assert.Equal(t, i+1, dialer.dialCount())
		fake.Advance(want)
	}

	waitDeadline(t, fake, 1227*time.Millisecond)
	dialer.setFail(false)
	fake.Advance(1227 * time.Millisecond)
	waitStatus(t, m, StatusConnected)
	assert.Zero(t, fake.Pending())

	dialer.last().Close()
	waitDeadline(t, fake, 250*time.Millisecond)
}

func TestManager_BackoffCapped(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	cfg := DefaultConfig()
	cfg.Reconnect = retry.BackoffConfig{InitialInterval: 4 * time.Second, MaxInterval: 10 * time.Second, Multiplier: 1.7}
	m, fake := newTestManager(t, cfg, dialer)

	require.NoError(t, m.Start(context.Background()))
	for _, want := range []time.Duration{4000, 6800, 10000, 10000} {
		want *= time.Millisecond
		waitDeadline(t, fake, want)
		fake.Advance(want)
	}
}

func TestManager_MaxRetries(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	cfg := DefaultConfig()
	cfg.Reconnect.MaxRetries = 2
	m, fake := newTestManager(t, cfg, dialer)

	require.NoError(t, m.Start(context.Background()))
	waitDeadline(t, fake, 250*time.Millisecond)
	fake.Advance(250 * time.Millisecond)
	waitDeadline(t, fake, 425*time.Millisecond)
	fake.Advance(425 * time.Millisecond)

	require.Eventually(t, func() bool { return dialer.dialCount() == 3 }, waitFor, 5*time.Millisecond)
	waitStatus(t, m, StatusDisconnected)
	assert.Zero(t, fake.Pending())
}

func TestManager_CloseStopsReconnect(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	m, fake := newTestManager(t, DefaultConfig(), dialer)

	require.NoError(t, m.Start(context.Background()))
	waitDeadline(t, fake, 250*time.Millisecond)

	require.NoError(t, m.Close())
	assert.Zero(t, fake.Pending())
	assert.Equal(t, StatusDisconnected, m.Status())

	fake.Advance(time.Minute)
	assert.Equal(t, 1, dialer.dialCount())
	assert.NoError(t, m.Close(), "close is idempotent")

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
}

func TestManager_CloseClosesLiveConnection(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, DefaultConfig(), dialer)

	require.NoError(t, m.Start(context.Background()))
	waitStatus(t, m, StatusConnected)

	require.NoError(t, m.Close())
	assert.True(t, dialer.last().isClosed())
	assert.ErrorIs(t, m.Send(protocol.Ping{}), errors.ErrNoConnection)
}

func TestManager_LateDialDiscarded(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	m, _ := newTestManager(t, DefaultConfig(), dialer)

	require.NoError(t, m.Start(context.Background()))
	waitStatus(t, m, StatusConnecting)

	require.NoError(t, m.Close())

	conn := dialer.last()
	require.NotNil(t, conn, "dial completed after close")
	assert.True(t, conn.isClosed())
	assert.Equal(t, StatusDisconnected, m.Status())
}

func TestManager_ContextCancelCloses(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, DefaultConfig(), dialer)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	waitStatus(t, m, StatusConnected)

	cancel()
	require.Eventually(t, func() bool { return dialer.last().isClosed() }, waitFor, 5*time.Millisecond)
	waitStatus(t, m, StatusDisconnected)
}

func TestManager_FramesDeliveredInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, DefaultConfig(), dialer, WithFrameHandler(func(raw []byte) {
		mu.Lock()
		got = append(got, string(raw))
		mu.Unlock()
	}))

	require.NoError(t, m.Start(context.Background()))
	waitStatus(t, m, StatusConnected)

	conn := dialer.last()
	for _, f := range []string{"a", "b", "c"} {
		conn.frames <- []byte(f)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestManager_StatusTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	dialer := &fakeDialer{}
	m, fake := newTestManager(t, DefaultConfig(), dialer)
	m.OnStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, m.Start(context.Background()))
	waitStatus(t, m, StatusConnected)
	dialer.last().Close()
	waitDeadline(t, fake, 250*time.Millisecond)
	fake.Advance(250 * time.Millisecond)
	waitStatus(t, m, StatusConnected)

	want := []Status{
		StatusConnecting, StatusConnected,
		StatusDisconnected, StatusReconnecting,
		StatusConnecting, StatusConnected,
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestManager_CloseWhileHandlerSends(t *testing.T) {
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, DefaultConfig(), dialer)

	inHandler := make(chan struct{})
	release := make(chan struct{})
	var sendErr error
	m.OnStatus(func(s Status) {
		if s != StatusConnected {
			return
		}
		close(inHandler)
		<-release
		_ = m.Status()
		_ = m.Connected()
		sendErr = m.Send(protocol.Ping{Nonce: "late"})
	})

	require.NoError(t, m.Start(context.Background()))
	select {
	case <-inHandler:
	case <-time.After(waitFor):
		t.Fatal("status handler never ran")
	}

	closed := make(chan error, 1)
	go func() { closed <- m.Close() }()
	require.Eventually(t, func() bool { return m.Status() == StatusDisconnected },
		waitFor, 5*time.Millisecond, "Close blocked behind a running status handler")
	close(release)

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Close deadlocked with a status handler calling Send")
	}
	require.Error(t, sendErr)
	assert.True(t, errors.Is(sendErr, errors.ErrNoConnection))
}

func TestManager_KeepalivePing(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := DefaultConfig()
	cfg.PingInterval = 30 * time.Second
	m, fake := newTestManager(t, cfg, dialer)

	require.NoError(t, m.Start(context.Background()))
	waitStatus(t, m, StatusConnected)
	conn := dialer.last()
	conn.next(t)
	conn.next(t)

	fake.Advance(30 * time.Second)
	ping, ok := conn.next(t).(protocol.Ping)
	require.True(t, ok)
	assert.Len(t, ping.Nonce, 26)

	fake.Advance(30 * time.Second)
	_, ok = conn.next(t).(protocol.Ping)
	assert.True(t, ok, "ping rescheduled")
}

func TestManager_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	dialer := &fakeDialer{}
	m, _ := newTestManager(t, DefaultConfig(), dialer, WithMetrics(registry))

	require.NoError(t, m.Start(context.Background()))
	waitStatus(t, m, StatusConnected)
	dialer.last().frames <- []byte("{}")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.metrics.framesReceived) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.connectionsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.metrics.framesSent))
	assert.Equal(t, StatusConnected.Value(), testutil.ToFloat64(registry.CoreMetrics().ConnectionStatus))
}

func TestManager_WebsocketServer(t *testing.T) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	handshake := make(chan []string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		defer conn.Close()

		var types []string
		for i := 0; i < 2; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.DecodeClient(data)
			if err != nil {
				return
			}
			types = append(types, string(msg.Type()))
		}
		handshake <- types

		welcome := `{"t":"welcome","server_ts_ms":1,"protocol":1,"session_id":"s1","server_time_ms":1}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(welcome)); err != nil {
			return
		}
		// Hold the connection until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	frames := make(chan []byte, 4)
	cfg := DefaultConfig()
	cfg.URL = "ws" + server.URL[4:]
	m, err := New(cfg, WithFrameHandler(func(raw []byte) { frames <- raw }))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Start(context.Background()))

	select {
	case types := <-handshake:
		assert.Equal(t, []string{"hello", "subscribe"}, types)
	case <-time.After(waitFor):
		t.Fatal("Timeout waiting for handshake")
	}

	select {
	case raw := <-frames:
		msg, ok := protocol.Decode(raw)
		require.True(t, ok)
		welcome, ok := msg.(protocol.Welcome)
		require.True(t, ok)
		assert.Equal(t, "s1", welcome.SessionID)
	case <-time.After(waitFor):
		t.Fatal("Timeout waiting for welcome")
	}
	waitStatus(t, m, StatusConnected)
}
