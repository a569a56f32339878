package feed

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domody/syris/metric"
	"github.com/domody/syris/pkg/clock"
	"github.com/domody/syris/protocol"
	"github.com/domody/syris/requests"
	"github.com/domody/syris/transport"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type pipeConn struct {
	in      chan []byte
	written chan []byte
	once    sync.Once
	closed  chan struct{}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case c.written <- data:
		return nil
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type pipeDialer struct {
	conns chan *pipeConn
}

func (d *pipeDialer) Dial(_ context.Context, _ string, _ http.Header) (transport.Conn, error) {
	c := &pipeConn{in: make(chan []byte, 16), written: make(chan []byte, 64), closed: make(chan struct{})}
	d.conns <- c
	return c, nil
}

func newTestFeed(t *testing.T, cfg Config, opts ...Option) *Feed {
	t.Helper()
	opts = append([]Option{WithClock(clock.NewFake(epoch))}, opts...)
	f, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func eventFrame(id string, kind protocol.EventKind, requestID string, payload string) []byte {
	if payload == "" {
		payload = "{}"
	}
	return []byte(`{"t":"event","server_ts_ms":1,"event":{"id":"` + id + `","ts_ms":1,"kind":"` + string(kind) +
		`","level":"info","request_id":"` + requestID + `","payload":` + payload + `}}`)
}

func TestFeed_CommandLifecycle(t *testing.T) {
	f := newTestFeed(t, DefaultConfig())

	id, err := f.SendCommand("turn off the lights", "")
	require.NoError(t, err)

	req, ok := f.Request(id)
	require.True(t, ok)
	assert.Equal(t, requests.StatusQueued, req.Status)
	assert.Equal(t, transport.StatusDisconnected, f.Status())

	f.HandleFrame(eventFrame("e1", protocol.KindTool, id, `{"phase":"start"}`))
	req, _ = f.Request(id)
	assert.Equal(t, requests.StatusRunning, req.Status)

	f.HandleFrame(eventFrame("e2", protocol.KindAssistant, id, `{"text":"done"}`))
	req, _ = f.Request(id)
	assert.Equal(t, requests.StatusDone, req.Status)

	events := f.EventsForRequest(id)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
}

func TestFeed_FailureSources(t *testing.T) {
	tests := []struct {
		name  string
		frame func(id string) []byte
		want  string
	}{
		{
			name:  "ack not ok",
			frame: func(id string) []byte { return []byte(`{"t":"ack","request_id":"` + id + `","ok":false,"message":"bad args"}`) },
			want:  "bad args",
		},
		{
			name: "tool failure",
			frame: func(id string) []byte {
				return eventFrame("t1", protocol.KindTool, id, `{"phase":"failure","error":{"message":"timeout"}}`)
			},
			want: "timeout",
		},
		{
			name:  "server error",
			frame: func(id string) []byte { return []byte(`{"t":"error","code":"E1","request_id":"` + id + `"}`) },
			want:  "error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFeed(t, DefaultConfig())
			id, err := f.SendCommand("do it", "")
			require.NoError(t, err)

			f.HandleFrame(tt.frame(id))
			req, ok := f.Request(id)
			require.True(t, ok)
			assert.Equal(t, requests.StatusFailed, req.Status)
			assert.Equal(t, tt.want, req.Error)
		})
	}
}

func TestFeed_DecodeDropsCounted(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	f := newTestFeed(t, DefaultConfig(), WithMetrics(registry))

	f.HandleFrame([]byte("not json"))
	f.HandleFrame([]byte(`{"t":"mystery"}`))
	f.HandleFrame([]byte(`{"t":"pong","nonce":"n"}`))

	core := registry.CoreMetrics()
	assert.Equal(t, float64(2), testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("feed", "decode")))
	assert.Equal(t, float64(1), testutil.ToFloat64(core.MessagesIngested.WithLabelValues("pong")))
	assert.Len(t, f.Messages(), 1)
}

func TestFeed_ProjectionsAndListeners(t *testing.T) {
	f := newTestFeed(t, DefaultConfig())

	var seen []protocol.MsgType
	f.OnIngest(func(msg protocol.ServerMessage) { seen = append(seen, msg.Type()) })

	f.HandleFrame(eventFrame("h1", protocol.KindSystem, "",
		`{"kind":"integration.health","integration_id":"ha","patch":{"connected":true}}`))
	f.HandleFrame([]byte(`{"t":"event","event":{"id":"d1","ts_ms":2,"kind":"device","level":"info",` +
		`"entity_id":"light.kitchen","payload":{"entity_id":"light.kitchen","domain":"light","new_state":"on"}}}`))
	f.HandleFrame([]byte(`{"t":"dropped","count":5,"reason":"backpressure"}`))

	health, ok := f.Integration("ha")
	require.True(t, ok)
	require.NotNil(t, health.Connected)
	assert.True(t, *health.Connected)

	entity, ok := f.Entity("light.kitchen")
	require.True(t, ok)
	assert.Equal(t, "on", entity.State)
	assert.Len(t, f.EventsForEntity("light.kitchen"), 1)

	st := f.Stats()
	assert.Equal(t, int64(1), st.DroppedNotices)
	assert.Equal(t, int64(5), st.DroppedTotal)
	assert.Equal(t, []protocol.MsgType{protocol.TypeEvent, protocol.TypeEvent, protocol.TypeDropped}, seen)
}

func TestFeed_LiveConnection(t *testing.T) {
	dialer := &pipeDialer{conns: make(chan *pipeConn, 4)}
	cfg := DefaultConfig()
	cfg.Dispatch.FlushOnReconnect = true
	f := newTestFeed(t, cfg, WithDialer(dialer))

	queuedID, err := f.SendCommand("queued while offline", "")
	require.NoError(t, err)

	require.NoError(t, f.Start(context.Background()))
	conn := <-dialer.conns

	var types []protocol.MsgType
	for i := 0; i < 3; i++ {
		select {
		case raw := <-conn.written:
			msg, err := protocol.DecodeClient(raw)
			require.NoError(t, err)
			types = append(types, msg.Type())
			if cmd, ok := msg.(protocol.Command); ok {
				assert.Equal(t, queuedID, cmd.RequestID)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for frame")
		}
	}
	assert.Equal(t, []protocol.MsgType{protocol.TypeHello, protocol.TypeSubscribe, protocol.TypeCommand}, types)

	conn.in <- eventFrame("e1", protocol.KindTool, queuedID, "")
	require.Eventually(t, func() bool {
		req, _ := f.Request(queuedID)
		return req.Status == requests.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFeed_Preferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs", "view.yaml")
	cfg := DefaultConfig()
	cfg.PreferencesPath = path
	f := newTestFeed(t, cfg)

	prefs := Preferences{Kinds: []protocol.EventKind{protocol.KindTool}, Search: "kitchen"}
	require.NoError(t, f.SetPreferences(prefs))

	loaded, err := LoadPreferences(path)
	require.NoError(t, err)
	assert.Equal(t, prefs, loaded)

	f.HandleFrame(eventFrame("a", protocol.KindTool, "", `{"kind":"kitchen_lights","phase":"start"}`))
	f.HandleFrame(eventFrame("b", protocol.KindLog, "", `{"message":"kitchen"}`))
	recent := f.Recent(10)
	require.Len(t, recent, 1)
	assert.Equal(t, "a", recent[0].ID)

	reopened := newTestFeed(t, cfg)
	assert.Equal(t, prefs, reopened.Preferences())

	assert.Error(t, f.SetPreferences(Preferences{Levels: []protocol.Level{"loud"}}))
}

func TestLoadPreferences(t *testing.T) {
	dir := t.TempDir()

	p, err := LoadPreferences(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Preferences{}, p)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("kinds: [nonsense]\n"), 0o644))
	_, err = LoadPreferences(bad)
	assert.Error(t, err)

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("levels: [warn, error]\nsearch: tv\n"), 0o644))
	p, err = LoadPreferences(good)
	require.NoError(t, err)
	assert.Equal(t, []protocol.Level{protocol.LevelWarn, protocol.LevelError}, p.Levels)
	assert.Equal(t, "tv", p.Search)
}
