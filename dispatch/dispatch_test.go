package dispatch

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/metric"
	"github.com/domody/syris/pkg/clock"
	"github.com/domody/syris/protocol"
	"github.com/domody/syris/requests"
)

type fakeSender struct {
	mu        sync.Mutex
	connected bool
	failSends bool
	sent      []protocol.ClientMessage
}

func (s *fakeSender) Send(msg protocol.ClientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.failSends {
		return errors.WrapTransient(errors.ErrNoConnection, "fakeSender", "Send", "check connection")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSender) setConnected(c bool) {
	s.mu.Lock()
	s.connected = c
	s.mu.Unlock()
}

func (s *fakeSender) frames() []protocol.ClientMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ClientMessage(nil), s.sent...)
}

func newTestDispatcher(t *testing.T, cfg Config, sender *fakeSender, opts ...Option) (*Dispatcher, *requests.Tracker) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tracker, err := requests.New(requests.DefaultConfig(), nil, requests.WithClock(fake))
	require.NoError(t, err)
	d, err := New(cfg, sender, tracker, opts...)
	require.NoError(t, err)
	return d, tracker
}

var requestIDPattern = regexp.MustCompile(`^req_[0-9a-f]{8}$`)

func TestSendCommand_Connected(t *testing.T) {
	sender := &fakeSender{connected: true}
	d, tracker := newTestDispatcher(t, DefaultConfig(), sender)

	id, err := d.SendCommand("turn off the lights", "")
	require.NoError(t, err)
	assert.Regexp(t, requestIDPattern, id)

	req, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, requests.StatusQueued, req.Status)
	assert.Equal(t, "turn off the lights", req.Text)

	frames := sender.frames()
	require.Len(t, frames, 1)
	cmd, ok := frames[0].(protocol.Command)
	require.True(t, ok)
	assert.Equal(t, protocol.Command{
		RequestID: id,
		Mode:      protocol.ModeChat,
		Text:      "turn off the lights",
		Source:    "dashboard",
	}, cmd)
}

func TestSendCommand_DisconnectedStaysLocal(t *testing.T) {
	sender := &fakeSender{}
	d, tracker := newTestDispatcher(t, DefaultConfig(), sender)

	id, err := d.SendCommand("turn off the lights", "")
	require.NoError(t, err)

	req, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, requests.StatusQueued, req.Status)
	assert.Empty(t, sender.frames())

	sender.setConnected(true)
	assert.Zero(t, d.Flush(), "fire-and-forget keeps nothing")
	assert.Empty(t, sender.frames())
}

func TestSendCommand_ExplicitID(t *testing.T) {
	sender := &fakeSender{connected: true}
	d, _ := newTestDispatcher(t, DefaultConfig(), sender)

	id, err := d.SendCommand("hello", "req_custom")
	require.NoError(t, err)
	assert.Equal(t, "req_custom", id)

	_, err = d.SendCommand("again", "req_custom")
	assert.True(t, errors.IsInvalid(err))
	assert.Len(t, sender.frames(), 1)
}

func TestSendCommand_GeneratedIDsUnique(t *testing.T) {
	d, tracker := newTestDispatcher(t, DefaultConfig(), &fakeSender{})

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id, err := d.SendCommand("x", "")
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 200, tracker.Len())
}

func TestFlushOnReconnect(t *testing.T) {
	sender := &fakeSender{}
	cfg := Config{FlushOnReconnect: true, OutboundQueue: 2}
	d, _ := newTestDispatcher(t, cfg, sender)

	first, err := d.SendCommand("one", "")
	require.NoError(t, err)
	second, err := d.SendCommand("two", "")
	require.NoError(t, err)
	third, err := d.SendCommand("three", "")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Pending(), "oldest dropped on overflow")

	sender.setConnected(true)
	assert.Equal(t, 2, d.Flush())
	assert.Zero(t, d.Pending())

	var got []string
	for _, f := range sender.frames() {
		got = append(got, f.(protocol.Command).RequestID)
	}
	assert.Equal(t, []string{second, third}, got)
	assert.NotContains(t, got, first)
}

func TestFlush_StopsOnFailure(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(t, Config{FlushOnReconnect: true}, sender)

	_, err := d.SendCommand("one", "")
	require.NoError(t, err)
	assert.Zero(t, d.Flush())
	assert.Equal(t, 1, d.Pending())
}

func TestSendAction(t *testing.T) {
	sender := &fakeSender{connected: true}
	d, tracker := newTestDispatcher(t, DefaultConfig(), sender)

	id, err := d.SendAction("turn_off", "light.kitchen", protocol.Payload{"transition": 2})
	require.NoError(t, err)
	assert.True(t, tracker.Has(id))

	cmd := sender.frames()[0].(protocol.Command)
	assert.Equal(t, protocol.ModeControl, cmd.Mode)
	assert.Equal(t, "turn_off", cmd.Action)
	assert.Equal(t, "light.kitchen", cmd.EntityID)
	assert.Equal(t, 2, cmd.Args["transition"])

	_, err = d.SendAction("", "light.kitchen", nil)
	assert.Error(t, err)
}

func TestOutboundOperations(t *testing.T) {
	sender := &fakeSender{connected: true}
	d, _ := newTestDispatcher(t, DefaultConfig(), sender)

	nonce, err := d.Ping()
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)

	require.NoError(t, d.History(protocol.HistoryGet{By: protocol.HistoryRequestID, Value: "req_1", Limit: 99999}))
	require.NoError(t, d.SetFilter(protocol.TransportFilters{EntityPrefix: "light."}))
	require.NoError(t, d.Unsubscribe("all"))
	require.NoError(t, d.Unsubscribe())

	frames := sender.frames()
	require.Len(t, frames, 4)
	assert.Equal(t, protocol.Ping{Nonce: nonce}, frames[0])
	assert.Equal(t, protocol.HistoryGet{By: protocol.HistoryRequestID, Value: "req_1", Limit: protocol.MaxRecentLimit}, frames[1])
	assert.Equal(t, protocol.SetFilter{Filters: protocol.TransportFilters{EntityPrefix: "light."}}, frames[2])
	assert.Equal(t, protocol.Unsubscribe{StreamNames: []string{"all"}}, frames[3])

	assert.Error(t, d.History(protocol.HistoryGet{By: "bogus"}))
}

func TestOutboundOperations_Offline(t *testing.T) {
	d, _ := newTestDispatcher(t, DefaultConfig(), &fakeSender{})

	_, err := d.Ping()
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.ErrorIs(t, d.History(protocol.HistoryGet{}), errors.ErrNoConnection)
}

func TestDispatcher_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	sender := &fakeSender{}
	d, _ := newTestDispatcher(t, DefaultConfig(), sender, WithMetrics(registry))

	_, err := d.SendCommand("offline", "")
	require.NoError(t, err)
	sender.setConnected(true)
	_, err = d.SendCommand("online", "")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(d.commands.WithLabelValues(OutcomeOffline)))
	assert.Equal(t, float64(1), testutil.ToFloat64(d.commands.WithLabelValues(OutcomeSent)))
}

func TestNew_Validation(t *testing.T) {
	tracker, err := requests.New(requests.DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = New(Config{OutboundQueue: -1}, &fakeSender{}, tracker)
	assert.True(t, errors.IsInvalid(err))

	_, err = New(DefaultConfig(), nil, tracker)
	assert.Error(t, err)
}
