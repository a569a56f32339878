package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsToolPayload(t *testing.T) {
	ev := TransportEvent{Kind: KindTool, Payload: Payload{
		"kind":        "ha.call_service",
		"domain":      "light",
		"service":     "turn_off",
		"phase":       "failure",
		"duration_ms": float64(31),
		"error":       map[string]any{"type": "Timeout", "message": "timeout", "retryable": true},
	}}

	tp, ok := AsToolPayload(ev)
	require.True(t, ok)
	assert.Equal(t, "ha.call_service", tp.Kind)
	assert.Equal(t, PhaseFailure, tp.Phase)
	require.NotNil(t, tp.DurationMs)
	assert.Equal(t, float64(31), *tp.DurationMs)
	require.NotNil(t, tp.Error)
	assert.Equal(t, "timeout", tp.Error.Message)
	require.NotNil(t, tp.Error.Retryable)
	assert.True(t, *tp.Error.Retryable)

	_, ok = AsToolPayload(TransportEvent{Kind: KindLog, Payload: ev.Payload})
	assert.False(t, ok)
}

func TestAsDevicePayload(t *testing.T) {
	tests := []struct {
		name string
		ev   TransportEvent
		ok   bool
	}{
		{"device with entity", TransportEvent{Kind: KindDevice, Payload: Payload{"entity_id": "light.kitchen"}}, true},
		{"device without entity", TransportEvent{Kind: KindDevice, Payload: Payload{"name": "Kitchen"}}, false},
		{"device numeric entity", TransportEvent{Kind: KindDevice, Payload: Payload{"entity_id": float64(3)}}, false},
		{"wrong kind", TransportEvent{Kind: KindTool, Payload: Payload{"entity_id": "light.kitchen"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := AsDevicePayload(tt.ev)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestAsTextPayloads(t *testing.T) {
	a, ok := AsAssistantPayload(TransportEvent{Kind: KindAssistant, Payload: Payload{"text": "done", "final": true, "chunk_index": float64(2)}})
	require.True(t, ok)
	assert.Equal(t, "done", a.Text)
	require.NotNil(t, a.Final)
	assert.True(t, *a.Final)
	require.NotNil(t, a.ChunkIndex)
	assert.Equal(t, 2, *a.ChunkIndex)

	_, ok = AsAssistantPayload(TransportEvent{Kind: KindAssistant, Payload: Payload{}})
	assert.False(t, ok)

	in, ok := AsInputPayload(TransportEvent{Kind: KindInput, Payload: Payload{"text": "hi"}})
	require.True(t, ok)
	assert.Equal(t, "hi", in.Text)

	_, ok = AsInputPayload(TransportEvent{Kind: KindAssistant, Payload: Payload{"text": "hi"}})
	assert.False(t, ok)
}

func TestAsIntegrationHealthPayload(t *testing.T) {
	ev := TransportEvent{Kind: KindSystem, Payload: Payload{
		"kind":           "integration.health",
		"integration_id": "ha",
		"patch": map[string]any{
			"connected":  true,
			"last_error": map[string]any{"code": "auth", "message": "token expired"},
			"details":    map[string]any{"phase": "reconnecting"},
		},
	}}

	hp, ok := AsIntegrationHealthPayload(ev)
	require.True(t, ok)
	assert.Equal(t, "ha", hp.IntegrationID)
	require.NotNil(t, hp.Patch.Connected)
	assert.True(t, *hp.Patch.Connected)
	assert.Nil(t, hp.Patch.WsAlive)
	require.NotNil(t, hp.Patch.LastError)
	assert.Equal(t, "token expired", hp.Patch.LastError.Message)
	require.NotNil(t, hp.Patch.Phase)
	assert.Equal(t, "reconnecting", *hp.Patch.Phase)

	tests := []struct {
		name    string
		payload Payload
	}{
		{"wrong kind", Payload{"kind": "other", "integration_id": "ha", "patch": map[string]any{}}},
		{"missing id", Payload{"kind": "integration.health", "patch": map[string]any{}}},
		{"patch not object", Payload{"kind": "integration.health", "integration_id": "ha", "patch": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := AsIntegrationHealthPayload(TransportEvent{Kind: KindSystem, Payload: tt.payload})
			assert.False(t, ok)
		})
	}
}

func TestAsTraceLinkPayload(t *testing.T) {
	ev := TransportEvent{Kind: KindSystem, Payload: Payload{
		"kind":            "trace.link",
		"cause_event_id":  "abcdef123",
		"effect_event_id": "123456abc",
		"request_id":      "req_1",
		"matched_on":      map[string]any{"entity_id": "light.kitchen"},
		"confidence":      0.9,
	}}

	tl, ok := AsTraceLinkPayload(ev)
	require.True(t, ok)
	assert.Equal(t, "abcdef123", tl.CauseEventID)
	assert.Equal(t, "req_1", tl.RequestID)
	assert.Equal(t, "light.kitchen", tl.MatchedOn["entity_id"])
	require.NotNil(t, tl.Confidence)

	delete(ev.Payload, "effect_event_id")
	_, ok = AsTraceLinkPayload(ev)
	assert.False(t, ok)
}
