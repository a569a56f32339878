package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domody/syris/protocol"
	"github.com/domody/syris/store"
	"github.com/domody/syris/transport"
)

type fakeSource struct {
	status       transport.Status
	stats        store.Stats
	integrations []store.IntegrationHealth
}

func (f fakeSource) Status() transport.Status                { return f.status }
func (f fakeSource) Stats() store.Stats                      { return f.stats }
func (f fakeSource) Integrations() []store.IntegrationHealth { return f.integrations }

func boolPtr(b bool) *bool { return &b }

func TestFromConnection(t *testing.T) {
	tests := []struct {
		status transport.Status
		want   string
	}{
		{transport.StatusConnected, StateHealthy},
		{transport.StatusConnecting, StateDegraded},
		{transport.StatusReconnecting, StateDegraded},
		{transport.StatusDisconnected, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, FromConnection(tt.status).Status)
		})
	}
}

func TestFromIntegration(t *testing.T) {
	tests := []struct {
		name    string
		health  store.IntegrationHealth
		want    string
		message string
	}{
		{
			name:   "nothing reported",
			health: store.IntegrationHealth{IntegrationID: "ha"},
			want:   StateHealthy,
		},
		{
			name: "disconnected with error",
			health: store.IntegrationHealth{
				IntegrationID: "ha",
				Connected:     boolPtr(false),
				LastError:     &protocol.HealthError{Code: "E", Message: "dial ws://10.0.0.2:8123/api failed"},
			},
			want:    StateUnhealthy,
			message: "dial [URL] failed",
		},
		{
			name:   "socket not alive",
			health: store.IntegrationHealth{IntegrationID: "ha", Connected: boolPtr(true), WsAlive: boolPtr(false)},
			want:   StateDegraded,
		},
		{
			name:    "phase reported",
			health:  store.IntegrationHealth{IntegrationID: "ha", Connected: boolPtr(true), Phase: "ready"},
			want:    StateHealthy,
			message: "Integration ready",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromIntegration(tt.health)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, "integration:ha", got.Component)
			if tt.message != "" {
				assert.Equal(t, tt.message, got.Message)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	src := fakeSource{
		status: transport.StatusConnected,
		stats:  store.Stats{Messages: 10, Capacity: 3000, Events: 9},
		integrations: []store.IntegrationHealth{
			{IntegrationID: "zigbee", Connected: boolPtr(true)},
			{IntegrationID: "ha", Connected: boolPtr(true)},
		},
	}

	got := Check(src)
	assert.True(t, got.IsHealthy())
	require.Len(t, got.SubStatuses, 4)
	assert.Equal(t, "connection", got.SubStatuses[0].Component)
	assert.Equal(t, "store", got.SubStatuses[1].Component)
	assert.Equal(t, "integration:ha", got.SubStatuses[2].Component)
	assert.Equal(t, "integration:zigbee", got.SubStatuses[3].Component)

	src.stats.DroppedTotal = 4
	assert.True(t, Check(src).IsDegraded())

	src.status = transport.StatusDisconnected
	assert.True(t, Check(src).IsUnhealthy())
}

func TestAggregate_Empty(t *testing.T) {
	assert.True(t, Aggregate("x", nil).IsHealthy())
}
