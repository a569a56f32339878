package health

import (
	"fmt"
	"sort"

	"github.com/domody/syris/store"
	"github.com/domody/syris/transport"
)

// Source is the read surface Check inspects; *feed.Feed implements it.
type Source interface {
	Status() transport.Status
	Stats() store.Stats
	Integrations() []store.IntegrationHealth
}

// FromConnection maps the transport status: connected is healthy, a
// pending or running reconnect is degraded, disconnected is unhealthy.
func FromConnection(s transport.Status) Status {
	switch s {
	case transport.StatusConnected:
		return NewHealthy("connection", "Connected to feed")
	case transport.StatusConnecting, transport.StatusReconnecting:
		return NewDegraded("connection", "Connection is "+string(s))
	default:
		return NewUnhealthy("connection", "Disconnected from feed")
	}
}

// FromIntegration maps a server-reported integration snapshot. Fields the
// server never reported do not count against it.
func FromIntegration(h store.IntegrationHealth) Status {
	name := "integration:" + h.IntegrationID
	switch {
	case h.Connected != nil && !*h.Connected:
		msg := "Integration disconnected"
		if h.LastError != nil && h.LastError.Message != "" {
			msg = sanitizeErrorMessage(h.LastError.Message)
		}
		return NewUnhealthy(name, msg)
	case h.WsAlive != nil && !*h.WsAlive:
		return NewDegraded(name, "Integration websocket not alive")
	case h.LastError != nil:
		return NewDegraded(name, sanitizeErrorMessage(h.LastError.Message))
	}
	if h.Phase != "" {
		return NewHealthy(name, "Integration "+h.Phase)
	}
	return NewHealthy(name, "Integration healthy")
}

// FromStore reports the event window. Gap notices from the server degrade
// it since the window is known to be incomplete.
func FromStore(st store.Stats) Status {
	msg := fmt.Sprintf("%d/%d messages retained, %d events", st.Messages, st.Capacity, st.Events)
	if st.DroppedTotal > 0 {
		return NewDegraded("store", fmt.Sprintf("%s, server dropped %d events", msg, st.DroppedTotal))
	}
	return NewHealthy("store", msg)
}

// Check aggregates connection, store and integration health.
func Check(src Source) Status {
	subs := []Status{FromConnection(src.Status()), FromStore(src.Stats())}

	integrations := src.Integrations()
	sort.Slice(integrations, func(i, j int) bool {
		return integrations[i].IntegrationID < integrations[j].IntegrationID
	})
	for _, h := range integrations {
		subs = append(subs, FromIntegration(h))
	}
	return Aggregate("syris-feed", subs)
}
