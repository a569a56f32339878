package store

import (
	"github.com/domody/syris/protocol"
)

// IntegrationHealth is the merged health of one integration. Nil or empty
// fields have never been reported.
type IntegrationHealth struct {
	IntegrationID string                `json:"integration_id"`
	Connected     *bool                 `json:"connected,omitempty"`
	WsAlive       *bool                 `json:"ws_alive,omitempty"`
	LastError     *protocol.HealthError `json:"last_error,omitempty"`
	Phase         string                `json:"phase,omitempty"`
	UpdatedAtMs   int64                 `json:"updated_at_ms"`
}

// Entity is the last known state of one device entity.
type Entity struct {
	EntityID    string           `json:"entity_id"`
	Domain      string           `json:"domain,omitempty"`
	Name        string           `json:"name,omitempty"`
	State       any              `json:"state"`
	Attributes  protocol.Payload `json:"attributes"`
	UpdatedAtMs int64            `json:"updated_at_ms"`
}

// mergeHealth applies the fields present in patch on top of prev.
func mergeHealth(prev IntegrationHealth, id string, patch protocol.HealthPatch, nowMs int64) IntegrationHealth {
	next := prev
	next.IntegrationID = id
	if patch.Connected != nil {
		v := *patch.Connected
		next.Connected = &v
	}
	if patch.WsAlive != nil {
		v := *patch.WsAlive
		next.WsAlive = &v
	}
	if patch.LastError != nil {
		v := *patch.LastError
		next.LastError = &v
	}
	if patch.Phase != nil {
		next.Phase = *patch.Phase
	}
	next.UpdatedAtMs = nowMs
	return next
}

// entityFromDevice builds a full replacement snapshot from a device event.
// The payload entity_id wins over the event's own entity_id.
func entityFromDevice(ev protocol.TransportEvent, nowMs int64) (Entity, bool) {
	if ev.Kind != protocol.KindDevice {
		return Entity{}, false
	}
	p := ev.Payload
	entityID, ok := p.NonEmptyString("entity_id")
	if !ok {
		entityID = ev.EntityID
	}
	if entityID == "" {
		return Entity{}, false
	}

	e := Entity{
		EntityID:    entityID,
		State:       p["new_state"],
		UpdatedAtMs: nowMs,
	}
	e.Domain, _ = p.NonEmptyString("domain")
	e.Name, _ = p.NonEmptyString("name")
	e.Attributes, _ = p.Object("new_attributes")
	return e, true
}
