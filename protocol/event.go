package protocol

// TransportEvent is the unit of observability emitted by the server. The
// optional string fields are empty when absent or null on the wire.
type TransportEvent struct {
	ID   string    `json:"id"`
	TsMs int64     `json:"ts_ms"`
	Kind EventKind `json:"kind"`
	// Level is the event severity.
	Level Level `json:"level"`

	TraceID       string `json:"trace_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	ParentEventID string `json:"parent_event_id,omitempty"`
	EntityID      string `json:"entity_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	Source        string `json:"source,omitempty"`
	IntegrationID string `json:"integration_id,omitempty"`
	ToolName      string `json:"tool_name,omitempty"`
	Schema        string `json:"schema,omitempty"`

	Payload Payload `json:"payload"`
}

// Payload is the open JSON object attached to an event. Accessors return
// ok=false when a key is missing or holds a different JSON type.
type Payload map[string]any

// String returns the string at key.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// NonEmptyString returns the string at key when it is present and non-empty.
func (p Payload) NonEmptyString(key string) (string, bool) {
	s, ok := p.String(key)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Bool returns the boolean at key.
func (p Payload) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// Number returns the number at key.
func (p Payload) Number(key string) (float64, bool) {
	return asNumber(p[key])
}

// Object returns the JSON object at key.
func (p Payload) Object(key string) (Payload, bool) {
	m, ok := p[key].(map[string]any)
	if !ok {
		if pm, isPayload := p[key].(Payload); isPayload {
			return pm, true
		}
		return nil, false
	}
	return Payload(m), true
}

// Has reports whether key is present with a non-null value.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// parseEvent builds an event from a decoded JSON object. Fields of the
// wrong JSON type are treated as absent; a non-object payload becomes empty.
func parseEvent(m Payload) TransportEvent {
	ev := TransportEvent{
		ID:      optString(m, "id"),
		Kind:    EventKind(optString(m, "kind")),
		Level:   Level(optString(m, "level")),
		Payload: Payload{},
	}
	if ts, ok := m.Number("ts_ms"); ok {
		ev.TsMs = int64(ts)
	}

	ev.TraceID = optString(m, "trace_id")
	ev.RequestID = optString(m, "request_id")
	ev.ParentEventID = optString(m, "parent_event_id")
	ev.EntityID = optString(m, "entity_id")
	ev.UserID = optString(m, "user_id")
	ev.Source = optString(m, "source")
	ev.IntegrationID = optString(m, "integration_id")
	ev.ToolName = optString(m, "tool_name")
	ev.Schema = optString(m, "schema")

	if payload, ok := m.Object("payload"); ok {
		ev.Payload = payload
	}
	return ev
}

func optString(m Payload, key string) string {
	s, _ := m.String(key)
	return s
}
