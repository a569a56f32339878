package protocol

// Payload kinds recognized by the narrowing guards.
const (
	PayloadKindIntegrationHealth = "integration.health"
	PayloadKindTraceLink         = "trace.link"
)

// Tool phases.
const (
	PhaseStart   = "start"
	PhaseSuccess = "success"
	PhaseFailure = "failure"
)

// ToolPayload is the payload of a tool event.
type ToolPayload struct {
	Kind       string
	Domain     string
	Service    string
	Phase      string
	DurationMs *float64
	Args       Payload
	Result     Payload
	Error      *ToolError
}

// ToolError describes a failed tool call.
type ToolError struct {
	Type      string
	Message   string
	Retryable *bool
}

// DevicePayload is the payload of a device state change.
type DevicePayload struct {
	EntityID      string
	Domain        string
	Name          string
	OldState      any
	NewState      any
	OldAttributes Payload
	NewAttributes Payload
}

// AssistantPayload is assistant output text.
type AssistantPayload struct {
	Text       string
	Final      *bool
	ChunkIndex *int
}

// InputPayload is user input text.
type InputPayload struct {
	Text string
}

// IntegrationHealthPayload patches the health of one integration.
type IntegrationHealthPayload struct {
	IntegrationID string
	Patch         HealthPatch
}

// HealthPatch holds the fields present in an integration health patch. Nil
// fields were absent and must not overwrite prior state.
type HealthPatch struct {
	Connected *bool
	WsAlive   *bool
	LastError *HealthError
	Phase     *string
}

// HealthError is the last error reported by an integration.
type HealthError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// TraceLinkPayload links a cause event to an effect event.
type TraceLinkPayload struct {
	CauseEventID  string
	EffectEventID string
	TraceID       string
	RequestID     string
	MatchedOn     Payload
	Confidence    *float64
	Reason        string
}

// AsToolPayload narrows the payload of a tool event.
func AsToolPayload(ev TransportEvent) (ToolPayload, bool) {
	if ev.Kind != KindTool {
		return ToolPayload{}, false
	}
	p := ev.Payload
	tp := ToolPayload{
		Kind:    optString(p, "kind"),
		Domain:  optString(p, "domain"),
		Service: optString(p, "service"),
		Phase:   optString(p, "phase"),
	}
	if d, ok := p.Number("duration_ms"); ok {
		tp.DurationMs = &d
	}
	tp.Args, _ = p.Object("args")
	tp.Result, _ = p.Object("result")
	if e, ok := p.Object("error"); ok {
		te := &ToolError{Type: optString(e, "type"), Message: optString(e, "message")}
		if r, has := e.Bool("retryable"); has {
			te.Retryable = &r
		}
		tp.Error = te
	}
	return tp, true
}

// AsDevicePayload narrows the payload of a device event carrying a string
// entity_id.
func AsDevicePayload(ev TransportEvent) (DevicePayload, bool) {
	if ev.Kind != KindDevice {
		return DevicePayload{}, false
	}
	p := ev.Payload
	entityID, ok := p.String("entity_id")
	if !ok {
		return DevicePayload{}, false
	}
	dp := DevicePayload{
		EntityID: entityID,
		Domain:   optString(p, "domain"),
		Name:     optString(p, "name"),
		OldState: p["old_state"],
		NewState: p["new_state"],
	}
	dp.OldAttributes, _ = p.Object("old_attributes")
	dp.NewAttributes, _ = p.Object("new_attributes")
	return dp, true
}

// AsAssistantPayload narrows the payload of an assistant event with text.
func AsAssistantPayload(ev TransportEvent) (AssistantPayload, bool) {
	if ev.Kind != KindAssistant {
		return AssistantPayload{}, false
	}
	text, ok := ev.Payload.String("text")
	if !ok {
		return AssistantPayload{}, false
	}
	ap := AssistantPayload{Text: text}
	if f, has := ev.Payload.Bool("final"); has {
		ap.Final = &f
	}
	if c, has := ev.Payload.Number("chunk_index"); has {
		idx := int(c)
		ap.ChunkIndex = &idx
	}
	return ap, true
}

// AsInputPayload narrows the payload of an input event with text.
func AsInputPayload(ev TransportEvent) (InputPayload, bool) {
	if ev.Kind != KindInput {
		return InputPayload{}, false
	}
	text, ok := ev.Payload.String("text")
	if !ok {
		return InputPayload{}, false
	}
	return InputPayload{Text: text}, true
}

// AsIntegrationHealthPayload narrows an integration health patch. The event
// kind is not checked; the payload kind, a string integration_id and an
// object patch identify it.
func AsIntegrationHealthPayload(ev TransportEvent) (IntegrationHealthPayload, bool) {
	p := ev.Payload
	if kind, _ := p.String("kind"); kind != PayloadKindIntegrationHealth {
		return IntegrationHealthPayload{}, false
	}
	integrationID, ok := p.String("integration_id")
	if !ok {
		return IntegrationHealthPayload{}, false
	}
	patch, ok := p.Object("patch")
	if !ok {
		return IntegrationHealthPayload{}, false
	}

	hp := HealthPatch{}
	if c, has := patch.Bool("connected"); has {
		hp.Connected = &c
	}
	if w, has := patch.Bool("ws_alive"); has {
		hp.WsAlive = &w
	}
	if le, has := patch.Object("last_error"); has {
		hp.LastError = &HealthError{Code: optString(le, "code"), Message: optString(le, "message")}
	}
	if details, has := patch.Object("details"); has {
		if phase, isString := details.String("phase"); isString {
			hp.Phase = &phase
		}
	}
	return IntegrationHealthPayload{IntegrationID: integrationID, Patch: hp}, true
}

// AsTraceLinkPayload narrows a trace link between two events.
func AsTraceLinkPayload(ev TransportEvent) (TraceLinkPayload, bool) {
	p := ev.Payload
	if kind, _ := p.String("kind"); kind != PayloadKindTraceLink {
		return TraceLinkPayload{}, false
	}
	cause, ok := p.String("cause_event_id")
	if !ok {
		return TraceLinkPayload{}, false
	}
	effect, ok := p.String("effect_event_id")
	if !ok {
		return TraceLinkPayload{}, false
	}
	tl := TraceLinkPayload{
		CauseEventID:  cause,
		EffectEventID: effect,
		TraceID:       optString(p, "trace_id"),
		RequestID:     optString(p, "request_id"),
		Reason:        optString(p, "reason"),
	}
	tl.MatchedOn, _ = p.Object("matched_on")
	if c, has := p.Number("confidence"); has {
		tl.Confidence = &c
	}
	return tl, true
}
