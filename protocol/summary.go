package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Links are the cross references of one event.
type Links struct {
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
}

// EventLinks returns the event's own request, trace and entity ids, falling
// back to payload.request_id, payload.trace_id and
// payload.matched_on.entity_id.
func EventLinks(ev TransportEvent) Links {
	links := Links{
		RequestID: ev.RequestID,
		TraceID:   ev.TraceID,
		EntityID:  ev.EntityID,
	}
	p := ev.Payload
	if links.RequestID == "" {
		links.RequestID = optString(p, "request_id")
	}
	if links.TraceID == "" {
		links.TraceID = optString(p, "trace_id")
	}
	if links.EntityID == "" {
		if matched, ok := p.Object("matched_on"); ok {
			links.EntityID = optString(matched, "entity_id")
		}
	}
	return links
}

// Truncate shortens s to at most max runes, marking the cut with an
// ellipsis.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max < 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

// Summarize renders a one-line description of ev for log and terminal
// views.
func Summarize(ev TransportEvent) string {
	if a, ok := AsAssistantPayload(ev); ok {
		return Truncate(a.Text, 140)
	}
	if in, ok := AsInputPayload(ev); ok {
		return Truncate(in.Text, 140)
	}

	if d, ok := AsDevicePayload(ev); ok {
		return fmt.Sprintf("%s %s -> %s", d.EntityID, stateString(d.OldState), stateString(d.NewState))
	}

	if t, ok := AsToolPayload(ev); ok {
		phase := t.Phase
		if phase == "" {
			phase = "unknown"
		}
		name := t.Kind
		if name == "" {
			name = ev.ToolName
		}
		if name == "" {
			name = "tool"
		}
		parts := []string{name}
		if t.Domain != "" && t.Service != "" {
			parts = append(parts, t.Domain+"."+t.Service)
		}
		parts = append(parts, phase)
		line := strings.Join(parts, " ")
		if phase == PhaseFailure && t.Error != nil && t.Error.Message != "" {
			line += ": " + Truncate(t.Error.Message, 120)
		}
		return line
	}

	if h, ok := AsIntegrationHealthPayload(ev); ok {
		parts := []string{"integration=" + h.IntegrationID}
		if h.Patch.Connected != nil {
			parts = append(parts, "connected="+strconv.FormatBool(*h.Patch.Connected))
		}
		if h.Patch.WsAlive != nil {
			parts = append(parts, "ws_alive="+strconv.FormatBool(*h.Patch.WsAlive))
		}
		if h.Patch.LastError != nil && h.Patch.LastError.Message != "" {
			parts = append(parts, "err="+Truncate(h.Patch.LastError.Message, 90))
		}
		return strings.Join(parts, " ")
	}

	if tl, ok := AsTraceLinkPayload(ev); ok {
		line := fmt.Sprintf("trace.link %s -> %s", prefix(tl.CauseEventID, 6), prefix(tl.EffectEventID, 6))
		if tl.MatchedOn != nil {
			keys := make([]string, 0, len(tl.MatchedOn))
			for k := range tl.MatchedOn {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			line += " matched_on=" + strings.Join(keys, ",")
		}
		return line
	}

	if pk, ok := ev.Payload.String("kind"); ok {
		return string(ev.Kind) + ": " + pk
	}
	return string(ev.Kind)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func stateString(v any) string {
	switch s := v.(type) {
	case nil:
		return "-"
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	b, err := jsonAPI.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
