package protocol

// ServerMessage is a decoded server to client frame. The set of
// implementations is closed: Welcome, EventMessage, HistoryResult,
// ErrorMessage, Dropped, Pong and Ack.
type ServerMessage interface {
	Type() MsgType
	// ServerTime returns server_ts_ms, or zero when the frame omitted it.
	ServerTime() int64
	isServerMessage()
}

// Frame holds the fields common to every server frame.
type Frame struct {
	ServerTsMs int64 `json:"server_ts_ms,omitempty"`
}

// ServerTime returns the server timestamp of the frame.
func (f Frame) ServerTime() int64 { return f.ServerTsMs }
func (Frame) isServerMessage()    {}

// Welcome is the server greeting sent after hello.
type Welcome struct {
	Frame
	Protocol     int      `json:"protocol,omitempty"`
	SessionID    string   `json:"session_id"`
	ServerTimeMs int64    `json:"server_time_ms"`
	Cap          []string `json:"cap,omitempty"`
}

// EventMessage carries one live event.
type EventMessage struct {
	Frame
	Event TransportEvent `json:"event"`
}

// HistoryResult answers a history.get query.
type HistoryResult struct {
	Frame
	By    string           `json:"by"`
	Value string           `json:"value,omitempty"`
	Items []TransportEvent `json:"items"`
}

// ErrorMessage reports a server side failure, optionally tied to a request.
type ErrorMessage struct {
	Frame
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	RequestID string  `json:"request_id,omitempty"`
	Details   Payload `json:"details,omitempty"`
}

// Dropped notifies that the server discarded events for this client.
type Dropped struct {
	Frame
	Count  int64  `json:"count"`
	Reason string `json:"reason"`
	Stream string `json:"stream,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	Frame
	Nonce        string `json:"nonce,omitempty"`
	ServerTimeMs int64  `json:"server_time_ms"`
}

// Ack acknowledges a command.
type Ack struct {
	Frame
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
}

func (Welcome) Type() MsgType       { return TypeWelcome }
func (EventMessage) Type() MsgType  { return TypeEvent }
func (HistoryResult) Type() MsgType { return TypeHistoryResult }
func (ErrorMessage) Type() MsgType  { return TypeError }
func (Dropped) Type() MsgType       { return TypeDropped }
func (Pong) Type() MsgType          { return TypePong }
func (Ack) Type() MsgType           { return TypeAck }

func (m Welcome) MarshalJSON() ([]byte, error) {
	type alias Welcome
	return marshalTagged(m.Type(), alias(m))
}

func (m EventMessage) MarshalJSON() ([]byte, error) {
	type alias EventMessage
	return marshalTagged(m.Type(), alias(m))
}

func (m HistoryResult) MarshalJSON() ([]byte, error) {
	type alias HistoryResult
	if m.Items == nil {
		m.Items = []TransportEvent{}
	}
	return marshalTagged(m.Type(), alias(m))
}

func (m ErrorMessage) MarshalJSON() ([]byte, error) {
	type alias ErrorMessage
	return marshalTagged(m.Type(), alias(m))
}

func (m Dropped) MarshalJSON() ([]byte, error) {
	type alias Dropped
	return marshalTagged(m.Type(), alias(m))
}

func (m Pong) MarshalJSON() ([]byte, error) {
	type alias Pong
	return marshalTagged(m.Type(), alias(m))
}

func (m Ack) MarshalJSON() ([]byte, error) {
	type alias Ack
	return marshalTagged(m.Type(), alias(m))
}

func marshalTagged(t MsgType, v any) ([]byte, error) {
	body, err := jsonAPI.Marshal(v)
	if err != nil {
		return nil, err
	}
	return withType(t, body), nil
}

// Decode parses one raw server frame. It returns ok=false, and never
// panics, when the input is not a JSON object, lacks a string "t", names an
// unknown frame type, or is an event frame whose event is not an object.
// Beyond that nothing is validated: fields of the wrong JSON type decode
// as absent.
func Decode(raw []byte) (msg ServerMessage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			msg, ok = nil, false
		}
	}()

	var obj map[string]any
	if err := jsonAPI.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	m := Payload(obj)

	t, isString := m.String("t")
	if !isString {
		return nil, false
	}

	frame := Frame{}
	if ts, hasTs := m.Number("server_ts_ms"); hasTs {
		frame.ServerTsMs = int64(ts)
	}

	switch MsgType(t) {
	case TypeWelcome:
		w := Welcome{Frame: frame, SessionID: optString(m, "session_id"), Cap: stringSlice(m["cap"])}
		if p, has := m.Number("protocol"); has {
			w.Protocol = int(p)
		}
		if st, has := m.Number("server_time_ms"); has {
			w.ServerTimeMs = int64(st)
		}
		return w, true

	case TypeEvent:
		ev, isObject := m.Object("event")
		if !isObject {
			return nil, false
		}
		return EventMessage{Frame: frame, Event: parseEvent(ev)}, true

	case TypeHistoryResult:
		h := HistoryResult{Frame: frame, By: optString(m, "by"), Value: optString(m, "value")}
		if items, isList := m["items"].([]any); isList {
			h.Items = make([]TransportEvent, 0, len(items))
			for _, item := range items {
				if obj, isObject := item.(map[string]any); isObject {
					h.Items = append(h.Items, parseEvent(obj))
				}
			}
		}
		return h, true

	case TypeError:
		e := ErrorMessage{
			Frame:     frame,
			Code:      optString(m, "code"),
			Message:   optString(m, "message"),
			RequestID: optString(m, "request_id"),
		}
		if details, has := m.Object("details"); has {
			e.Details = details
		}
		return e, true

	case TypeDropped:
		d := Dropped{Frame: frame, Reason: optString(m, "reason"), Stream: optString(m, "stream")}
		if c, has := m.Number("count"); has {
			d.Count = int64(c)
		}
		return d, true

	case TypePong:
		p := Pong{Frame: frame, Nonce: optString(m, "nonce")}
		if st, has := m.Number("server_time_ms"); has {
			p.ServerTimeMs = int64(st)
		}
		return p, true

	case TypeAck:
		a := Ack{Frame: frame, RequestID: optString(m, "request_id"), Message: optString(m, "message")}
		a.OK, _ = m.Bool("ok")
		return a, true
	}

	return nil, false
}

func stringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, isString := item.(string); isString {
			out = append(out, s)
		}
	}
	return out
}
