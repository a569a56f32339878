package protocol

import (
	"fmt"

	"github.com/domody/syris/errors"
)

// ClientMessage is a client to server frame. Encode sets the "t"
// discriminant from the concrete type.
type ClientMessage interface {
	Type() MsgType
	isClientMessage()
}

// StreamSubscription selects one named stream.
type StreamSubscription struct {
	Name              string      `json:"name"`
	Kinds             []EventKind `json:"kinds,omitempty"`
	Levels            []Level     `json:"levels,omitempty"`
	IncludePayload    *bool       `json:"include_payload,omitempty"`
	IncludePayloadRaw *bool       `json:"include_payload_raw,omitempty"`
	SampleRate        *float64    `json:"sample_rate,omitempty"`
}

// TransportFilters narrows what the server pushes.
type TransportFilters struct {
	RequestID     string      `json:"request_id,omitempty"`
	EntityID      string      `json:"entity_id,omitempty"`
	EntityPrefix  string      `json:"entity_prefix,omitempty"`
	Kinds         []EventKind `json:"kinds,omitempty"`
	Levels        []Level     `json:"levels,omitempty"`
	IntegrationID string      `json:"integration_id,omitempty"`
	ToolName      string      `json:"tool_name,omitempty"`
}

// SubscribeOptions controls replay of recent events on subscribe.
type SubscribeOptions struct {
	IncludeRecent bool `json:"include_recent"`
	RecentLimit   int  `json:"recent_limit"`
}

// MaxRecentLimit bounds SubscribeOptions.RecentLimit.
const MaxRecentLimit = 10000

// ClampRecentLimit clamps n to [0, MaxRecentLimit].
func ClampRecentLimit(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRecentLimit {
		return MaxRecentLimit
	}
	return n
}

type Hello struct {
	Protocol  int      `json:"protocol"`
	Client    string   `json:"client,omitempty"`
	Cap       []string `json:"cap,omitempty"`
	AuthToken string   `json:"auth_token,omitempty"`
}

type Subscribe struct {
	Streams []StreamSubscription `json:"streams"`
	Filters TransportFilters     `json:"filters"`
	Options *SubscribeOptions    `json:"options,omitempty"`
}

type Unsubscribe struct {
	StreamNames []string `json:"stream_names"`
}

type SetFilter struct {
	Filters TransportFilters `json:"filters"`
}

// Command submits text (chat mode) or an action against an entity
// (control mode).
type Command struct {
	RequestID string      `json:"request_id,omitempty"`
	Mode      CommandMode `json:"mode,omitempty"`
	Text      string      `json:"text,omitempty"`
	Action    string      `json:"action,omitempty"`
	EntityID  string      `json:"entity_id,omitempty"`
	Args      Payload     `json:"args,omitempty"`
	Source    string      `json:"source,omitempty"`
}

type HistoryGet struct {
	By         HistoryBy `json:"by,omitempty"`
	Value      string    `json:"value,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	AfterTsMs  int64     `json:"after_ts_ms,omitempty"`
	BeforeTsMs int64     `json:"before_ts_ms,omitempty"`
}

type Ping struct {
	Nonce string `json:"nonce,omitempty"`
}

type VoiceStart struct {
	RequestID  string `json:"request_id"`
	StreamID   string `json:"stream_id,omitempty"`
	Codec      Codec  `json:"codec,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

type VoiceStop struct {
	RequestID string `json:"request_id"`
	StreamID  string `json:"stream_id,omitempty"`
}

type TTSStart struct {
	RequestID string `json:"request_id"`
	StreamID  string `json:"stream_id,omitempty"`
	Codec     Codec  `json:"codec,omitempty"`
}

type TTSStop struct {
	RequestID string `json:"request_id"`
	StreamID  string `json:"stream_id,omitempty"`
}

func (Hello) Type() MsgType       { return TypeHello }
func (Subscribe) Type() MsgType   { return TypeSubscribe }
func (Unsubscribe) Type() MsgType { return TypeUnsubscribe }
func (SetFilter) Type() MsgType   { return TypeSetFilter }
func (Command) Type() MsgType     { return TypeCommand }
func (HistoryGet) Type() MsgType  { return TypeHistoryGet }
func (Ping) Type() MsgType        { return TypePing }
func (VoiceStart) Type() MsgType  { return TypeVoiceStart }
func (VoiceStop) Type() MsgType   { return TypeVoiceStop }
func (TTSStart) Type() MsgType    { return TypeTTSStart }
func (TTSStop) Type() MsgType     { return TypeTTSStop }

func (Hello) isClientMessage()       {}
func (Subscribe) isClientMessage()   {}
func (Unsubscribe) isClientMessage() {}
func (SetFilter) isClientMessage()   {}
func (Command) isClientMessage()     {}
func (HistoryGet) isClientMessage()  {}
func (Ping) isClientMessage()        {}
func (VoiceStart) isClientMessage()  {}
func (VoiceStop) isClientMessage()   {}
func (TTSStart) isClientMessage()    {}
func (TTSStop) isClientMessage()     {}

// Encode marshals msg with its "t" discriminant.
func Encode(msg ClientMessage) ([]byte, error) {
	if msg == nil {
		return nil, errors.WrapInvalid(errors.New("nil message"), "protocol", "Encode", "encode client message")
	}
	body, err := jsonAPI.Marshal(msg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Encode", fmt.Sprintf("marshal %s", msg.Type()))
	}
	return withType(msg.Type(), body), nil
}

// DecodeClient parses a client frame. Servers and test doubles use it; the
// feed itself only sends client frames.
func DecodeClient(raw []byte) (ClientMessage, error) {
	var head struct {
		T string `json:"t"`
	}
	if err := jsonAPI.Unmarshal(raw, &head); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "protocol", "DecodeClient", "unmarshal frame")
	}

	var msg ClientMessage
	var err error
	switch MsgType(head.T) {
	case TypeHello:
		msg, err = decodeInto[Hello](raw)
	case TypeSubscribe:
		msg, err = decodeInto[Subscribe](raw)
	case TypeUnsubscribe:
		msg, err = decodeInto[Unsubscribe](raw)
	case TypeSetFilter:
		msg, err = decodeInto[SetFilter](raw)
	case TypeCommand:
		msg, err = decodeInto[Command](raw)
	case TypeHistoryGet:
		msg, err = decodeInto[HistoryGet](raw)
	case TypePing:
		msg, err = decodeInto[Ping](raw)
	case TypeVoiceStart:
		msg, err = decodeInto[VoiceStart](raw)
	case TypeVoiceStop:
		msg, err = decodeInto[VoiceStop](raw)
	case TypeTTSStart:
		msg, err = decodeInto[TTSStart](raw)
	case TypeTTSStop:
		msg, err = decodeInto[TTSStop](raw)
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownMessage, head.T), "protocol", "DecodeClient", "dispatch frame")
	}
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "protocol", "DecodeClient", "unmarshal "+head.T)
	}
	return msg, nil
}

func decodeInto[T ClientMessage](raw []byte) (ClientMessage, error) {
	var v T
	if err := jsonAPI.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
