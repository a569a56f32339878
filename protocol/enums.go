package protocol

// ProtocolVersion is the wire protocol version announced in hello.
const ProtocolVersion = 1

// MsgType is the string discriminant "t" carried by every frame.
type MsgType string

// Client to server.
const (
	TypeHello       MsgType = "hello"
	TypeSubscribe   MsgType = "subscribe"
	TypeUnsubscribe MsgType = "unsubscribe"
	TypeSetFilter   MsgType = "set_filter"
	TypeCommand     MsgType = "command"
	TypeHistoryGet  MsgType = "history.get"
	TypePing        MsgType = "ping"

	// Reserved voice/tts control frames.
	TypeVoiceStart MsgType = "voice.start"
	TypeVoiceStop  MsgType = "voice.stop"
	TypeTTSStart   MsgType = "tts.start"
	TypeTTSStop    MsgType = "tts.stop"
)

// Server to client.
const (
	TypeWelcome       MsgType = "welcome"
	TypeEvent         MsgType = "event"
	TypeHistoryResult MsgType = "history.result"
	TypeError         MsgType = "error"
	TypeDropped       MsgType = "dropped"
	TypePong          MsgType = "pong"
	TypeAck           MsgType = "ack"
)

// EventKind classifies a TransportEvent.
type EventKind string

const (
	KindInput     EventKind = "input"
	KindSystem    EventKind = "system"
	KindTask      EventKind = "task"
	KindSchedule  EventKind = "schedule"
	KindTool      EventKind = "tool"
	KindDevice    EventKind = "device"
	KindNotify    EventKind = "notify"
	KindError     EventKind = "error"
	KindAssistant EventKind = "assistant"
	KindLog       EventKind = "log"
)

// EventKinds lists every known event kind.
var EventKinds = []EventKind{
	KindInput, KindSystem, KindTask, KindSchedule, KindTool,
	KindDevice, KindNotify, KindError, KindAssistant, KindLog,
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Level is the severity of a TransportEvent.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Levels lists every known level.
var Levels = []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// CommandMode selects how the server interprets a command.
type CommandMode string

const (
	ModeChat     CommandMode = "chat"
	ModeControl  CommandMode = "control"
	ModeSchedule CommandMode = "schedule"
	ModeRaw      CommandMode = "raw"
)

// HistoryBy selects the key of a history query.
type HistoryBy string

const (
	HistoryRecent    HistoryBy = "recent"
	HistoryRequestID HistoryBy = "request_id"
	HistoryEntityID  HistoryBy = "entity_id"
	HistoryTraceID   HistoryBy = "trace_id"
)

// Valid reports whether b is a known history key.
func (b HistoryBy) Valid() bool {
	switch b {
	case HistoryRecent, HistoryRequestID, HistoryEntityID, HistoryTraceID:
		return true
	}
	return false
}

// Codec names an audio encoding for the reserved voice/tts frames.
type Codec string

const (
	CodecPCM16LE Codec = "pcm_s16le"
	CodecOpus    Codec = "opus"
)
