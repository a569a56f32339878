// Package protocol defines the feed wire protocol: JSON frames tagged by a
// string discriminant "t".
//
// Server frames (welcome, event, history.result, error, dropped, pong, ack)
// decode into the closed ServerMessage sum type via Decode, which never
// fails loudly: anything that is not a recognized frame is reported with
// ok=false and dropped by the caller. Client frames (hello, subscribe,
// unsubscribe, set_filter, command, history.get, ping and the reserved
// voice/tts frames) implement ClientMessage and are serialized by Encode.
//
// Event payloads stay open JSON objects. The As*Payload guards narrow a
// payload to a typed view when the event kind and shape match:
//
//	if tool, ok := protocol.AsToolPayload(ev); ok && tool.Phase == protocol.PhaseFailure {
//		...
//	}
package protocol
