package protocol

import (
	"io"

	"github.com/bytedance/sonic"
)

// jsonAPI is the JSON implementation used for every frame on the wire and
// for the JSON surfaces built on top of the protocol types.
var jsonAPI = sonic.ConfigStd

// Marshal encodes v as JSON.
func Marshal(v any) ([]byte, error) {
	return jsonAPI.Marshal(v)
}

// MarshalIndent encodes v as indented JSON.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return jsonAPI.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes JSON data into v.
func Unmarshal(data []byte, v any) error {
	return jsonAPI.Unmarshal(data, v)
}

// WriteJSON encodes v as a single JSON document followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	return jsonAPI.NewEncoder(w).Encode(v)
}

// ReadJSON decodes one JSON document from r into v.
func ReadJSON(r io.Reader, v any) error {
	return jsonAPI.NewDecoder(r).Decode(v)
}

// withType splices a "t" discriminant into the front of a marshaled object.
func withType(t MsgType, body []byte) []byte {
	head := `{"t":"` + string(t) + `"`
	if len(body) <= 2 {
		return []byte(head + "}")
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, ',')
	return append(out, body[1:]...)
}
