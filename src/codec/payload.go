// Package codec converts message payloads between the wire and the
// values shown to, or typed by, an operator.
package codec

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Kind classifies a payload for previewing.
type Kind string

const (
	Structured  Kind = "structured"
	PlainString Kind = "plain_string"
	Empty       Kind = "empty"
)

// Preview is a classified payload ready for a renderer.
type Preview struct {
	Kind  Kind `json:"kind"`
	Value any  `json:"value"`
	// FromString is set when a Structured value was parsed out of a
	// JSON-encoded string payload.
	FromString bool `json:"from_string,omitempty"`
}

// EncodeOutbound turns operator input into a push payload. Valid JSON is
// sent as the parsed value; anything else is sent as the raw string.
func EncodeOutbound(raw string) any {
	if v, ok := parse(raw); ok {
		return v
	}
	return raw
}

// DecodeForPreview classifies an inbound or stored payload.
func DecodeForPreview(data any) Preview {
	switch v := data.(type) {
	case nil:
		return Preview{Kind: Empty}
	case map[string]any, []any:
		return Preview{Kind: Structured, Value: v}
	case string:
		if parsed, ok := parse(v); ok {
			return Preview{Kind: Structured, Value: parsed, FromString: true}
		}
		return Preview{Kind: PlainString, Value: v}
	case json.RawMessage:
		return decodeRaw(v)
	case []byte:
		return decodeRaw(v)
	default:
		return decodeTyped(v)
	}
}

// decodeTyped classifies typed Go containers by their JSON form, so a
// []string or a struct previews the same as its generic decoding.
func decodeTyped(v any) Preview {
	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
	default:
		return Preview{Kind: Empty}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Preview{Kind: Empty}
	}
	generic, ok := parse(string(data))
	if !ok || generic == nil {
		return Preview{Kind: Empty}
	}
	return Preview{Kind: Structured, Value: generic}
}

// Indent renders v as two-space indented JSON. Strings are returned as is.
func Indent(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func decodeRaw(raw []byte) Preview {
	v, ok := parse(string(raw))
	if !ok {
		return Preview{Kind: PlainString, Value: string(raw)}
	}
	return DecodeForPreview(v)
}

// parse reports whether s is exactly one JSON value.
func parse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
