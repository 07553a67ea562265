package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orchestra-mcp/phxscope/src/types"
)

// Protocol events.
const (
	eventJoin      = "phx_join"
	eventReply     = "phx_reply"
	eventHeartbeat = "heartbeat"
	topicPhoenix   = "phoenix"
)

type serializer interface {
	encode(f types.Frame) any
	decode(raw json.RawMessage) (types.Frame, error)
}

func serializerFor(vsn string) serializer {
	if strings.HasPrefix(vsn, "1.") {
		return v1Serializer{}
	}
	return v2Serializer{}
}

// v2Serializer handles [join_ref, ref, topic, event, payload] frames.
type v2Serializer struct{}

func (v2Serializer) encode(f types.Frame) any {
	return []any{nullable(f.JoinRef), nullable(f.Ref), f.Topic, f.Event, f.Payload}
}

func (v2Serializer) decode(raw json.RawMessage) (types.Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return types.Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if len(parts) != 5 {
		return types.Frame{}, fmt.Errorf("decode frame: expected 5 elements, got %d", len(parts))
	}

	var joinRef, ref *string
	var f types.Frame
	for i, target := range []any{&joinRef, &ref, &f.Topic, &f.Event, &f.Payload} {
		if err := json.Unmarshal(parts[i], target); err != nil {
			return types.Frame{}, fmt.Errorf("decode frame element %d: %w", i, err)
		}
	}
	f.JoinRef = deref(joinRef)
	f.Ref = deref(ref)
	return f, nil
}

// v1Frame is the object frame of protocol 1.0.0.
type v1Frame struct {
	Topic   string  `json:"topic"`
	Event   string  `json:"event"`
	Payload any     `json:"payload"`
	Ref     *string `json:"ref"`
	JoinRef *string `json:"join_ref,omitempty"`
}

type v1Serializer struct{}

func (v1Serializer) encode(f types.Frame) any {
	return v1Frame{
		Topic:   f.Topic,
		Event:   f.Event,
		Payload: f.Payload,
		Ref:     nullable(f.Ref),
		JoinRef: nullable(f.JoinRef),
	}
}

func (v1Serializer) decode(raw json.RawMessage) (types.Frame, error) {
	var m v1Frame
	if err := json.Unmarshal(raw, &m); err != nil {
		return types.Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return types.Frame{
		JoinRef: deref(m.JoinRef),
		Ref:     deref(m.Ref),
		Topic:   m.Topic,
		Event:   m.Event,
		Payload: m.Payload,
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
