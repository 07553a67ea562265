package hub

import (
	"fmt"

	"github.com/orchestra-mcp/phxscope/src/codec"
	"github.com/orchestra-mcp/phxscope/src/types"
)

const unknownReason = "unknown error"

// Session is one topic channel on a connection. A session that failed
// to join stays failed; joining again creates a new session.
type Session struct {
	hub     *Hub
	conn    *connection
	topic   string
	channel types.Channel
	state   types.ChannelState // guarded by hub.mu
}

// Topic returns the session's topic.
func (s *Session) Topic() string { return s.topic }

// State returns the session's join state.
func (s *Session) State() types.ChannelState {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.state
}

// Push encodes raw with the payload codec and sends it as event. It
// fails with ErrNotJoined unless the join handshake succeeded and the
// session has not been superseded.
func (s *Session) Push(event, raw string) error {
	s.hub.mu.Lock()
	ready := s.hub.current(s) && s.state == types.Joined
	s.hub.mu.Unlock()
	if !ready {
		return fmt.Errorf("push %q on %s: %w", event, s.topic, ErrNotJoined)
	}

	payload := codec.EncodeOutbound(raw)
	if err := s.channel.Push(event, payload); err != nil {
		return fmt.Errorf("push %q on %s: %w", event, s.topic, err)
	}

	s.hub.logger.Debug().Str("topic", s.topic).Str("event", event).Msg("pushed")

	s.hub.dispatch.Lock()
	defer s.hub.dispatch.Unlock()
	if !s.live() {
		return nil
	}
	s.hub.emit(types.Event{
		Kind:    types.EventMessageSent,
		Topic:   s.topic,
		Event:   event,
		Payload: payload,
	})
	return nil
}

func (s *Session) join() {
	s.channel.OnMessage(s.handleMessage)
	s.channel.Join().
		Receive(types.StatusOK, s.handleJoined).
		Receive(types.StatusError, s.handleJoinError)
}

// handleMessage forwards inbound traffic and hands the payload back to
// the transport as the acknowledgment value.
func (s *Session) handleMessage(event string, payload any) any {
	s.hub.dispatch.Lock()
	defer s.hub.dispatch.Unlock()

	if s.live() {
		s.hub.emit(types.Event{
			Kind:    types.EventMessageReceived,
			Topic:   s.topic,
			Event:   event,
			Payload: payload,
		})
	}
	return payload
}

func (s *Session) handleJoined(any) {
	s.hub.dispatch.Lock()
	defer s.hub.dispatch.Unlock()

	if !s.settle(types.Joined) {
		return
	}
	s.hub.logger.Info().Str("topic", s.topic).Msg("joined")
	s.hub.emit(types.Event{Kind: types.EventJoined, Topic: s.topic})
}

func (s *Session) handleJoinError(response any) {
	s.hub.dispatch.Lock()
	defer s.hub.dispatch.Unlock()

	if !s.settle(types.JoinFailed) {
		return
	}
	reason := joinFailureReason(response)
	s.hub.logger.Warn().Str("topic", s.topic).Str("reason", reason).Msg("join failed")
	s.hub.emit(types.Event{Kind: types.EventJoinFailed, Topic: s.topic, Reason: reason})
}

func (s *Session) live() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.hub.current(s)
}

// settle moves a live, joining session to its terminal join state.
func (s *Session) settle(state types.ChannelState) bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if !s.hub.current(s) || s.state != types.Joining {
		return false
	}
	s.state = state
	return true
}

func joinFailureReason(response any) string {
	switch r := response.(type) {
	case map[string]any:
		if reason, ok := r["reason"].(string); ok && reason != "" {
			return reason
		}
	case string:
		if r != "" {
			return r
		}
	}
	return unknownReason
}
