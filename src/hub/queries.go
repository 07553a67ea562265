package hub

import (
	"sort"

	"github.com/orchestra-mcp/phxscope/src/types"
)

// State returns the connection state.
func (h *Hub) State() types.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return types.Disconnected
	}
	return h.conn.state
}

// Endpoint returns the current endpoint, or "" when disconnected.
func (h *Hub) Endpoint() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return ""
	}
	return h.conn.endpoint
}

// Session returns the live session for topic.
func (h *Hub) Session(topic string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil, false
	}
	s, ok := h.conn.sessions[topic]
	return s, ok
}

// Channels returns topics with their join states.
func (h *Hub) Channels() map[string]types.ChannelState {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make(map[string]types.ChannelState)
	if h.conn == nil {
		return result
	}
	for topic, s := range h.conn.sessions {
		result[topic] = s.state
	}
	return result
}

// Topics returns the topics with a session on the current connection, sorted.
func (h *Hub) Topics() []string {
	channels := h.Channels()
	topics := make([]string, 0, len(channels))
	for topic := range channels {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
