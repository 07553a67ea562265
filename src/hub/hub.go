package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConnected is returned when a channel is opened before the
	// connection is open.
	ErrNotConnected = errors.New("connection is not open")
	// ErrNotJoined is returned when pushing on a channel that has not
	// completed its join handshake.
	ErrNotJoined = errors.New("channel is not joined")
)

// Hub owns the single socket connection and the channel sessions
// multiplexed over it. All state lives behind one mutex; transport
// callbacks of superseded connections or sessions are ignored.
//
// Event delivery holds the dispatch lock from the liveness check until
// the handler returns, and Connect, Disconnect and OpenChannel take it
// before superseding anything. Once one of them returns, no event of
// the replaced connection or session is delivered. Handlers must not
// call those methods synchronously.
type Hub struct {
	transport types.Transport
	onEvent   types.EventHandler
	logger    zerolog.Logger

	dispatch sync.Mutex // acquired before mu

	mu   sync.Mutex
	conn *connection
	gen  uint64
}

// connection is one socket generation and the sessions bound to it.
type connection struct {
	gen      uint64
	endpoint string
	state    types.ConnectionState
	socket   types.Socket
	sessions map[string]*Session // topic -> live session
}

// New creates a Hub that dials through transport and reports to onEvent.
func New(transport types.Transport, onEvent types.EventHandler, logger zerolog.Logger) *Hub {
	return &Hub{
		transport: transport,
		onEvent:   onEvent,
		logger:    logger.With().Str("component", "hub").Logger(),
	}
}

// Connect replaces any existing connection with a new one to endpoint.
// It returns immediately; the open outcome arrives as an event.
func (h *Hub) Connect(endpoint string) {
	h.dispatch.Lock()
	h.mu.Lock()
	old := h.detach()
	h.gen++
	c := &connection{
		gen:      h.gen,
		endpoint: endpoint,
		state:    types.Connecting,
		socket:   h.transport.Dial(endpoint),
		sessions: make(map[string]*Session),
	}
	h.conn = c
	h.mu.Unlock()
	h.dispatch.Unlock()

	if old != nil {
		h.teardown(old)
	}

	gen := c.gen
	c.socket.OnOpen(func() { h.handleOpen(gen) })
	c.socket.OnError(func(err error) { h.handleError(gen, err) })
	c.socket.Connect()

	h.logger.Info().Uint64("gen", gen).Str("endpoint", endpoint).Msg("connecting")
}

// Disconnect closes the current connection. It is a no-op when there is
// none.
func (h *Hub) Disconnect() error {
	h.dispatch.Lock()
	h.mu.Lock()
	old := h.detach()
	h.mu.Unlock()
	h.dispatch.Unlock()

	if old == nil {
		return nil
	}
	return h.teardown(old)
}

// OpenChannel creates a session for topic on the open connection and
// starts its join handshake. An existing session for the same topic is
// abandoned.
func (h *Hub) OpenChannel(topic string) (*Session, error) {
	h.dispatch.Lock()
	h.mu.Lock()
	c := h.conn
	if c == nil || c.state != types.Open {
		h.mu.Unlock()
		h.dispatch.Unlock()
		return nil, ErrNotConnected
	}
	if _, ok := c.sessions[topic]; ok {
		h.logger.Debug().Str("topic", topic).Msg("replacing channel session")
	}
	s := &Session{
		hub:     h,
		conn:    c,
		topic:   topic,
		channel: c.socket.Channel(topic),
		state:   types.Joining,
	}
	c.sessions[topic] = s
	h.mu.Unlock()
	h.dispatch.Unlock()

	s.join()
	h.logger.Info().Str("topic", topic).Msg("joining")
	return s, nil
}

// detach drops the current connection from the hub. Callers hold h.mu.
func (h *Hub) detach() *connection {
	c := h.conn
	h.conn = nil
	return c
}

func (h *Hub) teardown(c *connection) error {
	err := c.socket.Disconnect()
	if err != nil {
		h.logger.Warn().Err(err).Uint64("gen", c.gen).Msg("socket disconnect failed")
	} else {
		h.logger.Info().Uint64("gen", c.gen).Str("endpoint", c.endpoint).Msg("disconnected")
	}
	return err
}

func (h *Hub) handleOpen(gen uint64) {
	h.dispatch.Lock()
	defer h.dispatch.Unlock()

	h.mu.Lock()
	c := h.conn
	if c == nil || c.gen != gen || c.state == types.Open {
		h.mu.Unlock()
		h.logger.Debug().Uint64("gen", gen).Msg("ignoring stale open callback")
		return
	}
	c.state = types.Open
	endpoint := c.endpoint
	h.mu.Unlock()

	h.logger.Info().Str("endpoint", endpoint).Msg("connection open")
	h.emit(types.Event{Kind: types.EventConnectionEstablished, Endpoint: endpoint})
}

func (h *Hub) handleError(gen uint64, err error) {
	h.dispatch.Lock()
	defer h.dispatch.Unlock()

	h.mu.Lock()
	c := h.conn
	if c == nil || c.gen != gen {
		h.mu.Unlock()
		return
	}
	endpoint := c.endpoint
	h.mu.Unlock()

	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	h.logger.Warn().Str("endpoint", endpoint).Str("reason", reason).Msg("connection error")
	h.emit(types.Event{Kind: types.EventConnectionFailed, Endpoint: endpoint, Reason: reason})
}

// current reports whether s is still the live session for its topic.
// Callers hold h.mu.
func (h *Hub) current(s *Session) bool {
	return h.conn != nil && h.conn == s.conn && h.conn.sessions[s.topic] == s
}

func (h *Hub) emit(e types.Event) {
	if h.onEvent == nil {
		return
	}
	e.Timestamp = time.Now()
	h.onEvent(e)
}
