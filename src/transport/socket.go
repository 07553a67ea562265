package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrSocketClosed is returned when sending on a socket that is not open.
	ErrSocketClosed = errors.New("socket is not open")
	// ErrSendBufferFull is returned when the outgoing buffer is saturated.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Socket is a Phoenix socket: one WebSocket carrying many channels.
type Socket struct {
	endpoint   string
	opts       Options
	dial       DialFunc
	serializer serializer
	logger     zerolog.Logger

	send   chan types.Frame
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     types.Conn
	onOpen   []func()
	onError  []func(error)
	channels map[string]*Channel // topic -> channel receiving its frames
	pending  map[string]*Reply   // ref -> join awaiting phx_reply
	ref      uint64
	started  bool
	closed   bool // Disconnect was called
	broken   bool // an error was reported
}

func newSocket(endpoint string, opts Options, dial DialFunc, logger zerolog.Logger) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		endpoint:   endpoint,
		opts:       opts,
		dial:       dial,
		serializer: serializerFor(opts.ProtocolVersion),
		logger:     logger.With().Str("endpoint", endpoint).Logger(),
		send:       make(chan types.Frame, opts.SendBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		channels:   make(map[string]*Channel),
		pending:    make(map[string]*Reply),
	}
}

// OnOpen registers a callback fired once the WebSocket is established.
func (s *Socket) OnOpen(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = append(s.onOpen, cb)
}

// OnError registers a callback fired on the first dial, read or write
// error. It is not fired after Disconnect.
func (s *Socket) OnError(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = append(s.onError, cb)
}

// Connect starts dialing in the background.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
}

// Disconnect closes the socket. Callbacks stop firing.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Channel returns a channel for topic. Inbound frames for the topic are
// routed to the most recently created channel.
func (s *Socket) Channel(topic string) types.Channel {
	ch := &Channel{socket: s, topic: topic}
	s.mu.Lock()
	s.channels[topic] = ch
	s.mu.Unlock()
	return ch
}

func (s *Socket) run() {
	endpoint, err := EndpointURL(s.endpoint, s.opts.ProtocolVersion, s.opts.Params)
	if err != nil {
		s.fail(err)
		return
	}
	conn, err := s.dial(s.ctx, endpoint)
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	cbs := append([]func(){}, s.onOpen...)
	s.mu.Unlock()

	s.logger.Debug().Str("url", endpoint).Msg("socket open")
	go s.writePump(conn)
	for _, cb := range cbs {
		cb()
	}
	s.readPump(conn)
}

// readPump decodes frames from the connection and routes them.
func (s *Socket) readPump(conn types.Conn) {
	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			s.fail(fmt.Errorf("read: %w", err))
			return
		}
		frame, err := s.serializer.decode(raw)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		s.route(frame)
	}
}

// writePump writes queued frames and heartbeats to the connection.
func (s *Socket) writePump(conn types.Conn) {
	defer conn.Close()

	var heartbeat <-chan time.Time
	if s.opts.PingInterval > 0 {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case f := <-s.send:
			if err := conn.WriteJSON(s.serializer.encode(f)); err != nil {
				s.fail(fmt.Errorf("write: %w", err))
				return
			}
		case <-heartbeat:
			f := types.Frame{Ref: s.makeRef(), Topic: topicPhoenix, Event: eventHeartbeat, Payload: map[string]any{}}
			if err := conn.WriteJSON(s.serializer.encode(f)); err != nil {
				s.fail(fmt.Errorf("heartbeat: %w", err))
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Socket) route(f types.Frame) {
	s.mu.Lock()
	ch := s.channels[f.Topic]
	s.mu.Unlock()

	payload := f.Payload
	switch {
	case ch != nil && ch.member(f.JoinRef):
		payload = ch.handle(f.Event, payload)
	case ch != nil:
		s.logger.Debug().Str("topic", f.Topic).Str("event", f.Event).Str("join_ref", f.JoinRef).Msg("dropping frame for a previous join")
	case f.Topic != topicPhoenix:
		s.logger.Debug().Str("topic", f.Topic).Str("event", f.Event).Msg("no channel")
	}

	if f.Event == eventReply && f.Ref != "" {
		s.resolve(f.Ref, payload)
	}
}

func (s *Socket) resolve(ref string, payload any) {
	s.mu.Lock()
	reply, ok := s.pending[ref]
	delete(s.pending, ref)
	s.mu.Unlock()
	if !ok {
		return
	}

	var status string
	var response any
	if m, ok := payload.(map[string]any); ok {
		status, _ = m["status"].(string)
		response = m["response"]
	}
	reply.resolve(status, response)
}

func (s *Socket) enqueue(f types.Frame) error {
	s.mu.Lock()
	open := s.conn != nil && !s.closed && !s.broken
	s.mu.Unlock()
	if !open {
		return ErrSocketClosed
	}

	select {
	case s.send <- f:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *Socket) await(ref string, reply *Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[ref] = reply
}

func (s *Socket) forget(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, ref)
}

func (s *Socket) makeRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref++
	return strconv.FormatUint(s.ref, 10)
}

// fail reports err once and shuts the connection down. Errors after
// Disconnect are expected and not reported.
func (s *Socket) fail(err error) {
	s.mu.Lock()
	if s.closed || s.broken {
		s.mu.Unlock()
		return
	}
	s.broken = true
	conn := s.conn
	cbs := append([]func(error){}, s.onError...)
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
	s.logger.Warn().Err(err).Msg("socket error")
	for _, cb := range cbs {
		cb(err)
	}
}
