package providers

import (
	"sync"

	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
)

const subscriberBuffer = 256

// streamMessage is one frame written to an event subscriber: either a
// bridge event or the outcome of a command the subscriber sent.
type streamMessage struct {
	Type    string            `json:"type"` // "event" or "result"
	Event   *types.Event      `json:"event,omitempty"`
	Command types.CommandName `json:"command,omitempty"`
	Result  any               `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// executor runs commands received from subscribers.
type executor interface {
	Execute(cmd types.Command) (any, error)
}

// subscriber wraps an event stream connection and manages message flow.
type subscriber struct {
	ID     string
	conn   types.Conn
	stream *eventStream
	exec   executor
	send   chan streamMessage

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func newSubscriber(id string, conn types.Conn, stream *eventStream, exec executor) *subscriber {
	return &subscriber{
		ID:     id,
		conn:   conn,
		stream: stream,
		exec:   exec,
		send:   make(chan streamMessage, subscriberBuffer),
		done:   make(chan struct{}),
	}
}

// readPump reads commands from the connection and queues their results.
func (s *subscriber) readPump() {
	defer func() {
		s.stream.remove(s)
		s.conn.Close()
	}()

	for {
		var cmd types.Command
		if err := s.conn.ReadJSON(&cmd); err != nil {
			return
		}
		res := streamMessage{Type: "result", Command: cmd.Name}
		out, err := s.exec.Execute(cmd)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Result = out
		}
		if !s.offer(res) {
			s.stream.logger.Warn().Str("subscriber", s.ID).Msg("dropping command result, buffer full")
		}
	}
}

// writePump writes queued messages to the connection.
func (s *subscriber) writePump() {
	defer s.conn.Close()

	for {
		select {
		case msg := <-s.send:
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// offer queues msg without blocking. It reports false when the
// subscriber is closed or its buffer is full.
func (s *subscriber) offer(msg streamMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// close signals the subscriber to stop its pumps.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// eventStream fans bridge events out to every subscriber.
type eventStream struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

func newEventStream(logger zerolog.Logger) *eventStream {
	return &eventStream{
		logger:      logger.With().Str("component", "event-stream").Logger(),
		subscribers: make(map[string]*subscriber),
	}
}

func (es *eventStream) add(s *subscriber) {
	es.mu.Lock()
	es.subscribers[s.ID] = s
	n := len(es.subscribers)
	es.mu.Unlock()
	es.logger.Info().Str("subscriber", s.ID).Int("total", n).Msg("subscriber connected")
}

func (es *eventStream) remove(s *subscriber) {
	es.mu.Lock()
	if _, ok := es.subscribers[s.ID]; !ok {
		es.mu.Unlock()
		return
	}
	delete(es.subscribers, s.ID)
	n := len(es.subscribers)
	es.mu.Unlock()

	s.close()
	es.logger.Info().Str("subscriber", s.ID).Int("total", n).Msg("subscriber disconnected")
}

// publish queues e for every subscriber. Slow subscribers miss events.
func (es *eventStream) publish(e types.Event) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	for id, s := range es.subscribers {
		if !s.offer(streamMessage{Type: "event", Event: &e}) {
			es.logger.Warn().Str("subscriber", id).Str("kind", string(e.Kind)).Msg("dropping event, buffer full")
		}
	}
}

// count returns the number of connected subscribers.
func (es *eventStream) count() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.subscribers)
}

func (es *eventStream) closeAll() {
	es.mu.Lock()
	subs := es.subscribers
	es.subscribers = make(map[string]*subscriber)
	es.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}
