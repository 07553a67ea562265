// Package transporttest provides an in-memory transport whose socket
// and channel callbacks are driven by the test.
package transporttest

import (
	"sync"

	"github.com/orchestra-mcp/phxscope/src/types"
)

// Transport records every socket it dials.
type Transport struct {
	mu      sync.Mutex
	sockets []*Socket
}

// New creates an empty transport.
func New() *Transport { return &Transport{} }

// Dial implements types.Transport.
func (t *Transport) Dial(endpoint string) types.Socket {
	s := &Socket{Endpoint: endpoint, channels: make(map[string][]*Channel)}
	t.mu.Lock()
	t.sockets = append(t.sockets, s)
	t.mu.Unlock()
	return s
}

// Sockets returns the dialed sockets in dial order.
func (t *Transport) Sockets() []*Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Socket(nil), t.sockets...)
}

// Last returns the most recently dialed socket, or nil.
func (t *Transport) Last() *Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sockets) == 0 {
		return nil
	}
	return t.sockets[len(t.sockets)-1]
}

// Socket is a fake socket.
type Socket struct {
	Endpoint string

	mu           sync.Mutex
	onOpen       []func()
	onError      []func(error)
	connected    bool
	disconnected int
	channels     map[string][]*Channel
}

func (s *Socket) OnOpen(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = append(s.onOpen, cb)
}

func (s *Socket) OnError(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = append(s.onError, cb)
}

func (s *Socket) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
}

func (s *Socket) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected++
	return nil
}

func (s *Socket) Channel(topic string) types.Channel {
	ch := &Channel{Topic: topic}
	s.mu.Lock()
	s.channels[topic] = append(s.channels[topic], ch)
	s.mu.Unlock()
	return ch
}

// Open fires the registered open callbacks.
func (s *Socket) Open() {
	s.mu.Lock()
	cbs := append([]func(){}, s.onOpen...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// Fail fires the registered error callbacks.
func (s *Socket) Fail(err error) {
	s.mu.Lock()
	cbs := append([]func(error){}, s.onError...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(err)
	}
}

// Connected reports whether Connect was called.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnects returns how often Disconnect was called.
func (s *Socket) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// LastChannel returns the most recent channel created for topic, or nil.
func (s *Socket) LastChannel(topic string) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	chs := s.channels[topic]
	if len(chs) == 0 {
		return nil
	}
	return chs[len(chs)-1]
}

// Pushed is one recorded push.
type Pushed struct {
	Event   string
	Payload any
}

// Channel is a fake channel.
type Channel struct {
	Topic string
	// PushErr, when set, is returned by Push.
	PushErr error

	mu      sync.Mutex
	handler func(string, any) any
	joins   []*Reply
	pushes  []Pushed
}

func (c *Channel) Join() types.Reply {
	r := &Reply{hooks: make(map[string][]func(any))}
	c.mu.Lock()
	c.joins = append(c.joins, r)
	c.mu.Unlock()
	return r
}

func (c *Channel) Push(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PushErr != nil {
		return c.PushErr
	}
	c.pushes = append(c.pushes, Pushed{Event: event, Payload: payload})
	return nil
}

func (c *Channel) OnMessage(handler func(string, any) any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Deliver runs the inbound handler and returns its acknowledgment.
func (c *Channel) Deliver(event string, payload any) any {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return payload
	}
	return h(event, payload)
}

// Pushes returns the recorded pushes.
func (c *Channel) Pushes() []Pushed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Pushed(nil), c.pushes...)
}

// LastJoin returns the most recent join reply, or nil.
func (c *Channel) LastJoin() *Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.joins) == 0 {
		return nil
	}
	return c.joins[len(c.joins)-1]
}

// Reply is a fake join reply.
type Reply struct {
	mu    sync.Mutex
	hooks map[string][]func(any)
}

func (r *Reply) Receive(status string, cb func(any)) types.Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[status] = append(r.hooks[status], cb)
	return r
}

// Resolve fires the callbacks registered for status.
func (r *Reply) Resolve(status string, response any) {
	r.mu.Lock()
	cbs := append([]func(any){}, r.hooks[status]...)
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(response)
	}
}
