package transport

import (
	"sync"

	"github.com/orchestra-mcp/phxscope/src/types"
)

// Channel is a topic on a Socket.
type Channel struct {
	socket *Socket
	topic  string

	mu      sync.Mutex
	joinRef string
	handler func(event string, payload any) any
}

// Join sends phx_join. The reply resolves when the server answers; a
// join that cannot be sent resolves as an error immediately.
func (c *Channel) Join() types.Reply {
	ref := c.socket.makeRef()
	c.mu.Lock()
	c.joinRef = ref
	c.mu.Unlock()

	reply := newReply()
	c.socket.await(ref, reply)
	err := c.socket.enqueue(types.Frame{
		JoinRef: ref,
		Ref:     ref,
		Topic:   c.topic,
		Event:   eventJoin,
		Payload: map[string]any{},
	})
	if err != nil {
		c.socket.forget(ref)
		reply.resolve(types.StatusError, map[string]any{"reason": err.Error()})
	}
	return reply
}

// Push sends event with payload on the channel.
func (c *Channel) Push(event string, payload any) error {
	c.mu.Lock()
	joinRef := c.joinRef
	c.mu.Unlock()

	return c.socket.enqueue(types.Frame{
		JoinRef: joinRef,
		Ref:     c.socket.makeRef(),
		Topic:   c.topic,
		Event:   event,
		Payload: payload,
	})
}

// OnMessage sets the inbound handler for every frame on the topic,
// replies included.
func (c *Channel) OnMessage(handler func(event string, payload any) any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// member reports whether a frame carrying joinRef belongs to the
// channel's current join. Frames without a join ref always do.
func (c *Channel) member(joinRef string) bool {
	if joinRef == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinRef == joinRef
}

func (c *Channel) handle(event string, payload any) any {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return payload
	}
	return h(event, payload)
}

// Reply is a pending join outcome. Callbacks registered after the
// outcome arrived fire immediately.
type Reply struct {
	mu       sync.Mutex
	received bool
	status   string
	response any
	hooks    map[string][]func(any)
}

func newReply() *Reply {
	return &Reply{hooks: make(map[string][]func(any))}
}

// Receive registers cb for status.
func (r *Reply) Receive(status string, cb func(response any)) types.Reply {
	r.mu.Lock()
	if r.received {
		matched, response := r.status == status, r.response
		r.mu.Unlock()
		if matched {
			cb(response)
		}
		return r
	}
	r.hooks[status] = append(r.hooks[status], cb)
	r.mu.Unlock()
	return r
}

func (r *Reply) resolve(status string, response any) {
	r.mu.Lock()
	if r.received {
		r.mu.Unlock()
		return
	}
	r.received = true
	r.status = status
	r.response = response
	cbs := r.hooks[status]
	r.hooks = nil
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(response)
	}
}
