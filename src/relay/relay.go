// Package relay mirrors bridge traffic to Redis pub/sub or RabbitMQ so
// other processes can observe it, and accepts remote commands over Redis.
package relay

import (
	"fmt"
	"sync"

	"github.com/orchestra-mcp/phxscope/config"
	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
)

// Relay mirrors bridge events to an external broker.
type Relay interface {
	// Publish sends an event to the broker.
	Publish(e types.Event) error

	// Start connects to the broker and begins listening, if the driver
	// accepts remote commands.
	Start() error

	// Stop shuts down the broker connection.
	Stop() error

	// Available reports whether the relay is connected and operational.
	Available() bool
}

// CommandTarget executes commands received from the broker. The
// service implements it.
type CommandTarget interface {
	Execute(cmd types.Command) (any, error)
}

// New builds the relay selected by cfg.Driver. It returns nil, nil when
// relaying is disabled.
func New(cfg config.RelayConfig, target CommandTarget, logger zerolog.Logger) (Relay, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "redis":
		return NewRedisRelay(cfg, target, logger), nil
	case "amqp":
		return NewAMQPRelay(cfg, logger), nil
	default:
		return nil, fmt.Errorf("relay: unknown driver %q", cfg.Driver)
	}
}

const forwardBuffer = 256

// Forwarder publishes events through a relay from a single goroutine,
// so a slow or unreachable broker never blocks the goroutine that
// emitted the event. Events are dropped while the queue is full.
type Forwarder struct {
	relay  Relay
	logger zerolog.Logger
	queue  chan types.Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewForwarder starts a forwarder for r. Stop it with Close.
func NewForwarder(r Relay, logger zerolog.Logger) *Forwarder {
	f := &Forwarder{
		relay:  r,
		logger: logger.With().Str("component", "relay").Logger(),
		queue:  make(chan types.Event, forwardBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Handle queues e for publishing. It never blocks and is a no-op after
// Close.
func (f *Forwarder) Handle(e types.Event) {
	select {
	case <-f.stop:
		return
	default:
	}
	select {
	case f.queue <- e:
	default:
		f.logger.Warn().Str("kind", string(e.Kind)).Msg("relay queue full, dropping event")
	}
}

// Close stops the forwarder. Queued events that were not published yet
// are discarded.
func (f *Forwarder) Close() {
	f.once.Do(func() { close(f.stop) })
	<-f.done
}

func (f *Forwarder) run() {
	defer close(f.done)
	for {
		select {
		case e := <-f.queue:
			f.publish(e)
		case <-f.stop:
			return
		}
	}
}

func (f *Forwarder) publish(e types.Event) {
	if !f.relay.Available() {
		return
	}
	if err := f.relay.Publish(e); err != nil {
		f.logger.Warn().Err(err).Str("kind", string(e.Kind)).Msg("relay publish failed")
	}
}
