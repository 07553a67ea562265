package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/phxscope/config"
	"github.com/orchestra-mcp/phxscope/src/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const appID = "phxscope"

// ErrNotStarted is returned when publishing before Start.
var ErrNotStarted = errors.New("relay: not started")

// AMQPRelay publishes events to a fanout exchange. It does not accept
// commands.
type AMQPRelay struct {
	url      string
	exchange string
	logger   zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	active  bool
}

// NewAMQPRelay creates a relay publishing to cfg.Exchange.
func NewAMQPRelay(cfg config.RelayConfig, logger zerolog.Logger) *AMQPRelay {
	return &AMQPRelay{
		url:      cfg.AMQPURL,
		exchange: cfg.Exchange,
		logger:   logger.With().Str("component", "amqp-relay").Logger(),
	}
}

// Start dials the broker and declares the exchange.
func (r *AMQPRelay) Start() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	err = ch.ExchangeDeclare(
		r.exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn, r.channel, r.active = conn, ch, true
	r.mu.Unlock()

	r.logger.Info().Str("exchange", r.exchange).Msg("amqp relay started")
	return nil
}

// Publish sends an event to the exchange.
func (r *AMQPRelay) Publish(e types.Event) error {
	msg, err := publishing(e)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return ErrNotStarted
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.channel.PublishWithContext(ctx, r.exchange, string(e.Kind), false, false, msg)
}

// Stop closes the channel and the connection.
func (r *AMQPRelay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	r.active = false
	if err := r.channel.Close(); err != nil {
		r.logger.Debug().Err(err).Msg("amqp channel close failed")
	}
	return r.conn.Close()
}

// Available reports whether the relay is connected.
func (r *AMQPRelay) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active && !r.conn.IsClosed()
}

func publishing(e types.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		AppId:       appID,
		Type:        string(e.Kind),
		Timestamp:   ts,
		Body:        body,
	}, nil
}
