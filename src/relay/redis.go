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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const publishTimeout = 2 * time.Second

// envelope wraps an event or a command with the originating instance ID
// so that a node can skip its own published messages.
type envelope struct {
	InstanceID string         `json:"instance_id,omitempty"`
	Event      *types.Event   `json:"event,omitempty"`
	Command    *types.Command `json:"command,omitempty"`
}

// RedisRelay publishes events on "<prefix>events" and executes commands
// received on "<prefix>commands".
type RedisRelay struct {
	client     *redis.Client
	prefix     string
	instanceID string
	target     CommandTarget
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisRelay creates a relay over Redis pub/sub. A nil target
// disables remote commands.
func NewRedisRelay(cfg config.RelayConfig, target CommandTarget, logger zerolog.Logger) *RedisRelay {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisRelay{
		client:     client,
		prefix:     cfg.Prefix,
		instanceID: uuid.New().String(),
		target:     target,
		logger:     logger.With().Str("component", "redis-relay").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the command channel.
func (r *RedisRelay) Start() error {
	if err := r.client.Ping(r.ctx).Err(); err != nil {
		return err
	}

	channel := r.commandsChannel()
	sub := r.client.Subscribe(r.ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(r.ctx); err != nil {
		sub.Close()
		return err
	}

	r.mu.Lock()
	r.active = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.listen(sub)

	r.logger.Info().
		Str("instance_id", r.instanceID).
		Str("events", r.eventsChannel()).
		Str("commands", channel).
		Msg("redis relay started")
	return nil
}

// Publish sends an event to every subscriber of the events channel.
func (r *RedisRelay) Publish(e types.Event) error {
	data, err := json.Marshal(envelope{InstanceID: r.instanceID, Event: &e})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(r.ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, r.eventsChannel(), data).Err()
}

// Stop unsubscribes and closes the Redis connection.
func (r *RedisRelay) Stop() error {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	return r.client.Close()
}

// Available reports whether the relay is connected.
func (r *RedisRelay) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *RedisRelay) eventsChannel() string   { return r.prefix + "events" }
func (r *RedisRelay) commandsChannel() string { return r.prefix + "commands" }

func (r *RedisRelay) listen(sub *redis.PubSub) {
	defer r.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleMessage([]byte(msg.Payload))
		case <-r.ctx.Done():
			return
		}
	}
}

// handleMessage decodes a command envelope and executes it unless it
// originated from this instance.
func (r *RedisRelay) handleMessage(data []byte) {
	cmd, err := r.decodeCommand(data)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to decode relay command")
		return
	}
	if cmd == nil || r.target == nil {
		return
	}

	if _, err := r.target.Execute(*cmd); err != nil {
		r.logger.Warn().Err(err).Str("command", string(cmd.Name)).Msg("relayed command failed")
		return
	}
	r.logger.Debug().Str("command", string(cmd.Name)).Msg("relayed command executed")
}

// decodeCommand returns nil for envelopes this instance published.
func (r *RedisRelay) decodeCommand(data []byte) (*types.Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.InstanceID == r.instanceID {
		return nil, nil
	}
	if env.Command == nil {
		return nil, errors.New("envelope carries no command")
	}
	return env.Command, nil
}
