package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/phxscope/config"
	"github.com/orchestra-mcp/phxscope/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTarget records commands executed through the relay.
type mockTarget struct {
	executed []types.Command
	err      error
}

func (m *mockTarget) Execute(cmd types.Command) (any, error) {
	m.executed = append(m.executed, cmd)
	return nil, m.err
}

// mockRelay records published events. Publish waits on block when set.
type mockRelay struct {
	available bool
	err       error
	block     chan struct{}

	mu        sync.Mutex
	published []types.Event
}

func (m *mockRelay) Publish(e types.Event) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, e)
	return m.err
}

func (m *mockRelay) events() []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Event(nil), m.published...)
}

func (m *mockRelay) Start() error    { return nil }
func (m *mockRelay) Stop() error     { return nil }
func (m *mockRelay) Available() bool { return m.available }

func redisConfig() config.RelayConfig {
	return config.DefaultConfig().Relay
}

func TestEventEnvelopeEncoding(t *testing.T) {
	e := types.Event{
		Kind:      types.EventMessageReceived,
		Topic:     "room:lobby",
		Event:     "shout",
		Payload:   map[string]any{"body": "hi"},
		Timestamp: time.Now().Truncate(time.Second),
	}
	data, err := json.Marshal(envelope{InstanceID: "node-1", Event: &e})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "node-1", raw["instance_id"])
	assert.NotContains(t, raw, "command")

	event := raw["event"].(map[string]any)
	assert.Equal(t, "message_received", event["kind"])
	assert.Equal(t, "room:lobby", event["topic"])
	assert.Equal(t, map[string]any{"body": "hi"}, event["payload"])
}

func TestRedisRelayExecutesRemoteCommands(t *testing.T) {
	target := &mockTarget{}
	r := NewRedisRelay(redisConfig(), target, zerolog.Nop())

	r.handleMessage([]byte(`{"instance_id":"other","command":{"command":"join","topic":"room:lobby"}}`))
	r.handleMessage([]byte(`{"command":{"command":"send","event":"ping","payload":"{}"}}`))

	require.Len(t, target.executed, 2)
	assert.Equal(t, types.Command{Name: types.CommandJoin, Topic: "room:lobby"}, target.executed[0])
	assert.Equal(t, types.CommandSend, target.executed[1].Name)
	assert.Equal(t, "{}", target.executed[1].Payload)
}

func TestRedisRelaySkipsOwnMessages(t *testing.T) {
	target := &mockTarget{}
	r := NewRedisRelay(redisConfig(), target, zerolog.Nop())

	data, err := json.Marshal(envelope{InstanceID: r.instanceID, Command: &types.Command{Name: types.CommandDisconnect}})
	require.NoError(t, err)
	r.handleMessage(data)

	assert.Empty(t, target.executed)
}

func TestRedisRelayIgnoresMalformedMessages(t *testing.T) {
	target := &mockTarget{}
	r := NewRedisRelay(redisConfig(), target, zerolog.Nop())

	r.handleMessage([]byte(`not json`))
	r.handleMessage([]byte(`{"instance_id":"other"}`))

	_, err := r.decodeCommand([]byte(`{"instance_id":"other"}`))
	assert.Error(t, err)
	assert.Empty(t, target.executed)
}

func TestRedisRelayCommandErrorIsContained(t *testing.T) {
	target := &mockTarget{err: errors.New("connection is not open")}
	r := NewRedisRelay(redisConfig(), target, zerolog.Nop())

	assert.NotPanics(t, func() {
		r.handleMessage([]byte(`{"command":{"command":"join","topic":"x"}}`))
	})
	assert.Len(t, target.executed, 1)
}

func TestRedisRelayChannels(t *testing.T) {
	cfg := redisConfig()
	cfg.Prefix = "test:"
	r := NewRedisRelay(cfg, nil, zerolog.Nop())
	assert.Equal(t, "test:events", r.eventsChannel())
	assert.Equal(t, "test:commands", r.commandsChannel())
}

func TestRedisRelayAvailableFalseBeforeStart(t *testing.T) {
	r := NewRedisRelay(redisConfig(), &mockTarget{}, zerolog.Nop())
	assert.False(t, r.Available())
}

func TestRedisRelayInstanceIDUnique(t *testing.T) {
	r1 := NewRedisRelay(redisConfig(), nil, zerolog.Nop())
	r2 := NewRedisRelay(redisConfig(), nil, zerolog.Nop())
	assert.NotEqual(t, r1.instanceID, r2.instanceID)
}

func TestAMQPPublishing(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg, err := publishing(types.Event{Kind: types.EventJoined, Topic: "room:lobby", Timestamp: ts})
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "phxscope", msg.AppId)
	assert.Equal(t, "joined", msg.Type)
	assert.Equal(t, ts, msg.Timestamp)
	assert.NotEmpty(t, msg.MessageId)

	var e types.Event
	require.NoError(t, json.Unmarshal(msg.Body, &e))
	assert.Equal(t, "room:lobby", e.Topic)
}

func TestAMQPRelayNotStarted(t *testing.T) {
	r := NewAMQPRelay(redisConfig(), zerolog.Nop())
	assert.False(t, r.Available())
	assert.ErrorIs(t, r.Publish(types.Event{Kind: types.EventJoined}), ErrNotStarted)
	assert.NoError(t, r.Stop())
}

func TestNewSelectsDriver(t *testing.T) {
	cfg := redisConfig()

	r, err := New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, r)

	cfg.Driver = "redis"
	r, err = New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &RedisRelay{}, r)

	cfg.Driver = "amqp"
	r, err = New(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &AMQPRelay{}, r)

	cfg.Driver = "kafka"
	_, err = New(cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestForwarderPublishesInBackground(t *testing.T) {
	m := &mockRelay{available: true, err: errors.New("broker down")}
	f := NewForwarder(m, zerolog.Nop())
	defer f.Close()

	f.Handle(types.Event{Kind: types.EventJoined})
	f.Handle(types.Event{Kind: types.EventMessageReceived})
	require.Eventually(t, func() bool { return len(m.events()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, types.EventJoined, m.events()[0].Kind)
}

func TestForwarderSkipsUnavailableRelay(t *testing.T) {
	m := &mockRelay{}
	f := NewForwarder(m, zerolog.Nop())
	f.Handle(types.Event{Kind: types.EventJoined})
	f.Close()
	assert.Empty(t, m.events())
}

func TestForwarderDoesNotBlockOnSlowBroker(t *testing.T) {
	release := make(chan struct{})
	m := &mockRelay{available: true, block: release}
	f := NewForwarder(m, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < forwardBuffer*2; i++ {
			f.Handle(types.Event{Kind: types.EventMessageReceived})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked on a stalled broker")
	}

	close(release)
	f.Close()
	assert.LessOrEqual(t, len(m.events()), forwardBuffer+1)

	f.Handle(types.Event{Kind: types.EventJoined})
}
