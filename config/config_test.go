package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "2.0.0", cfg.ProtocolVersion)
	assert.Equal(t, 30, cfg.PingInterval)
	assert.Equal(t, 10, cfg.WriteTimeout)
	assert.Equal(t, 1024, cfg.ReadBufferSize)
	assert.Equal(t, 1024, cfg.WriteBufferSize)
	assert.Equal(t, 256, cfg.SendBufferSize)
	assert.True(t, cfg.AutoHistory)
	assert.Equal(t, "localhost:6379", cfg.Relay.RedisAddr)
	assert.Equal(t, "phxscope:", cfg.Relay.Prefix)
	assert.Empty(t, cfg.Relay.Driver)
	require.NoError(t, cfg.Validate())
}

func TestLoadJSONWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phxscope.jsonc")
	content := `{
		// local dev server
		"endpoint": "ws://localhost:4000/socket",
		"topics": ["room:lobby"],
		"ping_interval_seconds": 5,
		"history": {"event": ["ping", "shout"]},
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:4000/socket", cfg.Endpoint)
	assert.Equal(t, []string{"room:lobby"}, cfg.Topics)
	assert.Equal(t, 5, cfg.PingInterval)
	assert.Equal(t, []string{"ping", "shout"}, cfg.History["event"])
	// Unset keys keep their defaults.
	assert.Equal(t, "2.0.0", cfg.ProtocolVersion)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phxscope.yaml")
	content := "endpoint: ws://example.com/socket\nprotocol_version: \"1.0.0\"\nrelay:\n  driver: redis\n  prefix: \"dev:\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://example.com/socket", cfg.Endpoint)
	assert.Equal(t, "1.0.0", cfg.ProtocolVersion)
	assert.Equal(t, "redis", cfg.Relay.Driver)
	assert.Equal(t, "dev:", cfg.Relay.Prefix)
	assert.Equal(t, "localhost:6379", cfg.Relay.RedisAddr)
}

func TestLoadRejectsUnknownProtocol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"protocol_version": "3.0.0"}`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PHXSCOPE_ENDPOINT", "wss://prod.example.com/socket")
	t.Setenv("PHXSCOPE_TOPICS", "room:lobby, room:ops ,")
	t.Setenv("REDIS_ADDR", "redis.example.com:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PHXSCOPE_RELAY_PREFIX", "test:")
	t.Setenv("RABBITMQ_URL", "amqp://user:pw@mq:5672/")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, "wss://prod.example.com/socket", cfg.Endpoint)
	assert.Equal(t, []string{"room:lobby", "room:ops"}, cfg.Topics)
	assert.Equal(t, "redis.example.com:6380", cfg.Relay.RedisAddr)
	assert.Equal(t, "secret", cfg.Relay.RedisPassword)
	assert.Equal(t, 3, cfg.Relay.RedisDB)
	assert.Equal(t, "test:", cfg.Relay.Prefix)
	assert.Equal(t, "amqp://user:pw@mq:5672/", cfg.Relay.AMQPURL)
}

func TestApplyEnvInvalidDB(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, 0, cfg.Relay.RedisDB) // falls back to default
}

func TestValidateRejectsUnknownRelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Relay.Driver = "kafka"
	assert.Error(t, cfg.Validate())
}
