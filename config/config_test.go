package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-rpc/codec"
	"graph-rpc/schema"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, codec.CodecTypeBinary, cfg.Client.Codec)
	assert.Equal(t, "etcd", cfg.Registry.Type)

	j, err := cfg.JSON.Codec()
	require.NoError(t, err)
	assert.Equal(t, codec.DefaultJSONConfig(), j)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  listen: 127.0.0.1:7000
  request_timeout: 2s
  rate_limit: 50
client:
  codec: json
  balancer: consistent_hash
registry:
  type: memory
json:
  key_format: snake
  type_hint: true
  location: Europe/Berlin
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
	assert.Equal(t, 2*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 50.0, cfg.Server.RateLimit)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout, "unset keys keep defaults")
	assert.Equal(t, codec.CodecTypeJSON, cfg.Client.Codec)
	assert.Equal(t, "consistent_hash", cfg.Client.Balancer)
	assert.Equal(t, "memory", cfg.Registry.Type)

	j, err := cfg.JSON.Codec()
	require.NoError(t, err)
	assert.Equal(t, schema.KeySnake, j.KeyFormat)
	assert.True(t, j.TypeHint)
	assert.Equal(t, "Europe/Berlin", j.Location.String())
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "server:\n  listne: x\n", "listne"},
		{"bad codec", "client:\n  codec: xml\n", "unknown codec"},
		{"bad key format", "json:\n  key_format: shouty\n", "unknown key format"},
		{"bad balancer", "client:\n  balancer: fastest\n", "client.balancer"},
		{"bad registry", "registry:\n  type: consul\n", "registry.type"},
		{"no endpoints", "registry:\n  endpoints: []\n", "registry.endpoints"},
		{"short ttl", "registry:\n  ttl: 10ms\n", "registry.ttl"},
		{"bad location", "json:\n  location: Mars/Olympus\n", "json.location"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"pool size", "client:\n  pool_size: 0\n", "client.pool_size"},
		{"rate burst", "server:\n  rate_limit: 5\n  rate_burst: 0\n", "server.rate_burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "graphrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: :7777\n"), 0o644))
	t.Setenv(EnvVar, path)
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Listen)

	t.Setenv(EnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":1`)
}
