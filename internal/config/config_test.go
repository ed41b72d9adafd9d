package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Registry.Backend)
	assert.Equal(t, "tcp", cfg.Receiver.Transport)
	assert.Equal(t, 9000, cfg.Receiver.Port)
	assert.Equal(t, 65000, cfg.Receiver.ReadSize)
	assert.Equal(t, 4*1024*1024, cfg.Receiver.RingSize)
	assert.False(t, cfg.Receiver.FlushOnEOF)
	assert.Equal(t, 120*time.Millisecond, cfg.Receiver.SRT.Latency)
	assert.Equal(t, 8*1024*1024, cfg.Parser.MaxUnitSize)
	assert.Zero(t, cfg.Assembler.MaxPendingVCL)
	assert.Equal(t, 30.0, cfg.Sender.FPS)
	assert.True(t, cfg.Sender.RepeatParameterSets)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8181

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: false

receiver:
  transport: "srt"
  port: 9710
  read_size: 1316
  ring_size: 1048576
  srt:
    latency: 200ms
    passphrase: "0123456789abcdef"

parser:
  max_unit_size: 2097152

assembler:
  max_pending_vcl: 8

recorder:
  enabled: true
  dir: "/tmp/nalrelay"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "srt", cfg.Receiver.Transport)
	assert.Equal(t, 1316, cfg.Receiver.ReadSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Receiver.SRT.Latency)
	assert.Equal(t, "0123456789abcdef", cfg.Receiver.SRT.Passphrase)
	assert.Equal(t, 2097152, cfg.Parser.MaxUnitSize)
	assert.Equal(t, 8, cfg.Assembler.MaxPendingVCL)
	assert.True(t, cfg.Recorder.Enabled)
	assert.Equal(t, "/tmp/nalrelay", cfg.Recorder.Dir)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NALRELAY_RECEIVER_TRANSPORT", "quic")
	t.Setenv("NALRELAY_ASSEMBLER_MAX_PENDING_VCL", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "quic", cfg.Receiver.Transport)
	assert.Equal(t, 4, cfg.Assembler.MaxPendingVCL)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   func(t *testing.T) string
		errMsg string
	}{
		{
			name:   "missing file",
			path:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.yaml") },
			errMsg: "failed to read config",
		},
		{
			name: "invalid transport",
			path: func(t *testing.T) string {
				return writeConfig(t, "receiver:\n  transport: udp\n")
			},
			errMsg: "unsupported transport",
		},
		{
			name: "missing server cert",
			path: func(t *testing.T) string {
				return writeConfig(t, "server:\n  tls_cert_file: /nonexistent/cert.pem\n  tls_key_file: /nonexistent/key.pem\n")
			},
			errMsg: "TLS certificate file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.path(t))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
