package config

import (
	"fmt"
	"os"
	"strings"
)

var validTransports = map[string]bool{
	"tcp":  true,
	"quic": true,
	"srt":  true,
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if c.Registry.Backend == "redis" {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Receiver.Validate(); err != nil {
		return fmt.Errorf("receiver config: %w", err)
	}

	if c.Parser.MaxUnitSize < 0 {
		return fmt.Errorf("parser config: max_unit_size cannot be negative")
	}

	if c.Assembler.MaxPendingVCL < 0 {
		return fmt.Errorf("assembler config: max_pending_vcl cannot be negative")
	}

	if c.Recorder.Enabled && c.Recorder.Dir == "" {
		return fmt.Errorf("recorder config: dir is required when recording is enabled")
	}

	if err := c.Sender.Validate(); err != nil {
		return fmt.Errorf("sender config: %w", err)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.Port)
	}

	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}

	if s.TLSCertFile != "" {
		if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
		}
		if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
		}
	}

	if s.HTTP3Port != 0 {
		if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
			return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
		}
		if s.TLSCertFile == "" {
			return fmt.Errorf("HTTP/3 requires tls_cert_file and tls_key_file")
		}
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (r *RegistryConfig) Validate() error {
	if r.Backend != "memory" && r.Backend != "redis" {
		return fmt.Errorf("backend must be 'memory' or 'redis', got %q", r.Backend)
	}

	if r.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if r.HeartbeatInterval <= 0 || r.HeartbeatInterval >= r.TTL {
		return fmt.Errorf("heartbeat_interval must be positive and shorter than ttl")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}

	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}

	return nil
}

func (r *ReceiverConfig) Validate() error {
	if !validTransports[r.Transport] {
		return fmt.Errorf("unsupported transport %q", r.Transport)
	}

	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("invalid port: %d", r.Port)
	}

	if r.ReadSize <= 0 {
		return fmt.Errorf("read_size must be positive")
	}

	if r.RingSize < r.ReadSize {
		return fmt.Errorf("ring_size (%d) must be at least read_size (%d)", r.RingSize, r.ReadSize)
	}

	if r.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative")
	}

	if r.AcceptRate < 0 {
		return fmt.Errorf("accept_rate cannot be negative")
	}

	if r.AcceptRate > 0 && r.AcceptBurst < 1 {
		return fmt.Errorf("accept_burst must be at least 1 when accept_rate is set")
	}

	if (r.TLS.CertFile == "") != (r.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be set together")
	}

	if err := r.SRT.Validate(); err != nil {
		return fmt.Errorf("srt: %w", err)
	}

	return nil
}

func (s *SRTConfig) Validate() error {
	if s.Passphrase != "" && (len(s.Passphrase) < 10 || len(s.Passphrase) > 79) {
		return fmt.Errorf("passphrase must be 10-79 characters")
	}

	if s.Latency < 0 {
		return fmt.Errorf("latency cannot be negative")
	}

	if s.PayloadSize < 0 || s.PayloadSize > 1456 {
		return fmt.Errorf("payload_size must be between 0 and 1456")
	}

	return nil
}

func (s *SenderConfig) Validate() error {
	if !validTransports[s.Transport] {
		return fmt.Errorf("unsupported transport %q", s.Transport)
	}

	if s.Address == "" {
		return fmt.Errorf("address is required")
	}

	if s.ChunkSize < 0 {
		return fmt.Errorf("chunk_size cannot be negative")
	}

	if s.FPS < 0 {
		return fmt.Errorf("fps cannot be negative")
	}

	if s.ReconnectDelay < 0 || s.ReconnectMaxDelay < s.ReconnectDelay {
		return fmt.Errorf("reconnect_max_delay must be at least reconnect_delay")
	}

	if err := s.SRT.Validate(); err != nil {
		return fmt.Errorf("srt: %w", err)
	}

	return nil
}
