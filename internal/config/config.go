package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zsiec/nalrelay/internal/assembler"
	"github.com/zsiec/nalrelay/internal/parser"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Registry  RegistryConfig   `mapstructure:"registry"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Receiver  ReceiverConfig   `mapstructure:"receiver"`
	Parser    parser.Config    `mapstructure:"parser"`
	Assembler assembler.Config `mapstructure:"assembler"`
	Recorder  RecorderConfig   `mapstructure:"recorder"`
	Sender    SenderConfig     `mapstructure:"sender"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	HTTP3Port       int           `mapstructure:"http3_port"` // 0 disables HTTP/3
	TLSCertFile     string        `mapstructure:"tls_cert_file"`
	TLSKeyFile      string        `mapstructure:"tls_key_file"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// RegistryConfig selects where active streams are published.
type RegistryConfig struct {
	Backend           string        `mapstructure:"backend"` // memory or redis
	KeyPrefix         string        `mapstructure:"key_prefix"`
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// ReceiverConfig configures the ingest listener and per-stream pipeline.
type ReceiverConfig struct {
	Transport      string        `mapstructure:"transport"` // tcp, quic or srt
	ListenAddr     string        `mapstructure:"listen_addr"`
	Port           int           `mapstructure:"port"`
	ReadSize       int           `mapstructure:"read_size"`
	RingSize       int           `mapstructure:"ring_size"`
	MaxConnections int           `mapstructure:"max_connections"`
	AcceptRate     float64       `mapstructure:"accept_rate"` // connections per second, 0 = unlimited
	AcceptBurst    int           `mapstructure:"accept_burst"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	FlushOnEOF     bool          `mapstructure:"flush_on_eof"`
	TLS            TLSConfig     `mapstructure:"tls"`
	SRT            SRTConfig     `mapstructure:"srt"`
	QUIC           QUICConfig    `mapstructure:"quic"`
}

// TLSConfig is used by the QUIC transport. Empty files select a generated
// self-signed certificate.
type TLSConfig struct {
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	ServerName         string `mapstructure:"server_name"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type SRTConfig struct {
	Latency     time.Duration `mapstructure:"latency"`
	Passphrase  string        `mapstructure:"passphrase"` // 10-79 chars, empty disables encryption
	PayloadSize int           `mapstructure:"payload_size"`
	StreamID    string        `mapstructure:"stream_id"`
}

type QUICConfig struct {
	MaxIdleTimeout  time.Duration `mapstructure:"max_idle_timeout"`
	KeepAlivePeriod time.Duration `mapstructure:"keep_alive_period"`
}

// RecorderConfig controls the MPEG-TS recording sink.
type RecorderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// SenderConfig configures nalsend.
type SenderConfig struct {
	Transport           string        `mapstructure:"transport"`
	Address             string        `mapstructure:"address"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	ChunkSize           int           `mapstructure:"chunk_size"` // 0 writes whole units
	FPS                 float64       `mapstructure:"fps"`        // 0 disables pacing
	RepeatParameterSets bool          `mapstructure:"repeat_parameter_sets"`
	Loop                bool          `mapstructure:"loop"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxDelay   time.Duration `mapstructure:"reconnect_max_delay"`
	MaxReconnects       int           `mapstructure:"max_reconnects"` // 0 retries forever
	TLS                 TLSConfig     `mapstructure:"tls"`
	SRT                 SRTConfig     `mapstructure:"srt"`
}

// Load reads configPath (optional), applies NALRELAY_* environment
// overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("NALRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.http3_port", 0)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug_endpoints", false)

	// Redis defaults
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	// Registry defaults
	v.SetDefault("registry.backend", "memory")
	v.SetDefault("registry.key_prefix", "nalrelay:streams:")
	v.SetDefault("registry.ttl", "1m")
	v.SetDefault("registry.heartbeat_interval", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Receiver defaults
	v.SetDefault("receiver.transport", "tcp")
	v.SetDefault("receiver.listen_addr", "0.0.0.0")
	v.SetDefault("receiver.port", 9000)
	v.SetDefault("receiver.read_size", 65000)
	v.SetDefault("receiver.ring_size", 4*1024*1024)
	v.SetDefault("receiver.max_connections", 16)
	v.SetDefault("receiver.accept_rate", 5.0)
	v.SetDefault("receiver.accept_burst", 10)
	v.SetDefault("receiver.idle_timeout", "30s")
	v.SetDefault("receiver.flush_on_eof", false)
	v.SetDefault("receiver.srt.latency", "120ms")
	v.SetDefault("receiver.srt.payload_size", 1316)
	v.SetDefault("receiver.quic.max_idle_timeout", "30s")
	v.SetDefault("receiver.quic.keep_alive_period", "10s")

	// Pipeline defaults
	v.SetDefault("parser.max_unit_size", 8*1024*1024)
	v.SetDefault("assembler.max_pending_vcl", 0)

	// Recorder defaults
	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.dir", "./recordings")

	// Sender defaults
	v.SetDefault("sender.transport", "tcp")
	v.SetDefault("sender.address", "127.0.0.1:9000")
	v.SetDefault("sender.dial_timeout", "5s")
	v.SetDefault("sender.write_timeout", "5s")
	v.SetDefault("sender.chunk_size", 0)
	v.SetDefault("sender.fps", 30.0)
	v.SetDefault("sender.repeat_parameter_sets", true)
	v.SetDefault("sender.loop", false)
	v.SetDefault("sender.reconnect_delay", "500ms")
	v.SetDefault("sender.reconnect_max_delay", "10s")
	v.SetDefault("sender.max_reconnects", 0)
	v.SetDefault("sender.srt.latency", "120ms")
	v.SetDefault("sender.srt.payload_size", 1316)
}
