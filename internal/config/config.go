// Package config loads hub configuration from environment variables
// (with an optional config file), layered over sensible defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for a hub node.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Awareness AwarenessConfig `mapstructure:"awareness"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig is the HTTP/WebSocket listener.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Environment string   `mapstructure:"environment"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// AuthConfig controls JWT validation and the API-key allow list.
type AuthConfig struct {
	JWTSecret           string        `mapstructure:"jwt_secret"`
	JWTIssuer           string        `mapstructure:"jwt_issuer"`
	JWTAudience         string        `mapstructure:"jwt_audience"`
	JWTAccessExpiresIn  time.Duration `mapstructure:"jwt_access_expires_in"`
	JWTRefreshExpiresIn time.Duration `mapstructure:"jwt_refresh_expires_in"`
	APIKeys             []string      `mapstructure:"api_keys"`
	Required            bool          `mapstructure:"required"`
}

// WebSocketConfig controls connection limits and heartbeat cadence.
type WebSocketConfig struct {
	Path              string        `mapstructure:"path"`
	MaxConnections    int           `mapstructure:"max_connections"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	AuthTimeout       time.Duration `mapstructure:"auth_timeout"`
	MaxFrameBytes     int           `mapstructure:"max_frame_bytes"`
}

// SyncConfig controls delta batching (reserved for a future batched
// sync_response; the coordinator honors SyncBatchSize as an upper
// bound on a single reply's deltas array).
type SyncConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	BatchDelay time.Duration `mapstructure:"batch_delay"`
}

// StorageConfig selects and configures the persistence adapter.
type StorageConfig struct {
	Provider          string        `mapstructure:"provider"` // "memory" | "postgres"
	ConnectionString  string        `mapstructure:"connection_string"`
	PoolMinConns      int32         `mapstructure:"pool_min_conns"`
	PoolMaxConns      int32         `mapstructure:"pool_max_conns"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

// PubSubConfig selects and configures cross-node fan-out.
type PubSubConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Provider         string `mapstructure:"provider"` // "noop" | "redis" | "nats"
	ConnectionString string `mapstructure:"connection_string"`
	ChannelPrefix    string `mapstructure:"channel_prefix"`
}

// AwarenessConfig controls presence TTL and eviction cadence.
type AwarenessConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

// ShutdownConfig controls the drain deadline on SIGTERM/SIGINT.
type ShutdownConfig struct {
	DrainDeadline time.Duration `mapstructure:"drain_deadline"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ErrShortJWTSecret is returned (via panic, matching this node's
// fail-fast posture) when the configured secret is unsafe for
// production use.
const minJWTSecretLen = 32

// Load reads configuration from environment variables (prefixed
// SYNCKIT_, nested keys joined with underscores) and an optional
// config file, layered over defaults. It panics if running in
// production without a sufficiently long JWT secret.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("synckit")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("SYNCKIT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envReplacer{})

	_ = v.ReadInConfig() // config file is optional

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Server.Environment == "production" {
		if cfg.Auth.JWTSecret == "" {
			panic("config: jwt_secret is required in production")
		}
		if len(cfg.Auth.JWTSecret) < minJWTSecretLen {
			panic(fmt.Sprintf("config: jwt_secret must be at least %d characters in production (got %d)", minJWTSecretLen, len(cfg.Auth.JWTSecret)))
		}
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "development-secret-do-not-use-in-production!!"
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("auth.jwt_access_expires_in", 24*time.Hour)
	v.SetDefault("auth.jwt_refresh_expires_in", 7*24*time.Hour)
	v.SetDefault("auth.required", true)

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.max_connections", 10000)
	v.SetDefault("websocket.heartbeat_interval", 30*time.Second)
	v.SetDefault("websocket.heartbeat_timeout", 60*time.Second)
	v.SetDefault("websocket.auth_timeout", 10*time.Second)
	v.SetDefault("websocket.max_frame_bytes", 1<<20)

	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.batch_delay", 0)

	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.pool_min_conns", 2)
	v.SetDefault("storage.pool_max_conns", 10)
	v.SetDefault("storage.connection_timeout", 5*time.Second)

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.provider", "noop")
	v.SetDefault("pubsub.channel_prefix", "synckit:")

	v.SetDefault("awareness.ttl", 30*time.Second)
	v.SetDefault("awareness.eviction_interval", 30*time.Second)

	v.SetDefault("shutdown.drain_deadline", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// envReplacer maps nested mapstructure keys ("server.port") to the
// SYNCKIT_SERVER_PORT style environment variables operators expect.
type envReplacer struct{}

func (envReplacer) Replace(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, byte(r))
	}
	return string(out)
}
