package config

import "time"

// Config holds gateway configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	RedisURL          string        `mapstructure:"redis_url" yaml:"redis_url"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	AuthGrace         time.Duration `mapstructure:"auth_grace" yaml:"auth_grace"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxConnections    int           `mapstructure:"max_connections" yaml:"max_connections"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults. The
// heartbeat interval must match the client SDK's ping cadence: the sweep
// closes sessions idle for more than twice this value.
func Default() Config {
	return Config{
		Addr:              ":8080",
		RedisURL:          "redis://localhost:6379",
		JWTSecret:         "dev-secret-change-me",
		HeartbeatInterval: 30 * time.Second,
		AuthGrace:         30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MaxConnections:    10000,
		LogLevel:          "info",
	}
}
