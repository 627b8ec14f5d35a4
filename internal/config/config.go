package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tcpchat/internal/protocol"
)

// EnvPrefix is prepended to every environment override, e.g.
// TCPCHAT_SERVER_MAX_CLIENTS
const EnvPrefix = "TCPCHAT"

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Metrics MetricsConfig
}

type ServerConfig struct {
	Host    string
	Port    int
	Backlog int
	// MaxClients caps concurrent connections, 0 means unlimited
	MaxClients     int
	MaxPayloadSize int
	ReadBufferSize int
	// PollTimeout bounds each poller wait, negative blocks indefinitely
	PollTimeout time.Duration
	MaxEvents   int
}

type LogConfig struct {
	Level string
	File  string
}

type MetricsConfig struct {
	// Addr for the admin HTTP endpoint, empty disables it
	Addr string
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Backlog:        1024,
			MaxPayloadSize: protocol.DefaultMaxPayloadSize,
			ReadBufferSize: 4096,
			PollTimeout:    -1,
			MaxEvents:      1024,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.backlog", d.Server.Backlog)
	v.SetDefault("server.max_clients", d.Server.MaxClients)
	v.SetDefault("server.max_payload", d.Server.MaxPayloadSize)
	v.SetDefault("server.read_buffer", d.Server.ReadBufferSize)
	v.SetDefault("server.poll_timeout", d.Server.PollTimeout)
	v.SetDefault("server.max_events", d.Server.MaxEvents)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load reads defaults, then the optional config file at path, then
// TCPCHAT_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			Backlog:        v.GetInt("server.backlog"),
			MaxClients:     v.GetInt("server.max_clients"),
			MaxPayloadSize: v.GetInt("server.max_payload"),
			ReadBufferSize: v.GetInt("server.read_buffer"),
			PollTimeout:    v.GetDuration("server.poll_timeout"),
			MaxEvents:      v.GetInt("server.max_events"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
	}
	return cfg, nil
}

// Validate checks ranges. Port 0 is accepted so tests can bind an
// ephemeral port; the CLI enforces 1-65535 itself.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.Backlog <= 0 {
		errs = append(errs, fmt.Errorf("server.backlog must be positive"))
	}
	if c.Server.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("server.max_clients must not be negative"))
	}
	if c.Server.MaxPayloadSize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_payload must be positive"))
	}
	if c.Server.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("server.read_buffer must be positive"))
	}
	if c.Server.MaxEvents <= 0 {
		errs = append(errs, fmt.Errorf("server.max_events must be positive"))
	}
	return errors.Join(errs...)
}
