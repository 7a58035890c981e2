package config

import (
	"time"

	"github.com/kothbackend/kothd/pkg/admin"
	"github.com/kothbackend/kothd/pkg/logging"
	"github.com/kothbackend/kothd/pkg/requestlog"
	"github.com/kothbackend/kothd/pkg/sse"
)

// Config is the complete kothd configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Traffic TrafficConfig `yaml:"traffic"`
	Admin   AdminConfig   `yaml:"admin"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the listener and the instrumented backend.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`
	// Upstream is the game backend requests are proxied to. Empty serves
	// a JSON 404 for every non-viewer route.
	Upstream          string        `yaml:"upstream"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// TrafficConfig configures capture, storage and fan-out.
type TrafficConfig struct {
	Capacity         int      `yaml:"capacity"`
	MaxBodyBytes     int      `yaml:"max_body_bytes"`
	SubscriberBuffer int      `yaml:"subscriber_buffer"`
	ExcludePrefixes  []string `yaml:"exclude_prefixes"`
	ExcludePatterns  []string `yaml:"exclude_patterns"`
	RedactHeaders    []string `yaml:"redact_headers"`
}

// AdminConfig configures the viewer endpoints.
type AdminConfig struct {
	Prefix             string        `yaml:"prefix"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	StreamWriteTimeout time.Duration `yaml:"stream_write_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File additionally receives JSON records when set.
	File string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	traffic := requestlog.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Addr:              ":8000",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Traffic: TrafficConfig{
			Capacity:         requestlog.DefaultCapacity,
			MaxBodyBytes:     traffic.MaxBodyBytes,
			SubscriberBuffer: requestlog.DefaultMailboxSize,
			ExcludePrefixes:  traffic.ExcludePrefixes,
			ExcludePatterns:  []string{},
			RedactHeaders:    traffic.RedactHeaders,
		},
		Admin: AdminConfig{
			Prefix:             admin.DefaultPrefix,
			KeepaliveInterval:  sse.DefaultKeepaliveInterval,
			StreamWriteTimeout: sse.DefaultWriteTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// MiddlewareOptions converts the traffic section for requestlog.NewMiddleware.
func (c *Config) MiddlewareOptions() requestlog.Options {
	return requestlog.Options{
		ExcludePrefixes: c.Traffic.ExcludePrefixes,
		ExcludePatterns: c.Traffic.ExcludePatterns,
		MaxBodyBytes:    c.Traffic.MaxBodyBytes,
		RedactHeaders:   c.Traffic.RedactHeaders,
	}
}

// LoggingConfig converts the log section.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.Log.Level)
	cfg.Format = logging.ParseFormat(c.Log.Format)
	return cfg
}
