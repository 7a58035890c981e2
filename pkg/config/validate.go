package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kothbackend/kothd/pkg/logging"
)

// Validate checks the configuration and returns every problem found,
// each wrapped with ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}
	if c.Server.Upstream != "" {
		u, err := url.Parse(c.Server.Upstream)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("server.upstream must be an absolute http(s) URL, got %q", c.Server.Upstream)
		}
	}
	if c.Server.ReadHeaderTimeout < 0 {
		add("server.read_header_timeout must not be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout must not be negative")
	}

	if c.Traffic.Capacity <= 0 {
		add("traffic.capacity must be positive, got %d", c.Traffic.Capacity)
	}
	if c.Traffic.MaxBodyBytes < 0 {
		add("traffic.max_body_bytes must not be negative (0 = unlimited)")
	}
	if c.Traffic.SubscriberBuffer <= 0 {
		add("traffic.subscriber_buffer must be positive, got %d", c.Traffic.SubscriberBuffer)
	}
	for _, p := range c.Traffic.ExcludePatterns {
		if !doublestar.ValidatePattern(strings.ToLower(p)) {
			add("traffic.exclude_patterns: invalid pattern %q", p)
		}
	}

	if !strings.HasPrefix(c.Admin.Prefix, "/") || c.Admin.Prefix == "/" {
		add("admin.prefix must start with / and not be the root, got %q", c.Admin.Prefix)
	}
	if c.Admin.KeepaliveInterval <= 0 {
		add("admin.keepalive_interval must be positive")
	}
	if c.Admin.StreamWriteTimeout <= 0 {
		add("admin.stream_write_timeout must be positive")
	}

	if !logging.ValidLevel(c.Log.Level) {
		add("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if !logging.ValidFormat(c.Log.Format) {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// ViewerExcluded reports whether the admin prefix is covered by the
// exclusion prefixes, so the viewer does not record its own traffic.
func (c *Config) ViewerExcluded() bool {
	prefix := strings.ToLower(c.Admin.Prefix)
	for _, p := range c.Traffic.ExcludePrefixes {
		if strings.HasPrefix(prefix, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
