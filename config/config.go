// Package config loads the bridge's TOML configuration.
//
//	[bridge]
//	listen = "127.0.0.1:8765"
//	path = "/executor"
//	command_timeout = "30s"
//
//	[servers.github]
//	url = "https://api.example.com/mcp"
//	timeout = "60s"
//	denied_tools = ["delete_repo"]
//
//	[logging]
//	level = "info"
//
//	[telemetry]
//	endpoint = "localhost:4317"
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/mcpbridge/bridge"
	"github.com/vinayprograms/mcpbridge/errors"
	"github.com/vinayprograms/mcpbridge/logging"
	"github.com/vinayprograms/mcpbridge/mcp"
	"github.com/vinayprograms/mcpbridge/telemetry"
)

// Duration is a time.Duration written as a string ("30s", "2m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full process configuration.
type Config struct {
	Bridge    BridgeConfig            `toml:"bridge"`
	Servers   map[string]ServerConfig `toml:"servers"`
	Logging   LoggingConfig           `toml:"logging"`
	Telemetry TelemetryConfig         `toml:"telemetry"`
	Shutdown  ShutdownConfig          `toml:"shutdown"`
}

// BridgeConfig configures the executor socket.
type BridgeConfig struct {
	Listen         string   `toml:"listen"`
	Path           string   `toml:"path"`
	CommandTimeout Duration `toml:"command_timeout"`
	PingInterval   Duration `toml:"ping_interval"`
	WriteTimeout   Duration `toml:"write_timeout"`
	MaxMessageSize int64    `toml:"max_message_size"`
	// AllowedOrigins are accepted in addition to local and extension origins.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// ServerConfig configures one remote MCP server.
type ServerConfig struct {
	URL         string            `toml:"url"`
	Headers     map[string]string `toml:"headers"`
	Timeout     Duration          `toml:"timeout"`
	DeniedTools []string          `toml:"denied_tools"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures tracing and the structured event sink.
type TelemetryConfig struct {
	Endpoint    string            `toml:"endpoint"`
	Protocol    string            `toml:"protocol"`
	Insecure    bool              `toml:"insecure"`
	Debug       bool              `toml:"debug"`
	SampleRatio float64           `toml:"sample_ratio"`
	Headers     map[string]string `toml:"headers"`

	// EventsProtocol is "http", "file" or "noop".
	EventsProtocol string `toml:"events_protocol"`
	EventsEndpoint string `toml:"events_endpoint"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	Timeout Duration `toml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	b := bridge.DefaultConfig()
	return &Config{
		Bridge: BridgeConfig{
			Listen:         "127.0.0.1:8765",
			Path:           bridge.DefaultPath,
			CommandTimeout: Duration{b.CommandTimeout},
			PingInterval:   Duration{b.PingInterval},
			WriteTimeout:   Duration{b.WriteTimeout},
			MaxMessageSize: b.MaxMessageSize,
		},
		Servers: map[string]ServerConfig{},
		Logging: LoggingConfig{Level: string(logging.LevelInfo)},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
		Shutdown: ShutdownConfig{Timeout: Duration{10 * time.Second}},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.InvalidInput("load config "+path, errors.WithCause(err))
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.InvalidInput("unknown config keys in " + path + ": " + strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Bridge.Listen == "" {
		return errors.InvalidInput("bridge.listen is required")
	}
	if !strings.HasPrefix(c.Bridge.Path, "/") {
		return errors.InvalidInput("bridge.path must start with /")
	}
	if c.Bridge.CommandTimeout.Duration <= 0 {
		return errors.InvalidInput("bridge.command_timeout must be positive")
	}
	for _, name := range c.ServerNames() {
		if strings.Contains(name, "__") {
			return errors.InvalidInput("server name " + name + " must not contain __")
		}
		u, err := url.Parse(c.Servers[name].URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.InvalidInput("servers." + name + ".url must be an http(s) URL")
		}
	}
	switch c.Telemetry.EventsProtocol {
	case "", "noop", "http", "file":
	default:
		return errors.InvalidInput("telemetry.events_protocol must be http, file or noop")
	}
	if c.Telemetry.EventsProtocol != "" && c.Telemetry.EventsProtocol != "noop" && c.Telemetry.EventsEndpoint == "" {
		return errors.InvalidInput("telemetry.events_endpoint is required for " + c.Telemetry.EventsProtocol)
	}
	return nil
}

// ServerNames returns configured server names, sorted.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MCP converts a server section into a client config carrying token.
func (s ServerConfig) MCP(token string) mcp.ServerConfig {
	return mcp.ServerConfig{
		URL:     s.URL,
		Headers: s.Headers,
		Token:   token,
		Timeout: s.Timeout.Duration,
	}
}

// BridgeConfig returns the bridge settings. Origins listed in
// AllowedOrigins are accepted alongside local and extension origins.
func (c *Config) BridgeConfig() bridge.Config {
	cfg := bridge.DefaultConfig()
	cfg.CommandTimeout = c.Bridge.CommandTimeout.Duration
	if c.Bridge.PingInterval.Duration > 0 {
		cfg.PingInterval = c.Bridge.PingInterval.Duration
	}
	if c.Bridge.WriteTimeout.Duration > 0 {
		cfg.WriteTimeout = c.Bridge.WriteTimeout.Duration
	}
	if c.Bridge.MaxMessageSize > 0 {
		cfg.MaxMessageSize = c.Bridge.MaxMessageSize
	}
	if len(c.Bridge.AllowedOrigins) > 0 {
		allowed := make(map[string]bool, len(c.Bridge.AllowedOrigins))
		for _, o := range c.Bridge.AllowedOrigins {
			allowed[strings.TrimRight(o, "/")] = true
		}
		cfg.CheckOrigin = bridge.AllowOrigins(allowed)
	}
	return cfg
}

// ProviderConfig returns the tracing provider settings, or false when
// tracing is not configured.
func (c *Config) ProviderConfig(version string) (telemetry.ProviderConfig, bool) {
	if c.Telemetry.Endpoint == "" {
		return telemetry.ProviderConfig{}, false
	}
	return telemetry.ProviderConfig{
		ServiceName:    telemetry.DefaultServiceName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Protocol:       c.Telemetry.Protocol,
		Insecure:       c.Telemetry.Insecure,
		Debug:          c.Telemetry.Debug,
		SampleRatio:    c.Telemetry.SampleRatio,
		Headers:        c.Telemetry.Headers,
	}, true
}
