// Package config loads command configuration from the environment and the
// command line. Flags override environment variables, which override the
// built-in defaults.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	flag "github.com/spf13/pflag"
)

// Logging selects the slog handler for a command.
type Logging struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

func (l *Logging) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&l.Level, "log-level", l.Level, "Log level: debug, info, warn or error")
	fs.StringVar(&l.Format, "log-format", l.Format, "Log format: text or json")
}

func (l Logging) validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return err
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("config: unknown log format %q", l.Format)
	}
}

// NewLogger builds the configured slog logger writing to w.
func (l Logging) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Server configures mcp-compat-server.
type Server struct {
	Addr            string        `env:"ADDR" envDefault:":3002"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	KeepAlive       time.Duration `env:"KEEPALIVE"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Logging         Logging
}

// LoadServer reads MCP_COMPAT_* variables, then applies args as flags.
func LoadServer(args []string) (Server, *flag.FlagSet, error) {
	var cfg Server
	if err := parseEnvPrefixed(&cfg, "MCP_COMPAT_"); err != nil {
		return Server{}, nil, err
	}

	fs := flag.NewFlagSet("mcp-compat-server", flag.ContinueOnError)
	fs.StringVarP(&cfg.Addr, "addr", "a", cfg.Addr, "Listen address")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origin", cfg.AllowedOrigins, "CORS origin allowed to call the server (repeatable)")
	fs.DurationVar(&cfg.KeepAlive, "keepalive", cfg.KeepAlive, "Ping interval for idle sessions (0 disables)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close streamable sessions without traffic for this long (0 disables)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Grace period for draining on shutdown")
	cfg.Logging.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Server{}, fs, err
	}

	if cfg.Addr == "" {
		return Server{}, fs, fmt.Errorf("config: listen address is empty")
	}
	if cfg.KeepAlive < 0 {
		return Server{}, fs, fmt.Errorf("config: negative keepalive %s", cfg.KeepAlive)
	}
	if cfg.IdleTimeout < 0 {
		return Server{}, fs, fmt.Errorf("config: negative idle timeout %s", cfg.IdleTimeout)
	}
	if err := cfg.Logging.validate(); err != nil {
		return Server{}, fs, err
	}
	return cfg, fs, nil
}

// Probe configures mcp-probe.
type Probe struct {
	Endpoint    string        `env:"ENDPOINT" envDefault:"http://localhost:3002/mcp"`
	SSEEndpoint string        `env:"SSE_ENDPOINT"`
	PreferSSE   bool          `env:"PREFER_SSE"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
	Headers     []string      `env:"HEADERS" envSeparator:","`
	Tool        string        `env:"CALL"`
	Arguments   string        `env:"ARGS" envDefault:"{}"`
	Trace       bool          `env:"TRACE"`
	Logging     Logging
}

// LoadProbe reads MCP_PROBE_* variables, then applies args as flags.
func LoadProbe(args []string) (Probe, *flag.FlagSet, error) {
	var cfg Probe
	if err := parseEnvPrefixed(&cfg, "MCP_PROBE_"); err != nil {
		return Probe{}, nil, err
	}

	fs := flag.NewFlagSet("mcp-probe", flag.ContinueOnError)
	fs.StringVarP(&cfg.Endpoint, "endpoint", "e", cfg.Endpoint, "Streamable HTTP endpoint")
	fs.StringVar(&cfg.SSEEndpoint, "sse-endpoint", cfg.SSEEndpoint, "Legacy SSE endpoint (default: sibling /sse of --endpoint)")
	fs.BoolVar(&cfg.PreferSSE, "prefer-sse", cfg.PreferSSE, "Skip the streamable attempt")
	fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Timeout for connecting and each call")
	fs.StringArrayVarP(&cfg.Headers, "header", "H", cfg.Headers, "Extra request header as Name: value (repeatable)")
	fs.StringVarP(&cfg.Tool, "call", "c", cfg.Tool, "Tool to call after listing")
	fs.StringVarP(&cfg.Arguments, "args", "A", cfg.Arguments, "Tool arguments as a JSON object")
	fs.BoolVar(&cfg.Trace, "trace", cfg.Trace, "Log every JSON-RPC message at debug level")
	cfg.Logging.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Probe{}, fs, err
	}

	if cfg.Endpoint == "" && cfg.SSEEndpoint == "" {
		return Probe{}, fs, fmt.Errorf("config: no endpoint configured")
	}
	if err := cfg.Logging.validate(); err != nil {
		return Probe{}, fs, err
	}
	return cfg, fs, nil
}

// HTTPHeaders parses the "Name: value" entries of Headers.
func (p Probe) HTTPHeaders() (http.Header, error) {
	if len(p.Headers) == 0 {
		return nil, nil
	}
	h := make(http.Header, len(p.Headers))
	for _, entry := range p.Headers {
		name, value, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("config: malformed header %q, expected Name: value", entry)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

// parseEnvPrefixed loads target from environment variables named prefix plus
// each field's env tag.
func parseEnvPrefixed(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
