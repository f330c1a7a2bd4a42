package compatserver

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/session"
)

// Options configure a Server instance.
type Options struct {
	// Implementation identifies the server's MCP implementation metadata.
	Implementation *mcp.Implementation
	// Addr controls the listen address used by ListenAndServe. Defaults to ":3002".
	Addr string
	// StreamablePath mounts the streamable transport. Defaults to "/mcp".
	StreamablePath string
	// SSEPath mounts the legacy event stream. Defaults to "/sse".
	SSEPath string
	// MessagesPath mounts the legacy message endpoint. Defaults to "/messages".
	MessagesPath string
	// HealthPath mounts the health report. Defaults to "/healthz".
	HealthPath string
	// AllowedOrigins enables CORS for the listed origins. CORS is off when empty.
	AllowedOrigins []string
	// KeepAlive, when positive, pings every session at this interval and closes
	// sessions whose peer stops answering.
	KeepAlive time.Duration
	// IdleTimeout, when positive, closes streamable sessions that have had no
	// request in flight for this long. A client holding its event stream open
	// is never idle.
	IdleTimeout time.Duration
	// Sessions holds the session tables. A fresh Manager is created when nil.
	Sessions *session.Manager
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// ShutdownTimeout bounds how long ListenAndServe waits for sessions to
	// close and the HTTP server to drain after its context is cancelled.
	ShutdownTimeout time.Duration
}

func (o *Options) withDefaults() (Options, error) {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcp-compat-server",
			Title:   "Backwards Compatible MCP Server",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":3002"
	}
	opts.StreamablePath = normalizePath(opts.StreamablePath, "/mcp")
	opts.SSEPath = normalizePath(opts.SSEPath, "/sse")
	opts.MessagesPath = normalizePath(opts.MessagesPath, "/messages")
	opts.HealthPath = normalizePath(opts.HealthPath, "/healthz")
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.AllowedOrigins != nil {
		opts.AllowedOrigins = append([]string(nil), opts.AllowedOrigins...)
	}

	seen := make(map[string]string, 4)
	for name, path := range map[string]string{
		"streamable": opts.StreamablePath,
		"sse":        opts.SSEPath,
		"messages":   opts.MessagesPath,
		"health":     opts.HealthPath,
	} {
		if other, ok := seen[path]; ok {
			return Options{}, fmt.Errorf("compatserver: %s and %s endpoints share path %q", other, name, path)
		}
		seen[path] = name
	}
	return opts, nil
}

func normalizePath(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
