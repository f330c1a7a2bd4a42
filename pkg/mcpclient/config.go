package mcpclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	Endpoint  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// SlogRPCLogger returns an RPCLogger writing each message to logger at debug
// level.
func SlogRPCLogger(logger *slog.Logger) RPCLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return func(evt RPCLogEvent) {
		logger.Debug("jsonrpc", "direction", evt.Direction, "endpoint", evt.Endpoint, "message", string(evt.Message))
	}
}

// Config describes how to reach a server.
type Config struct {
	// Endpoint is the streamable HTTP endpoint, for example
	// "http://localhost:3002/mcp".
	Endpoint string
	// SSEEndpoint is the legacy event-stream endpoint. Defaults to a sibling
	// "sse" path of Endpoint.
	SSEEndpoint string
	// PreferSSE skips the streamable attempt.
	PreferSSE bool
	// HTTPClient is used for every request. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Headers are added to every outbound request.
	Headers http.Header
	// Timeout bounds Connect and each call made without a deadline. Zero
	// disables it.
	Timeout time.Duration
	// MaxRetries bounds reconnect attempts of the streamable transport.
	MaxRetries int
	// Implementation identifies the client to the server.
	Implementation *mcp.Implementation
	// RPCLogger observes JSON-RPC traffic when set.
	RPCLogger RPCLogger
	// Logger receives structured diagnostics.
	Logger *slog.Logger
}

func (c *Config) normalized() (Config, error) {
	if c == nil {
		c = &Config{}
	}
	cfg := *c
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.SSEEndpoint = strings.TrimSpace(cfg.SSEEndpoint)
	if cfg.Endpoint == "" && cfg.SSEEndpoint == "" {
		return Config{}, fmt.Errorf("mcpclient: endpoint missing")
	}
	if cfg.SSEEndpoint == "" {
		sse, err := siblingPath(cfg.Endpoint, "sse")
		if err != nil {
			return Config{}, err
		}
		cfg.SSEEndpoint = sse
	}
	if cfg.Endpoint == "" {
		cfg.PreferSSE = true
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Implementation == nil {
		cfg.Implementation = &mcp.Implementation{Name: "mcpclient", Version: "1.0.0"}
	} else {
		impl := *cfg.Implementation
		cfg.Implementation = &impl
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Headers = cloneHeader(cfg.Headers)
	return cfg, nil
}

// siblingPath replaces the last path segment of endpoint with name.
func siblingPath(endpoint, name string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("mcpclient: invalid endpoint %q: %w", endpoint, err)
	}
	dir := path.Dir(strings.TrimRight(u.Path, "/"))
	if dir == "." {
		dir = "/"
	}
	u.Path = path.Join(dir, name)
	u.RawQuery = ""
	return u.String(), nil
}
