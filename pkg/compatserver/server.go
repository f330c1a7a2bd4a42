package compatserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/session"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/tools"
)

const sessionIDHeader = "Mcp-Session-Id"

// Server exposes a single MCP server through the streamable HTTP transport and
// the legacy HTTP+SSE transport.
type Server struct {
	opts     Options
	sessions *session.Manager

	server      *mcp.Server
	mux         *http.ServeMux
	httpHandler http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server

	stopReaper     chan struct{}
	stopReaperOnce sync.Once
}

// New builds a Server with the demonstration tools registered and every
// endpoint mounted.
func New(opts *Options) (*Server, error) {
	options, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:       options,
		sessions:   options.Sessions,
		stopReaper: make(chan struct{}),
	}

	// Keepalive runs per handle rather than through ServerOptions.KeepAlive,
	// whose failure path blocks on the unanswered ping.
	s.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	s.server.AddReceivingMiddleware(s.logMethods)
	tools.Register(s.server, options.Logger)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc(options.StreamablePath, s.handleStreamable)
	s.mux.HandleFunc("GET "+options.SSEPath, s.handleSSE)
	s.mux.HandleFunc("POST "+options.MessagesPath, s.handleMessages)
	s.mux.HandleFunc("GET "+options.HealthPath, s.handleHealth)
	s.httpHandler = s.withCORS(s.mux)
	if options.IdleTimeout > 0 {
		go s.reapIdle(s.stopReaper)
	}
	return s, nil
}

// Handler exposes the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpHandler
}

// Sessions returns the session tables.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Options returns a copy of the effective options.
func (s *Server) Options() Options {
	return s.opts
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServerMu.Lock()
	if s.httpServer != nil {
		serv := s.httpServer
		s.httpServerMu.Unlock()
		return fmt.Errorf("compatserver: server already running on %s", serv.Addr)
	}
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv
	s.httpServerMu.Unlock()
	defer func() {
		s.httpServerMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("listening", "addr", srv.Addr,
			"streamable", s.opts.StreamablePath, "sse", s.opts.SSEPath, "messages", s.opts.MessagesPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		s.logError("shutdown", s.shutdown(shutdownCtx, srv))
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown closes every live session and stops the embedded HTTP server if it
// is running. It returns ctx's error if sessions or connections are still
// open when ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpServerMu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.httpServerMu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.shutdown(ctx, srv)
}

// shutdown closes sessions before draining: open event streams never go idle,
// so http.Server.Shutdown would otherwise wait out the whole deadline.
func (s *Server) shutdown(ctx context.Context, srv *http.Server) error {
	s.stopReaperOnce.Do(func() { close(s.stopReaper) })
	closeErr := s.sessions.CloseAll(ctx)
	if srv == nil {
		return closeErr
	}
	return errors.Join(closeErr, srv.Shutdown(ctx))
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	if len(s.opts.AllowedOrigins) == 0 {
		return next
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "Last-Event-ID", sessionIDHeader, protocolVersionHeader},
		ExposedHeaders: []string{sessionIDHeader},
	}).Handler(next)
}

// logMethods records every inbound MCP method with its outcome.
func (s *Server) logMethods(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		start := time.Now()
		res, err := next(ctx, method, req)
		attrs := []any{"method", method, "duration", time.Since(start)}
		if id := req.GetSession().ID(); id != "" {
			attrs = append(attrs, "session", id)
		}
		if err != nil {
			s.opts.Logger.WarnContext(ctx, "mcp request failed", append(attrs, "error", err)...)
		} else {
			s.opts.Logger.DebugContext(ctx, "mcp request", attrs...)
		}
		return res, err
	}
}

func (s *Server) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	s.opts.Logger.Error(msg, attrs...)
}
