package compatserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/session"
)

// startKeepAlive pings the client of an established session every KeepAlive
// interval until the handle is released. A ping left unanswered for half an
// interval closes the session through its handle, which the close path then
// removes from the table.
func (s *Server) startKeepAlive(h *session.Handle, ss *mcp.ServerSession) {
	interval := s.opts.KeepAlive
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.Released():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval/2)
				err := ss.Ping(ctx, nil)
				cancel()
				if err != nil {
					s.opts.Logger.Warn("keepalive failed, closing session",
						"session", h.ID, "generation", h.Generation, "error", err)
					s.logError("close session", h.Close(), "session", h.ID)
					return
				}
			}
		}
	}()
}

// reapIdle closes streamable sessions that have served no request for
// IdleTimeout until stop is closed. Legacy sessions are bound to their event
// stream and end with it.
func (s *Server) reapIdle(stop <-chan struct{}) {
	timeout := s.opts.IdleTimeout
	ticker := time.NewTicker(max(timeout/2, 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.closeIdle(now.Add(-timeout))
		}
	}
}

func (s *Server) closeIdle(cutoff time.Time) int {
	idle := s.sessions.Streamable.Idle(cutoff)
	for _, h := range idle {
		s.opts.Logger.Info("closing idle session", "session", h.ID, "age", time.Since(h.CreatedAt))
		s.logError("close idle session", h.Close(), "session", h.ID)
	}
	return len(idle)
}
