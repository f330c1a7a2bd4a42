package compatserver

import (
	"net/http"
	"net/url"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/session"
)

const sessionIDParam = "sessionId"

// handleSSE opens a legacy session. The response stays open as the session's
// event stream until the client disconnects or the session closes.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := s.sessions.NewID()
	endpoint := s.opts.MessagesPath + "?" + url.Values{sessionIDParam: []string{id}}.Encode()
	h := session.NewHandle(id, session.GenerationLegacy, &mcp.SSEServerTransport{Endpoint: endpoint, Response: w})

	// Registered before Connect, which emits the endpoint event: a client may
	// post to it as soon as it is read.
	if err := s.sessions.Legacy.Register(id, h); err != nil {
		s.logError("legacy register", err, "session", id)
		http.Error(w, "failed to register session", http.StatusInternalServerError)
		return
	}
	defer s.sessions.Legacy.Remove(id)

	ss, err := s.server.Connect(r.Context(), h, nil)
	if err != nil {
		s.logError("legacy connect", err, "session", id)
		http.Error(w, "connection failed", http.StatusInternalServerError)
		return
	}
	h.Attach(ss)
	defer h.Close()
	s.opts.Logger.InfoContext(r.Context(), "legacy session opened", "session", id)
	s.startKeepAlive(h, ss)

	done := make(chan struct{})
	go func() {
		_ = ss.Wait()
		close(done)
	}()
	select {
	case <-r.Context().Done():
	case <-done:
	}
	s.opts.Logger.Info("legacy session closed", "session", id, "age", time.Since(h.CreatedAt))
}

// handleMessages delivers one client message to the legacy session named by
// the sessionId query parameter.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(sessionIDParam)
	h, err := s.sessions.Legacy.Lookup(id)
	if err != nil {
		s.opts.Logger.DebugContext(r.Context(), "unknown legacy session", "session", id)
		http.Error(w, "No transport found for sessionId", http.StatusBadRequest)
		return
	}
	h.ServeHTTP(w, r)
}
