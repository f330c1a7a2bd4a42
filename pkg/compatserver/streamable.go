package compatserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/session"
)

const (
	codeBadRequest      = -32000
	codeSessionNotFound = -32001
	maxBodyBytes        = 4 << 20

	protocolVersionHeader = "Mcp-Protocol-Version"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

// supportedProtocolVersions lists the revisions a client may name in the
// Mcp-Protocol-Version header. A missing header means 2025-03-26.
var supportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// handleStreamable routes every request on the streamable endpoint. Requests
// carrying a session id go to the transport registered under it; an
// initialize POST without one establishes a new session.
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost, http.MethodDelete:
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeJSONRPCError(w, http.StatusMethodNotAllowed, codeBadRequest, "Method not allowed.")
		return
	}

	jsonOK, streamOK := acceptable(r)
	switch r.Method {
	case http.MethodGet:
		if !streamOK {
			writeJSONRPCError(w, http.StatusNotAcceptable, codeBadRequest, "Not Acceptable: Client must accept text/event-stream")
			return
		}
	case http.MethodPost:
		if !jsonOK || !streamOK {
			writeJSONRPCError(w, http.StatusNotAcceptable, codeBadRequest, "Not Acceptable: Client must accept both application/json and text/event-stream")
			return
		}
	}

	if v := r.Header.Get(protocolVersionHeader); v != "" && r.Method != http.MethodDelete && !slices.Contains(supportedProtocolVersions, v) {
		writeJSONRPCError(w, http.StatusBadRequest, codeBadRequest,
			"Bad Request: Unsupported protocol version (supported versions: "+strings.Join(supportedProtocolVersions, ", ")+")")
		return
	}

	id := r.Header.Get(sessionIDHeader)
	if id == "" {
		if r.Method != http.MethodPost {
			writeJSONRPCError(w, http.StatusBadRequest, codeBadRequest, "Bad Request: No valid session ID provided")
			return
		}
		s.establishStreamable(w, r)
		return
	}

	h, err := s.sessions.Streamable.Lookup(id)
	if err != nil {
		s.opts.Logger.DebugContext(r.Context(), "unknown streamable session", "session", id)
		writeJSONRPCError(w, http.StatusNotFound, codeSessionNotFound, "Session not found")
		return
	}
	if r.Method == http.MethodDelete {
		s.terminateStreamable(w, r, h)
		return
	}
	h.ServeHTTP(w, r)
}

func (s *Server) establishStreamable(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, codeBadRequest, "Bad Request: failed to read body")
		return
	}
	_ = r.Body.Close()
	if !containsInitialize(body) {
		writeJSONRPCError(w, http.StatusBadRequest, codeBadRequest, "Bad Request: No valid session ID provided")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	id := s.sessions.NewID()
	h := session.NewHandle(id, session.GenerationStreamable, &mcp.StreamableServerTransport{SessionID: id})
	// The request context is detached by the SDK for the long-lived session.
	ss, err := s.server.Connect(r.Context(), h, nil)
	if err != nil {
		s.logError("streamable connect", err, "session", id)
		http.Error(w, "failed connection", http.StatusInternalServerError)
		return
	}
	h.Attach(ss)
	// Registered after Connect: the client learns the id only from this
	// response, so no request can race the registration.
	if err := s.sessions.Streamable.Register(id, h); err != nil {
		s.logError("close unregistered session", h.Close(), "session", id)
		s.logError("streamable register", err, "session", id)
		http.Error(w, "failed to register session", http.StatusInternalServerError)
		return
	}
	s.opts.Logger.InfoContext(r.Context(), "streamable session opened", "session", id)
	go s.watchStreamable(h, ss)
	s.startKeepAlive(h, ss)

	h.ServeHTTP(w, r)
}

// watchStreamable is the only path that removes a streamable entry.
func (s *Server) watchStreamable(h *session.Handle, ss *mcp.ServerSession) {
	err := ss.Wait()
	s.sessions.Streamable.Remove(h.ID)
	attrs := []any{"session", h.ID, "age", time.Since(h.CreatedAt)}
	if err != nil && !errors.Is(err, context.Canceled) {
		attrs = append(attrs, "error", err)
	}
	s.opts.Logger.Info("streamable session closed", attrs...)
}

func (s *Server) terminateStreamable(w http.ResponseWriter, r *http.Request, h *session.Handle) {
	if err := h.Close(); err != nil {
		s.logError("close streamable session", err, "session", h.ID)
	}
	select {
	case <-h.Released():
	case <-r.Context().Done():
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// acceptable reports whether the request accepts JSON and event-stream
// responses. Repeated Accept headers are read as one list, and a media range
// weighted q=0 refuses the type. A request without Accept accepts neither.
func acceptable(r *http.Request) (jsonOK, streamOK bool) {
	values := r.Header.Values("Accept")
	if len(values) == 0 {
		return false, false
	}
	header := strings.Join(values, ",")
	return accepts(header, jsonMediaType), accepts(header, eventStreamMediaType)
}

func accepts(header string, mediaType contenttype.MediaType) bool {
	_, _, err := contenttype.GetAcceptableMediaTypeFromHeader(header, []contenttype.MediaType{mediaType})
	return err == nil
}

// containsInitialize reports whether body, a single JSON-RPC message or a
// batch, holds an initialize request.
func containsInitialize(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return false
	}
	raws := []json.RawMessage{body}
	if body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return false
		}
	}
	for _, raw := range raws {
		msg, err := jsonrpc.DecodeMessage(raw)
		if err != nil {
			continue
		}
		if req, ok := msg.(*jsonrpc.Request); ok && req.Method == "initialize" {
			return true
		}
	}
	return false
}

type jsonrpcErrorBody struct {
	JSONRPC string           `json:"jsonrpc"`
	Error   jsonrpcErrorInfo `json:"error"`
	ID      any              `json:"id"`
}

type jsonrpcErrorInfo struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func writeJSONRPCError(w http.ResponseWriter, status int, code int64, message string) {
	writeJSON(w, status, jsonrpcErrorBody{
		JSONRPC: "2.0",
		Error:   jsonrpcErrorInfo{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
