package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Generation identifies the transport protocol variant a session speaks.
type Generation string

const (
	GenerationStreamable Generation = "streamable"
	GenerationLegacy     Generation = "legacy"
)

// Transport is an MCP server transport that also serves the follow-up HTTP
// requests of its session. Both SDK server transports satisfy it.
type Transport interface {
	http.Handler
	mcp.Transport
}

// Handle is one open logical connection to a client. It is passed to
// mcp.Server.Connect in place of the transport it wraps, so that it can reach
// the connection underneath the server session when closing.
type Handle struct {
	ID         string
	Generation Generation
	CreatedAt  time.Time

	transport Transport

	mu      sync.Mutex
	conn    mcp.Connection
	session *mcp.ServerSession

	inFlight atomic.Int64
	lastSeen atomic.Int64

	releaseOnce sync.Once
	released    chan struct{}
}

// NewHandle wraps a transport for registration in a Table.
func NewHandle(id string, gen Generation, transport Transport) *Handle {
	h := &Handle{
		ID:         id,
		Generation: gen,
		CreatedAt:  time.Now(),
		transport:  transport,
		released:   make(chan struct{}),
	}
	h.lastSeen.Store(h.CreatedAt.UnixNano())
	return h
}

// Connect implements mcp.Transport.
func (h *Handle) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := h.transport.Connect(ctx)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	return conn, nil
}

// ServeHTTP delegates a follow-up request to the session's transport.
func (h *Handle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.inFlight.Add(1)
	defer func() {
		h.lastSeen.Store(time.Now().UnixNano())
		h.inFlight.Add(-1)
	}()
	h.transport.ServeHTTP(w, r)
}

// IdleSince reports when the handle last finished serving a request. It
// returns false while a request, such as a held-open event stream, is still
// being served.
func (h *Handle) IdleSince() (time.Time, bool) {
	if h.inFlight.Load() > 0 {
		return time.Time{}, false
	}
	return time.Unix(0, h.lastSeen.Load()), true
}

// Attach records the server session created by connecting the handle.
func (h *Handle) Attach(ss *mcp.ServerSession) {
	h.mu.Lock()
	h.session = ss
	h.mu.Unlock()
}

// Session returns the attached server session, or nil before Attach.
func (h *Handle) Session() *mcp.ServerSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// Close terminates the session. Removal from the owning Table is left to
// whoever observes the close.
//
// The connection is closed before the server session: ServerSession.Close
// waits for outstanding server-to-client calls, and a ping the client never
// answered stays outstanding until the connection stops reading.
func (h *Handle) Close() error {
	h.mu.Lock()
	conn, ss := h.conn, h.session
	h.mu.Unlock()

	var errs []error
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	if ss != nil {
		if err := ss.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Released is closed once the handle has been removed from its Table.
func (h *Handle) Released() <-chan struct{} {
	return h.released
}

func (h *Handle) release() {
	h.releaseOnce.Do(func() { close(h.released) })
}
