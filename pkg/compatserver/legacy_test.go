package compatserver

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/session"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/tools"
)

func connectLegacy(t *testing.T, ts *httptest.Server) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	transport := &mcp.SSEClientTransport{
		Endpoint:   ts.URL + "/sse",
		HTTPClient: ts.Client(),
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "legacy-test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("connect legacy: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

// openEventStream issues GET /sse and returns the advertised message endpoint
// along with a function that drops the stream.
func openEventStream(t *testing.T, ts *httptest.Server) (string, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /sse status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("GET /sse Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	var event string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading event stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && event == "endpoint":
			endpoint := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			return endpoint, func() {
				cancel()
				resp.Body.Close()
			}
		}
	}
}

func postMessage(t *testing.T, ts *httptest.Server, endpoint, body string) (int, string) {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+endpoint, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", endpoint, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestLegacySessionLifecycle(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)
	endpoint, drop := openEventStream(t, ts)

	u, err := url.Parse(endpoint)
	if err != nil {
		t.Fatalf("parse endpoint %q: %v", endpoint, err)
	}
	if u.Path != "/messages" {
		t.Fatalf("endpoint path = %q, expected /messages", u.Path)
	}
	id := u.Query().Get("sessionId")
	if id == "" {
		t.Fatalf("endpoint %q has no sessionId", endpoint)
	}
	if _, err := srv.Sessions().Legacy.Lookup(id); err != nil {
		t.Fatalf("Lookup(%s): %v", id, err)
	}
	if srv.Sessions().Streamable.Len() != 0 {
		t.Fatalf("legacy session leaked into the streamable table")
	}

	if status, body := postMessage(t, ts, endpoint, initRequest); status != http.StatusAccepted {
		t.Fatalf("POST initialize status = %d (%s), expected 202", status, body)
	}

	drop()
	waitFor(t, "legacy entry removal", func() bool { return srv.Sessions().Legacy.Len() == 0 })

	status, body := postMessage(t, ts, endpoint, listRequest)
	if status != http.StatusBadRequest {
		t.Fatalf("POST after disconnect status = %d, expected 400", status)
	}
	if !strings.Contains(body, "No transport found for sessionId") {
		t.Fatalf("POST after disconnect body = %q", body)
	}
}

func TestLegacyUnknownSession(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)
	for _, endpoint := range []string{"/messages?sessionId=unknown", "/messages"} {
		status, body := postMessage(t, ts, endpoint, listRequest)
		if status != http.StatusBadRequest {
			t.Fatalf("POST %s status = %d, expected 400", endpoint, status)
		}
		if strings.TrimSpace(body) != "No transport found for sessionId" {
			t.Fatalf("POST %s body = %q", endpoint, body)
		}
	}
}

func TestLegacySessionIDIsNotAStreamableSession(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)
	endpoint, _ := openEventStream(t, ts)
	u, _ := url.Parse(endpoint)

	resp := postRPC(t, ts, u.Query().Get("sessionId"), bothAccept, listRequest)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("legacy id on the streamable endpoint: status = %d, expected 404", resp.StatusCode)
	}
}

func TestLegacyClientCallsTools(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)
	cs := connectLegacy(t, ts)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(res.Tools) != 2 {
		t.Fatalf("ListTools() returned %d tools, expected 2", len(res.Tools))
	}

	call, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tools.GetUserName,
		Arguments: map[string]any{"name": "Bob"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := toolText(t, call); !strings.Contains(got, "Bob") {
		t.Fatalf("get-user = %q", got)
	}

	if err := cs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, "legacy entry removal", func() bool { return srv.Sessions().Legacy.Len() == 0 })
}

func TestLegacyDuplicateSessionID(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, &Options{
		Sessions: session.NewManager(&session.ManagerOptions{NewID: func() string { return "fixed" }}),
	})
	endpoint, _ := openEventStream(t, ts)
	if !strings.HasSuffix(endpoint, "sessionId=fixed") {
		t.Fatalf("endpoint = %q", endpoint)
	}

	resp, err := ts.Client().Get(ts.URL + "/sse")
	if err != nil {
		t.Fatalf("second GET /sse: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("second GET /sse status = %d, expected 500", resp.StatusCode)
	}
	if n := srv.Sessions().Legacy.Len(); n != 1 {
		t.Fatalf("Len() = %d, expected the first session to stay registered", n)
	}
}
