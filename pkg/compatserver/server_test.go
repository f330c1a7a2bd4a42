package compatserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts *Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	srv, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})
	return srv, ts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts, err := (*Options)(nil).withDefaults()
	if err != nil {
		t.Fatalf("withDefaults() error: %v", err)
	}
	if opts.Addr != ":3002" {
		t.Fatalf("Addr = %q, expected :3002", opts.Addr)
	}
	if opts.StreamablePath != "/mcp" || opts.SSEPath != "/sse" || opts.MessagesPath != "/messages" || opts.HealthPath != "/healthz" {
		t.Fatalf("unexpected default paths: %+v", opts)
	}
	if opts.Sessions == nil || opts.Logger == nil || opts.Implementation == nil {
		t.Fatalf("defaults left nil fields: %+v", opts)
	}
}

func TestOptionsNormalizePaths(t *testing.T) {
	t.Parallel()

	opts, err := (&Options{StreamablePath: "rpc/", SSEPath: " /events "}).withDefaults()
	if err != nil {
		t.Fatalf("withDefaults() error: %v", err)
	}
	if opts.StreamablePath != "/rpc" || opts.SSEPath != "/events" {
		t.Fatalf("paths = %q, %q", opts.StreamablePath, opts.SSEPath)
	}
}

func TestOptionsRejectSharedPaths(t *testing.T) {
	t.Parallel()

	if _, err := New(&Options{SSEPath: "/mcp", Logger: discardLogger()}); err == nil {
		t.Fatalf("New() accepted the SSE endpoint on the streamable path")
	}
}

func TestHealthReportsSessionCounts(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)
	connectStreamable(t, ts)

	resp, err := ts.Client().Get(ts.URL + srv.Options().HealthPath)
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if report.Status != "ok" || report.Sessions.Streamable != 1 || report.Sessions.Legacy != 0 {
		t.Fatalf("healthz = %+v", report)
	}
}

func TestCORSDisabledByDefault(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q without configured origins", got)
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, &Options{AllowedOrigins: []string{"https://app.example.com"}})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Expose-Headers"); !strings.Contains(got, sessionIDHeader) {
		t.Fatalf("Access-Control-Expose-Headers = %q, expected %s", got, sessionIDHeader)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin got Access-Control-Allow-Origin = %q", got)
	}
}

func TestShutdownClosesEverySession(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)
	connectStreamable(t, ts)
	connectLegacy(t, ts)
	waitFor(t, "both sessions", func() bool {
		return srv.Sessions().Streamable.Len() == 1 && srv.Sessions().Legacy.Len() == 1
	})

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	waitFor(t, "sessions to drain", func() bool {
		return srv.Sessions().Streamable.Len() == 0 && srv.Sessions().Legacy.Len() == 0
	})
}

func TestBothGenerationsServeTheSameTools(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)
	for name, cs := range map[string]*mcp.ClientSession{
		"streamable": connectStreamable(t, ts),
		"legacy":     connectLegacy(t, ts),
	} {
		res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
			Name:      tools.CalculateBMIName,
			Arguments: map[string]any{"weightKg": 70, "heightM": 1.75},
		})
		if err != nil {
			t.Fatalf("%s CallTool: %v", name, err)
		}
		if got := toolText(t, res); got != "22.857142857142858" {
			t.Fatalf("%s calculate-bmi = %q", name, got)
		}
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv, err := New(&Options{Addr: "127.0.0.1:0", Logger: discardLogger(), ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("ListenAndServe() = %v, expected context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ListenAndServe did not return after cancel")
	}
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res.IsError || len(res.Content) == 0 {
		t.Fatalf("unexpected tool result: %+v", res)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is %T, expected *mcp.TextContent", res.Content[0])
	}
	return text.Text
}
