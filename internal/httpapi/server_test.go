package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/browse"
	"github.com/Heather8769/any-browser-mcp/internal/session"
	"github.com/Heather8769/any-browser-mcp/internal/types"
)

// detachedFactory attaches nothing: every page operation fails with a coded
// error inside its result, which is exactly what the boundary tests need.
func detachedFactory(ctx context.Context) (*browse.Facade, error) {
	return browse.New(session.NewRegistry(session.ModeRaw), browse.Options{CommandTimeout: time.Second}), nil
}

func testServer(t *testing.T) (*httptest.Server, *SessionManager) {
	t.Helper()
	mgr := NewSessionManager(detachedFactory, time.Minute, time.Minute, slog.Default())
	t.Cleanup(mgr.Close)
	srv := httptest.NewServer(NewServer(mgr, slog.Default()))
	t.Cleanup(srv.Close)
	return srv, mgr
}

func TestHealthReportsVersion(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Version == "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestSessionHeaderMintedWhenAbsent(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	token := resp.Header.Get(SessionHeader)
	if token == "" {
		t.Fatal("no session token minted")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set(SessionHeader, "my-session")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if got := resp2.Header.Get(SessionHeader); got != "my-session" {
		t.Fatalf("echoed token = %q, want my-session", got)
	}
}

func TestListToolsEnumeratesSurface(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/tools")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Tools []toolSummary `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tools) != 22 {
		t.Fatalf("tools = %d, want 22", len(body.Tools))
	}
	names := map[string]bool{}
	for _, tool := range body.Tools {
		names[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
	}
	if !names["browser_navigate"] || !names["browser_wait_for"] {
		t.Fatalf("expected tools missing: %v", names)
	}
}

func callTool(t *testing.T, srv *httptest.Server, token, name, args string) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/tools/"+name, strings.NewReader(args))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(SessionHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestCallToolWrapsFailureInResult(t *testing.T) {
	srv, _ := testServer(t)

	resp, body := callTool(t, srv, "tok-1", "browser_click", `{"selector":"#go"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with in-band failure", resp.StatusCode)
	}
	if body["success"] != false {
		t.Fatalf("success = %v", body["success"])
	}
	if body["code"] != types.CodeTargetNotFound {
		t.Fatalf("code = %v", body["code"])
	}
	if body["selector"] != "#go" {
		t.Fatalf("selector echo = %v", body["selector"])
	}
}

func TestCallUnknownToolIs404(t *testing.T) {
	srv, _ := testServer(t)

	resp, _ := callTool(t, srv, "tok-1", "browser_teleport", `{}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestReleaseSessionClosesAttachment(t *testing.T) {
	srv, mgr := testServer(t)

	callTool(t, srv, "tok-release", "browser_tab_list", `{}`)
	if mgr.Count() != 1 {
		t.Fatalf("sessions = %d, want 1", mgr.Count())
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/session", nil)
	req.Header.Set(SessionHeader, "tok-release")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Released bool `json:"released"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Released {
		t.Fatal("session not released")
	}
	if mgr.Count() != 0 {
		t.Fatalf("sessions = %d after release", mgr.Count())
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	mgr := NewSessionManager(detachedFactory, 30*time.Millisecond, 10*time.Millisecond, slog.Default())
	defer mgr.Close()

	if _, err := mgr.Acquire(context.Background(), "idle-token"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if mgr.Count() != 1 {
		t.Fatalf("sessions = %d", mgr.Count())
	}

	deadline := time.Now().Add(2 * time.Second)
	for mgr.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle session never evicted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
