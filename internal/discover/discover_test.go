package discover

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/types"
	"github.com/gobwas/ws"
)

// newFakeBrowser serves /json/version plus a WebSocket upgrade endpoint the
// way a real browser debug port does.
func newFakeBrowser(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		wsURL := "ws://" + srv.Listener.Addr().String() + "/devtools/browser/fake"
		_ = json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": wsURL})
	})
	mux.HandleFunc("/devtools/", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		_ = conn.Close()
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// deadPort returns a port nothing is listening on.
func deadPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func testDiscoverer(ports map[types.Brand]int) *Discoverer {
	return &Discoverer{
		Host:        "127.0.0.1",
		PortFor:     func(b types.Brand) int { return ports[b] },
		ProcessHint: func(types.Brand) bool { return true },
		HTTPTimeout: 2 * time.Second,
	}
}

func TestAutoPrefersChromeOverFirefox(t *testing.T) {
	chrome := newFakeBrowser(t)
	firefox := newFakeBrowser(t)

	d := testDiscoverer(map[types.Brand]int{
		types.BrandChrome:  serverPort(t, chrome),
		types.BrandEdge:    deadPort(t),
		types.BrandFirefox: serverPort(t, firefox),
	})

	ep, err := d.Resolve(context.Background(), Preference{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ep.Brand != types.BrandChrome {
		t.Fatalf("brand = %s, want chrome", ep.Brand)
	}
	if ep.Explicit {
		t.Error("auto-detected endpoint marked explicit")
	}
}

func TestAutoFallsThroughToLaterBrand(t *testing.T) {
	firefox := newFakeBrowser(t)

	d := testDiscoverer(map[types.Brand]int{
		types.BrandChrome:  deadPort(t),
		types.BrandEdge:    deadPort(t),
		types.BrandFirefox: serverPort(t, firefox),
	})

	ep, err := d.Resolve(context.Background(), Preference{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ep.Brand != types.BrandFirefox {
		t.Fatalf("brand = %s, want firefox", ep.Brand)
	}
}

func TestTotalFailureListsEveryBrand(t *testing.T) {
	d := testDiscoverer(map[types.Brand]int{
		types.BrandChrome:  deadPort(t),
		types.BrandEdge:    deadPort(t),
		types.BrandFirefox: deadPort(t),
	})

	_, err := d.Resolve(context.Background(), Preference{})
	if err == nil {
		t.Fatal("expected discovery failure")
	}
	var derr *Error
	if !asDiscoveryError(err, &derr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if len(derr.Candidates) != 3 {
		t.Fatalf("candidates = %d, want 3", len(derr.Candidates))
	}
	msg := err.Error()
	for _, brand := range []string{"chrome", "edge", "firefox"} {
		if !strings.Contains(msg, brand) {
			t.Errorf("diagnostic missing brand %q: %s", brand, msg)
		}
	}
	if !strings.Contains(msg, "port not responding") {
		t.Errorf("diagnostic missing failure reason: %s", msg)
	}
}

func TestExplicitURLSingleCandidate(t *testing.T) {
	srv := newFakeBrowser(t)
	d := testDiscoverer(nil)

	ep, err := d.Resolve(context.Background(), Preference{ExplicitURL: srv.URL})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ep.Explicit {
		t.Error("explicit endpoint not flagged")
	}

	_, err = d.Resolve(context.Background(), Preference{ExplicitURL: "http://127.0.0.1:" + strconv.Itoa(deadPort(t))})
	var derr *Error
	if !asDiscoveryError(err, &derr) || len(derr.Candidates) != 1 {
		t.Fatalf("explicit failure should carry exactly one candidate, got %v", err)
	}
}

func TestBrandPreferenceProbesOnlyThatBrand(t *testing.T) {
	d := testDiscoverer(map[types.Brand]int{
		types.BrandChrome:  deadPort(t),
		types.BrandEdge:    deadPort(t),
		types.BrandFirefox: deadPort(t),
	})

	_, err := d.Resolve(context.Background(), Preference{Brand: "edge"})
	var derr *Error
	if !asDiscoveryError(err, &derr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if len(derr.Candidates) != 1 || derr.Candidates[0].Brand != types.BrandEdge {
		t.Fatalf("expected single edge candidate, got %+v", derr.Candidates)
	}
}

func TestNegativeProcessHintDoesNotSkipProbe(t *testing.T) {
	srv := newFakeBrowser(t)
	d := testDiscoverer(map[types.Brand]int{types.BrandChrome: serverPort(t, srv)})
	d.ProcessHint = func(types.Brand) bool { return false }

	ep, err := d.Resolve(context.Background(), Preference{Brand: "chrome"})
	if err != nil {
		t.Fatalf("negative process hint must not mask a connectable port: %v", err)
	}
	if ep.Brand != types.BrandChrome {
		t.Fatalf("brand = %s, want chrome", ep.Brand)
	}
}

func asDiscoveryError(err error, out **Error) bool {
	derr, ok := err.(*Error)
	if ok {
		*out = derr
	}
	return ok
}
