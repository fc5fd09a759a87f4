// Package discover locates a reachable remote-debugging endpoint for an
// already-running browser, or reports per-candidate diagnostics when none is
// connectable.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/types"
	"github.com/gobwas/ws"
)

// Endpoint is a resolved, reachable control address for a browser instance.
// Immutable once resolved; re-discovered on each connection attempt.
type Endpoint struct {
	// BaseURL is the HTTP metadata base, e.g. "http://127.0.0.1:9222".
	BaseURL string
	// WSURL is the browser-level WebSocket debugger URL.
	WSURL    string
	Brand    types.Brand
	Explicit bool
}

// Preference narrows discovery to an explicit URL, brand or port. Zero value
// means full auto-detection.
type Preference struct {
	ExplicitURL string
	Brand       string
	Port        int
}

// Candidate records one discovery attempt and why it failed.
type Candidate struct {
	Brand   types.Brand
	BaseURL string
	Reason  string
}

// Error aggregates every failed candidate so no brand is silently omitted.
type Error struct {
	Candidates []Candidate
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("no browser found: all discovery candidates failed")
	for _, c := range e.Candidates {
		fmt.Fprintf(&b, "\n  %s %s: %s", c.Brand, c.BaseURL, c.Reason)
	}
	return b.String()
}

// Discoverer probes candidate endpoints. The port mapping and host are
// injectable so tests can point brands at local fixtures.
type Discoverer struct {
	Host    string
	PortFor func(types.Brand) int
	// ProcessHint reports whether a process plausibly matching the brand
	// with a debug flag is running. Advisory only: a false result is logged
	// but never skips the network attempt.
	ProcessHint func(types.Brand) bool

	HTTPTimeout time.Duration
}

// New returns a Discoverer with production defaults.
func New() *Discoverer {
	return &Discoverer{
		Host:        "127.0.0.1",
		PortFor:     func(b types.Brand) int { return b.DefaultDebugPort() },
		ProcessHint: processLikelyRunning,
		HTTPTimeout: 3 * time.Second,
	}
}

// Resolve produces exactly one working Endpoint for the preference, or an
// *Error carrying one diagnostic per candidate tried.
func (d *Discoverer) Resolve(ctx context.Context, pref Preference) (*Endpoint, error) {
	if pref.ExplicitURL != "" {
		base := strings.TrimRight(pref.ExplicitURL, "/")
		ep, reason := d.attempt(ctx, brandOrChrome(pref.Brand), base, true)
		if ep != nil {
			return ep, nil
		}
		return nil, &Error{Candidates: []Candidate{{Brand: brandOrChrome(pref.Brand), BaseURL: base, Reason: reason}}}
	}

	if pref.Port != 0 {
		base := fmt.Sprintf("http://%s:%d", d.Host, pref.Port)
		ep, reason := d.attempt(ctx, brandOrChrome(pref.Brand), base, true)
		if ep != nil {
			return ep, nil
		}
		return nil, &Error{Candidates: []Candidate{{Brand: brandOrChrome(pref.Brand), BaseURL: base, Reason: reason}}}
	}

	brands := types.KnownBrands()
	if pref.Brand != "" && pref.Brand != "auto" {
		if !types.ValidBrand(pref.Brand) {
			return nil, types.NewError(types.CodeValidation, "unknown browser brand: "+pref.Brand, nil)
		}
		brands = []types.Brand{types.Brand(pref.Brand)}
	}

	var failed []Candidate
	for _, brand := range brands {
		base := fmt.Sprintf("http://%s:%d", d.Host, d.PortFor(brand))
		ep, reason := d.attempt(ctx, brand, base, false)
		if ep != nil {
			return ep, nil
		}
		failed = append(failed, Candidate{Brand: brand, BaseURL: base, Reason: reason})
	}
	return nil, &Error{Candidates: failed}
}

// attempt probes one candidate. The process hint is a cheap speed-up note;
// the metadata fetch plus WebSocket handshake are the ground truth.
func (d *Discoverer) attempt(ctx context.Context, brand types.Brand, baseURL string, explicit bool) (*Endpoint, string) {
	hint := "process found"
	if d.ProcessHint != nil && !d.ProcessHint(brand) {
		hint = "process not found"
		slog.Debug("discovery process pre-check negative, probing anyway", "brand", brand, "base_url", baseURL)
	}

	wsURL, err := d.fetchVersion(ctx, baseURL)
	if err != nil {
		slog.Debug("discovery candidate unreachable", "brand", brand, "base_url", baseURL, "error", err)
		return nil, fmt.Sprintf("%s; port not responding (%v)", hint, err)
	}

	if err := d.handshake(ctx, wsURL); err != nil {
		slog.Debug("discovery handshake failed", "brand", brand, "ws_url", wsURL, "error", err)
		return nil, fmt.Sprintf("%s; channel handshake failed (%v)", hint, err)
	}

	slog.Info("discovered browser endpoint", "brand", brand, "base_url", baseURL, "explicit", explicit)
	return &Endpoint{BaseURL: baseURL, WSURL: wsURL, Brand: brand, Explicit: explicit}, ""
}

// fetchVersion reads the /json/version metadata document.
func (d *Discoverer) fetchVersion(ctx context.Context, baseURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("/json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}

// handshake verifies the browser-level channel actually opens.
func (d *Discoverer) handshake(ctx context.Context, wsURL string) error {
	ctx, cancel := context.WithTimeout(ctx, d.HTTPTimeout)
	defer cancel()

	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return err
	}
	return conn.Close()
}

func brandOrChrome(s string) types.Brand {
	if types.ValidBrand(s) {
		return types.Brand(s)
	}
	return types.BrandChrome
}
