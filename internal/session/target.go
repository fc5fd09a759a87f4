package session

import (
	"context"

	"github.com/Heather8769/any-browser-mcp/internal/cdp"
	"github.com/Heather8769/any-browser-mcp/internal/discover"
)

// Target is one controllable browser page. Its control channel is either a
// direct protocol connection or a chromedp tab context, depending on the
// registry's mode.
type Target struct {
	ID    string
	URL   string
	Title string
	WSURL string

	conn      *cdp.Conn
	tabCtx    context.Context
	tabCancel context.CancelFunc
}

// Conn returns the raw protocol channel. Nil unless the registry runs in
// ModeRaw and the channel has been ensured.
func (t *Target) Conn() *cdp.Conn { return t.conn }

// ChromedpContext returns the chromedp tab context. Nil unless the registry
// runs in ModeChromedp and the channel has been ensured.
func (t *Target) ChromedpContext() context.Context { return t.tabCtx }

// Stale reports whether the underlying channel has been terminated.
func (t *Target) Stale() bool {
	if t.conn != nil {
		return t.conn.Closed()
	}
	if t.tabCtx != nil {
		return t.tabCtx.Err() != nil
	}
	return false
}

func (t *Target) release() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	if t.tabCancel != nil {
		t.tabCancel()
		t.tabCtx, t.tabCancel = nil, nil
	}
}

// Handle is the live connection to one browser process. It is exclusively
// owned by one registry and must be released on shutdown or reconnection;
// releasing it never kills the browser process.
type Handle struct {
	Endpoint discover.Endpoint

	allocCtx    context.Context
	allocCancel context.CancelFunc
}

func (h *Handle) release() {
	if h.allocCancel != nil {
		h.allocCancel()
		h.allocCtx, h.allocCancel = nil, nil
	}
}
