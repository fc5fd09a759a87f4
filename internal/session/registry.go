// Package session tracks the set of open browser targets, which one is
// current, and mediates switching, creation and closing without losing
// in-flight command correlation.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/cdp"
	"github.com/Heather8769/any-browser-mcp/internal/discover"
	"github.com/Heather8769/any-browser-mcp/internal/types"
	cdptarget "github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Mode selects the automation strategy carried by each target's channel.
type Mode int

const (
	// ModeChromedp drives targets through chromedp tab contexts.
	ModeChromedp Mode = iota
	// ModeRaw drives targets through direct protocol channels.
	ModeRaw
)

// Selector names a target either by zero-based position or explicit id.
type Selector struct {
	Index   int
	ID      string
	ByIndex bool
}

// Registry is the single source of truth for what targets exist and which one
// is current. It exclusively owns the BrowserHandle for its lifetime.
type Registry struct {
	mode Mode

	mu      sync.Mutex
	handle  *Handle
	targets map[string]*Target
	order   []string
	current string

	httpTimeout time.Duration
}

// NewRegistry builds an unattached registry.
func NewRegistry(mode Mode) *Registry {
	return &Registry{
		mode:        mode,
		targets:     make(map[string]*Target),
		httpTimeout: 10 * time.Second,
	}
}

// Mode reports the automation strategy in effect.
func (r *Registry) Mode() Mode { return r.mode }

// Attach binds the registry to a discovered endpoint, enumerates its pages
// and marks the first one current.
func (r *Registry) Attach(ctx context.Context, ep *discover.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil {
		r.releaseLocked()
	}

	h := &Handle{Endpoint: *ep}
	if r.mode == ModeChromedp {
		h.allocCtx, h.allocCancel = chromedp.NewRemoteAllocator(context.Background(), ep.BaseURL)
	}
	r.handle = h

	if err := r.syncTargetsLocked(ctx); err != nil {
		r.releaseLocked()
		return err
	}

	if r.current == "" && len(r.order) > 0 {
		r.current = r.order[0]
	}
	slog.Info("attached to browser", "base_url", ep.BaseURL, "brand", ep.Brand, "targets", len(r.order), "current", r.current)
	return nil
}

// Close releases every channel and the browser handle. The browser process
// itself is left running.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
	slog.Info("session registry closed")
	return nil
}

func (r *Registry) releaseLocked() {
	for _, t := range r.targets {
		t.release()
	}
	r.targets = make(map[string]*Target)
	r.order = nil
	r.current = ""
	if r.handle != nil {
		r.handle.release()
		r.handle = nil
	}
}

// List queries the browser for all open page targets, preserving the
// browser-reported order, with the current one flagged.
func (r *Registry) List(ctx context.Context) ([]types.TargetInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.syncTargetsLocked(ctx); err != nil {
		return nil, err
	}

	out := make([]types.TargetInfo, 0, len(r.order))
	for _, id := range r.order {
		t := r.targets[id]
		out = append(out, types.TargetInfo{
			ID:      t.ID,
			URL:     t.URL,
			Title:   t.Title,
			WSURL:   t.WSURL,
			Current: id == r.current,
		})
	}
	return out, nil
}

// Switch resolves the selector against a fresh target listing, asks the
// browser to foreground it (best-effort), ensures a live channel and only
// then reassigns the current pointer. The previous target stays open.
func (r *Registry) Switch(ctx context.Context, sel Selector) (types.TargetInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.syncTargetsLocked(ctx); err != nil {
		return types.TargetInfo{}, err
	}

	var t *Target
	switch {
	case sel.ByIndex:
		if sel.Index < 0 || sel.Index >= len(r.order) {
			return types.TargetInfo{}, types.NewError(types.CodeTargetNotFound,
				fmt.Sprintf("tab index %d not found (%d open)", sel.Index, len(r.order)), nil)
		}
		t = r.targets[r.order[sel.Index]]
	default:
		var ok bool
		t, ok = r.targets[sel.ID]
		if !ok {
			return types.TargetInfo{}, types.NewError(types.CodeTargetNotFound, "tab not found: "+sel.ID, nil)
		}
	}

	if err := r.activate(ctx, t.ID); err != nil {
		slog.Warn("bring-to-front failed, continuing", "target_id", t.ID, "error", err)
	}
	if err := r.ensureChannelLocked(ctx, t); err != nil {
		return types.TargetInfo{}, err
	}

	r.current = t.ID
	slog.Info("switched target", "target_id", t.ID, "url", truncate(t.URL, 120))
	return types.TargetInfo{ID: t.ID, URL: t.URL, Title: t.Title, Current: true}, nil
}

// Create asks the browser to open a new page. The new target becomes current
// unless background is set.
func (r *Registry) Create(ctx context.Context, pageURL string, background bool) (types.TargetInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle == nil {
		return types.TargetInfo{}, types.NewError(types.CodeChannelClosed, "not attached to a browser", nil)
	}

	endpoint := r.handle.Endpoint.BaseURL + "/json/new"
	if pageURL != "" {
		endpoint += "?" + url.QueryEscape(pageURL)
	}

	entry, err := r.metadataRequest(ctx, http.MethodPut, endpoint)
	if err != nil {
		return types.TargetInfo{}, types.NewError(types.CodeChannelClosed, "create target", err)
	}

	var created metadataEntry
	if err := json.Unmarshal(entry, &created); err != nil || created.ID == "" {
		return types.TargetInfo{}, types.NewError(types.CodeChannelClosed, "create target: bad metadata response", err)
	}

	t := &Target{
		ID:    created.ID,
		URL:   created.URL,
		Title: created.Title,
		WSURL: created.WebSocketDebuggerURL,
	}
	r.targets[t.ID] = t
	r.order = append(r.order, t.ID)

	if !background {
		if err := r.activate(ctx, t.ID); err != nil {
			slog.Warn("bring-to-front failed for new target", "target_id", t.ID, "error", err)
		}
		if err := r.ensureChannelLocked(ctx, t); err != nil {
			return types.TargetInfo{}, err
		}
		r.current = t.ID
	}

	slog.Info("created target", "target_id", t.ID, "url", truncate(t.URL, 120), "background", background)
	return types.TargetInfo{ID: t.ID, URL: t.URL, Title: t.Title, Current: !background}, nil
}

// CloseTarget closes a page. Closing the current target clears the current
// pointer; the caller must Switch before the next implicit-target call.
func (r *Registry) CloseTarget(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[id]
	if !ok {
		return types.NewError(types.CodeTargetNotFound, "tab not found: "+id, nil)
	}

	if r.handle != nil {
		if _, err := r.metadataRequest(ctx, http.MethodGet, r.handle.Endpoint.BaseURL+"/json/close/"+id); err != nil {
			return types.NewError(types.CodeChannelClosed, "close target "+id, err)
		}
	}

	t.release()
	delete(r.targets, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.current == id {
		r.current = ""
	}
	return nil
}

// Current resolves the implicit target for tool calls that do not name one,
// reconnecting a stale channel once by target identifier. A target the
// browser no longer lists fails with a target-closed error and is not retried.
func (r *Registry) Current(ctx context.Context) (*Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == "" {
		return nil, types.NewError(types.CodeTargetNotFound, "no current tab; list or switch tabs first", nil)
	}
	t, ok := r.targets[r.current]
	if !ok {
		return nil, types.NewError(types.CodeTargetClosed, "current tab is gone: "+r.current, nil)
	}
	if err := r.ensureChannelLocked(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CurrentInfo reports the current target without touching its channel.
func (r *Registry) CurrentInfo() (types.TargetInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[r.current]
	if !ok {
		return types.TargetInfo{}, false
	}
	return types.TargetInfo{ID: t.ID, URL: t.URL, Title: t.Title, Current: true}, true
}

// ensureChannelLocked opens or refreshes the target's control channel. A
// stale channel triggers exactly one re-listing: if the browser still reports
// the target it is re-dialed, otherwise the target is closed for good.
func (r *Registry) ensureChannelLocked(ctx context.Context, t *Target) error {
	switch r.mode {
	case ModeRaw:
		if t.conn != nil && !t.conn.Closed() {
			return nil
		}
		if t.conn != nil {
			slog.Info("target channel stale, reconnecting", "target_id", t.ID)
			t.release()
		}
		entries, err := r.fetchTargets(ctx)
		if err != nil {
			return err
		}
		var fresh *metadataEntry
		for i := range entries {
			if entries[i].ID == t.ID {
				fresh = &entries[i]
				break
			}
		}
		if fresh == nil {
			if r.current == t.ID {
				r.current = ""
			}
			delete(r.targets, t.ID)
			return types.NewError(types.CodeTargetClosed, "tab closed by browser: "+t.ID, nil)
		}
		t.URL, t.Title, t.WSURL = fresh.URL, fresh.Title, fresh.WebSocketDebuggerURL
		conn, err := cdp.Dial(ctx, t.WSURL)
		if err != nil {
			return err
		}
		t.conn = conn
		return nil

	default:
		if t.tabCtx != nil && t.tabCtx.Err() == nil {
			return nil
		}
		if r.handle == nil || r.handle.allocCtx == nil {
			return types.NewError(types.CodeChannelClosed, "not attached to a browser", nil)
		}
		if t.tabCtx != nil {
			slog.Info("target context stale, reattaching", "target_id", t.ID)
			t.release()
		}
		tabCtx, cancel := chromedp.NewContext(r.handle.allocCtx, chromedp.WithTargetID(cdptarget.ID(t.ID)))
		if err := chromedp.Run(tabCtx); err != nil {
			cancel()
			if gone, listErr := r.targetGone(ctx, t.ID); listErr == nil && gone {
				if r.current == t.ID {
					r.current = ""
				}
				delete(r.targets, t.ID)
				return types.NewError(types.CodeTargetClosed, "tab closed by browser: "+t.ID, nil)
			}
			return types.NewError(types.CodeChannelClosed, "attach to tab "+t.ID, err)
		}
		t.tabCtx, t.tabCancel = tabCtx, cancel
		return nil
	}
}

func (r *Registry) targetGone(ctx context.Context, id string) (bool, error) {
	entries, err := r.fetchTargets(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return false, nil
		}
	}
	return true, nil
}

// syncTargetsLocked reconciles the registry against the browser's listing,
// keeping live channels for surviving targets and releasing channels of
// departed ones. Listing order is preserved as reported.
func (r *Registry) syncTargetsLocked(ctx context.Context) error {
	entries, err := r.fetchTargets(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		seen[e.ID] = true
		order = append(order, e.ID)
		if t, ok := r.targets[e.ID]; ok {
			t.URL, t.Title, t.WSURL = e.URL, e.Title, e.WebSocketDebuggerURL
			continue
		}
		r.targets[e.ID] = &Target{ID: e.ID, URL: e.URL, Title: e.Title, WSURL: e.WebSocketDebuggerURL}
	}

	for id, t := range r.targets {
		if seen[id] {
			continue
		}
		t.release()
		delete(r.targets, id)
		if r.current == id {
			r.current = ""
		}
	}

	r.order = order
	return nil
}

type metadataEntry struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// fetchTargets reads /json/list and keeps only page-type targets.
func (r *Registry) fetchTargets(ctx context.Context) ([]metadataEntry, error) {
	if r.handle == nil {
		return nil, types.NewError(types.CodeChannelClosed, "not attached to a browser", nil)
	}

	body, err := r.metadataRequest(ctx, http.MethodGet, r.handle.Endpoint.BaseURL+"/json/list")
	if err != nil {
		return nil, types.NewError(types.CodeChannelClosed, "list targets", err)
	}

	var all []metadataEntry
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, types.NewError(types.CodeChannelClosed, "list targets: bad metadata response", err)
	}

	pages := make([]metadataEntry, 0, len(all))
	for _, e := range all {
		if e.Type == "page" || e.Type == "" {
			pages = append(pages, e)
		}
	}
	return pages, nil
}

func (r *Registry) activate(ctx context.Context, id string) error {
	if r.handle == nil {
		return types.NewError(types.CodeChannelClosed, "not attached to a browser", nil)
	}
	_, err := r.metadataRequest(ctx, http.MethodGet, r.handle.Endpoint.BaseURL+"/json/activate/"+id)
	return err
}

func (r *Registry) metadataRequest(ctx context.Context, method, endpoint string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Older browsers only accept GET on /json/new.
	if resp.StatusCode == http.StatusMethodNotAllowed && method == http.MethodPut {
		return r.metadataRequest(ctx, http.MethodGet, endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d", endpoint, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
