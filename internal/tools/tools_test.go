package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/browse"
	"github.com/Heather8769/any-browser-mcp/internal/session"
	"github.com/Heather8769/any-browser-mcp/internal/types"
)

func detachedServer(t *testing.T) *Server {
	t.Helper()
	// A registry with no attached browser: every page operation fails with a
	// coded error, which must surface inside the result, never as a fault.
	reg := session.NewRegistry(session.ModeRaw)
	facade := browse.New(reg, browse.Options{CommandTimeout: time.Second})
	return NewServer(facade, slog.Default())
}

func resultJSON(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("tool result not marshalable: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("tool result not an object: %v", err)
	}
	return out
}

func TestAllToolsRegistered(t *testing.T) {
	s := detachedServer(t)

	want := []string{
		"browser_navigate", "browser_navigate_back", "browser_navigate_forward",
		"browser_reload", "browser_click", "browser_type", "browser_fill",
		"browser_select", "browser_hover", "browser_drag", "browser_press_key",
		"browser_screenshot", "browser_evaluate", "browser_get_content",
		"browser_get_text", "browser_get_attribute", "browser_wait_for",
		"browser_scroll", "browser_tab_list", "browser_tab_select",
		"browser_tab_new", "browser_tab_close",
	}
	if len(s.Tools()) != len(want) {
		t.Fatalf("registered %d tools, want %d", len(s.Tools()), len(want))
	}
	for _, name := range want {
		if _, ok := s.handlers[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestDispatchUnknownToolReportsMiss(t *testing.T) {
	s := detachedServer(t)
	if _, ok := s.Dispatch(context.Background(), "browser_teleport", nil); ok {
		t.Fatal("unknown tool dispatched")
	}
}

func TestOperationFailureStaysInsideResult(t *testing.T) {
	s := detachedServer(t)

	res, ok := s.Dispatch(context.Background(), "browser_click", map[string]any{"selector": "#go"})
	if !ok {
		t.Fatal("dispatch failed")
	}
	out := resultJSON(t, res)
	if out["success"] != false {
		t.Fatalf("success = %v, want false", out["success"])
	}
	if out["code"] != types.CodeTargetNotFound {
		t.Fatalf("code = %v, want TARGET_NOT_FOUND", out["code"])
	}
	if out["selector"] != "#go" {
		t.Fatalf("failure does not echo the selector: %v", out)
	}
}

func TestMissingArgumentIsValidationNotFault(t *testing.T) {
	s := detachedServer(t)

	res, ok := s.Dispatch(context.Background(), "browser_click", map[string]any{})
	if !ok {
		t.Fatal("dispatch failed")
	}
	out := resultJSON(t, res)
	if out["success"] != false || out["code"] != types.CodeValidation {
		t.Fatalf("result = %v, want VALIDATION failure", out)
	}
}

func TestTabSelectDistinguishesIndexZeroFromAbsent(t *testing.T) {
	s := detachedServer(t)

	// index 0 present must be treated as an index selection, not ignored.
	res, _ := s.Dispatch(context.Background(), "browser_tab_select", map[string]any{"index": float64(0)})
	out := resultJSON(t, res)
	if out["success"] != false {
		t.Fatal("expected failure against detached registry")
	}
	if out["code"] != types.CodeChannelClosed {
		t.Fatalf("code = %v, want CHANNEL_CLOSED from the listing attempt", out["code"])
	}
}
