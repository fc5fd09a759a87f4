// Package tools exposes the automation facade as MCP tools over stdio, and
// as a name-indexed dispatch table the HTTP deployment reuses.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Heather8769/any-browser-mcp/internal/browse"
	"github.com/Heather8769/any-browser-mcp/internal/session"
)

const serverName = "any-browser-mcp"

// Version is stamped into the MCP handshake and the HTTP health response.
const Version = "1.2.0"

// handlerFunc executes one tool. The returned value is always a marshalable
// result struct with a success flag; handlers never return Go errors, so a
// failed operation is still a well-formed tool response.
type handlerFunc func(ctx context.Context, args map[string]any) any

// Server owns the tool table and the MCP stdio server around it.
type Server struct {
	facade *browse.Facade
	log    *slog.Logger

	mcp      *server.MCPServer
	handlers map[string]handlerFunc
	defs     []mcp.Tool
}

func NewServer(facade *browse.Facade, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		facade:   facade,
		log:      log,
		handlers: map[string]handlerFunc{},
		mcp: server.NewMCPServer(serverName, Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerAll()
	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// Dispatch runs a named tool directly. Used by the HTTP deployment; an
// unknown name returns ok=false.
func (s *Server) Dispatch(ctx context.Context, name string, args map[string]any) (any, bool) {
	h, ok := s.handlers[name]
	if !ok {
		return nil, false
	}
	return h(ctx, args), true
}

// Tools lists the registered tool definitions.
func (s *Server) Tools() []mcp.Tool {
	return append([]mcp.Tool(nil), s.defs...)
}

func (s *Server) register(tool mcp.Tool, h handlerFunc) {
	s.handlers[tool.Name] = h
	s.defs = append(s.defs, tool)
	s.mcp.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		started := time.Now()
		result := h(ctx, req.Params.Arguments)
		s.log.Debug("tool executed", "tool", tool.Name, "duration", time.Since(started))

		data, err := json.Marshal(result)
		if err != nil {
			// Result structs are plain data; this indicates a bug, not a
			// page failure.
			return mcp.NewToolResultError("internal: unmarshalable tool result"), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func (s *Server) registerAll() {
	s.register(mcp.NewTool("browser_navigate",
		mcp.WithDescription("Navigate the current tab to a URL. Scheme-less URLs get https."),
		mcp.WithString("url", mcp.Description("Destination URL"), mcp.Required()),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Navigate(ctx, strArg(args, "url"))
	})

	s.register(mcp.NewTool("browser_navigate_back",
		mcp.WithDescription("Go back one entry in the current tab's history."),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Back(ctx)
	})

	s.register(mcp.NewTool("browser_navigate_forward",
		mcp.WithDescription("Go forward one entry in the current tab's history."),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Forward(ctx)
	})

	s.register(mcp.NewTool("browser_reload",
		mcp.WithDescription("Reload the current tab."),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Reload(ctx)
	})

	s.register(mcp.NewTool("browser_click",
		mcp.WithDescription("Click the element matching a CSS selector."),
		mcp.WithString("selector", mcp.Description("CSS selector"), mcp.Required()),
		mcp.WithString("button", mcp.Description("left, right, or middle (default left)")),
		mcp.WithNumber("click_count", mcp.Description("Number of clicks (default 1)")),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Click(ctx, strArg(args, "selector"), browse.ClickOptions{
			Button:     browse.MouseButton(strArg(args, "button")),
			ClickCount: intArg(args, "click_count"),
		})
	})

	s.register(mcp.NewTool("browser_type",
		mcp.WithDescription("Type text into the element matching a selector, keystroke by keystroke."),
		mcp.WithString("selector", mcp.Description("CSS selector"), mcp.Required()),
		mcp.WithString("text", mcp.Description("Text to type"), mcp.Required()),
		mcp.WithNumber("delay_ms", mcp.Description("Delay between keystrokes in milliseconds")),
	), func(ctx context.Context, args map[string]any) any {
		delay := time.Duration(intArg(args, "delay_ms")) * time.Millisecond
		return s.facade.Type(ctx, strArg(args, "selector"), strArg(args, "text"), delay)
	})

	s.register(mcp.NewTool("browser_fill",
		mcp.WithDescription("Set an input's value directly, firing input and change events."),
		mcp.WithString("selector", mcp.Description("CSS selector"), mcp.Required()),
		mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Fill(ctx, strArg(args, "selector"), strArg(args, "value"))
	})

	s.register(mcp.NewTool("browser_select",
		mcp.WithDescription("Select options in a <select> element by value or label."),
		mcp.WithString("selector", mcp.Description("CSS selector"), mcp.Required()),
		mcp.WithArray("values", mcp.Description("Option values or labels to select"), mcp.Required()),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.SelectOption(ctx, strArg(args, "selector"), strSliceArg(args, "values"))
	})

	s.register(mcp.NewTool("browser_hover",
		mcp.WithDescription("Move the pointer over the element matching a selector."),
		mcp.WithString("selector", mcp.Description("CSS selector"), mcp.Required()),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Hover(ctx, strArg(args, "selector"))
	})

	s.register(mcp.NewTool("browser_drag",
		mcp.WithDescription("Drag from one element to another."),
		mcp.WithString("source", mcp.Description("CSS selector of the element to drag"), mcp.Required()),
		mcp.WithString("target", mcp.Description("CSS selector of the drop target"), mcp.Required()),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Drag(ctx, strArg(args, "source"), strArg(args, "target"))
	})

	s.register(mcp.NewTool("browser_press_key",
		mcp.WithDescription("Press a key (Enter, Tab, Escape, ArrowDown, a, ...) in the current tab."),
		mcp.WithString("key", mcp.Description("Key name or single character"), mcp.Required()),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.PressKey(ctx, strArg(args, "key"))
	})

	s.register(mcp.NewTool("browser_screenshot",
		mcp.WithDescription("Capture the viewport, full page, or one element. With path the image is written to disk; otherwise returned inline as base64."),
		mcp.WithString("selector", mcp.Description("Capture only this element")),
		mcp.WithBoolean("full_page", mcp.Description("Capture the full scrollable page")),
		mcp.WithString("format", mcp.Description("png or jpeg (default png)")),
		mcp.WithNumber("quality", mcp.Description("JPEG quality 1-100")),
		mcp.WithString("path", mcp.Description("File path to write the image to")),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Screenshot(ctx, browse.ScreenshotRequest{
			Selector: strArg(args, "selector"),
			FullPage: boolArg(args, "full_page"),
			Format:   strArg(args, "format"),
			Quality:  intArg(args, "quality"),
			Path:     strArg(args, "path"),
		})
	})

	s.register(mcp.NewTool("browser_evaluate",
		mcp.WithDescription("Evaluate a JavaScript expression in the current tab and return its JSON value."),
		mcp.WithString("expression", mcp.Description("JavaScript expression"), mcp.Required()),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Evaluate(ctx, strArg(args, "expression"))
	})

	s.register(mcp.NewTool("browser_get_content",
		mcp.WithDescription("Get the page's HTML, or one element's outer HTML."),
		mcp.WithString("selector", mcp.Description("Scope to this element")),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Content(ctx, strArg(args, "selector"))
	})

	s.register(mcp.NewTool("browser_get_text",
		mcp.WithDescription("Get the page's visible text, or one element's text."),
		mcp.WithString("selector", mcp.Description("Scope to this element")),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Text(ctx, strArg(args, "selector"))
	})

	s.register(mcp.NewTool("browser_get_attribute",
		mcp.WithDescription("Read an attribute from the element matching a selector."),
		mcp.WithString("selector", mcp.Description("CSS selector"), mcp.Required()),
		mcp.WithString("name", mcp.Description("Attribute name"), mcp.Required()),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Attribute(ctx, strArg(args, "selector"), strArg(args, "name"))
	})

	s.register(mcp.NewTool("browser_wait_for",
		mcp.WithDescription("Wait until a selector reaches a state, the URL contains a substring, or the page text contains a substring."),
		mcp.WithString("selector", mcp.Description("CSS selector to await")),
		mcp.WithString("state", mcp.Description("visible, hidden, attached, or detached (default visible)")),
		mcp.WithString("url_contains", mcp.Description("Wait for the URL to contain this substring")),
		mcp.WithString("text_contains", mcp.Description("Wait for the page text to contain this substring")),
		mcp.WithNumber("timeout_ms", mcp.Description("Wait budget in milliseconds")),
	), func(ctx context.Context, args map[string]any) any {
		timeout := time.Duration(intArg(args, "timeout_ms")) * time.Millisecond
		return s.facade.WaitFor(ctx, browse.WaitCondition{
			Selector:     strArg(args, "selector"),
			State:        browse.WaitState(strArg(args, "state")),
			URLContains:  strArg(args, "url_contains"),
			TextContains: strArg(args, "text_contains"),
		}, timeout)
	})

	s.register(mcp.NewTool("browser_scroll",
		mcp.WithDescription("Scroll the page by a delta, or bring an element into view."),
		mcp.WithString("selector", mcp.Description("Element to scroll into view")),
		mcp.WithNumber("dx", mcp.Description("Horizontal scroll delta in pixels")),
		mcp.WithNumber("dy", mcp.Description("Vertical scroll delta in pixels")),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.Scroll(ctx, strArg(args, "selector"), floatArg(args, "dx"), floatArg(args, "dy"))
	})

	s.register(mcp.NewTool("browser_tab_list",
		mcp.WithDescription("List open tabs in the browser's order, flagging the current one."),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.TabList(ctx)
	})

	s.register(mcp.NewTool("browser_tab_select",
		mcp.WithDescription("Switch the current tab by zero-based index or target id."),
		mcp.WithNumber("index", mcp.Description("Zero-based tab index")),
		mcp.WithString("id", mcp.Description("Target id")),
	), func(ctx context.Context, args map[string]any) any {
		_, hasIndex := args["index"]
		return s.facade.TabSelect(ctx, session.Selector{
			Index:   intArg(args, "index"),
			ID:      strArg(args, "id"),
			ByIndex: hasIndex,
		})
	})

	s.register(mcp.NewTool("browser_tab_new",
		mcp.WithDescription("Open a new tab. It becomes current unless background is set."),
		mcp.WithString("url", mcp.Description("URL to open (default about:blank)")),
		mcp.WithBoolean("background", mcp.Description("Open without switching to it")),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.TabNew(ctx, strArg(args, "url"), boolArg(args, "background"))
	})

	s.register(mcp.NewTool("browser_tab_close",
		mcp.WithDescription("Close a tab by target id."),
		mcp.WithString("id", mcp.Description("Target id"), mcp.Required()),
	), func(ctx context.Context, args map[string]any) any {
		return s.facade.TabClose(ctx, strArg(args, "id"))
	})
}

func strArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func intArg(args map[string]any, key string) int {
	return int(floatArg(args, key))
}

func strSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
