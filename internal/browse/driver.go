package browse

import (
	"context"
	"encoding/json"
	"time"
)

// WaitState names the element states a wait condition can target.
type WaitState string

const (
	WaitVisible  WaitState = "visible"
	WaitHidden   WaitState = "hidden"
	WaitAttached WaitState = "attached"
	WaitDetached WaitState = "detached"
)

// WaitCondition is one awaitable page condition. Exactly one of Selector,
// URLContains, or TextContains is set; State qualifies Selector waits.
type WaitCondition struct {
	Selector     string
	State        WaitState
	URLContains  string
	TextContains string
}

// Describe renders the condition for timeout messages.
func (c WaitCondition) Describe() string {
	switch {
	case c.URLContains != "":
		return "url containing " + quote(c.URLContains)
	case c.TextContains != "":
		return "text containing " + quote(c.TextContains)
	default:
		state := c.State
		if state == "" {
			state = WaitVisible
		}
		return "selector " + quote(c.Selector) + " to be " + string(state)
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// MouseButton names the buttons accepted by click operations.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// ClickOptions shape a synthetic click.
type ClickOptions struct {
	Button     MouseButton
	ClickCount int
}

// ScreenshotOptions shape a capture. Selector and FullPage are mutually
// exclusive; Format is png or jpeg.
type ScreenshotOptions struct {
	Selector string
	FullPage bool
	Format   string
	Quality  int
}

// PageState is the url/title pair reported after navigation operations.
type PageState struct {
	URL   string
	Title string
}

// Driver executes automation primitives against one attached page. The two
// implementations route through different channels (a scripting library vs
// hand-built protocol commands) but honor identical semantics, so the facade
// never cares which one it holds.
type Driver interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) (PageState, error)
	Reload(ctx context.Context, timeout time.Duration) (PageState, error)
	Back(ctx context.Context) (PageState, error)
	Forward(ctx context.Context) (PageState, error)
	State(ctx context.Context) (PageState, error)

	Click(ctx context.Context, selector string, opts ClickOptions) error
	Hover(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string, delay time.Duration) error
	Fill(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector string, values []string) ([]string, error)
	Drag(ctx context.Context, sourceSel, targetSel string) error
	PressKey(ctx context.Context, key string) error
	Scroll(ctx context.Context, selector string, dx, dy float64) error

	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
	Content(ctx context.Context, selector string) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)

	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
}
