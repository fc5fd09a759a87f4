package browse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/cdp"
	"github.com/Heather8769/any-browser-mcp/internal/types"
)

// rawDriver drives a page with hand-built protocol commands over one
// correlation-tracked channel. Pointer interactions are composed from element
// geometry plus synthetic input dispatch; everything DOM-shaped goes through
// Runtime.evaluate.
type rawDriver struct {
	conn *cdp.Conn
}

func newRawDriver(conn *cdp.Conn) *rawDriver {
	return &rawDriver{conn: conn}
}

// eval runs an expression and returns its value, surfacing remote exceptions
// as coded failures.
func (d *rawDriver) eval(ctx context.Context, expression string) (json.RawMessage, error) {
	res, err := d.conn.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(res, &parsed); err != nil {
		return nil, types.NewError(types.CodeEvalFailure, "malformed evaluate response", err)
	}
	if parsed.ExceptionDetails != nil {
		msg := parsed.ExceptionDetails.Text
		if parsed.ExceptionDetails.Exception != nil && parsed.ExceptionDetails.Exception.Description != "" {
			msg = parsed.ExceptionDetails.Exception.Description
		}
		return nil, types.NewError(types.CodeEvalFailure, "script threw: "+msg, nil)
	}
	return parsed.Result.Value, nil
}

// evalEnvelope runs one of the shared snippets and decodes its envelope.
func (d *rawDriver) evalEnvelope(ctx context.Context, snippet string) (jsEnvelope, error) {
	value, err := d.eval(ctx, snippet)
	if err != nil {
		return jsEnvelope{}, err
	}
	raw, err := decodeEvalString(value)
	if err != nil {
		return jsEnvelope{}, types.NewError(types.CodeEvalFailure, "malformed snippet result", err)
	}
	env, err := parseEnvelope(raw)
	if err != nil {
		return jsEnvelope{}, types.NewError(types.CodeEvalFailure, "malformed snippet result", err)
	}
	if env.Error != "" {
		return env, types.NewError(types.CodeEvalFailure, "script threw: "+env.Error, nil)
	}
	return env, nil
}

func (d *rawDriver) elementBox(ctx context.Context, selector string) (jsEnvelope, error) {
	env, err := d.evalEnvelope(ctx, jsElementBox(selector))
	if err != nil {
		return env, err
	}
	if !env.Found {
		return env, selectorNotFound(selector)
	}
	return env, nil
}

func selectorNotFound(selector string) error {
	return types.NewError(types.CodeSelectorNotFound,
		fmt.Sprintf("no element matches selector %s", quote(selector)), nil)
}

func (d *rawDriver) State(ctx context.Context) (PageState, error) {
	env, err := d.evalEnvelope(ctx, jsPageState())
	if err != nil {
		return PageState{}, err
	}
	return PageState{URL: env.URL, Title: env.Title}, nil
}

func (d *rawDriver) Navigate(ctx context.Context, url string, timeout time.Duration) (PageState, error) {
	res, err := d.conn.Send(ctx, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		return PageState{}, err
	}
	var nav struct {
		ErrorText string `json:"errorText"`
	}
	if json.Unmarshal(res, &nav) == nil && nav.ErrorText != "" {
		return PageState{}, types.NewError(types.CodeEvalFailure,
			fmt.Sprintf("navigation to %s failed: %s", url, nav.ErrorText), nil)
	}
	if err := d.waitReady(ctx, timeout); err != nil {
		return PageState{}, err
	}
	return d.State(ctx)
}

func (d *rawDriver) Reload(ctx context.Context, timeout time.Duration) (PageState, error) {
	if _, err := d.conn.Send(ctx, "Page.reload", nil); err != nil {
		return PageState{}, err
	}
	if err := d.waitReady(ctx, timeout); err != nil {
		return PageState{}, err
	}
	return d.State(ctx)
}

// waitReady polls document.readyState after a load-triggering command. During
// the transition the execution context may be torn down mid-poll; those
// evaluate failures count as "not ready yet", not as errors.
func (d *rawDriver) waitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		env, err := d.evalEnvelope(ctx, jsReadyState())
		if err == nil && (env.Value == "interactive" || env.Value == "complete") {
			return nil
		}
		if time.Now().After(deadline) {
			return types.NewError(types.CodeWaitTimeout,
				fmt.Sprintf("page did not finish loading within %s", timeout), nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (d *rawDriver) Back(ctx context.Context) (PageState, error) {
	return d.stepHistory(ctx, -1)
}

func (d *rawDriver) Forward(ctx context.Context) (PageState, error) {
	return d.stepHistory(ctx, +1)
}

func (d *rawDriver) stepHistory(ctx context.Context, delta int) (PageState, error) {
	res, err := d.conn.Send(ctx, "Page.getNavigationHistory", nil)
	if err != nil {
		return PageState{}, err
	}
	var hist struct {
		CurrentIndex int `json:"currentIndex"`
		Entries      []struct {
			ID int `json:"id"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(res, &hist); err != nil {
		return PageState{}, types.NewError(types.CodeEvalFailure, "malformed navigation history", err)
	}
	idx := hist.CurrentIndex + delta
	if idx < 0 || idx >= len(hist.Entries) {
		// Nothing to go to; report where we already are.
		return d.State(ctx)
	}
	_, err = d.conn.Send(ctx, "Page.navigateToHistoryEntry", map[string]any{"entryId": hist.Entries[idx].ID})
	if err != nil {
		return PageState{}, err
	}
	if err := d.waitReady(ctx, 10*time.Second); err != nil {
		return PageState{}, err
	}
	return d.State(ctx)
}

func (d *rawDriver) dispatchMouse(ctx context.Context, event string, x, y float64, button MouseButton, clickCount int) error {
	params := map[string]any{
		"type": event,
		"x":    x,
		"y":    y,
	}
	if button != "" {
		params["button"] = string(button)
		params["clickCount"] = clickCount
	}
	_, err := d.conn.Send(ctx, "Input.dispatchMouseEvent", params)
	return err
}

func (d *rawDriver) Click(ctx context.Context, selector string, opts ClickOptions) error {
	box, err := d.elementBox(ctx, selector)
	if err != nil {
		return err
	}
	x := box.X + box.Width/2
	y := box.Y + box.Height/2

	button := opts.Button
	if button == "" {
		button = ButtonLeft
	}
	count := opts.ClickCount
	if count < 1 {
		count = 1
	}

	if err := d.dispatchMouse(ctx, "mouseMoved", x, y, "", 0); err != nil {
		return err
	}
	for i := 1; i <= count; i++ {
		if err := d.dispatchMouse(ctx, "mousePressed", x, y, button, i); err != nil {
			return err
		}
		if err := d.dispatchMouse(ctx, "mouseReleased", x, y, button, i); err != nil {
			return err
		}
	}
	return nil
}

func (d *rawDriver) Hover(ctx context.Context, selector string) error {
	box, err := d.elementBox(ctx, selector)
	if err != nil {
		return err
	}
	return d.dispatchMouse(ctx, "mouseMoved", box.X+box.Width/2, box.Y+box.Height/2, "", 0)
}

func (d *rawDriver) Drag(ctx context.Context, sourceSel, targetSel string) error {
	src, err := d.elementBox(ctx, sourceSel)
	if err != nil {
		return err
	}
	dst, err := d.elementBox(ctx, targetSel)
	if err != nil {
		return err
	}
	sx, sy := src.X+src.Width/2, src.Y+src.Height/2
	tx, ty := dst.X+dst.Width/2, dst.Y+dst.Height/2

	if err := d.dispatchMouse(ctx, "mouseMoved", sx, sy, "", 0); err != nil {
		return err
	}
	if err := d.dispatchMouse(ctx, "mousePressed", sx, sy, ButtonLeft, 1); err != nil {
		return err
	}
	// A few intermediate moves so drag handlers see motion, not a teleport.
	const steps = 5
	for i := 1; i <= steps; i++ {
		f := float64(i) / steps
		if err := d.dispatchMouse(ctx, "mouseMoved", sx+(tx-sx)*f, sy+(ty-sy)*f, "", 0); err != nil {
			return err
		}
	}
	return d.dispatchMouse(ctx, "mouseReleased", tx, ty, ButtonLeft, 1)
}

func (d *rawDriver) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	env, err := d.evalEnvelope(ctx, jsFocus(selector))
	if err != nil {
		return err
	}
	if !env.Found {
		return selectorNotFound(selector)
	}
	for i, r := range text {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if _, err := d.conn.Send(ctx, "Input.insertText", map[string]any{"text": string(r)}); err != nil {
			return err
		}
	}
	return nil
}

func (d *rawDriver) Fill(ctx context.Context, selector, value string) error {
	env, err := d.evalEnvelope(ctx, jsFill(selector, value))
	if err != nil {
		return err
	}
	if !env.Found {
		return selectorNotFound(selector)
	}
	return nil
}

func (d *rawDriver) SelectOption(ctx context.Context, selector string, values []string) ([]string, error) {
	env, err := d.evalEnvelope(ctx, jsSelectOption(selector, values))
	if err != nil {
		return nil, err
	}
	if !env.Found {
		return nil, selectorNotFound(selector)
	}
	return env.Selected, nil
}

// keyDescriptor carries the protocol fields for one named key.
type keyDescriptor struct {
	key               string
	code              string
	windowsVirtualKey int
	text              string
}

var namedKeys = map[string]keyDescriptor{
	"Enter":      {key: "Enter", code: "Enter", windowsVirtualKey: 13, text: "\r"},
	"Tab":        {key: "Tab", code: "Tab", windowsVirtualKey: 9},
	"Escape":     {key: "Escape", code: "Escape", windowsVirtualKey: 27},
	"Backspace":  {key: "Backspace", code: "Backspace", windowsVirtualKey: 8},
	"Delete":     {key: "Delete", code: "Delete", windowsVirtualKey: 46},
	"ArrowUp":    {key: "ArrowUp", code: "ArrowUp", windowsVirtualKey: 38},
	"ArrowDown":  {key: "ArrowDown", code: "ArrowDown", windowsVirtualKey: 40},
	"ArrowLeft":  {key: "ArrowLeft", code: "ArrowLeft", windowsVirtualKey: 37},
	"ArrowRight": {key: "ArrowRight", code: "ArrowRight", windowsVirtualKey: 39},
	"Home":       {key: "Home", code: "Home", windowsVirtualKey: 36},
	"End":        {key: "End", code: "End", windowsVirtualKey: 35},
	"PageUp":     {key: "PageUp", code: "PageUp", windowsVirtualKey: 33},
	"PageDown":   {key: "PageDown", code: "PageDown", windowsVirtualKey: 34},
	"Space":      {key: " ", code: "Space", windowsVirtualKey: 32, text: " "},
}

func (d *rawDriver) PressKey(ctx context.Context, key string) error {
	desc, ok := namedKeys[key]
	if !ok {
		runes := []rune(key)
		if len(runes) != 1 {
			return types.NewError(types.CodeValidation,
				fmt.Sprintf("unknown key %s", quote(key)), nil)
		}
		desc = keyDescriptor{key: key, text: key}
	}

	down := map[string]any{
		"type": "keyDown",
		"key":  desc.key,
	}
	if desc.code != "" {
		down["code"] = desc.code
	}
	if desc.windowsVirtualKey != 0 {
		down["windowsVirtualKeyCode"] = desc.windowsVirtualKey
		down["nativeVirtualKeyCode"] = desc.windowsVirtualKey
	}
	if desc.text != "" {
		down["text"] = desc.text
	} else {
		down["type"] = "rawKeyDown"
	}
	if _, err := d.conn.Send(ctx, "Input.dispatchKeyEvent", down); err != nil {
		return err
	}

	up := map[string]any{
		"type": "keyUp",
		"key":  desc.key,
	}
	if desc.code != "" {
		up["code"] = desc.code
	}
	if desc.windowsVirtualKey != 0 {
		up["windowsVirtualKeyCode"] = desc.windowsVirtualKey
		up["nativeVirtualKeyCode"] = desc.windowsVirtualKey
	}
	_, err := d.conn.Send(ctx, "Input.dispatchKeyEvent", up)
	return err
}

func (d *rawDriver) Scroll(ctx context.Context, selector string, dx, dy float64) error {
	env, err := d.evalEnvelope(ctx, jsScroll(selector, dx, dy))
	if err != nil {
		return err
	}
	if selector != "" && !env.Found {
		return selectorNotFound(selector)
	}
	return nil
}

func (d *rawDriver) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	return d.eval(ctx, expression)
}

func (d *rawDriver) Content(ctx context.Context, selector string) (string, error) {
	env, err := d.evalEnvelope(ctx, jsContent(selector))
	if err != nil {
		return "", err
	}
	if selector != "" && !env.Found {
		return "", selectorNotFound(selector)
	}
	return env.Value, nil
}

func (d *rawDriver) Text(ctx context.Context, selector string) (string, error) {
	env, err := d.evalEnvelope(ctx, jsText(selector))
	if err != nil {
		return "", err
	}
	if selector != "" && !env.Found {
		return "", selectorNotFound(selector)
	}
	return env.Value, nil
}

func (d *rawDriver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	env, err := d.evalEnvelope(ctx, jsAttribute(selector, name))
	if err != nil {
		return "", false, err
	}
	if !env.Found {
		return "", false, selectorNotFound(selector)
	}
	return env.Value, env.Present, nil
}

func (d *rawDriver) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	params := map[string]any{"format": opts.Format}
	if opts.Format == "jpeg" && opts.Quality > 0 {
		params["quality"] = opts.Quality
	}
	if opts.FullPage {
		params["captureBeyondViewport"] = true
	}
	if opts.Selector != "" {
		box, err := d.elementBox(ctx, opts.Selector)
		if err != nil {
			return nil, err
		}
		params["clip"] = map[string]any{
			"x":      box.X,
			"y":      box.Y,
			"width":  box.Width,
			"height": box.Height,
			"scale":  1,
		}
	}

	res, err := d.conn.Send(ctx, "Page.captureScreenshot", params)
	if err != nil {
		return nil, err
	}
	var shot struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(res, &shot); err != nil {
		return nil, types.NewError(types.CodeEvalFailure, "malformed screenshot response", err)
	}
	data, err := base64.StdEncoding.DecodeString(shot.Data)
	if err != nil {
		return nil, types.NewError(types.CodeEvalFailure, "undecodable screenshot payload", err)
	}
	return data, nil
}
