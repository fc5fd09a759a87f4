package browse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/Heather8769/any-browser-mcp/internal/types"
)

// chromeDriver drives a page through chromedp actions on an attached tab
// context. Element geometry still comes from the shared snippets so both
// drivers agree on what "selector not found" means.
type chromeDriver struct {
	tab context.Context
}

func newChromeDriver(tab context.Context) *chromeDriver {
	return &chromeDriver{tab: tab}
}

func (d *chromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := d.tab
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(d.tab, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (d *chromeDriver) evalEnvelope(ctx context.Context, snippet string) (jsEnvelope, error) {
	var raw string
	if err := d.run(ctx, chromedp.Evaluate(snippet, &raw)); err != nil {
		return jsEnvelope{}, types.NewError(types.CodeEvalFailure, "script evaluation failed", err)
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

func (d *chromeDriver) elementBox(ctx context.Context, selector string) (jsEnvelope, error) {
	env, err := d.evalEnvelope(ctx, jsElementBox(selector))
	if err != nil {
		return env, err
	}
	if !env.Found {
		return env, selectorNotFound(selector)
	}
	return env, nil
}

func (d *chromeDriver) State(ctx context.Context) (PageState, error) {
	env, err := d.evalEnvelope(ctx, jsPageState())
	if err != nil {
		return PageState{}, err
	}
	return PageState{URL: env.URL, Title: env.Title}, nil
}

func (d *chromeDriver) Navigate(ctx context.Context, url string, timeout time.Duration) (PageState, error) {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.run(navCtx, chromedp.Navigate(url)); err != nil {
		return PageState{}, err
	}
	return d.State(ctx)
}

func (d *chromeDriver) Reload(ctx context.Context, timeout time.Duration) (PageState, error) {
	reloadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.run(reloadCtx, chromedp.Reload()); err != nil {
		return PageState{}, err
	}
	return d.State(ctx)
}

func (d *chromeDriver) Back(ctx context.Context) (PageState, error) {
	if err := d.run(ctx, chromedp.NavigateBack()); err != nil {
		return PageState{}, err
	}
	return d.State(ctx)
}

func (d *chromeDriver) Forward(ctx context.Context) (PageState, error) {
	if err := d.run(ctx, chromedp.NavigateForward()); err != nil {
		return PageState{}, err
	}
	return d.State(ctx)
}

func (d *chromeDriver) Click(ctx context.Context, selector string, opts ClickOptions) error {
	box, err := d.elementBox(ctx, selector)
	if err != nil {
		return err
	}
	button := opts.Button
	if button == "" {
		button = ButtonLeft
	}
	count := opts.ClickCount
	if count < 1 {
		count = 1
	}
	x := box.X + box.Width/2
	y := box.Y + box.Height/2
	return d.run(ctx, chromedp.MouseClickXY(x, y,
		chromedp.ButtonType(input.MouseButton(button)),
		chromedp.ClickCount(count)))
}

func (d *chromeDriver) Hover(ctx context.Context, selector string) error {
	box, err := d.elementBox(ctx, selector)
	if err != nil {
		return err
	}
	x := box.X + box.Width/2
	y := box.Y + box.Height/2
	return d.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

func (d *chromeDriver) Drag(ctx context.Context, sourceSel, targetSel string) error {
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
	btn := chromedp.ButtonType(input.Left)
	return d.run(ctx,
		chromedp.MouseEvent(input.MousePressed, sx, sy, btn),
		chromedp.MouseEvent(input.MouseMoved, (sx+tx)/2, (sy+ty)/2, btn),
		chromedp.MouseEvent(input.MouseMoved, tx, ty, btn),
		chromedp.MouseEvent(input.MouseReleased, tx, ty, btn),
	)
}

func (d *chromeDriver) Type(ctx context.Context, selector, text string, delay time.Duration) error {
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
		if err := d.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return err
		}
	}
	return nil
}

func (d *chromeDriver) Fill(ctx context.Context, selector, value string) error {
	env, err := d.evalEnvelope(ctx, jsFill(selector, value))
	if err != nil {
		return err
	}
	if !env.Found {
		return selectorNotFound(selector)
	}
	return nil
}

func (d *chromeDriver) SelectOption(ctx context.Context, selector string, values []string) ([]string, error) {
	env, err := d.evalEnvelope(ctx, jsSelectOption(selector, values))
	if err != nil {
		return nil, err
	}
	if !env.Found {
		return nil, selectorNotFound(selector)
	}
	return env.Selected, nil
}

// chromedpKeys maps portable key names onto the key runes chromedp.KeyEvent
// understands.
var chromedpKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Space":      " ",
}

func (d *chromeDriver) PressKey(ctx context.Context, key string) error {
	k, ok := chromedpKeys[key]
	if !ok {
		if len([]rune(key)) != 1 {
			return types.NewError(types.CodeValidation, "unknown key "+quote(key), nil)
		}
		k = key
	}
	return d.run(ctx, chromedp.KeyEvent(k))
}

func (d *chromeDriver) Scroll(ctx context.Context, selector string, dx, dy float64) error {
	env, err := d.evalEnvelope(ctx, jsScroll(selector, dx, dy))
	if err != nil {
		return err
	}
	if selector != "" && !env.Found {
		return selectorNotFound(selector)
	}
	return nil
}

func (d *chromeDriver) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := d.run(ctx, chromedp.Evaluate(expression, &raw)); err != nil {
		return nil, types.NewError(types.CodeEvalFailure, "script evaluation failed", err)
	}
	return raw, nil
}

func (d *chromeDriver) Content(ctx context.Context, selector string) (string, error) {
	env, err := d.evalEnvelope(ctx, jsContent(selector))
	if err != nil {
		return "", err
	}
	if selector != "" && !env.Found {
		return "", selectorNotFound(selector)
	}
	return env.Value, nil
}

func (d *chromeDriver) Text(ctx context.Context, selector string) (string, error) {
	env, err := d.evalEnvelope(ctx, jsText(selector))
	if err != nil {
		return "", err
	}
	if selector != "" && !env.Found {
		return "", selectorNotFound(selector)
	}
	return env.Value, nil
}

func (d *chromeDriver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	env, err := d.evalEnvelope(ctx, jsAttribute(selector, name))
	if err != nil {
		return "", false, err
	}
	if !env.Found {
		return "", false, selectorNotFound(selector)
	}
	return env.Value, env.Present, nil
}

func (d *chromeDriver) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	var clip *page.Viewport
	if opts.Selector != "" {
		box, err := d.elementBox(ctx, opts.Selector)
		if err != nil {
			return nil, err
		}
		clip = &page.Viewport{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height, Scale: 1}
	}

	var buf []byte
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormat(opts.Format))
		if opts.Format == "jpeg" && opts.Quality > 0 {
			params = params.WithQuality(int64(opts.Quality))
		}
		if opts.FullPage {
			params = params.WithCaptureBeyondViewport(true)
		}
		if clip != nil {
			params = params.WithClip(clip)
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}
