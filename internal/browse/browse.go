// Package browse is the automation facade: validated, result-shaped page
// operations over either a chromedp tab or a raw protocol channel.
package browse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/session"
	"github.com/Heather8769/any-browser-mcp/internal/types"
)

const (
	// echoLimit caps echoed inputs in results so huge selectors or values
	// don't balloon tool responses.
	echoLimit = 200

	defaultPollInterval = 100 * time.Millisecond
	defaultTypeDelay    = 25 * time.Millisecond
)

// Options tune facade timeouts. Zero values fall back to defaults.
type Options struct {
	CommandTimeout time.Duration
	WaitTimeout    time.Duration
	Logger         *slog.Logger
}

// Facade executes page operations against the registry's current target. All
// methods return a result struct with the success flag set; errors never
// escape as panics or naked Go errors, so callers can marshal results
// directly into tool responses.
type Facade struct {
	reg *session.Registry
	log *slog.Logger

	commandTimeout time.Duration
	waitTimeout    time.Duration
	pollInterval   time.Duration

	// driverFor is swappable in tests.
	driverFor func(ctx context.Context) (Driver, error)
}

func New(reg *session.Registry, opts Options) *Facade {
	f := &Facade{
		reg:            reg,
		log:            opts.Logger,
		commandTimeout: opts.CommandTimeout,
		waitTimeout:    opts.WaitTimeout,
		pollInterval:   defaultPollInterval,
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	if f.commandTimeout <= 0 {
		f.commandTimeout = 30 * time.Second
	}
	if f.waitTimeout <= 0 {
		f.waitTimeout = 10 * time.Second
	}
	f.driverFor = f.registryDriver
	return f
}

// Registry exposes the underlying registry for tab-level operations.
func (f *Facade) Registry() *session.Registry { return f.reg }

func (f *Facade) registryDriver(ctx context.Context) (Driver, error) {
	tgt, err := f.reg.Current(ctx)
	if err != nil {
		return nil, err
	}
	if f.reg.Mode() == session.ModeChromedp {
		return newChromeDriver(tgt.ChromedpContext()), nil
	}
	return newRawDriver(tgt.Conn()), nil
}

func (f *Facade) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.commandTimeout)
}

// Result is the base of every facade response.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func okResult() Result { return Result{Success: true} }

func failResult(err error) Result {
	r := Result{Success: false, Error: err.Error()}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		r.Code = coded.Code
	}
	return r
}

func echo(s string) string {
	runes := []rune(s)
	if len(runes) <= echoLimit {
		return s
	}
	return string(runes[:echoLimit])
}

func validationErr(format string, args ...any) error {
	return types.NewError(types.CodeValidation, fmt.Sprintf(format, args...), nil)
}

// PageResult reports url/title after navigation-shaped operations.
type PageResult struct {
	Result
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

func (f *Facade) pageResult(state PageState, err error) *PageResult {
	if err != nil {
		return &PageResult{Result: failResult(err)}
	}
	return &PageResult{Result: okResult(), URL: state.URL, Title: state.Title}
}

// Navigate loads a url in the current target. Scheme-less urls get https.
func (f *Facade) Navigate(ctx context.Context, rawURL string) *PageResult {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		return &PageResult{Result: failResult(validationErr("url is required"))}
	}
	if !strings.Contains(url, "://") && !strings.HasPrefix(url, "about:") && !strings.HasPrefix(url, "data:") {
		url = "https://" + url
	}

	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err != nil {
		return &PageResult{Result: failResult(err), URL: echo(url)}
	}
	state, err := d.Navigate(ctx, url, f.commandTimeout)
	res := f.pageResult(state, err)
	if err != nil {
		f.log.Debug("navigation failed", "url", url, "error", err)
		res.URL = echo(url)
	}
	return res
}

func (f *Facade) Reload(ctx context.Context) *PageResult {
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err != nil {
		return &PageResult{Result: failResult(err)}
	}
	return f.pageResult(d.Reload(ctx, f.commandTimeout))
}

func (f *Facade) Back(ctx context.Context) *PageResult {
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err != nil {
		return &PageResult{Result: failResult(err)}
	}
	return f.pageResult(d.Back(ctx))
}

func (f *Facade) Forward(ctx context.Context) *PageResult {
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err != nil {
		return &PageResult{Result: failResult(err)}
	}
	return f.pageResult(d.Forward(ctx))
}

// ClickResult echoes the clicked selector.
type ClickResult struct {
	Result
	Selector string `json:"selector"`
	Button   string `json:"button,omitempty"`
}

func (f *Facade) Click(ctx context.Context, selector string, opts ClickOptions) *ClickResult {
	res := &ClickResult{Selector: echo(selector), Button: string(opts.Button)}
	if strings.TrimSpace(selector) == "" {
		res.Result = failResult(validationErr("selector is required"))
		return res
	}
	switch opts.Button {
	case "", ButtonLeft, ButtonRight, ButtonMiddle:
	default:
		res.Result = failResult(validationErr("button must be left, right, or middle, got %q", opts.Button))
		return res
	}

	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err == nil {
		err = d.Click(ctx, selector, opts)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	return res
}

// HoverResult echoes the hovered selector.
type HoverResult struct {
	Result
	Selector string `json:"selector"`
}

func (f *Facade) Hover(ctx context.Context, selector string) *HoverResult {
	res := &HoverResult{Selector: echo(selector)}
	if strings.TrimSpace(selector) == "" {
		res.Result = failResult(validationErr("selector is required"))
		return res
	}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err == nil {
		err = d.Hover(ctx, selector)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	return res
}

// TypeResult echoes selector and typed text.
type TypeResult struct {
	Result
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

func (f *Facade) Type(ctx context.Context, selector, text string, delay time.Duration) *TypeResult {
	res := &TypeResult{Selector: echo(selector), Text: echo(text)}
	if strings.TrimSpace(selector) == "" {
		res.Result = failResult(validationErr("selector is required"))
		return res
	}
	if text == "" {
		res.Result = failResult(validationErr("text is required"))
		return res
	}
	if delay <= 0 {
		delay = defaultTypeDelay
	}

	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err == nil {
		err = d.Type(ctx, selector, text, delay)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	return res
}

// FillResult echoes selector and value.
type FillResult struct {
	Result
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

func (f *Facade) Fill(ctx context.Context, selector, value string) *FillResult {
	res := &FillResult{Selector: echo(selector), Value: echo(value)}
	if strings.TrimSpace(selector) == "" {
		res.Result = failResult(validationErr("selector is required"))
		return res
	}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err == nil {
		err = d.Fill(ctx, selector, value)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	return res
}

// SelectResult carries the option values actually selected.
type SelectResult struct {
	Result
	Selector string   `json:"selector"`
	Values   []string `json:"values"`
	Selected []string `json:"selected,omitempty"`
}

func (f *Facade) SelectOption(ctx context.Context, selector string, values []string) *SelectResult {
	res := &SelectResult{Selector: echo(selector), Values: values}
	if strings.TrimSpace(selector) == "" {
		res.Result = failResult(validationErr("selector is required"))
		return res
	}
	if len(values) == 0 {
		res.Result = failResult(validationErr("at least one value is required"))
		return res
	}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	var selected []string
	if err == nil {
		selected, err = d.SelectOption(ctx, selector, values)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	res.Selected = selected
	return res
}

// DragResult echoes source and target selectors.
type DragResult struct {
	Result
	Source string `json:"source"`
	Target string `json:"target"`
}

func (f *Facade) Drag(ctx context.Context, sourceSel, targetSel string) *DragResult {
	res := &DragResult{Source: echo(sourceSel), Target: echo(targetSel)}
	if strings.TrimSpace(sourceSel) == "" || strings.TrimSpace(targetSel) == "" {
		res.Result = failResult(validationErr("source and target selectors are required"))
		return res
	}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err == nil {
		err = d.Drag(ctx, sourceSel, targetSel)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	return res
}

// KeyResult echoes the pressed key.
type KeyResult struct {
	Result
	Key string `json:"key"`
}

func (f *Facade) PressKey(ctx context.Context, key string) *KeyResult {
	res := &KeyResult{Key: echo(key)}
	if key == "" {
		res.Result = failResult(validationErr("key is required"))
		return res
	}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err == nil {
		err = d.PressKey(ctx, key)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	return res
}

// ScrollResult echoes the scroll request.
type ScrollResult struct {
	Result
	Selector string  `json:"selector,omitempty"`
	DX       float64 `json:"dx,omitempty"`
	DY       float64 `json:"dy,omitempty"`
}

func (f *Facade) Scroll(ctx context.Context, selector string, dx, dy float64) *ScrollResult {
	res := &ScrollResult{Selector: echo(selector), DX: dx, DY: dy}
	if selector == "" && dx == 0 && dy == 0 {
		res.Result = failResult(validationErr("either a selector or a scroll delta is required"))
		return res
	}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	if err == nil {
		err = d.Scroll(ctx, selector, dx, dy)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	return res
}

// EvaluateResult carries the script's JSON value.
type EvaluateResult struct {
	Result
	Expression string          `json:"expression"`
	Value      json.RawMessage `json:"value,omitempty"`
}

func (f *Facade) Evaluate(ctx context.Context, expression string) *EvaluateResult {
	res := &EvaluateResult{Expression: echo(expression)}
	if strings.TrimSpace(expression) == "" {
		res.Result = failResult(validationErr("expression is required"))
		return res
	}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	var value json.RawMessage
	if err == nil {
		value, err = d.Evaluate(ctx, expression)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	res.Value = value
	return res
}

// ContentResult carries HTML content.
type ContentResult struct {
	Result
	Selector string `json:"selector,omitempty"`
	Content  string `json:"content,omitempty"`
}

func (f *Facade) Content(ctx context.Context, selector string) *ContentResult {
	res := &ContentResult{Selector: echo(selector)}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	var content string
	if err == nil {
		content, err = d.Content(ctx, selector)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	res.Content = content
	return res
}

// TextResult carries visible text.
type TextResult struct {
	Result
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
}

func (f *Facade) Text(ctx context.Context, selector string) *TextResult {
	res := &TextResult{Selector: echo(selector)}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	var text string
	if err == nil {
		text, err = d.Text(ctx, selector)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	res.Text = text
	return res
}

// AttributeResult distinguishes empty from absent attributes.
type AttributeResult struct {
	Result
	Selector string `json:"selector"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	Present  bool   `json:"present"`
}

func (f *Facade) Attribute(ctx context.Context, selector, name string) *AttributeResult {
	res := &AttributeResult{Selector: echo(selector), Name: name}
	if strings.TrimSpace(selector) == "" || strings.TrimSpace(name) == "" {
		res.Result = failResult(validationErr("selector and attribute name are required"))
		return res
	}
	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	var value string
	var present bool
	if err == nil {
		value, present, err = d.Attribute(ctx, selector, name)
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}
	res.Result = okResult()
	res.Value = value
	res.Present = present
	return res
}

// WaitResult reports the awaited condition and how long it took.
type WaitResult struct {
	Result
	Condition string `json:"condition"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// WaitFor polls the condition until it holds or the wait timeout expires.
func (f *Facade) WaitFor(ctx context.Context, cond WaitCondition, timeout time.Duration) *WaitResult {
	res := &WaitResult{Condition: cond.Describe()}
	if err := validateCondition(cond); err != nil {
		res.Result = failResult(err)
		return res
	}
	if timeout <= 0 {
		timeout = f.waitTimeout
	}

	d, err := f.driverFor(ctx)
	if err != nil {
		res.Result = failResult(err)
		return res
	}

	start := time.Now()
	deadline := start.Add(timeout)
	snippet := jsWaitPredicate(cond)
	for {
		pollCtx, cancel := f.opContext(ctx)
		value, err := d.Evaluate(pollCtx, snippet)
		cancel()
		if err == nil {
			if raw, derr := decodeEvalString(value); derr == nil {
				if env, perr := parseEnvelope(raw); perr == nil && env.OK {
					res.Result = okResult()
					res.ElapsedMS = time.Since(start).Milliseconds()
					return res
				}
			}
		}
		if time.Now().After(deadline) {
			res.Result = failResult(types.NewError(types.CodeWaitTimeout,
				fmt.Sprintf("timed out after %s waiting for %s", timeout, cond.Describe()), nil))
			res.ElapsedMS = time.Since(start).Milliseconds()
			return res
		}
		select {
		case <-ctx.Done():
			res.Result = failResult(ctx.Err())
			return res
		case <-time.After(f.pollInterval):
		}
	}
}

func validateCondition(cond WaitCondition) error {
	set := 0
	if cond.Selector != "" {
		set++
	}
	if cond.URLContains != "" {
		set++
	}
	if cond.TextContains != "" {
		set++
	}
	if set != 1 {
		return validationErr("exactly one of selector, url_contains, or text_contains is required")
	}
	switch cond.State {
	case "", WaitVisible, WaitHidden, WaitAttached, WaitDetached:
	default:
		return validationErr("state must be visible, hidden, attached, or detached, got %q", cond.State)
	}
	if cond.Selector == "" && cond.State != "" {
		return validationErr("state applies only to selector waits")
	}
	return nil
}

// ScreenshotResult carries either a file path or inline data, never both.
type ScreenshotResult struct {
	Result
	Path    string `json:"path,omitempty"`
	Format  string `json:"format,omitempty"`
	Data    string `json:"data,omitempty"`
	DataURL string `json:"data_url,omitempty"`
}

// ScreenshotRequest is the validated capture request.
type ScreenshotRequest struct {
	Selector string
	FullPage bool
	Format   string
	Quality  int
	Path     string
}

func (f *Facade) Screenshot(ctx context.Context, req ScreenshotRequest) *ScreenshotResult {
	format := req.Format
	if format == "" {
		format = "png"
	}
	res := &ScreenshotResult{Format: format}
	if format != "png" && format != "jpeg" {
		res.Result = failResult(validationErr("format must be png or jpeg, got %q", format))
		return res
	}
	if req.Selector != "" && req.FullPage {
		res.Result = failResult(validationErr("selector and full_page are mutually exclusive"))
		return res
	}

	ctx, cancel := f.opContext(ctx)
	defer cancel()
	d, err := f.driverFor(ctx)
	var data []byte
	if err == nil {
		data, err = d.Screenshot(ctx, ScreenshotOptions{
			Selector: req.Selector,
			FullPage: req.FullPage,
			Format:   format,
			Quality:  req.Quality,
		})
	}
	if err != nil {
		res.Result = failResult(err)
		return res
	}

	if req.Path != "" {
		if err := os.WriteFile(req.Path, data, 0o644); err != nil {
			res.Result = failResult(fmt.Errorf("writing screenshot to %s: %w", req.Path, err))
			return res
		}
		res.Result = okResult()
		res.Path = req.Path
		return res
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	res.Result = okResult()
	res.Data = encoded
	res.DataURL = "data:image/" + format + ";base64," + encoded
	return res
}

// TabListResult carries the live target listing.
type TabListResult struct {
	Result
	Tabs []types.TargetInfo `json:"tabs,omitempty"`
}

func (f *Facade) TabList(ctx context.Context) *TabListResult {
	tabs, err := f.reg.List(ctx)
	if err != nil {
		return &TabListResult{Result: failResult(err)}
	}
	return &TabListResult{Result: okResult(), Tabs: tabs}
}

// TabResult carries one target after select/new/close.
type TabResult struct {
	Result
	Tab *types.TargetInfo `json:"tab,omitempty"`
}

// TabSelect switches the current target by index or id.
func (f *Facade) TabSelect(ctx context.Context, sel session.Selector) *TabResult {
	info, err := f.reg.Switch(ctx, sel)
	if err != nil {
		return &TabResult{Result: failResult(err)}
	}
	return &TabResult{Result: okResult(), Tab: &info}
}

// TabNew opens a target; it becomes current unless background is set.
func (f *Facade) TabNew(ctx context.Context, url string, background bool) *TabResult {
	if strings.TrimSpace(url) == "" {
		url = "about:blank"
	}
	info, err := f.reg.Create(ctx, url, background)
	if err != nil {
		return &TabResult{Result: failResult(err)}
	}
	return &TabResult{Result: okResult(), Tab: &info}
}

// TabClose closes a target by id.
func (f *Facade) TabClose(ctx context.Context, id string) *TabResult {
	if strings.TrimSpace(id) == "" {
		return &TabResult{Result: failResult(validationErr("target id is required"))}
	}
	if err := f.reg.CloseTarget(ctx, id); err != nil {
		return &TabResult{Result: failResult(err)}
	}
	return &TabResult{Result: okResult()}
}
