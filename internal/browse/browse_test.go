package browse

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/types"
)

// fakeDriver records calls and serves canned responses, so facade behavior
// is testable without a browser.
type fakeDriver struct {
	mu    sync.Mutex
	calls []string

	evalResults []string // consumed in order by Evaluate
	shotData    []byte
}

func (d *fakeDriver) record(name string) {
	d.mu.Lock()
	d.calls = append(d.calls, name)
	d.mu.Unlock()
}

func (d *fakeDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDriver) Navigate(ctx context.Context, url string, timeout time.Duration) (PageState, error) {
	d.record("navigate")
	return PageState{URL: url, Title: "Fake"}, nil
}
func (d *fakeDriver) Reload(ctx context.Context, timeout time.Duration) (PageState, error) {
	d.record("reload")
	return PageState{}, nil
}
func (d *fakeDriver) Back(ctx context.Context) (PageState, error) {
	d.record("back")
	return PageState{}, nil
}
func (d *fakeDriver) Forward(ctx context.Context) (PageState, error) {
	d.record("forward")
	return PageState{}, nil
}
func (d *fakeDriver) State(ctx context.Context) (PageState, error) {
	d.record("state")
	return PageState{}, nil
}
func (d *fakeDriver) Click(ctx context.Context, selector string, opts ClickOptions) error {
	d.record("click")
	return nil
}
func (d *fakeDriver) Hover(ctx context.Context, selector string) error {
	d.record("hover")
	return nil
}
func (d *fakeDriver) Type(ctx context.Context, selector, text string, delay time.Duration) error {
	d.record("type")
	return nil
}
func (d *fakeDriver) Fill(ctx context.Context, selector, value string) error {
	d.record("fill")
	return nil
}
func (d *fakeDriver) SelectOption(ctx context.Context, selector string, values []string) ([]string, error) {
	d.record("select")
	return values, nil
}
func (d *fakeDriver) Drag(ctx context.Context, sourceSel, targetSel string) error {
	d.record("drag")
	return nil
}
func (d *fakeDriver) PressKey(ctx context.Context, key string) error {
	d.record("press")
	return nil
}
func (d *fakeDriver) Scroll(ctx context.Context, selector string, dx, dy float64) error {
	d.record("scroll")
	return nil
}
func (d *fakeDriver) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	d.record("evaluate")
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.evalResults) == 0 {
		return json.RawMessage(`null`), nil
	}
	next := d.evalResults[0]
	if len(d.evalResults) > 1 {
		d.evalResults = d.evalResults[1:]
	}
	data, _ := json.Marshal(next)
	return data, nil
}
func (d *fakeDriver) Content(ctx context.Context, selector string) (string, error) {
	d.record("content")
	return "<html></html>", nil
}
func (d *fakeDriver) Text(ctx context.Context, selector string) (string, error) {
	d.record("text")
	return "hello", nil
}
func (d *fakeDriver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	d.record("attribute")
	return "", true, nil
}
func (d *fakeDriver) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	d.record("screenshot")
	return d.shotData, nil
}

func fakeFacade(d *fakeDriver) *Facade {
	f := New(nil, Options{CommandTimeout: 2 * time.Second, WaitTimeout: 500 * time.Millisecond})
	f.pollInterval = 10 * time.Millisecond
	f.driverFor = func(ctx context.Context) (Driver, error) { return d, nil }
	return f
}

func TestValidationRejectsBeforeAnyBrowserTraffic(t *testing.T) {
	d := &fakeDriver{}
	f := fakeFacade(d)
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() Result
	}{
		{"empty url", func() Result { return f.Navigate(ctx, "  ").Result }},
		{"empty selector click", func() Result { return f.Click(ctx, "", ClickOptions{}).Result }},
		{"bad button", func() Result { return f.Click(ctx, "#a", ClickOptions{Button: "side"}).Result }},
		{"empty text", func() Result { return f.Type(ctx, "#a", "", 0).Result }},
		{"no select values", func() Result { return f.SelectOption(ctx, "#a", nil).Result }},
		{"empty key", func() Result { return f.PressKey(ctx, "").Result }},
		{"empty expression", func() Result { return f.Evaluate(ctx, "").Result }},
		{"no wait condition", func() Result { return f.WaitFor(ctx, WaitCondition{}, 0).Result }},
		{"two wait conditions", func() Result {
			return f.WaitFor(ctx, WaitCondition{Selector: "#a", URLContains: "x"}, 0).Result
		}},
		{"bad screenshot format", func() Result {
			return f.Screenshot(ctx, ScreenshotRequest{Format: "gif"}).Result
		}},
		{"selector plus full page", func() Result {
			return f.Screenshot(ctx, ScreenshotRequest{Selector: "#a", FullPage: true}).Result
		}},
	}
	for _, tc := range cases {
		res := tc.run()
		if res.Success {
			t.Errorf("%s: expected failure", tc.name)
		}
		if res.Code != types.CodeValidation {
			t.Errorf("%s: code = %q, want VALIDATION", tc.name, res.Code)
		}
	}
	if n := d.callCount(); n != 0 {
		t.Fatalf("validation failures reached the driver %d times", n)
	}
}

func TestResultsEchoTruncatedInputs(t *testing.T) {
	d := &fakeDriver{}
	f := fakeFacade(d)

	long := strings.Repeat("x", 500)
	res := f.Fill(context.Background(), "#field", long)
	if !res.Success {
		t.Fatalf("fill failed: %s", res.Error)
	}
	if len(res.Value) != echoLimit {
		t.Fatalf("echoed value length = %d, want %d", len(res.Value), echoLimit)
	}
	if res.Selector != "#field" {
		t.Fatalf("selector echo = %q", res.Selector)
	}
}

func TestWaitForSucceedsOnceConditionHolds(t *testing.T) {
	d := &fakeDriver{evalResults: []string{
		`{"found":true,"ok":false}`,
		`{"found":true,"ok":false}`,
		`{"found":true,"ok":true}`,
	}}
	f := fakeFacade(d)

	res := f.WaitFor(context.Background(), WaitCondition{Selector: "#late"}, time.Second)
	if !res.Success {
		t.Fatalf("wait failed: %s", res.Error)
	}
	if d.callCount() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", d.callCount())
	}
}

func TestWaitForTimeoutNamesCondition(t *testing.T) {
	d := &fakeDriver{evalResults: []string{`{"found":true,"ok":false}`}}
	f := fakeFacade(d)

	start := time.Now()
	res := f.WaitFor(context.Background(), WaitCondition{Selector: "#never", State: WaitHidden}, 150*time.Millisecond)
	if res.Success {
		t.Fatal("expected timeout")
	}
	if res.Code != types.CodeWaitTimeout {
		t.Fatalf("code = %q, want WAIT_TIMEOUT", res.Code)
	}
	if !strings.Contains(res.Error, "#never") || !strings.Contains(res.Error, "hidden") {
		t.Fatalf("timeout does not name the condition: %s", res.Error)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("gave up after %s, before the timeout", elapsed)
	}
}

func TestScreenshotPathWritesFileWithoutInlineData(t *testing.T) {
	d := &fakeDriver{shotData: []byte("PNGDATA")}
	f := fakeFacade(d)

	path := filepath.Join(t.TempDir(), "shot.png")
	res := f.Screenshot(context.Background(), ScreenshotRequest{Path: path})
	if !res.Success {
		t.Fatalf("screenshot failed: %s", res.Error)
	}
	if res.Path != path {
		t.Fatalf("path = %q", res.Path)
	}
	if res.Data != "" || res.DataURL != "" {
		t.Fatal("file capture must not carry inline data")
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "PNGDATA" {
		t.Fatalf("written file = %q, err %v", data, err)
	}
}

func TestScreenshotInlineCarriesDataURLWithoutFile(t *testing.T) {
	d := &fakeDriver{shotData: []byte("PNGDATA")}
	f := fakeFacade(d)

	res := f.Screenshot(context.Background(), ScreenshotRequest{})
	if !res.Success {
		t.Fatalf("screenshot failed: %s", res.Error)
	}
	if res.Path != "" {
		t.Fatal("inline capture must not report a path")
	}
	if res.Data == "" || !strings.HasPrefix(res.DataURL, "data:image/png;base64,") {
		t.Fatalf("inline payload malformed: data=%q url=%q", res.Data, res.DataURL)
	}
}

func TestNavigateAddsSchemeWhenMissing(t *testing.T) {
	d := &fakeDriver{}
	f := fakeFacade(d)

	res := f.Navigate(context.Background(), "example.com/path")
	if !res.Success {
		t.Fatalf("navigate failed: %s", res.Error)
	}
	if res.URL != "https://example.com/path" {
		t.Fatalf("url = %q, want https scheme added", res.URL)
	}
}
