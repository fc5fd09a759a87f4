// Package launch starts a debug-enabled browser when discovery finds none
// running. The spawned process is detached: our exit never takes the browser
// down with it.
package launch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/discover"
	"github.com/Heather8769/any-browser-mcp/internal/netutil"
	"github.com/Heather8769/any-browser-mcp/internal/types"
)

const (
	defaultReadyAttempts = 30
	defaultReadyInterval = time.Second
)

// Options configure one launch attempt.
type Options struct {
	Brand       types.Brand
	Port        int
	StartURL    string
	ProfileDir  string
	SeedProfile bool
	WindowSize  string

	// Readiness polling; zero values use the defaults.
	ReadyAttempts int
	ReadyInterval time.Duration
}

// Launcher starts a browser with remote debugging enabled and waits for the
// endpoint to come up. Binary detection is injectable for tests.
type Launcher struct {
	opts Options
	log  *slog.Logger

	binaryFor func(types.Brand) (string, error)
	// readyHost lets tests point the readiness probe at a fixture.
	readyHost string
}

func NewLauncher(opts Options, log *slog.Logger) *Launcher {
	if opts.Brand == "" {
		opts.Brand = types.BrandChrome
	}
	if opts.Port == 0 {
		opts.Port = opts.Brand.DefaultDebugPort()
	}
	if opts.StartURL == "" {
		opts.StartURL = "about:blank"
	}
	if opts.WindowSize == "" {
		opts.WindowSize = "1280,900"
	}
	if opts.ProfileDir == "" {
		opts.ProfileDir = filepath.Join(os.TempDir(), fmt.Sprintf("anybrowser-%s-profile", opts.Brand))
	}
	if opts.ReadyAttempts <= 0 {
		opts.ReadyAttempts = defaultReadyAttempts
	}
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = defaultReadyInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{
		opts:      opts,
		log:       log,
		binaryFor: detectBinary,
		readyHost: "127.0.0.1",
	}
}

// Launch starts the browser detached and returns its resolved endpoint once
// /json/version answers, or LAUNCH_FAILED with the command line and profile
// path after the readiness budget is spent.
func (l *Launcher) Launch(ctx context.Context) (*discover.Endpoint, error) {
	binary, err := l.binaryFor(l.opts.Brand)
	if err != nil {
		return nil, err
	}

	// An occupied port that does not answer /json/version belongs to some
	// other process; launching onto it would only add a confusing second
	// failure.
	if netutil.PortInUse(l.readyHost, l.opts.Port, time.Second) && !l.versionAnswers() {
		return nil, types.NewError(types.CodeLaunchFailed,
			fmt.Sprintf("port %d is in use but is not a debuggable browser endpoint", l.opts.Port), nil)
	}

	if err := os.MkdirAll(l.opts.ProfileDir, 0o755); err != nil {
		return nil, types.NewError(types.CodeLaunchFailed, "create profile dir "+l.opts.ProfileDir, err)
	}
	if l.opts.SeedProfile {
		l.seedProfile()
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", l.opts.Port),
		fmt.Sprintf("--user-data-dir=%s", l.opts.ProfileDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-timer-throttling",
		fmt.Sprintf("--window-size=%s", l.opts.WindowSize),
		l.opts.StartURL,
	}

	cmd := exec.Command(binary, args...)
	detachProcess(cmd)
	if err := cmd.Start(); err != nil {
		return nil, types.NewError(types.CodeLaunchFailed,
			fmt.Sprintf("start %s: %v", binary, err), err)
	}
	l.log.Info("browser process started",
		"brand", l.opts.Brand, "pid", cmd.Process.Pid, "profile", l.opts.ProfileDir)
	// Reap the detached child if it exits; we never wait on success paths.
	go func() { _ = cmd.Wait() }()

	if err := l.waitReady(ctx); err != nil {
		return nil, types.NewError(types.CodeLaunchFailed,
			fmt.Sprintf("browser did not become ready: %v (command: %s %s, profile: %s)",
				err, binary, strings.Join(args, " "), l.opts.ProfileDir), err)
	}

	d := discover.New()
	d.Host = l.readyHost
	return d.Resolve(ctx, discover.Preference{Brand: string(l.opts.Brand), Port: l.opts.Port})
}

func (l *Launcher) seedProfile() {
	src, err := realProfileDir(l.opts.Brand)
	if err != nil {
		l.log.Warn("profile seeding skipped", "error", err)
		return
	}
	copied, err := seedProfileFrom(src, l.opts.ProfileDir, l.log)
	if err != nil {
		l.log.Warn("profile seeding incomplete", "error", err)
		return
	}
	l.log.Info("profile seeded", "source", src, "entries", copied)
}

// versionAnswers probes /json/version once.
func (l *Launcher) versionAnswers() bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/json/version", l.readyHost, l.opts.Port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// waitReady polls /json/version once per interval until it answers 200.
func (l *Launcher) waitReady(ctx context.Context) error {
	url := fmt.Sprintf("http://%s:%d/json/version", l.readyHost, l.opts.Port)
	client := &http.Client{Timeout: time.Second}

	for attempt := 1; attempt <= l.opts.ReadyAttempts; attempt++ {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if attempt == l.opts.ReadyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.ReadyInterval):
		}
	}
	return fmt.Errorf("%s not answering after %d attempts", url, l.opts.ReadyAttempts)
}

// detectBinary finds an executable for the brand. Firefox is discover-only:
// its profile and flag surface differs too much for an unattended launch.
func detectBinary(brand types.Brand) (string, error) {
	var candidates []string
	switch brand {
	case types.BrandChrome:
		candidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}
		if runtime.GOOS == "darwin" {
			candidates = append(candidates, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome")
		}
	case types.BrandEdge:
		candidates = []string{"microsoft-edge", "microsoft-edge-stable"}
		if runtime.GOOS == "darwin" {
			candidates = append(candidates, "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge")
		}
	case types.BrandFirefox:
		return "", types.NewError(types.CodeLaunchFailed,
			"launching firefox automatically is not supported; start it manually with --remote-debugging-port", nil)
	default:
		return "", types.NewError(types.CodeLaunchFailed, "no launcher for brand "+string(brand), nil)
	}

	for _, name := range candidates {
		if filepath.IsAbs(name) {
			if _, err := os.Stat(name); err == nil {
				return name, nil
			}
			continue
		}
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", types.NewError(types.CodeLaunchFailed,
		fmt.Sprintf("no %s binary found (tried %s)", brand, strings.Join(candidates, ", ")), nil)
}
