// Command anybrowser serves browser automation tools over MCP stdio,
// attached to an already-running browser's debug port.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Heather8769/any-browser-mcp/internal/browse"
	"github.com/Heather8769/any-browser-mcp/internal/config"
	"github.com/Heather8769/any-browser-mcp/internal/discover"
	"github.com/Heather8769/any-browser-mcp/internal/launch"
	"github.com/Heather8769/any-browser-mcp/internal/session"
	"github.com/Heather8769/any-browser-mcp/internal/tools"
	"github.com/Heather8769/any-browser-mcp/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.EndpointURL, "endpoint", cfg.EndpointURL, "explicit debug endpoint URL (http://host:port)")
	flag.StringVar(&cfg.Browser, "browser", cfg.Browser, "browser brand: auto, chrome, edge or firefox")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "debug port override (0 = brand default)")
	flag.BoolVar(&cfg.AllowLaunch, "launch", cfg.AllowLaunch, "launch a browser when none is found")
	flag.BoolVar(&cfg.RawProtocol, "raw", cfg.RawProtocol, "drive pages with raw protocol commands instead of chromedp")
	flag.BoolVar(&cfg.SeedProfile, "seed-profile", cfg.SeedProfile, "seed a launched browser's profile from the real one")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "debug logging")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file path")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	// Stdout is the protocol channel; logs go to stderr and the rotating file.
	if err := setupLogger(cfg.Verbose, cfg.LogFile); err != nil {
		fmt.Fprintln(os.Stderr, "logger setup failed:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	ep, err := resolveEndpoint(ctx, cfg)
	if err != nil {
		slog.Error("no usable browser endpoint", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.Info("attached to browser", "brand", ep.Brand, "base_url", ep.BaseURL)

	reg := session.NewRegistry(modeFor(cfg, ep))
	if err := reg.Attach(ctx, ep); err != nil {
		slog.Error("attach failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = reg.Close() }()

	facade := browse.New(reg, browse.Options{
		CommandTimeout: time.Duration(cfg.CommandTimeoutMS) * time.Millisecond,
		WaitTimeout:    time.Duration(cfg.WaitTimeoutMS) * time.Millisecond,
	})

	srv := tools.NewServer(facade, slog.Default())
	slog.Info("serving MCP over stdio", "version", tools.Version, "tools", len(srv.Tools()))
	if err := srv.ServeStdio(); err != nil {
		slog.Error("stdio server stopped", "error", err)
		os.Exit(1)
	}
}

// resolveEndpoint discovers a running browser, falling back to launching one
// when permitted. With launching disabled the error keeps every discovery
// diagnostic and says how to enable the fallback.
func resolveEndpoint(ctx context.Context, cfg *config.Config) (*discover.Endpoint, error) {
	ep, err := discover.New().Resolve(ctx, discover.Preference{
		ExplicitURL: cfg.EndpointURL,
		Brand:       cfg.Browser,
		Port:        cfg.Port,
	})
	if err == nil {
		return ep, nil
	}

	if !cfg.AllowLaunch {
		return nil, fmt.Errorf("%w\nlaunching disabled: pass --launch or set ANY_BROWSER_ALLOW_LAUNCH=1 to start a browser automatically", err)
	}

	brand := types.BrandChrome
	if types.ValidBrand(cfg.Browser) {
		brand = types.Brand(cfg.Browser)
	}
	slog.Info("discovery failed, launching browser", "brand", brand)
	launcher := launch.NewLauncher(launch.Options{
		Brand:       brand,
		Port:        cfg.Port,
		SeedProfile: cfg.SeedProfile,
	}, slog.Default())
	return launcher.Launch(ctx)
}

// modeFor picks the page-driving strategy. Firefox's devtools server only
// speaks the raw subset, so chromedp stays chromium-only.
func modeFor(cfg *config.Config, ep *discover.Endpoint) session.Mode {
	if cfg.RawProtocol || ep.Brand == types.BrandFirefox {
		return session.ModeRaw
	}
	return session.ModeChromedp
}

func setupLogger(verbose bool, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, logWriter), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return nil
}
