// Command anybrowser-http serves the same tool surface over HTTP, with
// per-session browser attachments keyed by the X-Browser-Session header.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Heather8769/any-browser-mcp/internal/browse"
	"github.com/Heather8769/any-browser-mcp/internal/config"
	"github.com/Heather8769/any-browser-mcp/internal/discover"
	"github.com/Heather8769/any-browser-mcp/internal/httpapi"
	"github.com/Heather8769/any-browser-mcp/internal/launch"
	"github.com/Heather8769/any-browser-mcp/internal/netutil"
	"github.com/Heather8769/any-browser-mcp/internal/session"
	"github.com/Heather8769/any-browser-mcp/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "HTTP bind address")
	flag.StringVar(&cfg.EndpointURL, "endpoint", cfg.EndpointURL, "explicit debug endpoint URL (http://host:port)")
	flag.StringVar(&cfg.Browser, "browser", cfg.Browser, "browser brand: auto, chrome, edge or firefox")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "debug port override (0 = brand default)")
	flag.BoolVar(&cfg.AllowLaunch, "launch", cfg.AllowLaunch, "launch a browser when none is found")
	flag.BoolVar(&cfg.RawProtocol, "raw", cfg.RawProtocol, "drive pages with raw protocol commands instead of chromedp")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "debug logging")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file path")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := setupLogger(cfg.Verbose, cfg.LogFile); err != nil {
		fmt.Fprintln(os.Stderr, "logger setup failed:", err)
		os.Exit(1)
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.BindCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("no bind address available", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	mgr := httpapi.NewSessionManager(
		sessionFactory(cfg),
		time.Duration(cfg.SessionMaxAgeMS)*time.Millisecond,
		time.Duration(cfg.SweepIntervalMS)*time.Millisecond,
		slog.Default(),
	)
	defer mgr.Close()

	srv := &http.Server{Addr: bindAddr, Handler: httpapi.NewServer(mgr, slog.Default())}

	go func() {
		slog.Info("http server listening", "addr", bindAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
}

// sessionFactory discovers (or launches) a browser and attaches a fresh
// registry for each new session token.
func sessionFactory(cfg *config.Config) httpapi.SessionFactory {
	return func(ctx context.Context) (*browse.Facade, error) {
		ep, err := discover.New().Resolve(ctx, discover.Preference{
			ExplicitURL: cfg.EndpointURL,
			Brand:       cfg.Browser,
			Port:        cfg.Port,
		})
		if err != nil {
			if !cfg.AllowLaunch {
				return nil, err
			}
			brand := types.BrandChrome
			if types.ValidBrand(cfg.Browser) {
				brand = types.Brand(cfg.Browser)
			}
			ep, err = launch.NewLauncher(launch.Options{
				Brand:       brand,
				Port:        cfg.Port,
				SeedProfile: cfg.SeedProfile,
			}, slog.Default()).Launch(ctx)
			if err != nil {
				return nil, err
			}
		}

		mode := session.ModeChromedp
		if cfg.RawProtocol || ep.Brand == types.BrandFirefox {
			mode = session.ModeRaw
		}
		reg := session.NewRegistry(mode)
		if err := reg.Attach(ctx, ep); err != nil {
			return nil, err
		}
		return browse.New(reg, browse.Options{
			CommandTimeout: time.Duration(cfg.CommandTimeoutMS) * time.Millisecond,
			WaitTimeout:    time.Duration(cfg.WaitTimeoutMS) * time.Millisecond,
		}), nil
	}
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

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
	return nil
}
