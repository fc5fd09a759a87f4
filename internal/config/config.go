package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/Heather8769/any-browser-mcp/internal/types"
	"github.com/joho/godotenv"
)

// Config holds all settings the core consumes from its CLI/HTTP collaborators.
type Config struct {
	// Explicit CDP endpoint URL (http://host:port). When set, discovery
	// attempts it alone.
	EndpointURL string

	// Preferred browser brand: "auto", "chrome", "edge" or "firefox".
	Browser string

	// Custom debug port override. 0 means use brand defaults.
	Port int

	// AllowLaunch permits starting a fresh browser when discovery fails.
	AllowLaunch bool

	// RawProtocol forces the direct-CDP driver instead of chromedp.
	RawProtocol bool

	// SeedProfile copies a bounded allow-list from the user's real profile
	// into the debug profile of a launched browser.
	SeedProfile bool

	Verbose bool
	LogFile string

	CommandTimeoutMS int
	WaitTimeoutMS    int

	// HTTP deployment only.
	BindAddr         string
	BindCandidates   []string
	PortAutoFallback bool
	SessionMaxAgeMS  int
	SweepIntervalMS  int
}

// Load reads configuration from environment variables and an optional .env
// file. Flags in main override individual fields afterwards.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := &Config{
		EndpointURL:      getEnvOrDefault("ANY_BROWSER_ENDPOINT", ""),
		Browser:          getEnvOrDefault("ANY_BROWSER_BRAND", "auto"),
		Port:             getEnvIntOrDefault("ANY_BROWSER_PORT", 0),
		AllowLaunch:      getEnvBoolOrDefault("ANY_BROWSER_ALLOW_LAUNCH", false),
		RawProtocol:      getEnvBoolOrDefault("ANY_BROWSER_RAW_PROTOCOL", false),
		SeedProfile:      getEnvBoolOrDefault("ANY_BROWSER_SEED_PROFILE", false),
		Verbose:          getEnvBoolOrDefault("ANY_BROWSER_VERBOSE", false),
		LogFile:          getEnvOrDefault("ANY_BROWSER_LOG_FILE", "logs/anybrowser.log"),
		CommandTimeoutMS: getEnvIntOrDefault("ANY_BROWSER_COMMAND_TIMEOUT_MS", 30_000),
		WaitTimeoutMS:    getEnvIntOrDefault("ANY_BROWSER_WAIT_TIMEOUT_MS", 10_000),
		BindAddr:         getEnvOrDefault("ANY_BROWSER_HTTP_BIND", "127.0.0.1:8929"),
		BindCandidates:   []string{"127.0.0.1:8929", "127.0.0.1:8930", "127.0.0.1:8931"},
		PortAutoFallback: getEnvBoolOrDefault("ANY_BROWSER_HTTP_PORT_FALLBACK", true),
		SessionMaxAgeMS:  getEnvIntOrDefault("ANY_BROWSER_SESSION_MAX_AGE_MS", 600_000),
		SweepIntervalMS:  getEnvIntOrDefault("ANY_BROWSER_SWEEP_INTERVAL_MS", 60_000),
	}

	return cfg, cfg.Validate()
}

// Validate rejects values no later tool call could recover from.
func (c *Config) Validate() error {
	if c.Browser != "auto" && !types.ValidBrand(c.Browser) {
		return fmt.Errorf("unknown browser brand %q (want auto, chrome, edge or firefox)", c.Browser)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("debug port out of range: %d", c.Port)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
