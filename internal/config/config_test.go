package config

import "testing"

func TestValidateRejectsUnknownBrand(t *testing.T) {
	cfg := &Config{Browser: "netscape"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown brand")
	}
}

func TestValidateAcceptsKnownBrands(t *testing.T) {
	for _, brand := range []string{"auto", "chrome", "edge", "firefox"} {
		cfg := &Config{Browser: brand}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("brand %q rejected: %v", brand, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Browser != "auto" {
		t.Errorf("default brand = %q, want auto", cfg.Browser)
	}
	if cfg.CommandTimeoutMS != 30_000 {
		t.Errorf("default command timeout = %d, want 30000", cfg.CommandTimeoutMS)
	}
	if cfg.AllowLaunch {
		t.Error("launch should be disallowed by default")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ANY_BROWSER_BRAND", "firefox")
	t.Setenv("ANY_BROWSER_PORT", "9333")
	t.Setenv("ANY_BROWSER_ALLOW_LAUNCH", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Browser != "firefox" || cfg.Port != 9333 || !cfg.AllowLaunch {
		t.Fatalf("env override not applied: %+v", cfg)
	}
}
