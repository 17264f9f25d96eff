package config

import (
	"os"
	"testing"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Fatal("Load should fail without DATABASE_URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dmeflow_test")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %s, want 8000", cfg.Port)
	}
	if cfg.QuoteValidityDays != 30 {
		t.Errorf("QuoteValidityDays = %d, want 30", cfg.QuoteValidityDays)
	}
	if cfg.DBMaxConns != 20 || cfg.DBMinConns != 5 {
		t.Errorf("pool bounds = %d/%d", cfg.DBMaxConns, cfg.DBMinConns)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Env: "production", QuoteValidityDays: 30}
	if err := cfg.Validate(); err == nil {
		t.Fatal("production without AUTH_SECRET should fail validation")
	}
	cfg.AuthSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate = %v", err)
	}
	cfg.QuoteValidityDays = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero validity window should fail validation")
	}
}
