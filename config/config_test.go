package config

import (
	"testing"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/progression")
	t.Setenv("GATEWAY_SERVICE_TOKEN", "secret")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != "5300" {
		t.Errorf("Port = %q, want 5300", cfg.Port)
	}
	if cfg.ProgressionTimezone != "UTC" {
		t.Errorf("ProgressionTimezone = %q, want UTC", cfg.ProgressionTimezone)
	}
	if cfg.DailyGrantRetentionDays != 7 {
		t.Errorf("DailyGrantRetentionDays = %d, want 7", cfg.DailyGrantRetentionDays)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	if cfg.R2.Enabled() {
		t.Error("R2 should be disabled without credentials")
	}
}

func TestParseRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GATEWAY_SERVICE_TOKEN", "secret")

	if _, err := Parse(); err == nil {
		t.Fatal("expected error when DATABASE_URL is empty")
	}
}

func TestParseRejectsBadTimezone(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/progression")
	t.Setenv("GATEWAY_SERVICE_TOKEN", "secret")
	t.Setenv("PROGRESSION_TIMEZONE", "Mars/Olympus_Mons")

	if _, err := Parse(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
	if _, err := (&Config{ProgressionTimezone: "Mars/Olympus_Mons"}).Location(); err == nil {
		t.Fatal("Location should fail for an unknown timezone")
	}
}
