package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"GATEWAY_ADDR", "ENV", "CREWAI_TIMEOUT", "RETENTION_DAYS_FREE",
		"RETENTION_DAYS_ENTERPRISE", "RATE_LIMIT_RPM",
	} {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.CrewAITimeout != 300*time.Second {
		t.Errorf("CrewAITimeout = %v, want 300s", cfg.CrewAITimeout)
	}
	if cfg.RetentionDaysFree != 30 {
		t.Errorf("RetentionDaysFree = %d, want 30", cfg.RetentionDaysFree)
	}
	if cfg.RetentionDaysEnterprise != -1 {
		t.Errorf("RetentionDaysEnterprise = %d, want -1", cfg.RetentionDaysEnterprise)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development env by default")
	}
}

func TestRetentionDays(t *testing.T) {
	cfg := Load()
	cases := map[string]int{
		"free":       cfg.RetentionDaysFree,
		"basic":      cfg.RetentionDaysBasic,
		"pro":        cfg.RetentionDaysPro,
		"enterprise": cfg.RetentionDaysEnterprise,
		"unknown":    cfg.RetentionDaysFree,
	}
	for plan, want := range cases {
		if got := cfg.RetentionDays(plan); got != want {
			t.Errorf("RetentionDays(%q) = %d, want %d", plan, got, want)
		}
	}
}

func TestEnvOverride(t *testing.T) {
	os.Setenv("GATEWAY_ADDR", ":9090")
	os.Setenv("RATE_LIMIT_RPM", "120")
	defer os.Unsetenv("GATEWAY_ADDR")
	defer os.Unsetenv("RATE_LIMIT_RPM")

	cfg := Load()
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.RateLimitRPM != 120 {
		t.Errorf("RateLimitRPM = %d, want 120", cfg.RateLimitRPM)
	}
}
