package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func missingPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(missingPath(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Metering.MaxFreeInteractions != 1 {
		t.Errorf("MaxFreeInteractions = %d, want 1", cfg.Metering.MaxFreeInteractions)
	}
	if cfg.Metering.BonusInteractions != 3 {
		t.Errorf("BonusInteractions = %d, want 3", cfg.Metering.BonusInteractions)
	}
	if cfg.Generator.Timeout != 60*time.Second {
		t.Errorf("Generator.Timeout = %v, want 60s", cfg.Generator.Timeout)
	}
	if len(cfg.Generator.ResultKeys) != len(DefaultResultKeys) {
		t.Errorf("ResultKeys = %v, want defaults", cfg.Generator.ResultKeys)
	}
	if cfg.Temporal.Enabled {
		t.Error("Temporal.Enabled should default to false")
	}
	if cfg.Temporal.TaskQueue != "planwidget-leads" {
		t.Errorf("Temporal.TaskQueue = %q", cfg.Temporal.TaskQueue)
	}
	if cfg.Telemetry.SampleRatio != 1 || cfg.Telemetry.Environment != "development" {
		t.Errorf("Telemetry = %+v, want full sampling in development", cfg.Telemetry)
	}
}

func TestLoadRejectsSampleRatioOutOfRange(t *testing.T) {
	t.Setenv("PLANWIDGET_TELEMETRY__SAMPLE_RATIO", "1.5")
	if _, err := Load(missingPath(t)); err == nil || !strings.Contains(err.Error(), "sample_ratio") {
		t.Fatalf("Load() error = %v, want sample_ratio error", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PLANWIDGET_METERING__MAX_FREE_INTERACTIONS", "2")
	t.Setenv("PLANWIDGET_SERVER__ADDR", ":9000")
	t.Setenv("PLANWIDGET_GENERATOR__TIMEOUT", "45s")

	cfg, err := Load(missingPath(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metering.MaxFreeInteractions != 2 {
		t.Errorf("MaxFreeInteractions = %d, want 2", cfg.Metering.MaxFreeInteractions)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Generator.Timeout != 45*time.Second {
		t.Errorf("Generator.Timeout = %v, want 45s", cfg.Generator.Timeout)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_N8N_HOOK", "https://n8n.example/webhook/abc")
	path := writeConfig(t, `
generator:
  webhook_url: ${TEST_N8N_HOOK}
metering:
  max_free_interactions: 1
  builders:
    oak-ridge:
      max_free_interactions: 2
    summit:
      hard_limit: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Generator.WebhookURL != "https://n8n.example/webhook/abc" {
		t.Errorf("WebhookURL = %q", cfg.Generator.WebhookURL)
	}

	tests := []struct {
		slug                   string
		maxFree, bonus, hardLi int
	}{
		{"unknown", 1, 3, 0},
		{"oak-ridge", 2, 3, 0},
		{"summit", 1, 3, 10},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			maxFree, bonus, hard := cfg.Metering.Resolve(tt.slug)
			if maxFree != tt.maxFree || bonus != tt.bonus || hard != tt.hardLi {
				t.Errorf("Resolve(%q) = (%d, %d, %d), want (%d, %d, %d)",
					tt.slug, maxFree, bonus, hard, tt.maxFree, tt.bonus, tt.hardLi)
			}
		})
	}
}

func TestLoadRejectsInvalidQuota(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "negative max free",
			body: "metering:\n  max_free_interactions: -1\n",
			want: "max_free_interactions",
		},
		{
			name: "hard limit below max free",
			body: "metering:\n  max_free_interactions: 3\n  hard_limit: 2\n",
			want: "hard_limit",
		},
		{
			name: "builder negative bonus",
			body: "metering:\n  builders:\n    acme:\n      bonus_interactions: -2\n",
			want: "metering.builders.acme.bonus_interactions",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple substitution", "${TEST_VAR}", "test-value"},
		{"substitution in string", "prefix-${TEST_VAR}-suffix", "prefix-test-value-suffix"},
		{"no substitution", "plain-string", "plain-string"},
		{"undefined var", "${UNDEFINED_VAR_FOR_TEST}", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}
