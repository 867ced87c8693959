// Package config loads service configuration from an optional YAML file and
// PLANWIDGET_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix   = "PLANWIDGET_"
	defaultPath = "config.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Metering  MeteringConfig  `koanf:"metering"`
	Generator GeneratorConfig `koanf:"generator"`
	Leads     LeadsConfig     `koanf:"leads"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Addr           string        `koanf:"addr"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// MeteringConfig holds the interaction quota. HardLimit, when zero, is derived
// as MaxFreeInteractions + BonusInteractions.
type MeteringConfig struct {
	MaxFreeInteractions int                         `koanf:"max_free_interactions"`
	BonusInteractions   int                         `koanf:"bonus_interactions"`
	HardLimit           int                         `koanf:"hard_limit"`
	Builders            map[string]MeteringOverride `koanf:"builders"`
}

// MeteringOverride replaces individual quota values for one builder slug.
type MeteringOverride struct {
	MaxFreeInteractions *int `koanf:"max_free_interactions"`
	BonusInteractions   *int `koanf:"bonus_interactions"`
	HardLimit           *int `koanf:"hard_limit"`
}

type GeneratorConfig struct {
	WebhookURL string        `koanf:"webhook_url"`
	Timeout    time.Duration `koanf:"timeout"`
	ResultKeys []string      `koanf:"result_keys"`
}

type LeadsConfig struct {
	CRMWebhookURL string        `koanf:"crm_webhook_url"`
	CRMTimeout    time.Duration `koanf:"crm_timeout"`
	Notify        NotifyConfig  `koanf:"notify"`
}

// NotifyConfig configures the builder sales-team email sent for each new lead.
type NotifyConfig struct {
	ResendAPIKey string            `koanf:"resend_api_key"`
	From         string            `koanf:"from"`
	To           string            `koanf:"to"`
	Recipients   map[string]string `koanf:"recipients"`
}

type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Environment string  `koanf:"environment"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// DefaultResultKeys lists the response fields searched, in order, for the
// generated image URL.
var DefaultResultKeys = []string{
	"imageUrl",
	"image_url",
	"url",
	"output",
	"result.imageUrl",
	"result.url",
	"data.0.url",
	"images.0",
}

var defaults = map[string]any{
	"server.addr":                    ":8080",
	"server.request_timeout":         90 * time.Second,
	"storage.sqlite.path":            "planwidget.db",
	"metering.max_free_interactions": 1,
	"metering.bonus_interactions":    3,
	"generator.timeout":              60 * time.Second,
	"generator.result_keys":          DefaultResultKeys,
	"leads.crm_timeout":              10 * time.Second,
	"leads.notify.from":              "Plan Studio <leads@planstudio.example>",
	"temporal.host_port":             "localhost:7233",
	"temporal.namespace":             "default",
	"temporal.task_queue":            "planwidget-leads",
	"log.level":                      "info",
	"telemetry.service_name":         "planwidget",
	"telemetry.environment":          "development",
	"telemetry.sample_ratio":         1.0,
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file at path (config.yaml when empty; a missing file is
// not an error), overlays environment variables and applies defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// PLANWIDGET_METERING__MAX_FREE_INTERACTIONS -> metering.max_free_interactions
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Generator.WebhookURL = substituteEnvVars(cfg.Generator.WebhookURL)
	cfg.Leads.CRMWebhookURL = substituteEnvVars(cfg.Leads.CRMWebhookURL)
	cfg.Leads.Notify.ResendAPIKey = substituteEnvVars(cfg.Leads.Notify.ResendAPIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects quota settings that cannot form a usable policy.
func (c *Config) Validate() error {
	if err := validateQuota("metering", c.Metering.MaxFreeInteractions, c.Metering.BonusInteractions, c.Metering.HardLimit); err != nil {
		return err
	}
	for slug, o := range c.Metering.Builders {
		maxFree, bonus, hard := c.Metering.Resolve(slug)
		if o.HardLimit != nil && *o.HardLimit < 0 {
			return fmt.Errorf("metering.builders.%s.hard_limit must be >= 0", slug)
		}
		if err := validateQuota("metering.builders."+slug, maxFree, bonus, hard); err != nil {
			return err
		}
	}
	if len(c.Generator.ResultKeys) == 0 {
		return errors.New("generator.result_keys must not be empty")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

func validateQuota(scope string, maxFree, bonus, hardLimit int) error {
	if maxFree < 0 {
		return fmt.Errorf("%s.max_free_interactions must be >= 0", scope)
	}
	if bonus < 0 {
		return fmt.Errorf("%s.bonus_interactions must be >= 0", scope)
	}
	if hardLimit != 0 && hardLimit < maxFree {
		return fmt.Errorf("%s.hard_limit (%d) must be >= max_free_interactions (%d)", scope, hardLimit, maxFree)
	}
	return nil
}

// Resolve returns the effective quota for a builder slug after overrides.
// hardLimit is zero when it should be derived from maxFree + bonus.
func (m MeteringConfig) Resolve(builderSlug string) (maxFree, bonus, hardLimit int) {
	maxFree, bonus, hardLimit = m.MaxFreeInteractions, m.BonusInteractions, m.HardLimit
	o, ok := m.Builders[builderSlug]
	if !ok {
		return maxFree, bonus, hardLimit
	}
	if o.MaxFreeInteractions != nil {
		maxFree = *o.MaxFreeInteractions
		// a builder-level max_free re-derives the ceiling unless pinned
		if o.HardLimit == nil {
			hardLimit = 0
		}
	}
	if o.BonusInteractions != nil {
		bonus = *o.BonusInteractions
		if o.HardLimit == nil {
			hardLimit = 0
		}
	}
	if o.HardLimit != nil {
		hardLimit = *o.HardLimit
	}
	return maxFree, bonus, hardLimit
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
