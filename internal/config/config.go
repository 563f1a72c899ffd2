// ABOUTME: Configuration loading for the docksentry daemon.
// ABOUTME: Merges a YAML policy file with environment overrides and safe defaults.

package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Gate modes.
const (
	ModeMonitor = "monitor"
	ModeEnforce = "enforce"
)

// GateConfig controls the block/allow policy engine.
type GateConfig struct {
	Mode                       string `yaml:"mode"`
	AutoRemoveBlockedContainer bool   `yaml:"auto_remove_blocked_container"`
	// FailClosed blocks unapproved images when no scan summary is available.
	// The default posture is fail-open: scanner degradation never blocks.
	FailClosed bool `yaml:"fail_closed"`
}

// TrivyConfig controls the vulnerability scan gateway.
type TrivyConfig struct {
	Enabled               bool `yaml:"enabled"`
	BlockIfHighOrCritical int  `yaml:"block_if_high_or_critical"`
	TimeoutSeconds        int  `yaml:"timeout_seconds"`
}

// FalcoConfig controls auto-remediation for ingested intrusion alerts.
type FalcoConfig struct {
	AutoStopOnRules  []string `yaml:"auto_stop_on_rules"`
	StopGraceSeconds int      `yaml:"stop_grace_seconds"`
}

// Config is the policy file shape consumed by the core.
type Config struct {
	Gate  GateConfig  `yaml:"gate"`
	Trivy TrivyConfig `yaml:"trivy"`
	Falco FalcoConfig `yaml:"falco"`
}

// Env holds process-level settings bound from environment variables.
type Env struct {
	ConfigFile    string `env:"CONFIG_FILE" envDefault:"/etc/docksentry/config.yaml"`
	AlertsFile    string `env:"ALERTS_FILE" envDefault:"/var/lib/docksentry/alerts.jsonl"`
	ApprovalsFile string `env:"APPROVALS_FILE" envDefault:"/var/lib/docksentry/approvals.jsonl"`
	ListenAddr    string `env:"LISTEN_ADDR" envDefault:":8080"`
	DryRun        bool   `env:"DRY_RUN"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
}

// ParseEnv binds the Env struct from the process environment.
func ParseEnv() (*Env, error) {
	e := &Env{}
	if err := env.Parse(e); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return e, nil
}

// Default returns the safe minimal configuration used when no policy file is
// present: monitor-like behavior, scanning off, no auto-remediation.
func Default() *Config {
	return &Config{
		Gate: GateConfig{Mode: ModeMonitor},
		Trivy: TrivyConfig{
			Enabled:        false,
			TimeoutSeconds: 90,
		},
		Falco: FalcoConfig{StopGraceSeconds: 5},
	}
}

// Load reads the YAML policy file at path. A missing or unreadable file
// degrades to the safe defaults rather than failing startup.
func Load(path string, logger *logrus.Logger) *Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("Config file not readable, using safe defaults")
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Config file not parseable, using safe defaults")
		return Default()
	}

	if cfg.Gate.Mode != ModeEnforce {
		cfg.Gate.Mode = ModeMonitor
	}
	if cfg.Trivy.TimeoutSeconds <= 0 {
		cfg.Trivy.TimeoutSeconds = 90
	}
	if cfg.Falco.StopGraceSeconds <= 0 {
		cfg.Falco.StopGraceSeconds = 5
	}

	logger.WithFields(logrus.Fields{
		"mode":            cfg.Gate.Mode,
		"trivy_enabled":   cfg.Trivy.Enabled,
		"block_threshold": cfg.Trivy.BlockIfHighOrCritical,
		"auto_stop_rules": len(cfg.Falco.AutoStopOnRules),
	}).Info("Loaded configuration")

	return cfg
}

// AutoStopRule reports whether rule is on the auto-remediation list.
func (c *Config) AutoStopRule(rule string) bool {
	for _, r := range c.Falco.AutoStopOnRules {
		if r == rule {
			return true
		}
	}
	return false
}
