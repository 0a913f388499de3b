// Package config loads shellguard settings.
//
// Precedence, highest first:
//  1. Environment variables (SHELLGUARD_*)
//  2. The YAML file passed to Load
//  3. Default()
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/shellguard/pkg/idgen"
	"github.com/petrijr/shellguard/pkg/risk"
)

var (
	// ErrUnknownAuditBackend is returned by Validate for an unsupported audit.backend.
	ErrUnknownAuditBackend = errors.New("unknown audit backend")

	// ErrUnknownQueueBackend is returned by Validate for an unsupported workers.queue.
	ErrUnknownQueueBackend = errors.New("unknown queue backend")
)

// Audit backends.
const (
	AuditMemory   = "memory"
	AuditSQLite   = "sqlite"
	AuditPostgres = "postgres"
	AuditRedis    = "redis"
	AuditMongo    = "mongo"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	IDs     IDConfig      `yaml:"ids"`
	Risk    RiskConfig    `yaml:"risk"`
	Workers WorkerConfig  `yaml:"workers"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type EngineConfig struct {
	// Assessor is a name known to risk.Registry.
	Assessor string `yaml:"assessor"`
	// Composite lists the children when Assessor is "composite".
	Composite    []string `yaml:"composite"`
	MaxInFlight  int      `yaml:"max_in_flight"`
	HistoryLimit int      `yaml:"history_limit"`
}

type IDConfig struct {
	Mode      string `yaml:"mode"`
	Prefix    string `yaml:"prefix"`
	Namespace string `yaml:"namespace"`
	BaseName  string `yaml:"base_name"`
}

// RiskConfig overrides the rule-based tiers. Empty lists keep the defaults.
type RiskConfig struct {
	Critical    []string `yaml:"critical"`
	High        []string `yaml:"high"`
	Medium      []string `yaml:"medium"`
	LowCommands []string `yaml:"low_commands"`
}

type WorkerConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	Queue         string        `yaml:"queue"`
	QueueAddr     string        `yaml:"queue_addr"`
	QueueCapacity int           `yaml:"queue_capacity"`
	Timeout       time.Duration `yaml:"timeout"`
	Shell         string        `yaml:"shell"`
	// DryRun echoes commands instead of running them.
	DryRun bool `yaml:"dry_run"`
}

type CleanupConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type AuditConfig struct {
	Backend string `yaml:"backend"`
	// DSN is a file path or URL for sqlite/postgres, an address for redis,
	// and a URI for mongo.
	DSN   string `yaml:"dsn"`
	Limit int    `yaml:"limit"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Assessor:     risk.NameRuleBased,
			Composite:    []string{risk.NameRuleBased, risk.NameFailSafe},
			MaxInFlight:  1,
			HistoryLimit: 1000,
		},
		IDs: IDConfig{
			Mode:     string(idgen.V4),
			Prefix:   idgen.DefaultPrefix,
			BaseName: "shellguard",
		},
		Workers: WorkerConfig{
			Concurrency:   2,
			Queue:         QueueMemory,
			QueueCapacity: 1024,
			Timeout:       30 * time.Second,
			Shell:         "/bin/sh",
		},
		Cleanup: CleanupConfig{
			Interval: time.Minute,
			MaxAge:   10 * time.Minute,
		},
		Audit: AuditConfig{
			Backend: AuditMemory,
			Limit:   100,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SHELLGUARD_ASSESSOR"); v != "" {
		cfg.Engine.Assessor = v
	}
	if v := os.Getenv("SHELLGUARD_ID_MODE"); v != "" {
		cfg.IDs.Mode = v
	}
	if v := os.Getenv("SHELLGUARD_AUDIT_BACKEND"); v != "" {
		cfg.Audit.Backend = v
	}
	if v := os.Getenv("SHELLGUARD_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}
	if v := os.Getenv("SHELLGUARD_QUEUE"); v != "" {
		cfg.Workers.Queue = v
	}
	if v := os.Getenv("SHELLGUARD_QUEUE_ADDR"); v != "" {
		cfg.Workers.QueueAddr = v
	}
	if v := os.Getenv("SHELLGUARD_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("SHELLGUARD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SHELLGUARD_DRY_RUN"); v != "" {
		cfg.Workers.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("SHELLGUARD_MAX_IN_FLIGHT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SHELLGUARD_MAX_IN_FLIGHT: %w", err)
		}
		cfg.Engine.MaxInFlight = n
	}
	if v := os.Getenv("SHELLGUARD_WORKER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: SHELLGUARD_WORKER_TIMEOUT: %w", err)
		}
		cfg.Workers.Timeout = d
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if _, err := idgen.ParseModeStrict(c.IDs.Mode); err != nil {
		return fmt.Errorf("config: ids.mode: %w", err)
	}
	switch c.Audit.Backend {
	case AuditMemory:
	case AuditSQLite, AuditPostgres, AuditRedis, AuditMongo:
		if c.Audit.DSN == "" {
			return fmt.Errorf("config: audit.dsn is required for backend %q", c.Audit.Backend)
		}
	default:
		return fmt.Errorf("config: %w: %q", ErrUnknownAuditBackend, c.Audit.Backend)
	}
	switch c.Workers.Queue {
	case QueueMemory:
	case QueueRedis:
		if c.Workers.QueueAddr == "" {
			return errors.New("config: workers.queue_addr is required for the redis queue")
		}
	default:
		return fmt.Errorf("config: %w: %q", ErrUnknownQueueBackend, c.Workers.Queue)
	}
	if c.Engine.MaxInFlight < 0 {
		return errors.New("config: engine.max_in_flight must be >= 0")
	}
	if c.Workers.Concurrency < 0 {
		return errors.New("config: workers.concurrency must be >= 0")
	}
	if c.Workers.Timeout < 0 || c.Cleanup.Interval < 0 || c.Cleanup.MaxAge < 0 {
		return errors.New("config: durations must be >= 0")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// RiskRules converts the overrides for risk.NewRuleBasedAssessorWithRules.
func (c *Config) RiskRules() risk.Rules {
	return risk.Rules{
		Critical:    c.Risk.Critical,
		High:        c.Risk.High,
		Medium:      c.Risk.Medium,
		LowCommands: c.Risk.LowCommands,
	}
}

// IDGenConfig converts the ids section for idgen.New.
func (c *Config) IDGenConfig() (idgen.Config, error) {
	mode, err := idgen.ParseModeStrict(c.IDs.Mode)
	if err != nil {
		return idgen.Config{}, err
	}
	return idgen.Config{
		Mode:      mode,
		Prefix:    c.IDs.Prefix,
		Namespace: c.IDs.Namespace,
		BaseName:  c.IDs.BaseName,
	}, nil
}

// SlogLevel parses log.level. Empty means info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("config: unknown log level %q", l.Level)
	}
	return lv, nil
}
