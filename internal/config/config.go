// Package config loads the engine's static configuration using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EngineConfig is the top-level configuration, mapped from the `weftflow:`
// root key in YAML (or overridden with WEFTFLOW_-prefixed env vars).
type EngineConfig struct {
	WorkDir      string             `mapstructure:"work_dir"`
	Resume       ResumeConfig       `mapstructure:"resume"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	ErrorPolicy  ErrorPolicyConfig  `mapstructure:"error_policy"`
	Log          LogConfig          `mapstructure:"log"`
	Trace        TraceConfig        `mapstructure:"trace"`
}

// ResumeConfig controls incremental/resume execution.
type ResumeConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	FromRun    string `mapstructure:"from_run"` // "" = most recent
}

// CacheConfig controls the task result cache.
type CacheConfig struct {
	Dir     string `mapstructure:"dir"`
	Backend string `mapstructure:"backend"` // "file" | "bbolt" | "memory"
}

// ExecutorConfig selects and configures the task executor backend.
type ExecutorConfig struct {
	Backend        string           `mapstructure:"backend"` // "local" | "slurm" | "sge" | "lsf" | "pbs" | "kubernetes"
	Queue          string           `mapstructure:"queue"`
	ClusterOptions string           `mapstructure:"cluster_options"`
	MaxForks       int              `mapstructure:"max_forks"`
	User           string           `mapstructure:"user"`       // grid schedulers: submitting user
	ScriptDir      string           `mapstructure:"script_dir"` // grid schedulers: where job scripts are written
	Kubernetes     KubernetesConfig `mapstructure:"kubernetes"`
}

// KubernetesConfig configures the Kubernetes Job backend.
type KubernetesConfig struct {
	Image     string `mapstructure:"image"`
	Namespace string `mapstructure:"namespace"`
}

// ErrorPolicyConfig controls the default task error strategy.
type ErrorPolicyConfig struct {
	Strategy   string `mapstructure:"strategy"` // "terminate" | "finish" | "ignore" | "retry"
	MaxRetries int    `mapstructure:"max_retries"`
	MaxErrors  int    `mapstructure:"max_errors"` // -1 = unbounded
}

// LogConfig configures logrus + lumberjack.
type LogConfig struct {
	Level    string         `mapstructure:"level"`
	Format   string         `mapstructure:"format"` // "text" | "json"
	File     FileLogConfig  `mapstructure:"file"`
}

// FileLogConfig configures rotated file output.
type FileLogConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// TraceConfig controls execution trace recording.
type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type configRoot struct {
	Weftflow EngineConfig `mapstructure:"weftflow"`
}

// Load reads configuration from path (if non-empty), applies WEFTFLOW_*
// environment overrides, and returns a validated EngineConfig.
func Load(path string) (*EngineConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("weftflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg := root.Weftflow
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("weftflow.work_dir", "work")
	v.SetDefault("weftflow.resume.enabled", false)
	v.SetDefault("weftflow.cache.dir", ".weftflow/cache")
	v.SetDefault("weftflow.cache.backend", "file")
	v.SetDefault("weftflow.executor.backend", "local")
	v.SetDefault("weftflow.executor.max_forks", 0)
	v.SetDefault("weftflow.executor.script_dir", "/tmp")
	v.SetDefault("weftflow.error_policy.strategy", "terminate")
	v.SetDefault("weftflow.error_policy.max_retries", 1)
	v.SetDefault("weftflow.error_policy.max_errors", -1)
	v.SetDefault("weftflow.log.level", "info")
	v.SetDefault("weftflow.log.format", "text")
	v.SetDefault("weftflow.log.file.max_size_mb", 100)
	v.SetDefault("weftflow.log.file.max_backups", 5)
	v.SetDefault("weftflow.log.file.max_age_days", 30)
	v.SetDefault("weftflow.log.file.compress", true)
	v.SetDefault("weftflow.trace.enabled", true)
	v.SetDefault("weftflow.trace.path", ".weftflow/trace.json")
}

var validStrategies = map[string]bool{"terminate": true, "finish": true, "ignore": true, "retry": true}
var validBackends = map[string]bool{"local": true, "slurm": true, "sge": true, "lsf": true, "pbs": true, "kubernetes": true}
var validCacheBackends = map[string]bool{"file": true, "bbolt": true, "memory": true}

func (cfg *EngineConfig) validate() error {
	if !validStrategies[cfg.ErrorPolicy.Strategy] {
		return fmt.Errorf("invalid error_policy.strategy: %s", cfg.ErrorPolicy.Strategy)
	}
	if !validBackends[cfg.Executor.Backend] {
		return fmt.Errorf("invalid executor.backend: %s", cfg.Executor.Backend)
	}
	if !validCacheBackends[cfg.Cache.Backend] {
		return fmt.Errorf("invalid cache.backend: %s", cfg.Cache.Backend)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("invalid log.format: %s (must be text/json)", cfg.Log.Format)
	}
	return nil
}
