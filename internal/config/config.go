// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, a YAML
// config file, and built-in defaults, the way apps/backend/internal/common/config
// does it in the teacher codebase.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configuration section the daemon needs.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	EventBus     EventBusConfig     `mapstructure:"eventBus"`
	Projects     []ProjectConfig    `mapstructure:"projects"`
}

// EventBusConfig selects and tunes the Event Log's fan-out transport (spec
// §6). The in-process bus needs no configuration; setting Driver to "nats"
// switches the daemon to NATS-backed fan-out for multi-instance deployments.
type EventBusConfig struct {
	Driver        string `mapstructure:"driver"` // "memory" (default) | "nats"
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ServerConfig holds HTTP server configuration for cmd/orchestratord.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// OrchestratorConfig holds Lifecycle Controller tuning knobs (spec §2, §5).
type OrchestratorConfig struct {
	TickInterval    time.Duration `mapstructure:"tickInterval"`
	EvalParallelism int           `mapstructure:"evalParallelism"`
	PluginTimeout   time.Duration `mapstructure:"pluginTimeout"`
}

// ReactionConfig mirrors the reaction shape from spec §4.2.
type ReactionConfig struct {
	Auto           bool           `mapstructure:"auto"`
	Action         string         `mapstructure:"action"` // send-to-agent | notify-human | terminate
	Message        string         `mapstructure:"message"`
	Retries        int            `mapstructure:"retries"`
	EscalateAfter  *time.Duration `mapstructure:"escalateAfter"`
	RetriggerAfter *time.Duration `mapstructure:"retriggerAfter"`
}

// PolicyConfig holds per-project policy toggles.
type PolicyConfig struct {
	RequireValidatedPlanTask bool `mapstructure:"requireValidatedPlanTask"`
}

// PluginBindings names the plugin to use for each slot (spec §9 registry).
type PluginBindings struct {
	Runtime   string `mapstructure:"runtime"`
	Agent     string `mapstructure:"agent"`
	SCM       string `mapstructure:"scm"`
	Tracker   string `mapstructure:"tracker"`
	Notifier  string `mapstructure:"notifier"`
	Workspace string `mapstructure:"workspace"`
}

// ProjectConfig is the loader-facing shape of spec §3's Project.
type ProjectConfig struct {
	ID                  string                    `mapstructure:"id"`
	RepoPath            string                    `mapstructure:"repoPath"`
	UpstreamRepo        string                    `mapstructure:"upstreamRepo"`
	DefaultBranch       string                    `mapstructure:"defaultBranch"`
	SessionPrefix       string                    `mapstructure:"sessionPrefix"`
	Plugins             PluginBindings            `mapstructure:"plugins"`
	Policies            PolicyConfig              `mapstructure:"policies"`
	Reactions           map[string]ReactionConfig `mapstructure:"reactions"`
	NotificationRouting map[string][]string       `mapstructure:"notificationRouting"`
}

// Load reads configuration from built-in defaults, the given file path
// (optional), and environment variables prefixed AO_; env vars take
// precedence over the file, and the file over the defaults, matching the
// teacher's viper layering.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
	v.SetDefault("orchestrator.tickInterval", 10*time.Second)
	v.SetDefault("orchestrator.evalParallelism", 8)
	v.SetDefault("orchestrator.pluginTimeout", 30*time.Second)
	v.SetDefault("eventBus.driver", "memory")
	v.SetDefault("eventBus.clientId", "orchestratord")
	v.SetDefault("eventBus.maxReconnects", 10)
}

// Validate checks structural invariants the rest of the core relies on.
func (c *Config) Validate() error {
	if c.Orchestrator.TickInterval <= 0 {
		return fmt.Errorf("orchestrator.tickInterval must be positive")
	}
	if c.Orchestrator.EvalParallelism <= 0 {
		return fmt.Errorf("orchestrator.evalParallelism must be positive")
	}
	seen := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if p.ID == "" {
			return fmt.Errorf("project missing id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate project id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// ProjectByID finds a project by id, or reports ok=false.
func (c *Config) ProjectByID(id string) (ProjectConfig, bool) {
	for _, p := range c.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return ProjectConfig{}, false
}
