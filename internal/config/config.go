package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JIRA       JIRAConfig       `mapstructure:"jira" validate:"required"`
	GitHub     GitHubConfig     `mapstructure:"github" validate:"required"`
	AgentHQ    AgentHQConfig    `mapstructure:"agenthq" validate:"required"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch" validate:"required"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains the run registry's database settings. An empty
// URL selects the in-memory registry.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// JIRAConfig contains the settings for the issue tracker the service
// posts run results back to.
type JIRAConfig struct {
	BaseURL  string `mapstructure:"base_url" validate:"required,url"`
	Email    string `mapstructure:"email" validate:"required,email"`
	APIToken string `mapstructure:"api_token" validate:"required"`
}

// GitHubConfig contains the settings for the fallback dispatch path and
// for identifying the repository agent runs operate on.
type GitHubConfig struct {
	Owner      string `mapstructure:"owner" validate:"required"`
	Repo       string `mapstructure:"repo" validate:"required"`
	Token      string `mapstructure:"token" validate:"required"`
	EventType  string `mapstructure:"event_type" validate:"required"`
	BranchBase string `mapstructure:"branch_base" validate:"required"`
}

// AgentHQConfig contains the settings for the primary agent-execution
// provider.
type AgentHQConfig struct {
	BaseURL     string `mapstructure:"base_url" validate:"required,url"`
	APIKey      string `mapstructure:"api_key" validate:"required"`
	CallbackURL string `mapstructure:"callback_url" validate:"required,url"`
}

// DispatchConfig contains the retry, circuit-breaker, and fallback knobs
// for the dispatch path.
type DispatchConfig struct {
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	InitialDelay      time.Duration `mapstructure:"initial_delay" validate:"gt=0"`
	BackoffFactor     float64       `mapstructure:"backoff_factor" validate:"gte=1"`
	MaxDelay          time.Duration `mapstructure:"max_delay" validate:"gt=0"`
	RespectRetryAfter bool          `mapstructure:"respect_retry_after"`
	FailureThreshold  int           `mapstructure:"failure_threshold" validate:"gt=0"`
	RecoveryTimeout   time.Duration `mapstructure:"recovery_timeout" validate:"gt=0"`
	FallbackEnabled   bool          `mapstructure:"fallback_enabled"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// ReconcilerConfig contains the background reconciliation loop settings.
type ReconcilerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval" validate:"gt=0"`
	StuckRunAge      time.Duration `mapstructure:"stuck_run_age" validate:"gt=0"`
	DispatchDeadline time.Duration `mapstructure:"dispatch_deadline" validate:"gt=0"`
}
