package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envBindings are the environment variables bound explicitly so viper
// resolves them even when no config file supplies the nested keys.
var envBindings = []struct {
	key    string
	envVar string
}{
	{"server.port", "BRIDGE_SERVER_PORT"},
	{"server.log_level", "BRIDGE_SERVER_LOG_LEVEL"},
	{"database.url", "BRIDGE_DATABASE_URL"},
	{"jira.base_url", "BRIDGE_JIRA_BASE_URL"},
	{"jira.email", "BRIDGE_JIRA_EMAIL"},
	{"jira.api_token", "BRIDGE_JIRA_API_TOKEN"},
	{"github.owner", "BRIDGE_GITHUB_OWNER"},
	{"github.repo", "BRIDGE_GITHUB_REPO"},
	{"github.token", "BRIDGE_GITHUB_TOKEN"},
	{"github.event_type", "BRIDGE_GITHUB_EVENT_TYPE"},
	{"github.branch_base", "BRIDGE_GITHUB_BRANCH_BASE"},
	{"agenthq.base_url", "BRIDGE_AGENTHQ_BASE_URL"},
	{"agenthq.api_key", "BRIDGE_AGENTHQ_API_KEY"},
	{"agenthq.callback_url", "BRIDGE_AGENTHQ_CALLBACK_URL"},
	{"dispatch.max_retries", "BRIDGE_DISPATCH_MAX_RETRIES"},
	{"dispatch.initial_delay", "BRIDGE_DISPATCH_INITIAL_DELAY"},
	{"dispatch.backoff_factor", "BRIDGE_DISPATCH_BACKOFF_FACTOR"},
	{"dispatch.max_delay", "BRIDGE_DISPATCH_MAX_DELAY"},
	{"dispatch.respect_retry_after", "BRIDGE_DISPATCH_RESPECT_RETRY_AFTER"},
	{"dispatch.failure_threshold", "BRIDGE_DISPATCH_FAILURE_THRESHOLD"},
	{"dispatch.recovery_timeout", "BRIDGE_DISPATCH_RECOVERY_TIMEOUT"},
	{"dispatch.fallback_enabled", "BRIDGE_DISPATCH_FALLBACK_ENABLED"},
	{"dispatch.request_timeout", "BRIDGE_DISPATCH_REQUEST_TIMEOUT"},
	{"reconciler.enabled", "BRIDGE_RECONCILER_ENABLED"},
	{"reconciler.interval", "BRIDGE_RECONCILER_INTERVAL"},
	{"reconciler.stuck_run_age", "BRIDGE_RECONCILER_STUCK_RUN_AGE"},
	{"reconciler.dispatch_deadline", "BRIDGE_RECONCILER_DISPATCH_DEADLINE"},
}

// setDefaults registers default values for the optional settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("github.event_type", "copilot-fix")
	v.SetDefault("github.branch_base", "main")
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.initial_delay", "1s")
	v.SetDefault("dispatch.backoff_factor", 2.0)
	v.SetDefault("dispatch.max_delay", "30s")
	v.SetDefault("dispatch.respect_retry_after", true)
	v.SetDefault("dispatch.failure_threshold", 5)
	v.SetDefault("dispatch.recovery_timeout", "60s")
	v.SetDefault("dispatch.fallback_enabled", true)
	v.SetDefault("dispatch.request_timeout", "30s")
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", "30s")
	v.SetDefault("reconciler.stuck_run_age", "10m")
	v.SetDefault("reconciler.dispatch_deadline", "2m")
}

// Load configuration from environment variables and optionally a
// config.yaml in the working directory. Environment variables take
// precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; the environment is the
		// primary configuration source.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, env := range envBindings {
		if err := v.BindEnv(env.key, env.envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", env.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
