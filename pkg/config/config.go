package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pvetools/pvepower/pkg/schedule"
	"github.com/pvetools/pvepower/pkg/types"
	"gopkg.in/yaml.v3"
)

// APIConfig holds the Proxmox connection settings. The token value is
// environment-only so credentials never live in the config file.
type APIConfig struct {
	Host       string `yaml:"host" env:"PVE_HOST"`
	User       string `yaml:"user" env:"PVE_USER"`
	TokenName  string `yaml:"token_name" env:"PVE_TOKEN_NAME"`
	TokenValue string `yaml:"-" env:"PVE_TOKEN_VALUE"`
	VerifyTLS  bool   `yaml:"verify_tls" env:"PVE_VERIFY_TLS"`
}

// TimeOfDayConfig is the wall-clock trigger time for the scheduled path
type TimeOfDayConfig struct {
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`
}

// StageConfig is one group in the configured shutdown order
type StageConfig struct {
	Name        string `yaml:"name"`
	WorkloadIDs []int  `yaml:"workload_ids"`
	WaitAfter   int    `yaml:"wait_after"`
}

// LogConfig controls log output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the optional /metrics listener
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the full service configuration. Durations are specified in
// seconds in the file, matching the original service configs.
type Config struct {
	Enabled              bool             `yaml:"enabled"`
	CheckInterval        int              `yaml:"check_interval"`
	GracePeriod          int              `yaml:"grace_period"`
	SafeShutdownTag      string           `yaml:"safe_shutdown_tag"`
	MinUptime            int              `yaml:"min_uptime"`
	DryRun               bool             `yaml:"dry_run"`
	MaxConsecutiveErrors int              `yaml:"max_consecutive_errors"`
	MonitoredNodes       []string         `yaml:"monitored_nodes"`
	WorkloadTimeout      int              `yaml:"workload_timeout"`
	ShutdownTime         *TimeOfDayConfig `yaml:"shutdown_time"`
	ShutdownOrder        []StageConfig    `yaml:"shutdown_order"`
	ExcludedVMs          []int            `yaml:"excluded_vms"`
	API                  APIConfig        `yaml:"api"`
	Log                  LogConfig        `yaml:"log"`
	Metrics              MetricsConfig    `yaml:"metrics"`
}

// Defaults applied before the file and environment are read
func defaults() *Config {
	return &Config{
		CheckInterval:        300,
		GracePeriod:          60,
		SafeShutdownTag:      "safe-shutdown",
		MinUptime:            600,
		DryRun:               true,
		MaxConsecutiveErrors: 10,
		WorkloadTimeout:      60,
		API:                  APIConfig{VerifyTLS: true},
		Log:                  LogConfig{Level: "info", JSON: true},
		Metrics:              MetricsConfig{ListenAddr: ":9090"},
	}
}

// Load reads the YAML config file, overlays the environment (a local .env
// file is honored when present) and validates the result. The service
// refuses to start on any invalid value.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Credentials come from the environment, never the file.
	_ = godotenv.Load()
	if err := env.Parse(&cfg.API); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every constraint the service relies on at runtime
func (c *Config) Validate() error {
	var errs []error

	if c.CheckInterval < 30 {
		errs = append(errs, fmt.Errorf("check_interval must be at least 30s, got %ds", c.CheckInterval))
	}
	if c.GracePeriod < 10 {
		errs = append(errs, fmt.Errorf("grace_period must be at least 10s, got %ds", c.GracePeriod))
	}
	if c.SafeShutdownTag == "" {
		errs = append(errs, errors.New("safe_shutdown_tag must not be empty"))
	}
	if c.MinUptime < 0 {
		errs = append(errs, fmt.Errorf("min_uptime must not be negative, got %ds", c.MinUptime))
	}
	if c.MaxConsecutiveErrors < 1 {
		errs = append(errs, fmt.Errorf("max_consecutive_errors must be at least 1, got %d", c.MaxConsecutiveErrors))
	}
	if c.WorkloadTimeout < 1 {
		errs = append(errs, fmt.Errorf("workload_timeout must be at least 1s, got %ds", c.WorkloadTimeout))
	}

	if c.ShutdownTime != nil {
		if c.ShutdownTime.Hour < 0 || c.ShutdownTime.Hour > 23 {
			errs = append(errs, fmt.Errorf("shutdown_time.hour must be 0-23, got %d", c.ShutdownTime.Hour))
		}
		if c.ShutdownTime.Minute < 0 || c.ShutdownTime.Minute > 59 {
			errs = append(errs, fmt.Errorf("shutdown_time.minute must be 0-59, got %d", c.ShutdownTime.Minute))
		}
	}

	// A workload id in two stages would make the plan's intent ambiguous;
	// reject at startup instead of resolving silently at run time.
	seen := make(map[int]string)
	for _, stage := range c.ShutdownOrder {
		if stage.Name == "" {
			errs = append(errs, errors.New("every shutdown_order stage needs a name"))
		}
		if stage.WaitAfter < 0 {
			errs = append(errs, fmt.Errorf("stage %q wait_after must not be negative", stage.Name))
		}
		for _, id := range stage.WorkloadIDs {
			if prev, dup := seen[id]; dup {
				errs = append(errs, fmt.Errorf("workload %d appears in stages %q and %q", id, prev, stage.Name))
				continue
			}
			seen[id] = stage.Name
		}
	}

	return errors.Join(errs...)
}

// Plan builds the immutable shutdown plan from the configured order
func (c *Config) Plan() types.ShutdownPlan {
	plan := types.ShutdownPlan{}
	for _, stage := range c.ShutdownOrder {
		plan.Stages = append(plan.Stages, types.Stage{
			Name:        stage.Name,
			WorkloadIDs: append([]int(nil), stage.WorkloadIDs...),
			WaitAfter:   time.Duration(stage.WaitAfter) * time.Second,
		})
	}
	return plan
}

// Exclusions builds the exclusion set from the configured id list
func (c *Config) Exclusions() types.ExclusionSet {
	return types.NewExclusionSet(c.ExcludedVMs)
}

// ShutdownAt returns the scheduled trigger time; ok is false when the
// scheduled path is not configured.
func (c *Config) ShutdownAt() (schedule.TimeOfDay, bool) {
	if c.ShutdownTime == nil {
		return schedule.TimeOfDay{}, false
	}
	return schedule.TimeOfDay{Hour: c.ShutdownTime.Hour, Minute: c.ShutdownTime.Minute}, true
}

// CheckIntervalDuration returns check_interval as a duration
func (c *Config) CheckIntervalDuration() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// GracePeriodDuration returns grace_period as a duration
func (c *Config) GracePeriodDuration() time.Duration {
	return time.Duration(c.GracePeriod) * time.Second
}

// MinUptimeDuration returns min_uptime as a duration
func (c *Config) MinUptimeDuration() time.Duration {
	return time.Duration(c.MinUptime) * time.Second
}

// WorkloadTimeoutDuration returns workload_timeout as a duration
func (c *Config) WorkloadTimeoutDuration() time.Duration {
	return time.Duration(c.WorkloadTimeout) * time.Second
}
