// Package config loads service configuration from an optional YAML file
// with environment-variable overrides for deployment-specific values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings in
// time.ParseDuration form ("30s", "5m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Watch      WatchConfig      `yaml:"watch"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Retry      RetryConfig      `yaml:"retry"`
	Health     HealthConfig     `yaml:"health"`
	Journal    JournalConfig    `yaml:"journal"`
	Audit      AuditConfig      `yaml:"audit"`
}

type ServiceConfig struct {
	LogLevel        string   `yaml:"log_level"`
	MetricsPort     string   `yaml:"metrics_port"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type WatchConfig struct {
	Directory       string   `yaml:"directory"`
	FilePrefix      string   `yaml:"file_prefix"`
	Extension       string   `yaml:"extension"`
	StabilityWindow Duration `yaml:"stability_window"`
	PollInterval    Duration `yaml:"poll_interval"`
	AccessRetry     Duration `yaml:"access_retry"`
}

type PipelineConfig struct {
	MaxPages      int      `yaml:"max_pages"`
	QueueCapacity int      `yaml:"queue_capacity"`
	ItemTimeout   Duration `yaml:"item_timeout"`
	ErrorPrefix   string   `yaml:"error_prefix"`
	UnknownPrefix string   `yaml:"unknown_prefix"`
	TempDir       string   `yaml:"temp_dir"`
	TempMaxAge    Duration `yaml:"temp_max_age"`
	PriorityKeys  []string `yaml:"priority_keys"`
}

type ClassifierConfig struct {
	BaseURL           string   `yaml:"base_url"`
	APIKey            string   `yaml:"api_key"`
	Model             string   `yaml:"model"`
	MaxTokens         int      `yaml:"max_tokens"`
	Temperature       float64  `yaml:"temperature"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
}

type RetryConfig struct {
	MaxAttempts             int      `yaml:"max_attempts"`
	InitialDelay            Duration `yaml:"initial_delay"`
	MaxDelay                Duration `yaml:"max_delay"`
	MaxJitter               Duration `yaml:"max_jitter"`
	BreakerFailureThreshold uint32   `yaml:"breaker_failure_threshold"`
	BreakerWindow           Duration `yaml:"breaker_window"`
	BreakerOpenTimeout      Duration `yaml:"breaker_open_timeout"`
}

type HealthConfig struct {
	Interval         Duration `yaml:"interval"`
	FailureThreshold int      `yaml:"failure_threshold"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type AuditConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// Default returns the built-in configuration; Load layers the YAML file and
// environment on top of it.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			LogLevel:        "info",
			MetricsPort:     "9090",
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Watch: WatchConfig{
			FilePrefix:      "SCAN-",
			Extension:       ".pdf",
			StabilityWindow: Duration(2 * time.Second),
			PollInterval:    Duration(500 * time.Millisecond),
			AccessRetry:     Duration(30 * time.Second),
		},
		Pipeline: PipelineConfig{
			MaxPages:      3,
			QueueCapacity: 100,
			ItemTimeout:   Duration(10 * time.Minute),
			ErrorPrefix:   "ERROR_",
			UnknownPrefix: "UNKNOWN_",
			TempMaxAge:    Duration(24 * time.Hour),
		},
		Classifier: ClassifierConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o",
			MaxTokens:   500,
			Temperature: 0.1,
			Timeout:     Duration(30 * time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:             3,
			InitialDelay:            Duration(time.Second),
			MaxDelay:                Duration(60 * time.Second),
			MaxJitter:               Duration(500 * time.Millisecond),
			BreakerFailureThreshold: 5,
			BreakerWindow:           Duration(60 * time.Second),
			BreakerOpenTimeout:      Duration(5 * time.Minute),
		},
		Health: HealthConfig{
			Interval:         Duration(60 * time.Second),
			FailureThreshold: 3,
		},
		Journal: JournalConfig{
			Path: "scanwatcher.db",
		},
		Audit: AuditConfig{
			Subject: "scanwatcher.alerts",
		},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Service.LogLevel = envString("LOG_LEVEL", c.Service.LogLevel)
	c.Service.MetricsPort = envString("METRICS_PORT", c.Service.MetricsPort)
	c.Watch.Directory = envString("WATCH_DIR", c.Watch.Directory)
	c.Classifier.BaseURL = envString("OPENAI_BASE_URL", c.Classifier.BaseURL)
	c.Classifier.APIKey = envString("OPENAI_API_KEY", c.Classifier.APIKey)
	c.Classifier.Model = envString("OPENAI_MODEL", c.Classifier.Model)
	c.Pipeline.TempDir = envString("TEMP_DIR", c.Pipeline.TempDir)
	c.Pipeline.MaxPages = envInt("MAX_PAGES", c.Pipeline.MaxPages)
	c.Journal.Path = envString("JOURNAL_PATH", c.Journal.Path)
	c.Audit.NATSURL = envString("AUDIT_NATS_URL", c.Audit.NATSURL)
	c.Audit.Subject = envString("AUDIT_NATS_SUBJECT", c.Audit.Subject)
}

// Validate rejects configurations the service cannot safely run with. The
// watch directory itself is checked at startup, not here, so a config can be
// validated on a machine where the share is not mounted yet.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Watch.Directory) == "" {
		problems = append(problems, "watch.directory is required")
	}
	if strings.TrimSpace(c.Watch.FilePrefix) == "" {
		problems = append(problems, "watch.file_prefix must not be empty")
	} else if strings.ContainsAny(c.Watch.FilePrefix, `/\`) {
		problems = append(problems, "watch.file_prefix must not contain path separators")
	}
	if !strings.HasPrefix(c.Watch.Extension, ".") {
		problems = append(problems, "watch.extension must start with a dot")
	}
	if c.Watch.StabilityWindow <= 0 {
		problems = append(problems, "watch.stability_window must be positive")
	}

	if c.Pipeline.MaxPages < 1 || c.Pipeline.MaxPages > 10 {
		problems = append(problems, "pipeline.max_pages must be between 1 and 10")
	}
	if c.Pipeline.QueueCapacity < 1 {
		problems = append(problems, "pipeline.queue_capacity must be positive")
	}

	if strings.TrimSpace(c.Classifier.APIKey) == "" {
		problems = append(problems, "classifier.api_key is required")
	}
	if c.Classifier.Timeout <= 0 {
		problems = append(problems, "classifier.timeout must be positive")
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		problems = append(problems, "retry.max_attempts must be between 1 and 10")
	}
	if c.Retry.InitialDelay < Duration(time.Second) || c.Retry.InitialDelay > Duration(60*time.Second) {
		problems = append(problems, "retry.initial_delay must be between 1s and 60s")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		problems = append(problems, "retry.max_delay must be at least retry.initial_delay")
	}
	if c.Retry.BreakerFailureThreshold < 1 {
		problems = append(problems, "retry.breaker_failure_threshold must be positive")
	}

	if c.Health.Interval <= 0 {
		problems = append(problems, "health.interval must be positive")
	}
	if c.Health.FailureThreshold < 1 {
		problems = append(problems, "health.failure_threshold must be positive")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func envString(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
