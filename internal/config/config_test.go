package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validBase() Config {
	cfg := Default()
	cfg.Watch.Directory = "/scans"
	cfg.Classifier.APIKey = "sk-test"
	return cfg
}

func TestDefaultsAreValidWithRequiredFields(t *testing.T) {
	if err := validBase().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
watch:
  directory: /mnt/scans
  file_prefix: "SCAN-"
  stability_window: 3s
pipeline:
  max_pages: 2
classifier:
  api_key: sk-from-file
  model: gpt-4o-mini
  timeout: 20s
retry:
  max_attempts: 4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Watch.Directory != "/mnt/scans" {
		t.Errorf("directory = %s", cfg.Watch.Directory)
	}
	if cfg.Watch.StabilityWindow != Duration(3*time.Second) {
		t.Errorf("stability window = %v", cfg.Watch.StabilityWindow)
	}
	if cfg.Pipeline.MaxPages != 2 {
		t.Errorf("max pages = %d", cfg.Pipeline.MaxPages)
	}
	if cfg.Classifier.Model != "gpt-4o-mini" || cfg.Classifier.Timeout != Duration(20*time.Second) {
		t.Errorf("classifier = %+v", cfg.Classifier)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("max attempts = %d", cfg.Retry.MaxAttempts)
	}
	// Untouched values keep their defaults.
	if cfg.Retry.InitialDelay != Duration(time.Second) || cfg.Health.FailureThreshold != 3 {
		t.Errorf("defaults lost: %+v %+v", cfg.Retry, cfg.Health)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
watch:
  directory: /mnt/from-file
classifier:
  api_key: sk-from-file
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WATCH_DIR", "/mnt/from-env")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("MAX_PAGES", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watch.Directory != "/mnt/from-env" {
		t.Errorf("directory = %s", cfg.Watch.Directory)
	}
	if cfg.Classifier.APIKey != "sk-from-env" {
		t.Errorf("api key = %s", cfg.Classifier.APIKey)
	}
	if cfg.Pipeline.MaxPages != 5 {
		t.Errorf("max pages = %d", cfg.Pipeline.MaxPages)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
watch:
  directory: /mnt/scans
  stability_window: fast
classifier:
  api_key: sk-test
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "duration") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"missing directory", func(c *Config) { c.Watch.Directory = " " }, "watch.directory"},
		{"empty prefix", func(c *Config) { c.Watch.FilePrefix = "" }, "file_prefix"},
		{"prefix with separator", func(c *Config) { c.Watch.FilePrefix = "SCAN/" }, "path separators"},
		{"extension without dot", func(c *Config) { c.Watch.Extension = "pdf" }, "extension"},
		{"zero pages", func(c *Config) { c.Pipeline.MaxPages = 0 }, "max_pages"},
		{"too many pages", func(c *Config) { c.Pipeline.MaxPages = 11 }, "max_pages"},
		{"missing api key", func(c *Config) { c.Classifier.APIKey = "" }, "api_key"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"delay too short", func(c *Config) { c.Retry.InitialDelay = Duration(100 * time.Millisecond) }, "initial_delay"},
		{"max below initial", func(c *Config) { c.Retry.MaxDelay = Duration(500 * time.Millisecond) }, "max_delay"},
		{"zero health threshold", func(c *Config) { c.Health.FailureThreshold = 0 }, "failure_threshold"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBase()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Errorf("error %q does not mention %q", err, tc.message)
			}
		})
	}
}
