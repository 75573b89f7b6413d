package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/nodegraph/internal/scheduler"
	"github.com/rendis/nodegraph/internal/transport"
)

// memoryDB selects the in-memory stores.
const memoryDB = "memory"

// Config holds all nodegraph configuration.
// Priority: env vars > settings file > defaults.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	DBPath     string          `yaml:"db_path"`
	LogLevel   string          `yaml:"log_level"`
	LogFormat  string          `yaml:"log_format"`
	Token      string          `yaml:"token,omitempty"`
	Entities   []string        `yaml:"entities,omitempty"`
	HTTP       HTTPConfig      `yaml:"http"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
}

// HTTPConfig configures the api_call transport.
type HTTPConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBody  int64         `yaml:"max_response_body"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// SchedulerConfig configures cron runs of saved graphs.
type SchedulerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

func defaultConfig() Config {
	breaker := transport.DefaultBreakerConfig()
	return Config{
		ListenAddr: ":4100",
		DBPath:     filepath.Join(nodegraphDir(), "nodegraph.db"),
		LogLevel:   "info",
		LogFormat:  "text",
		HTTP: HTTPConfig{
			Timeout:          30 * time.Second,
			MaxResponseBody:  10 << 20,
			MaxRetries:       2,
			RetryDelay:       500 * time.Millisecond,
			BreakerThreshold: breaker.FailureThreshold,
			BreakerCooldown:  breaker.Cooldown,
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Interval:    scheduler.DefaultInterval,
			Concurrency: scheduler.DefaultConcurrency,
		},
	}
}

func nodegraphDir() string {
	if v := os.Getenv("NODEGRAPH_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodegraph"
	}
	return filepath.Join(home, ".nodegraph")
}

// settingsPath returns $NODEGRAPH_CONFIG, else settings.yaml when present,
// else settings.json. yaml.v3 reads both.
func settingsPath() string {
	if v := os.Getenv("NODEGRAPH_CONFIG"); v != "" {
		return v
	}
	yamlPath := filepath.Join(nodegraphDir(), "settings.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	return filepath.Join(nodegraphDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(nodegraphDir(), "nodegraph.pid")
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings file (ignore if missing).
	path := settingsPath()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	// Layer 3: env vars override.
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("NODEGRAPH_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("NODEGRAPH_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v := os.Getenv("NODEGRAPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NODEGRAPH_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("NODEGRAPH_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("NODEGRAPH_ENTITIES"); v != "" {
		cfg.Entities = splitList(v)
	}

	var errs []error
	envDuration("NODEGRAPH_HTTP_TIMEOUT", &cfg.HTTP.Timeout, &errs)
	envInt("NODEGRAPH_HTTP_MAX_RETRIES", &cfg.HTTP.MaxRetries, &errs)
	envDuration("NODEGRAPH_HTTP_RETRY_DELAY", &cfg.HTTP.RetryDelay, &errs)
	envBool("NODEGRAPH_SCHEDULER", &cfg.Scheduler.Enabled, &errs)
	envDuration("NODEGRAPH_SCHEDULER_INTERVAL", &cfg.Scheduler.Interval, &errs)
	envInt("NODEGRAPH_SCHEDULER_CONCURRENCY", &cfg.Scheduler.Concurrency, &errs)
	return errors.Join(errs...)
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func envInt(key string, dst *int, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func envBool(key string, dst *bool, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// inMemory reports whether runs and records live only for the process.
func (c Config) inMemory() bool {
	return c.DBPath == "" || c.DBPath == memoryDB
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	TokenChanged    bool
	NewEntities     []string
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.Token != new.Token {
		d.TokenChanged = true
	}
	for _, name := range new.Entities {
		if !slices.Contains(old.Entities, name) {
			d.NewEntities = append(d.NewEntities, name)
		}
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.HTTP != new.HTTP {
		d.RestartNeeded = append(d.RestartNeeded, "http")
	}
	if old.Scheduler != new.Scheduler {
		d.RestartNeeded = append(d.RestartNeeded, "scheduler")
	}
	return d
}
