package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/interfaces"
)

// Config represents the application configuration. Values fall back
// default -> config file(s) -> database KV overrides -> environment -> CLI.
// Overrides are computed once at startup; there is no hot reload.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Jobs        JobsConfig      `toml:"jobs"`
	LogBus      LogBusConfig    `toml:"logbus"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Providers   ProvidersConfig `toml:"providers"`
	Tools       ToolsConfig     `toml:"tools"`
	Webhook     WebhookConfig   `toml:"webhook"`
	Auth        AuthConfig      `toml:"auth"`
}

// AuthConfig bootstraps the admin account. Further users are provisioned
// through storage by an operator.
type AuthConfig struct {
	AdminAPIKey string `toml:"admin_api_key"`
	AdminName   string `toml:"admin_name"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // how often supervisors poll for tasks
	Concurrency       int    `toml:"concurrency"`        // supervisors hosted in parallel
	VisibilityTimeout string `toml:"visibility_timeout"` // task redelivery window
	MaxReceive        int    `toml:"max_receive"`        // deliveries before dead-letter
	QueueName         string `toml:"queue_name"`         // key prefix in Badger
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// JobsConfig governs supervisor behavior for a single job.
type JobsConfig struct {
	WorkerPath          string   `toml:"worker_path"`           // worker binary the supervisor spawns
	TimeoutSec          int      `toml:"timeout_sec"`           // wall-clock cap per job (JOB_TIMEOUT_SEC)
	TerminateGraceSec   int      `toml:"terminate_grace_sec"`   // SIGTERM -> SIGKILL window (PROCESS_TERMINATE_GRACE_PERIOD_S)
	ResultMessageMaxLen int      `toml:"result_message_max"`    // truncation cap for result_message
	LogSnippetMaxLen    int      `toml:"log_snippet_max"`       // cap for persisted log snippet
	AllowedMediaFolders []string `toml:"allowed_media_folders"` // seed allow-list (ALLOWED_MEDIA_FOLDERS)
}

// LogBusConfig bounds the per-job replay history.
type LogBusConfig struct {
	HistoryMaxEntries int `toml:"history_max_entries"`
	HistoryMaxBytes   int `toml:"history_max_bytes"`
}

// SchedulerConfig drives cron-based folder scans.
type SchedulerConfig struct {
	Enabled  bool     `toml:"enabled"`
	Schedule string   `toml:"schedule"` // cron format, e.g. "0 0 3 * * *"
	Folders  []string `toml:"folders"`  // folders submitted on each tick
	Language string   `toml:"language"`
}

// ProvidersConfig carries credentials enabling online strategies. An empty
// key disables the corresponding provider.
type ProvidersConfig struct {
	ManifestPath      string `toml:"manifest_path"` // optional providers.yaml
	OpenSubtitlesKey  string `toml:"opensubtitles_api_key"`
	OpenSubtitlesUser string `toml:"opensubtitles_user"`
	DeepLKey          string `toml:"deepl_api_key"`
}

// ToolsConfig overrides external binary lookup.
type ToolsConfig struct {
	FFprobe   string `toml:"ffprobe"`
	FFmpeg    string `toml:"ffmpeg"`
	FFsubsync string `toml:"ffsubsync"`
	Alass     string `toml:"alass"`
	OCR       string `toml:"ocr"`
}

type WebhookConfig struct {
	Secret string `toml:"secret"` // shared secret, compared constant-time
}

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "10m",
			MaxReceive:        3,
			QueueName:         "subfetch_jobs",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Jobs: JobsConfig{
			WorkerPath:          "./subfetch-worker",
			TimeoutSec:          3600,
			TerminateGraceSec:   10,
			ResultMessageMaxLen: 300,
			LogSnippetMaxLen:    4096,
		},
		LogBus: LogBusConfig{
			HistoryMaxEntries: 1000,
			HistoryMaxBytes:   256 * 1024,
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 0 3 * * *", // daily at 03:00
			Language: "ro",
		},
	}
}

// LoadFromFiles loads configuration from TOML files in order; later files
// override earlier ones, environment variables override files. kvStorage can
// be nil during early startup; call ApplyKVOverrides after storage opens.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyKVOverrides layers database-held settings over the loaded config.
// Database values win over file values but lose to environment variables,
// so the environment is re-applied afterwards.
func ApplyKVOverrides(config *Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) {
	if kvStorage == nil {
		return
	}
	kvMap, err := kvStorage.GetAll(context.Background())
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to fetch KV overrides, using file/env config")
		return
	}

	applied := 0
	for key, value := range kvMap {
		if applyConfigKey(config, key, value) {
			applied++
		}
	}
	if applied > 0 {
		logger.Info().Int("keys", applied).Msg("Applied database config overrides")
	}

	// Environment still outranks database values.
	applyEnvOverrides(config)
}

// applyConfigKey maps a KV settings key onto a config field. Returns false
// for unknown keys.
func applyConfigKey(config *Config, key, value string) bool {
	switch key {
	case "jobs.timeout_sec":
		if v, err := strconv.Atoi(value); err == nil {
			config.Jobs.TimeoutSec = v
			return true
		}
	case "jobs.terminate_grace_sec":
		if v, err := strconv.Atoi(value); err == nil {
			config.Jobs.TerminateGraceSec = v
			return true
		}
	case "jobs.result_message_max":
		if v, err := strconv.Atoi(value); err == nil {
			config.Jobs.ResultMessageMaxLen = v
			return true
		}
	case "jobs.log_snippet_max":
		if v, err := strconv.Atoi(value); err == nil {
			config.Jobs.LogSnippetMaxLen = v
			return true
		}
	case "jobs.worker_path":
		config.Jobs.WorkerPath = value
		return true
	case "providers.opensubtitles_api_key":
		config.Providers.OpenSubtitlesKey = value
		return true
	case "providers.deepl_api_key":
		config.Providers.DeepLKey = value
		return true
	case "webhook.secret":
		config.Webhook.Secret = value
		return true
	}
	return false
}

// applyEnvOverrides applies environment variable overrides to config.
// The spec-level names (JOB_TIMEOUT_SEC etc.) are recognized alongside the
// SUBFETCH_-prefixed ones.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SUBFETCH_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("SUBFETCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SUBFETCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if level := os.Getenv("SUBFETCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if path := os.Getenv("SUBFETCH_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	if v := os.Getenv("JOB_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Jobs.TimeoutSec = n
		}
	}
	if v := os.Getenv("PROCESS_TERMINATE_GRACE_PERIOD_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Jobs.TerminateGraceSec = n
		}
	}
	if v := os.Getenv("JOB_RESULT_MESSAGE_MAX_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Jobs.ResultMessageMaxLen = n
		}
	}
	if v := os.Getenv("JOB_LOG_SNIPPET_MAX_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Jobs.LogSnippetMaxLen = n
		}
	}
	if v := os.Getenv("ALLOWED_MEDIA_FOLDERS"); v != "" {
		folders := make([]string, 0)
		for _, f := range strings.Split(v, ",") {
			f = strings.TrimSpace(f)
			if f != "" && filepath.IsAbs(f) {
				folders = append(folders, filepath.Clean(f))
			}
		}
		if len(folders) > 0 {
			config.Jobs.AllowedMediaFolders = folders
		}
	}

	if v := os.Getenv("SUBFETCH_WORKER_PATH"); v != "" {
		config.Jobs.WorkerPath = v
	}
	if v := os.Getenv("OPENSUBTITLES_API_KEY"); v != "" {
		config.Providers.OpenSubtitlesKey = v
	}
	if v := os.Getenv("DEEPL_API_KEY"); v != "" {
		config.Providers.DeepLKey = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		config.Webhook.Secret = v
	}
	if v := os.Getenv("SUBFETCH_ADMIN_API_KEY"); v != "" {
		config.Auth.AdminAPIKey = v
	}

	if v := os.Getenv("FFPROBE_PATH"); v != "" {
		config.Tools.FFprobe = v
	}
	if v := os.Getenv("FFSUBSYNC_PATH"); v != "" {
		config.Tools.FFsubsync = v
	}
	if v := os.Getenv("ALASS_PATH"); v != "" {
		config.Tools.Alass = v
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks cross-field constraints not expressible per field.
func (c *Config) Validate() error {
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive")
	}
	if _, err := time.ParseDuration(c.Queue.PollInterval); err != nil {
		return fmt.Errorf("invalid queue.poll_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Queue.VisibilityTimeout); err != nil {
		return fmt.Errorf("invalid queue.visibility_timeout: %w", err)
	}
	if c.Jobs.TimeoutSec < 0 {
		return fmt.Errorf("jobs.timeout_sec cannot be negative")
	}
	if c.Scheduler.Enabled {
		if err := ValidateSchedule(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("invalid scheduler.schedule: %w", err)
		}
	}
	for _, f := range c.Jobs.AllowedMediaFolders {
		if !filepath.IsAbs(f) {
			return fmt.Errorf("allowed media folder must be absolute: %s", f)
		}
	}
	return nil
}

// ValidateSchedule checks a 6-field cron expression (with seconds).
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	return err
}

// JobTimeout returns the per-job wall-clock cap as a duration.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSec) * time.Second
}

// TerminateGrace returns the SIGTERM -> SIGKILL window as a duration.
func (c *Config) TerminateGrace() time.Duration {
	return time.Duration(c.Jobs.TerminateGraceSec) * time.Second
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
