package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig    `toml:"logging"`
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Crawler     CrawlerConfig    `toml:"crawler"`
	Enrichment  EnrichmentConfig `toml:"enrichment"`
	Gemini      GeminiConfig     `toml:"gemini"`
	Claude      ClaudeConfig     `toml:"claude"`
	LLM         LLMConfig        `toml:"llm"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger       BadgerConfig `toml:"badger"`
	SnapshotsDir string       `toml:"snapshots_dir"` // Crawl result snapshot files (audit/recovery)
	SideLogPath  string       `toml:"side_log_path"` // Enriched record side-log (JSON array file)
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type QueueConfig struct {
	QueueName         string        `toml:"queue_name"`                     // Queue name prefix in Badger
	PollInterval      time.Duration `toml:"poll_interval"`                  // How often workers poll for messages
	Concurrency       int           `toml:"concurrency" validate:"min=1"`   // Number of concurrent workers
	VisibilityTimeout time.Duration `toml:"visibility_timeout"`             // Message visibility timeout for redelivery
	Attempts          int           `toml:"attempts" validate:"min=1"`      // Max times a message is delivered before marked failed
	Backoff           time.Duration `toml:"backoff"`                        // Fixed delay before a failed message becomes visible again
	RemoveOnComplete  bool          `toml:"remove_on_complete"`             // Delete messages after successful processing
}

type CrawlerConfig struct {
	SitesFile       string        `toml:"sites_file" validate:"required"` // Per-city site configuration (JSON, keyed by city)
	UserAgent       string        `toml:"user_agent"`
	Concurrency     int           `toml:"concurrency" validate:"min=1"` // Tasks per batch within one site
	PageTimeout     time.Duration `toml:"page_timeout"`                 // Per page fetch
	DownloadTimeout time.Duration `toml:"download_timeout"`             // Per file download
	RequestDelay    time.Duration `toml:"request_delay"`                // Minimum delay between requests to the same domain
	MaxBodySize     int           `toml:"max_body_size"`                // Maximum response body size in bytes
	MaxPages        int           `toml:"max_pages"`                    // Pages kept per extracted document
	Schedule        string        `toml:"schedule"`                     // Cron schedule; empty disables scheduled crawls
	RunOnStart      bool          `toml:"run_on_start"`                 // Run a full crawl immediately on startup
}

type EnrichmentConfig struct {
	Enabled           bool          `toml:"enabled"`              // Feature flag; disabled jobs report "skipped"
	CallsPerMinute    int           `toml:"calls_per_minute"`     // Sliding-window LLM rate limit
	StageRetryDelay   time.Duration `toml:"stage_retry_delay"`    // Delay before the single stage-level retry
	SummaryMaxLength  int           `toml:"summary_max_length"`   // Hard bound applied after the LLM call
	MaxIdentityLabels int           `toml:"max_identity_labels"`  // Cap on identity labels kept per record
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // "gemini" or "claude" (default: "gemini")
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings should be exposed in welfare-pipeline.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			SnapshotsDir: "./data/snapshots",
			SideLogPath:  "./data/enriched.json",
		},
		Queue: QueueConfig{
			QueueName:         "welfare_jobs",
			PollInterval:      1 * time.Second,
			Concurrency:       4,
			VisibilityTimeout: 5 * time.Minute,
			Attempts:          3,
			Backoff:           5 * time.Second,
			RemoveOnComplete:  true,
		},
		Crawler: CrawlerConfig{
			SitesFile:       "./sites.json",
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Concurrency:     10,
			PageTimeout:     15 * time.Second,
			DownloadTimeout: 30 * time.Second,
			RequestDelay:    500 * time.Millisecond,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			MaxPages:        3,
			Schedule:        "", // Disabled by default - user must explicitly opt-in
			RunOnStart:      false,
		},
		Enrichment: EnrichmentConfig{
			Enabled:           true,
			CallsPerMinute:    15, // Free-tier Gemini quota
			StageRetryDelay:   5 * time.Minute,
			SummaryMaxLength:  150,
			MaxIdentityLabels: 8,
		},
		Gemini: GeminiConfig{
			APIKey:      "", // User must provide API key (no fallback)
			Model:       "gemini-3-flash-preview",
			Temperature: 0.3,
		},
		Claude: ClaudeConfig{
			APIKey:      "",
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   1024,
			Temperature: 0.3,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
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

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("WELFARE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Logging configuration
	if level := os.Getenv("WELFARE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("WELFARE_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("WELFARE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if snapshotsDir := os.Getenv("WELFARE_SNAPSHOTS_DIR"); snapshotsDir != "" {
		config.Storage.SnapshotsDir = snapshotsDir
	}

	// Queue configuration
	if concurrency := os.Getenv("WELFARE_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if attempts := os.Getenv("WELFARE_QUEUE_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Queue.Attempts = a
		}
	}

	// Crawler configuration
	if sitesFile := os.Getenv("WELFARE_SITES_FILE"); sitesFile != "" {
		config.Crawler.SitesFile = sitesFile
	}
	if userAgent := os.Getenv("WELFARE_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if concurrency := os.Getenv("WELFARE_CRAWLER_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Crawler.Concurrency = c
		}
	}
	if schedule := os.Getenv("WELFARE_CRAWLER_SCHEDULE"); schedule != "" {
		config.Crawler.Schedule = schedule
	}

	// Enrichment configuration
	if enabled := os.Getenv("WELFARE_ENRICHMENT_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Enrichment.Enabled = e
		}
	}
	if cpm := os.Getenv("WELFARE_ENRICHMENT_CALLS_PER_MINUTE"); cpm != "" {
		if c, err := strconv.Atoi(cpm); err == nil {
			config.Enrichment.CallsPerMinute = c
		}
	}

	// API keys
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if provider := os.Getenv("WELFARE_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
}
