package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production" - controls localhost target validation
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Scanner     ScannerConfig   `toml:"scanner"`
	Email       EmailConfig     `toml:"email"`
	Retention   RetentionConfig `toml:"retention"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port                 int    `toml:"port"`
	Host                 string `toml:"host"`
	MaxRequestsPerMinute int    `toml:"max_requests_per_minute"` // Per-IP ingress rate limit
}

// QueueConfig controls fair-share scheduling of queued scans
type QueueConfig struct {
	PollInterval       string `toml:"poll_interval"`        // e.g. "2s" - processor poll cadence
	MaxConcurrentScans int    `toml:"max_concurrent_scans"` // Scans processed in parallel
	MaxQueueSize       int    `toml:"max_queue_size"`       // Total queued scans before rejection
	MaxQueuedPerIP     int    `toml:"max_queued_per_ip"`    // Queued scans allowed per submitter IP
	FairnessSlotTicks  int64  `toml:"fairness_slot_ticks"`  // Seconds of priority penalty per active scan from the same IP
	AgingInterval      string `toml:"aging_interval"`       // How often queued priorities are aged
	AgingBoostSeconds  int64  `toml:"aging_boost_seconds"`  // Priority ticks subtracted per aging pass
	CooldownSeconds    int64  `toml:"cooldown_seconds"`     // Per-IP cooldown between accepted submissions
	PositionBroadcast  int    `toml:"position_broadcast"`   // Number of leading queue positions pushed on change
}

type StorageConfig struct {
	SQLite  SQLiteConfig `toml:"sqlite"`
	Bundles string       `toml:"bundles"` // Directory for converted image zip files
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // Lock wait before SQLITE_BUSY
	WALMode       bool   `toml:"wal_mode"`        // Enable write-ahead logging
}

// CrawlerConfig contains headless browser crawl configuration
type CrawlerConfig struct {
	UserAgent               string        `toml:"user_agent"`
	Headless                bool          `toml:"headless"`
	NoSandbox               bool          `toml:"no_sandbox"`
	MaxPagesPerScan         int           `toml:"max_pages_per_scan"`
	PageTimeout             time.Duration `toml:"page_timeout"`
	MaxScanDuration         time.Duration `toml:"max_scan_duration"`
	NetworkIdleWait         time.Duration `toml:"network_idle_wait"`         // Cap on post-navigation quiescence wait
	ScrollSettleWait        time.Duration `toml:"scroll_settle_wait"`        // Grace after progressive scroll
	MaxRetries              int           `toml:"max_retries"`               // Per-page retry budget for transient failures
	RetryBackoff            time.Duration `toml:"retry_backoff"`             // Initial retry backoff
	MaxResponseSize         int64         `toml:"max_response_size"`         // Per-response byte cap
	MaxPageBytes            int64         `toml:"max_page_bytes"`            // Cumulative per-page byte cap
	MaxRequestsPerPage      int           `toml:"max_requests_per_page"`     // Per-page intercepted request cap
	CheckpointIntervalPages int           `toml:"checkpoint_interval_pages"` // Pages between crawl checkpoints
	FollowRobotsTxt         bool          `toml:"follow_robots_txt"`
	AllowedImageHosts       []string      `toml:"allowed_image_hosts"`     // Off-origin hosts whose images still count (CDNs)
	BlockedTrackerDomains   []string      `toml:"blocked_tracker_domains"` // Analytics/tracker hosts ignored outright
}

// ScannerConfig contains scan admission configuration
type ScannerConfig struct {
	EnforceHTTPS   bool `toml:"enforce_https"` // Reject plain http targets at admission
	MaxURLLength   int  `toml:"max_url_length"`
	MaxEmailLength int  `toml:"max_email_length"`
}

// EmailConfig controls report-by-email availability (delivery itself is external)
type EmailConfig struct {
	Enabled bool `toml:"enabled"`
}

// RetentionConfig controls the cleanup sweepers
type RetentionConfig struct {
	Hours            int    `toml:"hours"`               // Terminal scan retention window
	BundleHours      int    `toml:"bundle_hours"`        // Converted image zip retention window
	Schedule         string `toml:"schedule"`            // Cron schedule for the sweepers
	MaxDeletesPerRun int    `toml:"max_deletes_per_run"` // Cap per sweep to bound transaction size
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// WebSocketConfig contains configuration for scan progress streaming
type WebSocketConfig struct {
	ProgressThrottle string `toml:"progress_throttle"` // Min interval between PageProgress pushes per scan
	SendTimeout      string `toml:"send_timeout"`      // Per-message write deadline before a subscriber is dropped
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in optiscan.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode - allows localhost targets
		Server: ServerConfig{
			Port:                 8080,
			Host:                 "localhost",
			MaxRequestsPerMinute: 60,
		},
		Queue: QueueConfig{
			PollInterval:       "2s",
			MaxConcurrentScans: 2,
			MaxQueueSize:       100,
			MaxQueuedPerIP:     3,
			FairnessSlotTicks:  3600, // One hour of penalty per queued-or-processing scan from the same IP
			AgingInterval:      "1m",
			AgingBoostSeconds:  300,
			CooldownSeconds:    30,
			PositionBroadcast:  10,
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/optiscan.db",
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
			Bundles: "./data/bundles",
		},
		Crawler: CrawlerConfig{
			UserAgent:               "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headless:                true,
			NoSandbox:               true,
			MaxPagesPerScan:         50,
			PageTimeout:             30 * time.Second,
			MaxScanDuration:         20 * time.Minute,
			NetworkIdleWait:         5 * time.Second,
			ScrollSettleWait:        300 * time.Millisecond,
			MaxRetries:              3,
			RetryBackoff:            1 * time.Second,
			MaxResponseSize:         25 * 1024 * 1024,  // 25MB per response
			MaxPageBytes:            100 * 1024 * 1024, // 100MB cumulative per page
			MaxRequestsPerPage:      500,
			CheckpointIntervalPages: 5,
			FollowRobotsTxt:         true,
			AllowedImageHosts:       []string{},
			BlockedTrackerDomains: []string{
				"google-analytics.com",
				"googletagmanager.com",
				"doubleclick.net",
				"facebook.net",
				"hotjar.com",
				"segment.io",
			},
		},
		Scanner: ScannerConfig{
			EnforceHTTPS:   false,
			MaxURLLength:   2048,
			MaxEmailLength: 254,
		},
		Email: EmailConfig{
			Enabled: false,
		},
		Retention: RetentionConfig{
			Hours:            168, // 7 days
			BundleHours:      24,
			Schedule:         "@every 1h",
			MaxDeletesPerRun: 200,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "500ms",
			SendTimeout:      "5s",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override earlier files.
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

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: OPTISCAN_ENV, fallback: GO_ENV)
	if env := os.Getenv("OPTISCAN_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("OPTISCAN_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("OPTISCAN_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if rpm := os.Getenv("MAX_REQUESTS_PER_MINUTE"); rpm != "" {
		if v, err := strconv.Atoi(rpm); err == nil {
			config.Server.MaxRequestsPerMinute = v
		}
	}

	// Queue configuration
	if concurrent := os.Getenv("MAX_CONCURRENT_SCANS"); concurrent != "" {
		if v, err := strconv.Atoi(concurrent); err == nil {
			config.Queue.MaxConcurrentScans = v
		}
	}
	if queueSize := os.Getenv("MAX_QUEUE_SIZE"); queueSize != "" {
		if v, err := strconv.Atoi(queueSize); err == nil {
			config.Queue.MaxQueueSize = v
		}
	}
	if perIP := os.Getenv("MAX_QUEUED_JOBS_PER_IP"); perIP != "" {
		if v, err := strconv.Atoi(perIP); err == nil {
			config.Queue.MaxQueuedPerIP = v
		}
	}
	if pollInterval := os.Getenv("OPTISCAN_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if cooldown := os.Getenv("OPTISCAN_QUEUE_COOLDOWN_SECONDS"); cooldown != "" {
		if v, err := strconv.ParseInt(cooldown, 10, 64); err == nil {
			config.Queue.CooldownSeconds = v
		}
	}

	// Crawler configuration
	if maxPages := os.Getenv("MAX_PAGES_PER_SCAN"); maxPages != "" {
		if v, err := strconv.Atoi(maxPages); err == nil {
			config.Crawler.MaxPagesPerScan = v
		}
	}
	if pageTimeout := os.Getenv("PAGE_TIMEOUT_SECONDS"); pageTimeout != "" {
		if v, err := strconv.Atoi(pageTimeout); err == nil {
			config.Crawler.PageTimeout = time.Duration(v) * time.Second
		}
	}
	if userAgent := os.Getenv("OPTISCAN_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if headless := os.Getenv("OPTISCAN_CRAWLER_HEADLESS"); headless != "" {
		if v, err := strconv.ParseBool(headless); err == nil {
			config.Crawler.Headless = v
		}
	}
	if maxScanDuration := os.Getenv("OPTISCAN_CRAWLER_MAX_SCAN_DURATION"); maxScanDuration != "" {
		if d, err := time.ParseDuration(maxScanDuration); err == nil {
			config.Crawler.MaxScanDuration = d
		}
	}
	if followRobots := os.Getenv("OPTISCAN_CRAWLER_FOLLOW_ROBOTS_TXT"); followRobots != "" {
		if v, err := strconv.ParseBool(followRobots); err == nil {
			config.Crawler.FollowRobotsTxt = v
		}
	}

	// Scanner configuration
	if enforceHTTPS := os.Getenv("ENFORCE_HTTPS"); enforceHTTPS != "" {
		if v, err := strconv.ParseBool(enforceHTTPS); err == nil {
			config.Scanner.EnforceHTTPS = v
		}
	}

	// Email configuration
	if emailEnabled := os.Getenv("OPTISCAN_EMAIL_ENABLED"); emailEnabled != "" {
		if v, err := strconv.ParseBool(emailEnabled); err == nil {
			config.Email.Enabled = v
		}
	}

	// Retention configuration
	if retentionHours := os.Getenv("RETENTION_HOURS"); retentionHours != "" {
		if v, err := strconv.Atoi(retentionHours); err == nil {
			config.Retention.Hours = v
		}
	}

	// Storage configuration
	if sqlitePath := os.Getenv("OPTISCAN_SQLITE_PATH"); sqlitePath != "" {
		config.Storage.SQLite.Path = sqlitePath
	}
	if bundlesDir := os.Getenv("OPTISCAN_BUNDLES_DIR"); bundlesDir != "" {
		config.Storage.Bundles = bundlesDir
	}

	// Logging configuration
	if level := os.Getenv("OPTISCAN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("OPTISCAN_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// PollIntervalDuration parses the queue poll interval with a safe fallback
func (q *QueueConfig) PollIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(q.PollInterval); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

// AgingIntervalDuration parses the aging interval with a safe fallback
func (q *QueueConfig) AgingIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(q.AgingInterval); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

// ProgressThrottleDuration parses the progress throttle with a safe fallback
func (w *WebSocketConfig) ProgressThrottleDuration() time.Duration {
	if d, err := time.ParseDuration(w.ProgressThrottle); err == nil && d > 0 {
		return d
	}
	return 500 * time.Millisecond
}

// SendTimeoutDuration parses the subscriber send timeout with a safe fallback
func (w *WebSocketConfig) SendTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(w.SendTimeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Second
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := trimSpace(c.Environment)
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if localhost/loopback targets are allowed.
// Only permitted in development mode, and even then the crawler still
// re-validates resolved addresses before connecting.
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}

// DeepCloneConfig creates a deep copy of the Config struct.
// Used to hand callers a snapshot they cannot mutate.
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	if len(c.Crawler.AllowedImageHosts) > 0 {
		clone.Crawler.AllowedImageHosts = make([]string, len(c.Crawler.AllowedImageHosts))
		copy(clone.Crawler.AllowedImageHosts, c.Crawler.AllowedImageHosts)
	}

	if len(c.Crawler.BlockedTrackerDomains) > 0 {
		clone.Crawler.BlockedTrackerDomains = make([]string, len(c.Crawler.BlockedTrackerDomains))
		copy(clone.Crawler.BlockedTrackerDomains, c.Crawler.BlockedTrackerDomains)
	}

	return &clone
}

// Helper functions for string manipulation
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
