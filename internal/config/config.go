// Package config handles environment-based configuration loading for the crawler.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Settings holds all configuration for the crawler. Values come from an
// optional YAML file (FEDIMAPPER_CONFIG) overlaid with FEDIMAPPER_* environment
// variables; environment wins.
type Settings struct {
	// Storage
	DatabasePath     string `yaml:"database_path"`
	BulkInsertBuffer int    `yaml:"bulk_insert_buffer"`

	// Fetching
	UserAgent        string        `yaml:"user_agent"`
	CrawlerName      string        `yaml:"crawler_name"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	HTTPSProbeWindow time.Duration `yaml:"https_probe_window"`
	CacheSizeRobots  int           `yaml:"cache_size_robots"`
	RobotsCacheTTL   time.Duration `yaml:"robots_cache_ttl"`

	// ASN resolution
	ASNWhoisAddr      string `yaml:"asn_whois_addr"`
	ASNDatabasePath   string `yaml:"asn_database_path"`
	ASNReloadSchedule string `yaml:"asn_reload_schedule"`

	// Ingest policy
	StaleRescanHours       float64  `yaml:"stale_rescan_hours"`
	UnreachableRescanHours float64  `yaml:"unreachable_rescan_hours"`
	RefreshPeersHours      float64  `yaml:"refresh_peers_hours"`
	SpamDomainThreshold    int      `yaml:"spam_domain_threshold"`
	EvilDomains            []string `yaml:"evil_domains"`
	BootstrapInstances     []string `yaml:"bootstrap_instances"`

	// Queue runner
	NumProcesses            int           `yaml:"num_processes"`
	MaxQueueSize            int           `yaml:"max_queue_size"`
	PreventRequeuingTime    time.Duration `yaml:"prevent_requeuing_time"`
	EmptyQueueSleepTime     time.Duration `yaml:"empty_queue_sleep_time"`
	FullQueueSleepTime      time.Duration `yaml:"full_queue_sleep_time"`
	QueueInteractionTimeout time.Duration `yaml:"queue_interaction_timeout"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
	LookupBlockSize         int           `yaml:"lookup_block_size"`
	MaxJobsPerProcess       int           `yaml:"max_jobs_per_process"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Load builds Settings from defaults, the optional YAML file named by
// FEDIMAPPER_CONFIG, and FEDIMAPPER_* environment variables, then validates.
func Load() (*Settings, error) {
	cfg := defaults()

	if path := os.Getenv("FEDIMAPPER_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	var errs []string

	// --- Storage ---
	cfg.DatabasePath = envStr("FEDIMAPPER_DATABASE_PATH", cfg.DatabasePath)
	cfg.BulkInsertBuffer = envInt("FEDIMAPPER_BULK_INSERT_BUFFER", cfg.BulkInsertBuffer, &errs)

	// --- Fetching ---
	cfg.UserAgent = envStr("FEDIMAPPER_USER_AGENT", cfg.UserAgent)
	cfg.CrawlerName = envStr("FEDIMAPPER_CRAWLER_NAME", cfg.CrawlerName)
	cfg.MaxBodyBytes = int64(envInt("FEDIMAPPER_MAX_BODY_BYTES", int(cfg.MaxBodyBytes), &errs))
	cfg.FetchTimeout = envDuration("FEDIMAPPER_FETCH_TIMEOUT", cfg.FetchTimeout, &errs)
	cfg.HTTPSProbeWindow = envDuration("FEDIMAPPER_HTTPS_PROBE_WINDOW", cfg.HTTPSProbeWindow, &errs)
	cfg.CacheSizeRobots = envInt("FEDIMAPPER_CACHE_SIZE_ROBOTS", cfg.CacheSizeRobots, &errs)
	cfg.RobotsCacheTTL = envDuration("FEDIMAPPER_ROBOTS_CACHE_TTL", cfg.RobotsCacheTTL, &errs)

	// --- ASN ---
	cfg.ASNWhoisAddr = envStr("FEDIMAPPER_ASN_WHOIS_ADDR", cfg.ASNWhoisAddr)
	cfg.ASNDatabasePath = envStr("FEDIMAPPER_ASN_DATABASE_PATH", cfg.ASNDatabasePath)
	cfg.ASNReloadSchedule = envStr("FEDIMAPPER_ASN_RELOAD_SCHEDULE", cfg.ASNReloadSchedule)

	// --- Ingest policy ---
	cfg.StaleRescanHours = envFloat("FEDIMAPPER_STALE_RESCAN_HOURS", cfg.StaleRescanHours, &errs)
	cfg.UnreachableRescanHours = envFloat("FEDIMAPPER_UNREACHABLE_RESCAN_HOURS", cfg.UnreachableRescanHours, &errs)
	cfg.RefreshPeersHours = envFloat("FEDIMAPPER_REFRESH_PEERS_HOURS", cfg.RefreshPeersHours, &errs)
	cfg.SpamDomainThreshold = envInt("FEDIMAPPER_SPAM_DOMAIN_THRESHOLD", cfg.SpamDomainThreshold, &errs)
	cfg.EvilDomains = envCSV("FEDIMAPPER_EVIL_DOMAINS", cfg.EvilDomains)
	cfg.BootstrapInstances = envCSV("FEDIMAPPER_BOOTSTRAP_INSTANCES", cfg.BootstrapInstances)

	// --- Queue runner ---
	cfg.NumProcesses = envInt("FEDIMAPPER_NUM_PROCESSES", cfg.NumProcesses, &errs)
	cfg.MaxQueueSize = envInt("FEDIMAPPER_MAX_QUEUE_SIZE", cfg.MaxQueueSize, &errs)
	cfg.PreventRequeuingTime = envDuration("FEDIMAPPER_PREVENT_REQUEUING_TIME", cfg.PreventRequeuingTime, &errs)
	cfg.EmptyQueueSleepTime = envDuration("FEDIMAPPER_EMPTY_QUEUE_SLEEP_TIME", cfg.EmptyQueueSleepTime, &errs)
	cfg.FullQueueSleepTime = envDuration("FEDIMAPPER_FULL_QUEUE_SLEEP_TIME", cfg.FullQueueSleepTime, &errs)
	cfg.QueueInteractionTimeout = envDuration("FEDIMAPPER_QUEUE_INTERACTION_TIMEOUT", cfg.QueueInteractionTimeout, &errs)
	cfg.GracefulShutdownTimeout = envDuration("FEDIMAPPER_GRACEFUL_SHUTDOWN_TIMEOUT", cfg.GracefulShutdownTimeout, &errs)
	cfg.LookupBlockSize = envInt("FEDIMAPPER_LOOKUP_BLOCK_SIZE", cfg.LookupBlockSize, &errs)
	cfg.MaxJobsPerProcess = envInt("FEDIMAPPER_MAX_JOBS_PER_PROCESS", cfg.MaxJobsPerProcess, &errs)

	// --- Logging ---
	cfg.LogLevel = envStr("FEDIMAPPER_LOG_LEVEL", cfg.LogLevel)

	// --- Validation ---
	if cfg.DatabasePath == "" {
		errs = append(errs, "FEDIMAPPER_DATABASE_PATH must not be empty")
	}
	if cfg.UserAgent == "" {
		errs = append(errs, "FEDIMAPPER_USER_AGENT must not be empty")
	}
	validatePositive("FEDIMAPPER_BULK_INSERT_BUFFER", cfg.BulkInsertBuffer, &errs)
	validatePositive("FEDIMAPPER_MAX_BODY_BYTES", int(cfg.MaxBodyBytes), &errs)
	validatePositiveDuration("FEDIMAPPER_FETCH_TIMEOUT", cfg.FetchTimeout, &errs)
	validatePositiveDuration("FEDIMAPPER_HTTPS_PROBE_WINDOW", cfg.HTTPSProbeWindow, &errs)
	validatePositive("FEDIMAPPER_CACHE_SIZE_ROBOTS", cfg.CacheSizeRobots, &errs)
	validatePositiveDuration("FEDIMAPPER_ROBOTS_CACHE_TTL", cfg.RobotsCacheTTL, &errs)
	if cfg.ASNReloadSchedule != "" {
		if _, err := cron.ParseStandard(cfg.ASNReloadSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("FEDIMAPPER_ASN_RELOAD_SCHEDULE: invalid cron expression %q: %v", cfg.ASNReloadSchedule, err))
		}
	}
	validatePositiveFloat("FEDIMAPPER_STALE_RESCAN_HOURS", cfg.StaleRescanHours, &errs)
	validatePositiveFloat("FEDIMAPPER_UNREACHABLE_RESCAN_HOURS", cfg.UnreachableRescanHours, &errs)
	validatePositiveFloat("FEDIMAPPER_REFRESH_PEERS_HOURS", cfg.RefreshPeersHours, &errs)
	validatePositive("FEDIMAPPER_SPAM_DOMAIN_THRESHOLD", cfg.SpamDomainThreshold, &errs)
	validatePositive("FEDIMAPPER_NUM_PROCESSES", cfg.NumProcesses, &errs)
	validatePositive("FEDIMAPPER_MAX_QUEUE_SIZE", cfg.MaxQueueSize, &errs)
	validatePositiveDuration("FEDIMAPPER_PREVENT_REQUEUING_TIME", cfg.PreventRequeuingTime, &errs)
	validatePositiveDuration("FEDIMAPPER_EMPTY_QUEUE_SLEEP_TIME", cfg.EmptyQueueSleepTime, &errs)
	validatePositiveDuration("FEDIMAPPER_FULL_QUEUE_SLEEP_TIME", cfg.FullQueueSleepTime, &errs)
	validatePositiveDuration("FEDIMAPPER_QUEUE_INTERACTION_TIMEOUT", cfg.QueueInteractionTimeout, &errs)
	validatePositiveDuration("FEDIMAPPER_GRACEFUL_SHUTDOWN_TIMEOUT", cfg.GracefulShutdownTimeout, &errs)
	validatePositive("FEDIMAPPER_LOOKUP_BLOCK_SIZE", cfg.LookupBlockSize, &errs)
	if cfg.MaxJobsPerProcess < 0 {
		errs = append(errs, fmt.Sprintf("FEDIMAPPER_MAX_JOBS_PER_PROCESS: must not be negative, got %d", cfg.MaxJobsPerProcess))
	}
	if cfg.LookupBlockSize > cfg.MaxQueueSize {
		errs = append(errs, "FEDIMAPPER_LOOKUP_BLOCK_SIZE must be less than or equal to FEDIMAPPER_MAX_QUEUE_SIZE")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

func defaults() *Settings {
	return &Settings{
		DatabasePath:     "fedimapper.db",
		BulkInsertBuffer: 1000,

		UserAgent:        "fedimapper",
		CrawlerName:      "fedimapper",
		MaxBodyBytes:     4 << 20,
		FetchTimeout:     10 * time.Second,
		HTTPSProbeWindow: 1 * time.Second,
		CacheSizeRobots:  8,
		RobotsCacheTTL:   30 * time.Minute,

		ASNWhoisAddr:      "whois.cymru.com:43",
		ASNReloadSchedule: "0 7 * * *",

		StaleRescanHours:       0.90,
		UnreachableRescanHours: 6,
		RefreshPeersHours:      12,
		SpamDomainThreshold:    100,
		EvilDomains:            []string{"activitypub-troll.cf", "gab.best"},
		BootstrapInstances: []string{
			// "Official" instance of the org that manages Mastodon.
			"mastodon.social",
			// Diaspora instance with public peers.
			"diasp.org",
		},

		NumProcesses:            2,
		MaxQueueSize:            300,
		PreventRequeuingTime:    5 * time.Minute,
		EmptyQueueSleepTime:     1 * time.Second,
		FullQueueSleepTime:      5 * time.Second,
		QueueInteractionTimeout: 100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
		LookupBlockSize:         10,
		MaxJobsPerProcess:       200,

		LogLevel: "info",
	}
}

// StaleRescanWindow is the age past which a successful scan is due again.
func (s *Settings) StaleRescanWindow() time.Duration {
	return hours(s.StaleRescanHours)
}

// UnreachableRescanWindow is the age past which an unreadable host is retried.
func (s *Settings) UnreachableRescanWindow() time.Duration {
	return hours(s.UnreachableRescanHours)
}

// RefreshPeersWindow is the age past which the peer list is refetched.
func (s *Settings) RefreshPeersWindow() time.Duration {
	return hours(s.RefreshPeersHours)
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envCSV(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validatePositiveFloat(name string, value float64, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %g", name, value))
	}
}

func validatePositiveDuration(name string, value time.Duration, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %s", name, value))
	}
}
