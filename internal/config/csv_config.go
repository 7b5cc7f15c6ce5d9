package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/examlytics/examctl/internal/constants"
	"github.com/examlytics/examctl/internal/pathutil"
	"github.com/examlytics/examctl/internal/util/sanitize"
)

// Config represents the examctl configuration
type Config struct {
	// API settings
	APIBaseURL     string
	RequestTimeout time.Duration
	MaxRetries     int // extra attempts per artifact download; API calls are never retried

	// Polling
	PollInterval time.Duration

	// Proxy settings
	ProxyMode     string // "no-proxy", "ntlm", "basic", "system"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string // never read from or written to the config file
	NoProxy       string // Comma-separated list of hosts to bypass proxy
	ProxyWarmup   bool

	// Session storage
	TokenStore    string // "file" or "redis"
	SessionFile   string // empty = default path in the config directory
	RedisAddr     string
	RedisDB       int
	RedisPassword string // env only
	RedisPrefix   string

	// Artifacts
	DownloadDir       string
	Mirror            string // "none", "s3", "azure"
	S3Bucket          string
	S3Region          string
	S3Prefix          string
	AzureContainerURL string // SAS URL, env or file

	// Grading
	DefaultPreset string

	LogLevel string
}

// Defaults returns a Config populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		APIBaseURL:     "http://localhost:8000",
		RequestTimeout: constants.DefaultRequestTimeout,
		MaxRetries:     constants.MaxRetries,
		PollInterval:   constants.JobPollInterval,
		ProxyMode:      "no-proxy",
		TokenStore:     "file",
		RedisAddr:      "localhost:6379",
		RedisPrefix:    "examctl:",
		DownloadDir:    ".",
		Mirror:         "none",
		LogLevel:       "info",
	}
}

func parseBool(value string) bool {
	return strings.ToLower(value) == "true" || value == "1"
}

// LoadConfigCSV loads configuration from a CSV file
// CSV format: key,value pairs
func LoadConfigCSV(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // Return defaults if config doesn't exist
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read config CSV: %w", err)
	}

	for i, record := range records {
		if i == 0 && len(record) >= 2 && strings.ToLower(sanitize.Field(record[0])) == "key" {
			continue
		}
		if len(record) < 2 {
			continue
		}
		cfg.set(strings.ToLower(sanitize.Field(record[0])), sanitize.Field(record[1]), "config file")
	}

	return cfg, nil
}

// set applies one key. Unknown keys are ignored; unparsable values keep the
// previous value and log a warning.
func (c *Config) set(key, value, source string) {
	atoi := func(dst *int) {
		if v, err := strconv.Atoi(value); err == nil {
			*dst = v
		} else {
			log.Warn().Str("key", key).Str("source", source).Msg("ignoring non-numeric value")
		}
	}
	seconds := func(dst *time.Duration) {
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			*dst = time.Duration(v * float64(time.Second))
		} else {
			log.Warn().Str("key", key).Str("source", source).Msg("ignoring invalid duration")
		}
	}

	switch key {
	case "api_base_url":
		c.APIBaseURL = value
	case "request_timeout_seconds":
		seconds(&c.RequestTimeout)
	case "max_retries":
		atoi(&c.MaxRetries)
	case "poll_interval_seconds":
		seconds(&c.PollInterval)
	case "proxy_mode":
		c.ProxyMode = value
	case "proxy_host":
		c.ProxyHost = value
	case "proxy_port":
		atoi(&c.ProxyPort)
	case "proxy_user":
		c.ProxyUser = value
	case "proxy_password":
		if source == "config file" {
			if value != "" {
				log.Warn().Msg("proxy_password in config file is ignored for security - set EXAMCTL_PROXY_PASSWORD or enter it when prompted")
			}
			return
		}
		c.ProxyPassword = value
	case "no_proxy":
		c.NoProxy = value
	case "proxy_warmup":
		c.ProxyWarmup = parseBool(value)
	case "token_store":
		c.TokenStore = strings.ToLower(value)
	case "session_file":
		c.SessionFile = value
	case "redis_addr":
		c.RedisAddr = value
	case "redis_db":
		atoi(&c.RedisDB)
	case "redis_password":
		if source == "config file" {
			if value != "" {
				log.Warn().Msg("redis_password in config file is ignored for security - set EXAMCTL_REDIS_PASSWORD")
			}
			return
		}
		c.RedisPassword = value
	case "redis_prefix":
		c.RedisPrefix = value
	case "download_dir":
		c.DownloadDir = value
	case "mirror":
		c.Mirror = strings.ToLower(value)
	case "s3_bucket":
		c.S3Bucket = value
	case "s3_region":
		c.S3Region = value
	case "s3_prefix":
		c.S3Prefix = value
	case "azure_container_url":
		c.AzureContainerURL = value
	case "default_preset":
		c.DefaultPreset = value
	case "log_level":
		c.LogLevel = strings.ToLower(value)
	}
}

// SaveConfigCSV saves configuration to a CSV file
// CSV format: key,value pairs
func SaveConfigCSV(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"key", "value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Passwords are never written to the file.
	records := [][]string{
		{"api_base_url", cfg.APIBaseURL},
		{"request_timeout_seconds", formatSeconds(cfg.RequestTimeout)},
		{"max_retries", strconv.Itoa(cfg.MaxRetries)},
		{"poll_interval_seconds", formatSeconds(cfg.PollInterval)},
		{"proxy_mode", cfg.ProxyMode},
		{"proxy_host", cfg.ProxyHost},
		{"proxy_port", strconv.Itoa(cfg.ProxyPort)},
		{"proxy_user", cfg.ProxyUser},
		{"no_proxy", cfg.NoProxy},
		{"proxy_warmup", strconv.FormatBool(cfg.ProxyWarmup)},
		{"token_store", cfg.TokenStore},
		{"session_file", cfg.SessionFile},
		{"redis_addr", cfg.RedisAddr},
		{"redis_db", strconv.Itoa(cfg.RedisDB)},
		{"redis_prefix", cfg.RedisPrefix},
		{"download_dir", cfg.DownloadDir},
		{"mirror", cfg.Mirror},
		{"s3_bucket", cfg.S3Bucket},
		{"s3_region", cfg.S3Region},
		{"s3_prefix", cfg.S3Prefix},
		{"azure_container_url", cfg.AzureContainerURL},
		{"default_preset", cfg.DefaultPreset},
		{"log_level", cfg.LogLevel},
	}

	for _, record := range records {
		// Zero values are left out.
		if record[1] != "" && record[1] != "0" && record[1] != "false" {
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush config file: %w", err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// Records returns the effective configuration as key/value pairs for display.
// Secrets are masked.
func (c *Config) Records() [][2]string {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	return [][2]string{
		{"api_base_url", c.APIBaseURL},
		{"request_timeout_seconds", formatSeconds(c.RequestTimeout)},
		{"max_retries", strconv.Itoa(c.MaxRetries)},
		{"poll_interval_seconds", formatSeconds(c.PollInterval)},
		{"proxy_mode", c.ProxyMode},
		{"proxy_host", c.ProxyHost},
		{"proxy_port", strconv.Itoa(c.ProxyPort)},
		{"proxy_user", c.ProxyUser},
		{"proxy_password", mask(c.ProxyPassword)},
		{"no_proxy", c.NoProxy},
		{"proxy_warmup", strconv.FormatBool(c.ProxyWarmup)},
		{"token_store", c.TokenStore},
		{"session_file", c.SessionPath()},
		{"redis_addr", c.RedisAddr},
		{"redis_db", strconv.Itoa(c.RedisDB)},
		{"redis_password", mask(c.RedisPassword)},
		{"redis_prefix", c.RedisPrefix},
		{"download_dir", c.DownloadDir},
		{"mirror", c.Mirror},
		{"s3_bucket", c.S3Bucket},
		{"s3_region", c.S3Region},
		{"s3_prefix", c.S3Prefix},
		{"azure_container_url", mask(c.AzureContainerURL)},
		{"default_preset", c.DefaultPreset},
		{"log_level", c.LogLevel},
	}
}

// SessionPath returns the configured session file or the default location.
func (c *Config) SessionPath() string {
	if c.SessionFile != "" {
		if p, err := pathutil.ExpandHome(c.SessionFile); err == nil {
			return p
		}
		return c.SessionFile
	}
	return GetDefaultSessionPath()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API base URL is required")
	}
	if c.PollInterval < constants.MinJobPollInterval {
		return fmt.Errorf("poll interval must be at least %s", constants.MinJobPollInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	switch c.ProxyMode {
	case "", "no-proxy", "system", "ntlm", "basic":
	default:
		return fmt.Errorf("unknown proxy_mode %q (want no-proxy, system, ntlm or basic)", c.ProxyMode)
	}
	if (c.ProxyMode == "ntlm" || c.ProxyMode == "basic") && c.ProxyHost == "" {
		return fmt.Errorf("proxy_host is required for proxy_mode %s", c.ProxyMode)
	}
	switch c.TokenStore {
	case "file":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required when token_store is redis")
		}
	default:
		return fmt.Errorf("unknown token_store %q (want file or redis)", c.TokenStore)
	}
	switch c.Mirror {
	case "", "none":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("s3_bucket is required when mirror is s3")
		}
	case "azure":
		if c.AzureContainerURL == "" {
			return fmt.Errorf("azure_container_url is required when mirror is azure")
		}
	default:
		return fmt.Errorf("unknown mirror %q (want none, s3 or azure)", c.Mirror)
	}
	return nil
}
