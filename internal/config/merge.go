package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvPrefix is prepended to every config key when read from the environment,
// e.g. EXAMCTL_API_BASE_URL.
const EnvPrefix = "EXAMCTL_"

// envKeys lists the keys that may be overridden from the environment.
var envKeys = []string{
	"api_base_url", "request_timeout_seconds", "max_retries", "poll_interval_seconds",
	"proxy_mode", "proxy_host", "proxy_port", "proxy_user", "proxy_password", "no_proxy", "proxy_warmup",
	"token_store", "session_file", "redis_addr", "redis_db", "redis_password", "redis_prefix",
	"download_dir", "mirror", "s3_bucket", "s3_region", "s3_prefix", "azure_container_url",
	"default_preset", "log_level",
}

// Overrides carries values given on the command line. Zero values mean "not set".
type Overrides struct {
	APIBaseURL   string
	PollInterval time.Duration
	ProxyMode    string
	ProxyHost    string
	ProxyPort    int
	TokenStore   string
	DownloadDir  string
	Mirror       string
	LogLevel     string
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overwriting variables that are already set. With no
// arguments it reads ./.env. A missing file is not an error.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Warn().Err(err).Str("file", f).Msg("failed to load env file")
		}
	}
}

// ApplyEnv overrides fields from EXAMCTL_* environment variables.
func (c *Config) ApplyEnv() {
	for _, key := range envKeys {
		if v, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(key)); ok && v != "" {
			c.set(key, strings.TrimSpace(v), "environment")
		}
	}

	if envProxy := os.Getenv("HTTPS_PROXY"); envProxy != "" && c.ProxyHost == "" {
		c.parseProxyURL(envProxy)
	}
}

// MergeWithFlags applies command-line overrides.
// Priority (highest to lowest): flags > environment (incl. .env) > config file > defaults.
// Callers are expected to have run ApplyEnv first.
func (c *Config) MergeWithFlags(o Overrides) {
	if o.APIBaseURL != "" {
		c.APIBaseURL = o.APIBaseURL
	}
	if o.PollInterval > 0 {
		c.PollInterval = o.PollInterval
	}
	if o.ProxyMode != "" {
		c.ProxyMode = o.ProxyMode
	}
	if o.ProxyHost != "" {
		c.ProxyHost = o.ProxyHost
	}
	if o.ProxyPort > 0 {
		c.ProxyPort = o.ProxyPort
	}
	if o.TokenStore != "" {
		c.TokenStore = strings.ToLower(o.TokenStore)
	}
	if o.DownloadDir != "" {
		c.DownloadDir = o.DownloadDir
	}
	if o.Mirror != "" {
		c.Mirror = strings.ToLower(o.Mirror)
	}
	if o.LogLevel != "" {
		c.LogLevel = strings.ToLower(o.LogLevel)
	}

	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.APIBaseURL != "" && !strings.HasPrefix(c.APIBaseURL, "http") {
		c.APIBaseURL = "https://" + c.APIBaseURL
	}
}

// Load builds the effective configuration: defaults, then the CSV file, then
// .env and EXAMCTL_* variables, then flags.
func Load(path string, o Overrides) (*Config, error) {
	cfg, err := LoadConfigCSV(path)
	if err != nil {
		return nil, err
	}
	LoadDotEnv()
	cfg.ApplyEnv()
	cfg.MergeWithFlags(o)
	return cfg, nil
}

// parseProxyURL parses a proxy URL from environment variable
func (c *Config) parseProxyURL(proxyURL string) {
	proxyURL = strings.TrimPrefix(proxyURL, "http://")
	proxyURL = strings.TrimPrefix(proxyURL, "https://")
	proxyURL = strings.TrimRight(proxyURL, "/")

	parts := strings.Split(proxyURL, ":")
	if len(parts) >= 1 {
		c.ProxyHost = parts[0]
	}
	if len(parts) >= 2 {
		if port, err := strconv.Atoi(parts[1]); err == nil {
			c.ProxyPort = port
		}
	}
	if c.ProxyHost != "" && (c.ProxyMode == "no-proxy" || c.ProxyMode == "") {
		c.ProxyMode = "system"
	}
}
