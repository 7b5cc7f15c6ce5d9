package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigCSV(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		missing bool
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "valid config",
			content: "key,value\n" +
				"api_base_url,https://exams.example.org\n" +
				"poll_interval_seconds,5\n" +
				"max_retries,2\n" +
				"token_store,redis\n" +
				"redis_addr,cache:6379\n" +
				"redis_db,3\n" +
				"mirror,s3\n" +
				"s3_bucket,reports\n" +
				"proxy_warmup,1\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.APIBaseURL != "https://exams.example.org" {
					t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
				}
				if cfg.PollInterval != 5*time.Second {
					t.Errorf("PollInterval = %s, want 5s", cfg.PollInterval)
				}
				if cfg.MaxRetries != 2 {
					t.Errorf("MaxRetries = %d, want 2", cfg.MaxRetries)
				}
				if cfg.TokenStore != "redis" || cfg.RedisAddr != "cache:6379" || cfg.RedisDB != 3 {
					t.Errorf("redis settings = %q %q %d", cfg.TokenStore, cfg.RedisAddr, cfg.RedisDB)
				}
				if cfg.Mirror != "s3" || cfg.S3Bucket != "reports" {
					t.Errorf("mirror settings = %q %q", cfg.Mirror, cfg.S3Bucket)
				}
				if !cfg.ProxyWarmup {
					t.Error("ProxyWarmup should be true")
				}
			},
		},
		{
			name:    "no header row",
			content: "poll_interval_seconds,0.5\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.PollInterval != 500*time.Millisecond {
					t.Errorf("PollInterval = %s, want 500ms", cfg.PollInterval)
				}
			},
		},
		{
			name:    "passwords in file are ignored",
			content: "key,value\nproxy_password,hunter2\nredis_password,secret\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.ProxyPassword != "" || cfg.RedisPassword != "" {
					t.Error("passwords must not be read from the config file")
				}
			},
		},
		{
			name:    "bad number keeps default",
			content: "max_retries,lots\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.MaxRetries != Defaults().MaxRetries {
					t.Errorf("MaxRetries = %d, want default", cfg.MaxRetries)
				}
			},
		},
		{
			name:    "non-existent file returns defaults",
			missing: true,
			check: func(t *testing.T, cfg *Config) {
				if cfg.PollInterval != 2*time.Second {
					t.Errorf("PollInterval = %s, want 2s", cfg.PollInterval)
				}
				if cfg.TokenStore != "file" {
					t.Errorf("TokenStore = %q, want file", cfg.TokenStore)
				}
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "missing.csv")
			if !tt.missing {
				path = writeFile(t, dir, "config"+string(rune('a'+i))+".csv", tt.content)
			}
			cfg, err := LoadConfigCSV(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadConfigCSV() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestSaveConfigCSV_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.csv")

	cfg := Defaults()
	cfg.APIBaseURL = "https://exams.example.org"
	cfg.PollInterval = 3 * time.Second
	cfg.ProxyPassword = "hunter2"
	cfg.DefaultPreset = "Numeric"

	if err := SaveConfigCSV(cfg, path); err != nil {
		t.Fatalf("SaveConfigCSV() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Error("proxy password must not be written to disk")
	}

	loaded, err := LoadConfigCSV(path)
	if err != nil {
		t.Fatalf("LoadConfigCSV() error = %v", err)
	}
	if loaded.APIBaseURL != cfg.APIBaseURL || loaded.PollInterval != cfg.PollInterval || loaded.DefaultPreset != "Numeric" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestMergeWithFlags(t *testing.T) {
	t.Setenv("EXAMCTL_API_BASE_URL", "https://env.example.org")
	t.Setenv("EXAMCTL_POLL_INTERVAL_SECONDS", "4")
	t.Setenv("EXAMCTL_REDIS_PASSWORD", "from-env")
	t.Setenv("HTTPS_PROXY", "")

	cfg := Defaults()
	cfg.ApplyEnv()

	if cfg.APIBaseURL != "https://env.example.org" {
		t.Errorf("env should override file: got %q", cfg.APIBaseURL)
	}
	if cfg.RedisPassword != "from-env" {
		t.Errorf("RedisPassword = %q, want from-env", cfg.RedisPassword)
	}

	cfg.MergeWithFlags(Overrides{APIBaseURL: "flags.example.org/", TokenStore: "REDIS"})

	if cfg.APIBaseURL != "https://flags.example.org" {
		t.Errorf("flag should win and be normalised: got %q", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 4*time.Second {
		t.Errorf("unset flag must keep env value: got %s", cfg.PollInterval)
	}
	if cfg.TokenStore != "redis" {
		t.Errorf("TokenStore = %q, want redis", cfg.TokenStore)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "EXAMCTL_DEFAULT_PRESET=Numeric\n")
	t.Setenv("EXAMCTL_DEFAULT_PRESET", "")
	os.Unsetenv("EXAMCTL_DEFAULT_PRESET")

	LoadDotEnv(envFile, filepath.Join(dir, "absent.env"))

	cfg := Defaults()
	cfg.ApplyEnv()
	if cfg.DefaultPreset != "Numeric" {
		t.Errorf("DefaultPreset = %q, want Numeric", cfg.DefaultPreset)
	}
}

func TestParseProxyURL(t *testing.T) {
	cfg := Defaults()
	cfg.parseProxyURL("http://proxy.corp:3128/")
	if cfg.ProxyHost != "proxy.corp" || cfg.ProxyPort != 3128 {
		t.Errorf("got host %q port %d", cfg.ProxyHost, cfg.ProxyPort)
	}
	if cfg.ProxyMode != "system" {
		t.Errorf("ProxyMode = %q, want system", cfg.ProxyMode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing url", mutate: func(c *Config) { c.APIBaseURL = "" }, wantErr: "base URL"},
		{name: "poll too fast", mutate: func(c *Config) { c.PollInterval = 10 * time.Millisecond }, wantErr: "poll interval"},
		{name: "unknown store", mutate: func(c *Config) { c.TokenStore = "etcd" }, wantErr: "token_store"},
		{name: "ntlm without host", mutate: func(c *Config) { c.ProxyMode = "ntlm" }, wantErr: "proxy_host"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Mirror = "s3" }, wantErr: "s3_bucket"},
		{name: "azure without url", mutate: func(c *Config) { c.Mirror = "azure" }, wantErr: "azure_container_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSessionPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	cfg := Defaults()
	if got := cfg.SessionPath(); got != filepath.Join("/tmp/xdg", "examctl", "session.json") && got != GetDefaultSessionPath() {
		t.Errorf("SessionPath() = %q", got)
	}
	cfg.SessionFile = "/srv/session.json"
	if got := cfg.SessionPath(); got != "/srv/session.json" {
		t.Errorf("SessionPath() = %q, want explicit file", got)
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	cfg.SessionFile = "~/.examctl-session.json"
	if got, want := cfg.SessionPath(), filepath.Join(home, ".examctl-session.json"); got != want {
		t.Errorf("SessionPath() = %q, want %q", got, want)
	}
}
