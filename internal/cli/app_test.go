package cli

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/examlytics/examctl/internal/config"
)

func TestEnsureProxyPassword(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		user    string
		pass    string
		wantErr bool
	}{
		{"no proxy", "no-proxy", "", "", false},
		{"system proxy ignores user", "system", "jane", "", false},
		{"basic with password", "basic", "jane", "pw", false},
		{"ntlm without user", "ntlm", "", "", false},
		{"basic without password", "basic", "jane", "", true},
		{"ntlm without password", "ntlm", "CORP\\jane", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.ProxyMode, cfg.ProxyHost, cfg.ProxyUser, cfg.ProxyPassword = tt.mode, "proxy.local", tt.user, tt.pass

			var prompts bytes.Buffer
			// Piped answers must never be taken as the proxy password.
			p := newPrompter(strings.NewReader("typed-ahead\n"), &prompts)
			err := ensureProxyPassword(cfg, p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ensureProxyPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), config.EnvPrefix+"PROXY_PASSWORD") {
				t.Errorf("error %q does not name the environment variable", err)
			}
			if cfg.ProxyPassword != tt.pass || prompts.Len() != 0 {
				t.Errorf("password = %q, prompts = %q", cfg.ProxyPassword, prompts.String())
			}
		})
	}
}

func TestCommand_ProxyUserWithoutPassword(t *testing.T) {
	_, srv := newFakeService(t)
	env := newCLIEnv(t, srv.URL)
	t.Setenv(config.EnvPrefix+"PROXY_PASSWORD", "")

	f, err := os.OpenFile(env.cfgPath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("proxy_mode,basic\nproxy_host,proxy.local\nproxy_port,3128\nproxy_user,jane\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, _, err = env.run("secret\n", "jobs", "list")
	if err == nil || !strings.Contains(err.Error(), "PROXY_PASSWORD") {
		t.Fatalf("jobs list error = %v, want proxy password hint", err)
	}
}
