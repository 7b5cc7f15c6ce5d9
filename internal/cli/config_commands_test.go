package cli

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/examlytics/examctl/internal/config"
)

func TestConfigInit_WritesAnswers(t *testing.T) {
	env := newCLIEnv(t, "http://unused")
	env.cfgPath = filepath.Join(env.dir, "fresh.csv")

	answers := strings.Join([]string{
		"https://exams.example.org", // API base URL
		"3s",                        // poll interval
		"CBC",                       // preset
		"",                          // download dir
		"",                          // session store
		"n",                         // proxy
		"",
	}, "\n")
	out, stderr, err := env.run(answers, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v\n%s", err, stderr)
	}
	if !strings.Contains(out, "Configuration saved to: "+env.cfgPath) {
		t.Errorf("stdout = %q", out)
	}

	cfg, err := config.LoadConfigCSV(env.cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIBaseURL != "https://exams.example.org" {
		t.Errorf("api_base_url = %q", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("poll interval = %s", cfg.PollInterval)
	}
	if cfg.DefaultPreset != "CBC" || cfg.TokenStore != "file" {
		t.Errorf("preset = %q, token store = %q", cfg.DefaultPreset, cfg.TokenStore)
	}
}

func TestConfigInit_KeepsExistingWithoutForce(t *testing.T) {
	env := newCLIEnv(t, "http://unused")

	out, _, err := env.run("", "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("stdout = %q", out)
	}
}

func TestConfigInit_RejectsUnknownPreset(t *testing.T) {
	env := newCLIEnv(t, "http://unused")
	answers := "https://exams.example.org\n2s\nletters\n\n\nn\n"

	if _, _, err := env.run(answers, "config", "init", "--force"); err == nil || !strings.Contains(err.Error(), "letters") {
		t.Fatalf("config init error = %v, want unknown preset", err)
	}
	cfg, err := config.LoadConfigCSV(env.cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultPreset == "letters" {
		t.Error("rejected answers were saved")
	}
}

func TestConfigPath(t *testing.T) {
	env := newCLIEnv(t, "http://unused")

	out, _, err := env.run("", "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, env.cfgPath) || !strings.Contains(out, "Status: exists") {
		t.Errorf("stdout = %q", out)
	}

	env.cfgPath = filepath.Join(env.dir, "missing.csv")
	out, _, _ = env.run("", "config", "path")
	if !strings.Contains(out, "not found") {
		t.Errorf("stdout = %q", out)
	}
}
