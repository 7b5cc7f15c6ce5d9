package cli

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestLsShortcut(t *testing.T) {
	cmd := newLsShortcut()
	if cmd == nil {
		t.Fatal("newLsShortcut() returned nil")
	}

	if cmd.Use != "ls" {
		t.Errorf("Expected Use='ls', got '%s'", cmd.Use)
	}

	if cmd.Flags().Lookup("status") == nil {
		t.Error("--status flag not found")
	}
}

func TestDownloadShortcut(t *testing.T) {
	cmd := newDownloadShortcut()
	if cmd.Use != "download <job-id>" {
		t.Errorf("Expected Use='download <job-id>', got '%s'", cmd.Use)
	}

	for _, name := range []string{"dir", "mirror"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag not found", name)
		}
	}
}

func TestLoginShortcut(t *testing.T) {
	cmd := newLoginShortcut()
	if cmd.Use != "login" {
		t.Errorf("Expected Use='login', got '%s'", cmd.Use)
	}
	if cmd.Flags().Lookup("password-stdin") == nil {
		t.Error("--password-stdin flag not found")
	}
}

// TestAddShortcuts tests that all shortcuts are added to the root command
func TestAddShortcuts(t *testing.T) {
	rootCmd := &cobra.Command{Use: "test"}
	AddShortcuts(rootCmd)

	expected := map[string]bool{"login": false, "ls": false, "watch": false, "download": false}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := expected[cmd.Name()]; ok {
			expected[cmd.Name()] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("Shortcut '%s' not found in root command", name)
		}
	}
}

func TestShortcutsDoNotShareState(t *testing.T) {
	a, b := newLsShortcut(), newJobsListCmd()
	if err := a.Flags().Set("status", "FAILED"); err != nil {
		t.Fatal(err)
	}
	if got := b.Flags().Lookup("status").Value.String(); got != "" {
		t.Errorf("jobs list picked up ls flag value %q", got)
	}
}
