package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/examlytics/examctl/internal/config"
	"github.com/examlytics/examctl/internal/grading"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage examctl configuration",
		Long: `Configuration management commands for examctl.

Settings are read from the config file, then .env and EXAMCTL_* environment
variables, then command-line flags; later sources win.

Commands:
  init  - Interactive configuration setup
  show  - Display the effective configuration
  test  - Test the API connection and session
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetDefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for examctl.

The configuration is saved to ~/.config/examctl/config.csv unless --config
names another file. Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := config.LoadConfigCSV(path)
			if err != nil {
				cfg = config.Defaults()
			}

			fmt.Fprintln(out, "examctl Configuration Setup")
			fmt.Fprintln(out, "===========================")
			fmt.Fprintln(out)

			p := newPrompter(cmd.InOrStdin(), out)
			if cfg.APIBaseURL, err = p.line("API base URL", cfg.APIBaseURL); err != nil {
				return err
			}

			interval, err := p.line("Poll interval", cfg.PollInterval.String())
			if err != nil {
				return err
			}
			if cfg.PollInterval, err = time.ParseDuration(interval); err != nil {
				return fmt.Errorf("invalid poll interval %q: %w", interval, err)
			}

			preset := cfg.DefaultPreset
			if preset == "" {
				preset = grading.DefaultPreset()
			}
			if cfg.DefaultPreset, err = p.line("Default grading preset ("+strings.Join(grading.PresetNames(), ", ")+")", preset); err != nil {
				return err
			}
			if cfg.DownloadDir, err = p.line("Download directory", cfg.DownloadDir); err != nil {
				return err
			}
			if cfg.TokenStore, err = p.line("Session store (file, redis)", cfg.TokenStore); err != nil {
				return err
			}
			if cfg.TokenStore == "redis" {
				if cfg.RedisAddr, err = p.line("Redis address", cfg.RedisAddr); err != nil {
					return err
				}
			}

			fmt.Fprintln(out)
			configureProxy, err := p.confirm("Configure proxy?")
			if err != nil {
				return err
			}
			if configureProxy {
				fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
				if cfg.ProxyMode, err = p.line("Proxy mode", "system"); err != nil {
					return err
				}
				if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
					if cfg.ProxyHost, err = p.required("Proxy host"); err != nil {
						return err
					}
					port, err := p.line("Proxy port", "8080")
					if err != nil {
						return err
					}
					if _, err := fmt.Sscanf(port, "%d", &cfg.ProxyPort); err != nil {
						return fmt.Errorf("invalid proxy port %q", port)
					}
					if cfg.ProxyUser, err = p.line("Proxy user", ""); err != nil {
						return err
					}
				}
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if _, ok := grading.Preset(cfg.DefaultPreset); !ok {
				return fmt.Errorf("unknown preset %q", cfg.DefaultPreset)
			}
			if cfgFile == "" {
				if err := config.EnsureConfigDir(); err != nil {
					return fmt.Errorf("failed to create config directory: %w", err)
				}
			}
			if err := config.SaveConfigCSV(cfg, path); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			GetLogger().Debug().Str("path", path).Msg("configuration saved")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			if cfg.ProxyUser != "" {
				fmt.Fprintf(out, "  Set %sPROXY_PASSWORD to supply the proxy password.\n", config.EnvPrefix)
			}
			fmt.Fprintln(out, "Sign in with: examctl auth login")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after merging the config file, environment and
flags. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Current Configuration")
			fmt.Fprintln(out, "=====================")
			for _, rec := range cfg.Records() {
				value := rec[1]
				if value == "" {
					value = "<not set>"
				}
				fmt.Fprintf(out, "  %-24s %s\n", rec[0], value)
			}
			return nil
		},
	}
}

// newConfigTestCmd creates the 'config test' command.
func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the API connection and session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "API: %s\n", a.client.BaseURL())
				if !a.session.Authenticated() {
					fmt.Fprintln(out, "✗ Not signed in. Run 'examctl auth login'.")
					return nil
				}
				items, err := a.client.ListExamUploads(ctx)
				if err != nil {
					return fmt.Errorf("connection test failed: %w", err)
				}
				fmt.Fprintf(out, "✓ Connected, session valid (%d job(s))\n", len(items))
				return nil
			})
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration file: %s\n", path)
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintln(out, "Status: exists")
			} else {
				fmt.Fprintln(out, "Status: not found (defaults in use)")
			}
			return nil
		},
	}
}
