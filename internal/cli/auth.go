package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/examlytics/examctl/internal/api"
)

// newAuthCmd creates the 'auth' command group.
func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in, sign out and manage your account",
		Long: `Session commands.

The access and refresh tokens are stored together in the configured token
store (a 0600 file in the config directory, or Redis when token_store=redis).`,
	}

	authCmd.AddCommand(newAuthLoginCmd())
	authCmd.AddCommand(newAuthLogoutCmd())
	authCmd.AddCommand(newAuthRegisterCmd())
	authCmd.AddCommand(newAuthRefreshCmd())
	authCmd.AddCommand(newAuthStatusCmd())

	return authCmd
}

// readPassword takes the password from stdin when --password-stdin is set and
// prompts for it otherwise.
func readPassword(p *prompter, fromStdin bool, label string) (string, error) {
	if fromStdin {
		b, err := io.ReadAll(p.in)
		if err != nil {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
	return p.password(label)
}

func newAuthLoginCmd() *cobra.Command {
	var username string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Long: `Sign in with your username and password.

Examples:
  examctl auth login
  examctl auth login --username jane
  echo "$PASSWORD" | examctl auth login --username jane --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
			out := cmd.OutOrStdout()

			var err error
			if username == "" {
				if passwordStdin {
					return fmt.Errorf("--username is required with --password-stdin")
				}
				if username, err = p.required("Username"); err != nil {
					return err
				}
			}
			password, err := readPassword(p, passwordStdin, "Password")
			if err != nil {
				return err
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.session.Login(ctx, username, password); err != nil {
					if api.IsAuth(err) {
						return fmt.Errorf("login failed: %s", api.Message(err))
					}
					return fmt.Errorf("login failed: %w", err)
				}
				fmt.Fprintf(out, "✓ Logged in as %s\n", username)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.session.Logout(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Logged out")
				return nil
			})
		},
	}
}

func newAuthRegisterCmd() *cobra.Command {
	var username, email string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long: `Create an account on the analysis service. Registration does not sign
you in; run 'examctl auth login' afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
			out := cmd.OutOrStdout()

			var err error
			if username == "" {
				if username, err = p.required("Username"); err != nil {
					return err
				}
			}
			if email == "" && !passwordStdin {
				if email, err = p.line("Email (optional)", ""); err != nil {
					return err
				}
			}
			password, err := readPassword(p, passwordStdin, "Password")
			if err != nil {
				return err
			}
			if !passwordStdin {
				again, err := p.password("Confirm password")
				if err != nil {
					return err
				}
				if again != password {
					return fmt.Errorf("passwords do not match")
				}
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				resp, err := a.session.Register(ctx, username, email, password)
				if err != nil {
					if api.UsernameTaken(err) {
						return fmt.Errorf("username %q is already taken", username)
					}
					var apiErr *api.Error
					if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
						printFieldErrors(cmd.ErrOrStderr(), apiErr.Fields)
					}
					return fmt.Errorf("registration failed: %w", err)
				}
				fmt.Fprintf(out, "✓ Account %s created\n", resp.Username)
				fmt.Fprintln(out, "Sign in with: examctl auth login")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return cmd
}

func printFieldErrors(w io.Writer, fields map[string][]string) {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(w, "  %s: %s\n", k, strings.Join(fields[k], " "))
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.requireSession(); err != nil {
					return err
				}
				if err := a.session.Refresh(ctx); err != nil {
					if api.IsAuth(err) {
						return fmt.Errorf("refresh token rejected; run 'examctl auth login'")
					}
					return fmt.Errorf("refresh failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Session refreshed")
				return nil
			})
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "API:         %s\n", a.client.BaseURL())
				fmt.Fprintf(out, "Token store: %s\n", a.cfg.TokenStore)
				if a.session.Authenticated() {
					fmt.Fprintln(out, "Session:     logged in")
				} else {
					fmt.Fprintln(out, "Session:     not logged in")
				}
				return nil
			})
		},
	}
}
