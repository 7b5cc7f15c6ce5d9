package cli

import (
	"github.com/spf13/cobra"
)

// AddShortcuts adds shortcut commands to the root command.
// Shortcuts provide convenient aliases for commonly-used operations.
func AddShortcuts(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLoginShortcut())
	rootCmd.AddCommand(newLsShortcut())
	rootCmd.AddCommand(newWatchShortcut())
	rootCmd.AddCommand(newDownloadShortcut())
}

// newLoginShortcut creates the 'login' shortcut command.
// Shortcut for: auth login
func newLoginShortcut() *cobra.Command {
	cmd := newAuthLoginCmd()
	cmd.Short = "Sign in (shortcut for 'auth login')"
	return cmd
}

// newLsShortcut creates the 'ls' shortcut command.
// Shortcut for: jobs list
func newLsShortcut() *cobra.Command {
	cmd := newJobsListCmd()
	cmd.Use = "ls"
	cmd.Short = "List jobs (shortcut for 'jobs list')"
	return cmd
}

// Shortcut for: jobs watch
func newWatchShortcut() *cobra.Command {
	cmd := newJobsWatchCmd()
	cmd.Short = "Follow a job (shortcut for 'jobs watch')"
	return cmd
}

// newDownloadShortcut creates the 'download' shortcut command.
// Shortcut for: jobs download
func newDownloadShortcut() *cobra.Command {
	cmd := newJobsDownloadCmd()
	cmd.Short = "Download job reports (shortcut for 'jobs download')"
	return cmd
}
