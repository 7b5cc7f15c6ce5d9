package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/examlytics/examctl/internal/artifacts"
	"github.com/examlytics/examctl/internal/history"
	"github.com/examlytics/examctl/internal/http"
	"github.com/examlytics/examctl/internal/jobs"
	"github.com/examlytics/examctl/internal/models"
	"github.com/examlytics/examctl/internal/pathutil"
	"github.com/examlytics/examctl/internal/progress"
)

// newJobsCmd creates the 'jobs' command group.
func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List, follow, download and delete analysis jobs",
		Long:  `Work with exam uploads previously submitted to the analysis service.`,
	}

	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsGetCmd())
	cmd.AddCommand(newJobsWatchCmd())
	cmd.AddCommand(newJobsDownloadCmd())
	cmd.AddCommand(newJobsDeleteCmd())

	return cmd
}

func newJobsListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submitted jobs, newest first as the server orders them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var want models.Status
			if status != "" {
				want = models.Status(strings.ToUpper(status))
				if !want.Valid() {
					return fmt.Errorf("unknown status %q (use PENDING, PROCESSING, COMPLETED or FAILED)", status)
				}
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.requireSession(); err != nil {
					return err
				}
				store := history.NewStore(a.client, a.bus, GetLogger())
				items, err := store.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list jobs: %w", err)
				}

				out := cmd.OutOrStdout()
				shown := 0
				for _, job := range items {
					if want != "" && job.Status != want {
						continue
					}
					if shown == 0 {
						fmt.Fprintf(out, "%-8s %-11s %-16s %s\n", "ID", "STATUS", "UPLOADED", "TITLE")
					}
					printJobLine(out, job)
					shown++
				}
				if shown == 0 {
					fmt.Fprintln(out, "No jobs found.")
					return nil
				}
				fmt.Fprintf(out, "\nTotal: %d job(s)\n", shown)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show jobs with this status")
	return cmd
}

func newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job with its summary and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.requireSession(); err != nil {
					return err
				}
				job, err := a.client.GetExamUpload(ctx, models.ID(args[0]))
				if err != nil {
					return fmt.Errorf("failed to get job: %w", err)
				}
				printJobDetails(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
}

func newJobsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.requireSession(); err != nil {
					return err
				}
				poller := jobs.NewPoller(jobs.PollerOptions{
					Client:   a.client,
					Interval: a.cfg.PollInterval,
					Bus:      a.bus,
					Logger:   GetLogger(),
				})

				ch := a.bus.SubscribeAll()
				defer a.bus.UnsubscribeAll(ch)

				if err := poller.Track(ctx, models.ID(args[0])); err != nil {
					return err
				}
				return waitForJob(ctx, poller, ch, cmd.OutOrStdout())
			})
		},
	}
}

func newJobsDownloadCmd() *cobra.Command {
	var dir, mirror string

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download the processed workbook, report cards and charts",
		Long: `Download every artifact of a completed job into <dir>/<job-id>/.

With --mirror s3 or --mirror azure (or mirror in the config) the files are
also copied to the configured bucket or container after they are saved.

Examples:
  examctl jobs download 42
  examctl jobs download 42 --dir ./reports --mirror s3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.requireSession(); err != nil {
					return err
				}
				if dir == "" {
					dir = a.cfg.DownloadDir
				}
				abs, err := pathutil.ResolveAbsolutePath(dir)
				if err != nil {
					return fmt.Errorf("invalid download directory %q: %w", dir, err)
				}
				dir = abs
				if mirror != "" {
					a.cfg.Mirror = mirror
				}
				return runDownload(ctx, a, models.ID(args[0]), dir, cmd)
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Download directory (default from config)")
	cmd.Flags().StringVar(&mirror, "mirror", "", "Copy the files to remote storage: none, s3 or azure")
	return cmd
}

func runDownload(ctx context.Context, a *app, id models.ID, dir string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	log := GetLogger()

	job, err := a.client.GetExamUpload(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job.Status != models.StatusCompleted {
		return fmt.Errorf("job %s is %s: %w", id, job.Status, artifacts.ErrNotCompleted)
	}
	list := job.Artifacts()
	if len(list) == 0 {
		fmt.Fprintln(out, "Job has no artifacts to download.")
		return nil
	}

	hc, err := http.CreateTransferClient(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	// Fail before downloading anything when the mirror is misconfigured.
	m, err := artifacts.NewMirror(ctx, a.cfg, hc)
	if err != nil {
		return err
	}

	retry := http.DefaultConfig()
	retry.MaxRetries = a.cfg.MaxRetries + 1
	d := artifacts.NewDownloader(a.client, hc,
		artifacts.WithRetry(retry),
		artifacts.WithAuthorizer(a.session),
		artifacts.WithEventBus(a.bus),
		artifacts.WithLogger(log),
	)

	ui := progress.NewDownloadUI(len(list))
	results, dlErr := d.Download(ctx, job, dir, ui)
	ui.Wait()

	saved := 0
	for _, r := range results {
		if r.Err == nil {
			saved++
			fmt.Fprintf(out, "✓ %-15s %s\n", r.Artifact.Name, r.Path)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %-15s %v\n", r.Artifact.Name, r.Err)
		}
	}
	fmt.Fprintf(out, "\nDownloaded %d of %d file(s)\n", saved, len(list))

	var mirrorErr error
	if m != nil && saved > 0 {
		locations, err := artifacts.MirrorResults(ctx, m, job.ID, results, a.bus, log)
		for _, loc := range locations {
			fmt.Fprintf(out, "↑ %s\n", loc)
		}
		if err != nil {
			mirrorErr = fmt.Errorf("%s mirror: %w", m.Name(), err)
		}
	}

	return errors.Join(dlErr, mirrorErr)
}

func newJobsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its reports from the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := models.ID(args[0])
			if !yes {
				p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
				ok, err := p.confirm(fmt.Sprintf("Delete job %s? This cannot be undone.", id))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.requireSession(); err != nil {
					return err
				}
				store := history.NewStore(a.client, a.bus, GetLogger())
				if _, err := store.List(ctx); err != nil {
					GetLogger().Debug().Err(err).Msg("history not loaded before delete")
				}
				if err := store.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Job %s deleted\n", id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
