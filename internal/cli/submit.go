package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/examlytics/examctl/internal/api"
	"github.com/examlytics/examctl/internal/events"
	"github.com/examlytics/examctl/internal/grading"
	"github.com/examlytics/examctl/internal/jobs"
	"github.com/examlytics/examctl/internal/progress"
	"github.com/examlytics/examctl/internal/sheet"
)

type submitOptions struct {
	file        string
	title       string
	ignore      string
	schemeFile  string
	preset      string
	skipInspect bool
	noWait      bool
}

// newSubmitCmd creates the 'submit' command.
func newSubmitCmd() *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload an exam spreadsheet for analysis",
		Long: `Upload an exam spreadsheet (.xlsx or .csv, at most 10 MB) with a grading
scheme and follow the analysis until it completes or fails.

The grading scheme comes from --scheme-file (json, yaml or csv), or from
--preset (CBC or Numeric), or from default_preset in the config. Overlapping
or uncovered score ranges are reported as warnings and never block the upload.

Before uploading, the file is inspected locally to show which columns the
analysis will grade. Use --skip-inspect to bypass.

Examples:
  examctl submit --file form2.xlsx --title "Form 2 Term 1"
  examctl submit -f results.csv -t "Mock" --preset Numeric --ignore "CRE, Art"
  examctl submit -f form2.xlsx -t "Term 2" --scheme-file scheme.yaml --no-wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.requireSession(); err != nil {
					return err
				}
				return runSubmit(ctx, a, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Exam spreadsheet to upload (required)")
	cmd.Flags().StringVarP(&opts.title, "title", "t", "", "Exam title (required)")
	cmd.Flags().StringVar(&opts.ignore, "ignore", "", "Comma-separated columns to leave out of report cards")
	cmd.Flags().StringVar(&opts.schemeFile, "scheme-file", "", "Grading scheme file (json, yaml or csv)")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "Grading preset: "+strings.Join(grading.PresetNames(), ", "))
	cmd.Flags().BoolVar(&opts.skipInspect, "skip-inspect", false, "Do not inspect the spreadsheet before uploading")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Return after the upload instead of following the analysis")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("title")

	return cmd
}

// resolveScheme picks the grading scheme: file, then preset, then the
// configured default.
func resolveScheme(file, preset, configured string) (*grading.Scheme, error) {
	if file != "" && preset != "" {
		return nil, fmt.Errorf("use either --scheme-file or --preset, not both")
	}
	if file != "" {
		return grading.LoadFile(file)
	}
	if preset == "" {
		preset = configured
	}
	s := grading.New()
	if preset != "" {
		if err := s.ApplyPreset(preset); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func runSubmit(ctx context.Context, a *app, opts submitOptions, out, errOut io.Writer) error {
	log := GetLogger()

	scheme, err := resolveScheme(opts.schemeFile, opts.preset, a.cfg.DefaultPreset)
	if err != nil {
		return err
	}
	printWarnings(errOut, scheme.Check())

	if !opts.skipInspect {
		report, err := sheet.Inspect(opts.file, opts.ignore)
		switch {
		case err != nil:
			fmt.Fprintf(errOut, "⚠️  inspection skipped: %v\n", err)
		default:
			if subjects := report.Subjects(); len(subjects) > 0 {
				fmt.Fprintf(out, "Subjects detected (%d): %s\n", len(subjects), strings.Join(subjects, ", "))
			}
			for _, w := range report.Warnings {
				fmt.Fprintf(errOut, "⚠️  %s\n", w)
			}
		}
	}

	submitter := jobs.NewSubmitter(a.client,
		jobs.WithSubmitLogger(log),
		jobs.WithUploadProgress(progress.UploadWrapper(progress.NewUploadReporter(), "Uploading")),
	)
	poller := jobs.NewPoller(jobs.PollerOptions{
		Submitter: submitter,
		Client:    a.client,
		Interval:  a.cfg.PollInterval,
		Bus:       a.bus,
		Logger:    log,
	})

	ch := a.bus.SubscribeAll()
	defer a.bus.UnsubscribeAll(ch)

	job, err := poller.Start(ctx, jobs.SubmitRequest{
		Title:         opts.title,
		FilePath:      opts.file,
		IgnoreColumns: opts.ignore,
		Scheme:        scheme,
	})
	if err != nil {
		if api.IsValidation(err) {
			return fmt.Errorf("cannot submit: %s", api.Message(err))
		}
		return fmt.Errorf("submission failed: %w", err)
	}

	fmt.Fprintf(out, "✓ Exam submitted\n")
	fmt.Fprintf(out, "  Job ID: %s\n", job.ID)

	if opts.noWait {
		poller.Cancel()
		fmt.Fprintf(out, "Follow it with: examctl jobs watch %s\n", job.ID)
		return nil
	}
	return waitForJob(ctx, poller, ch, out)
}

// waitForJob prints progress until the poller stops and then the outcome.
func waitForJob(ctx context.Context, poller *jobs.Poller, ch <-chan events.Event, out io.Writer) error {
	followCtx, stopFollow := context.WithCancel(ctx)
	followed := make(chan struct{})
	go func() {
		defer close(followed)
		followJob(followCtx, ch, out)
	}()

	err := poller.Wait(ctx)
	stopFollow()
	<-followed

	switch {
	case err == nil:
		fmt.Fprintln(out, "\n✓ Analysis completed")
		if job := poller.Snapshot(); job != nil {
			printSummary(out, job)
			fmt.Fprintf(out, "\nDownload the reports with: examctl jobs download %s\n", job.ID)
		}
		return nil
	case errors.Is(err, jobs.ErrCancelled), errors.Is(err, context.Canceled):
		poller.Cancel()
		fmt.Fprintf(out, "Stopped following job %s; it keeps running on the server.\n", poller.JobID())
		return err
	default:
		var failed *jobs.JobFailedError
		if errors.As(err, &failed) {
			return fmt.Errorf("analysis failed: %s", failed.Message)
		}
		return err
	}
}
