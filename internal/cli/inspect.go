package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/examlytics/examctl/internal/sheet"
)

// newInspectCmd creates the 'inspect' command.
func newInspectCmd() *cobra.Command {
	var ignore string

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show which columns of a spreadsheet would be graded",
		Long: `Read an exam spreadsheet locally and list its columns, marking the ones
the analysis treats as subjects. Nothing is uploaded.

Examples:
  examctl inspect form2.xlsx
  examctl inspect results.csv --ignore "CRE, Art"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := sheet.Inspect(args[0], ignore)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.Sheet != "" {
				fmt.Fprintf(out, "Sheet: %s\n", report.Sheet)
			}
			fmt.Fprintf(out, "Rows:  %d\n\n", report.Rows)
			fmt.Fprintf(out, "%-24s %-8s %s\n", "COLUMN", "VALUES", "ROLE")
			for _, c := range report.Columns {
				role := "subject"
				switch {
				case c.Excluded != "":
					role = "skipped (" + c.Excluded + ")"
				case !c.Numeric:
					role = "text"
				case c.Values == 0:
					role = "empty"
				}
				fmt.Fprintf(out, "%-24s %-8d %s\n", c.Name, c.Values, role)
			}

			subjects := report.Subjects()
			fmt.Fprintf(out, "\nSubjects (%d): %s\n", len(subjects), strings.Join(subjects, ", "))
			for _, w := range report.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ignore, "ignore", "", "Comma-separated columns to leave out")
	return cmd
}
