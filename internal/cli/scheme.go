package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/examlytics/examctl/internal/grading"
)

// newSchemeCmd creates the 'scheme' command group. Nothing here talks to the
// API; schemes are edited as local files and sent with 'submit'.
func newSchemeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheme",
		Short: "Create, edit and preview grading schemes",
		Long: `Grading schemes map score ranges to a grade, remark and points.

Schemes live in local files (.json, .yaml or .csv) and are sent with every
submission. Start from a preset and edit it:

  examctl scheme preset CBC -o scheme.yaml
  examctl scheme set scheme.yaml 0 remark "Excellent"
  examctl scheme add scheme.yaml
  examctl scheme grade scheme.yaml 79.5 80.5`,
	}

	cmd.AddCommand(newSchemePresetsCmd())
	cmd.AddCommand(newSchemePresetCmd())
	cmd.AddCommand(newSchemeShowCmd())
	cmd.AddCommand(newSchemeCheckCmd())
	cmd.AddCommand(newSchemeGradeCmd())
	cmd.AddCommand(newSchemeSetCmd())
	cmd.AddCommand(newSchemeAddCmd())
	cmd.AddCommand(newSchemeRemoveCmd())
	cmd.AddCommand(newSchemeConvertCmd())

	return cmd
}

func newSchemePresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range grading.PresetNames() {
				rules, _ := grading.Preset(name)
				marker := ""
				if name == grading.DefaultPreset() {
					marker = " (default)"
				}
				fmt.Fprintf(out, "%-8s %d bands%s\n", name, len(rules), marker)
			}
			return nil
		},
	}
}

func newSchemePresetCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "preset <name>",
		Short: "Print a preset, or write it to a file with -o",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := grading.New()
			if err := s.ApplyPreset(args[0]); err != nil {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(grading.PresetNames(), ", "))
			}
			if output == "" {
				printRules(cmd.OutOrStdout(), s)
				return nil
			}
			if err := grading.SaveFile(s, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s preset written to %s\n", s.Tag(), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the preset to this file (.json, .yaml or .csv)")
	return cmd
}

func newSchemeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file>",
		Short: "Print the rules in a scheme file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := grading.LoadFile(args[0])
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), s)
			printWarnings(cmd.ErrOrStderr(), s.Check())
			return nil
		},
	}
}

func newSchemeCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Report overlapping, inverted or missing score ranges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := grading.LoadFile(args[0])
			if err != nil {
				return err
			}
			warnings := s.Check()
			if len(warnings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ No problems found")
				return nil
			}
			printWarnings(cmd.OutOrStdout(), warnings)
			return nil
		},
	}
}

func newSchemeGradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grade <file|preset> <score> [score...]",
		Short: "Preview the grade each score receives",
		Long: `Preview how the analysis grades scores. Scores are rounded half to even
before matching, so 79.5 rounds to 80 and 80.5 rounds to 80.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSchemeOrPreset(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, arg := range args[1:] {
				score, err := strconv.ParseFloat(arg, 64)
				if err != nil {
					return fmt.Errorf("invalid score %q", arg)
				}
				r := s.Grade(score)
				fmt.Fprintf(out, "%-8s %-4s %-5s %s\n", arg, r.Grade, num(r.Points), r.Remark)
			}
			return nil
		},
	}
}

// loadSchemeOrPreset treats arg as a preset name when it is one, otherwise
// as a file path.
func loadSchemeOrPreset(arg string) (*grading.Scheme, error) {
	if _, ok := grading.Preset(arg); ok {
		s := grading.New()
		return s, s.ApplyPreset(arg)
	}
	return grading.LoadFile(arg)
}

func newSchemeSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <file> <index> <field> <value>",
		Short: "Change one field of one rule (fields: min, max, grade, remark, points)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			field, err := grading.ParseField(args[2])
			if err != nil {
				return err
			}
			return editScheme(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], func(s *grading.Scheme) error {
				return s.UpdateRule(index, field, args[3])
			})
		},
	}
}

func newSchemeAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>",
		Short: "Append an empty rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editScheme(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], func(s *grading.Scheme) error {
				s.AddRule()
				return nil
			})
		},
	}
}

func newSchemeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <file> <index>",
		Short: "Remove one rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			return editScheme(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], func(s *grading.Scheme) error {
				return s.RemoveRule(index)
			})
		},
	}
}

func newSchemeConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <from> <to>",
		Short: "Rewrite a scheme file in another format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := grading.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := grading.SaveFile(s, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s written (%d rules)\n", args[1], s.Len())
			return nil
		},
	}
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid rule index %q", s)
	}
	return i, nil
}

// editScheme loads path, applies edit and saves the result in place. A missing
// file starts from the default preset.
func editScheme(out, errOut io.Writer, path string, edit func(*grading.Scheme) error) error {
	s, err := grading.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s, err = grading.New(), nil
	}
	if err != nil {
		return err
	}
	if err := edit(s); err != nil {
		return err
	}
	if err := grading.SaveFile(s, path); err != nil {
		return err
	}
	printRules(out, s)
	printWarnings(errOut, s.Check())
	return nil
}
