package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ning0612/reprefix/internal/verify"
)

type doctorOutput struct {
	Report *verify.Report       `json:"report" yaml:"report"`
	Repair *verify.RepairResult `json:"repair,omitempty" yaml:"repair,omitempty"`
}

func newDoctorCmd(a *app) *cobra.Command {
	var (
		fix    bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the installed root and optionally repair it",
		Long: `Checks the essential layout, executable bits, dangling symlinks, text
files still naming the old identity, wrapper state, the interposition
library and the PREFIX/HOME/LD_PRELOAD environment. With --fix, dangling
links are removed, exec bits restored, stray text rewritten and wrappers
regenerated. Exits 1 when error-level findings remain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			report, repair, err := svc.Doctor(cmd.Context(), os.Environ(), fix)
			if err != nil {
				return err
			}

			out := doctorOutput{Report: report, Repair: repair}
			if err := render(cmd.OutOrStdout(), output, out, func(w io.Writer) error {
				return printDoctor(w, out)
			}); err != nil {
				return err
			}

			final := report
			if repair != nil && repair.After != nil {
				final = repair.After
			}
			if !final.OK() {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "repair fixable findings")
	addOutputFlag(cmd, &output)
	return cmd
}

func printFindings(w io.Writer, r *verify.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range r.Findings {
		fixable := ""
		if f.Fixable {
			fixable = "(fixable)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\n", f.Severity, f.Check, f.Path, f.Message, fixable)
	}
	return tw.Flush()
}

func printDoctor(w io.Writer, out doctorOutput) error {
	r := out.Report
	fmt.Fprintln(w, "root:", r.Root)
	if err := printFindings(w, r); err != nil {
		return err
	}
	if len(r.Wrappers) > 0 {
		fmt.Fprintln(w, "\nwrappers:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, st := range r.Wrappers {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", st.Name, st.State, st.Message)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if rep := out.Repair; rep != nil {
		fmt.Fprintf(w, "\nrepaired: %d links removed, %d exec bits, %d files rewritten, %d wrapped\n",
			len(rep.RemovedLinks), len(rep.Chmodded), len(rep.Rewritten), len(rep.Wrapped))
		for p, msg := range rep.Failed {
			fmt.Fprintf(w, "  failed %s: %s\n", p, msg)
		}
		if rep.After != nil {
			r = rep.After
			fmt.Fprintln(w, "\nafter repair:")
			if err := printFindings(w, r); err != nil {
				return err
			}
		}
	}

	fmt.Fprintf(w, "\n%d error(s), %d warning(s)\n", r.Count(verify.SeverityError), r.Count(verify.SeverityWarn))
	return nil
}
