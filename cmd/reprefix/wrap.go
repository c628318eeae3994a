package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ning0612/reprefix/internal/wrapper"
)

func newWrapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wrap",
		Short: "Wrap native executables that have compiled-in paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			report := svc.Wrap(cmd.Context())

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPATH\tOUTCOME\tDETAIL")
			for _, r := range report.Results {
				detail := r.Reason
				if r.Err != nil {
					detail = r.Err.Error()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Path, r.Outcome, detail)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if report.Count(wrapper.OutcomeFailed) > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}
