package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		kind   string
		limit  int
		stats  bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent install, transcode, wrap and doctor runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if stats {
				st, err := svc.Stats(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, st, func(w io.Writer) error {
					kinds := make([]string, 0, len(st))
					for k := range st {
						kinds = append(kinds, k)
					}
					sort.Strings(kinds)
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "KIND\tSTATUS\tCOUNT")
					for _, k := range kinds {
						for status, n := range st[k] {
							fmt.Fprintf(tw, "%s\t%s\t%d\n", k, status, n)
						}
					}
					return tw.Flush()
				})
			}

			recs, err := svc.History(ctx, kind, limit)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, recs, func(w io.Writer) error {
				if len(recs) == 0 {
					fmt.Fprintln(w, "no history")
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STARTED\tKIND\tSTATUS\tDURATION\tSUBJECT\tDETAIL")
				for _, r := range recs {
					detail := r.Detail
					if r.Error != "" {
						detail = r.Error
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						r.StartTime.Local().Format(time.DateTime), r.Kind, r.Status,
						r.Duration().Round(time.Millisecond), r.Subject, detail)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only show one kind: install, transcode, wrap, doctor")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records")
	cmd.Flags().BoolVar(&stats, "stats", false, "show counts per kind and status")
	addOutputFlag(cmd, &output)
	return cmd
}
