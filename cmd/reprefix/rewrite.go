package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newRewriteCmd(a *app) *cobra.Command {
	var (
		relative bool
		count    bool
	)
	cmd := &cobra.Command{
		Use:   "rewrite",
		Short: "Apply the identity rule to stdin and write the result to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := a.cfg.Rule()
			if err != nil {
				return err
			}
			if relative {
				rule = rule.Relative()
			}

			in, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			out, n := rule.ApplyBytesCount(in)
			if _, err := cmd.OutOrStdout().Write(out); err != nil {
				return err
			}
			if count {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d occurrence(s) rewritten\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&relative, "relative", false, "use the leading-slash-free rule (md5sums style paths)")
	cmd.Flags().BoolVar(&count, "count", false, "report the number of rewrites on stderr")
	return cmd
}
