package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTranscodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transcode <package.deb>...",
		Short: "Rewrite package archives built for the old identity",
		Long: `Prints one path per input: a rewritten copy for packages that install
under the old identity, the input itself otherwise. Failures fall back to
the input path, so the output can always be handed to the package manager.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			for _, p := range args {
				fmt.Fprintln(cmd.OutOrStdout(), svc.MaybeRewritePackageArchive(cmd.Context(), p))
			}
			return nil
		},
	}
}
