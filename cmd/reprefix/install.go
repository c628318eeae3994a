package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/progress"
)

func newInstallCmd(a *app) *cobra.Command {
	var (
		bundlePath     string
		source, target string
		root           string
		quiet          bool
	)
	cmd := &cobra.Command{
		Use:   "install --bundle <file>",
		Short: "Install a bootstrap bundle under the new identity",
		Long: `Extracts a bootstrap bundle (zip or tar.gz/xz/zst/lz4) into a staging
tree, rewrites text artifacts to the new identity, resolves the symlink
manifest, verifies native executables are untouched and swaps the tree
into place. Package manager wrappers are generated afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if !quiet {
				w := progress.NewThrottledWriter(cmd.ErrOrStderr(), 250*time.Millisecond)
				svc.SetProgressReporter(progress.NewCallbackReporter(w.Callback()))
			}

			ctx := cmd.Context()
			if source == "" && target == "" && root == "" {
				err = svc.InstallBundleFile(ctx, bundlePath)
			} else {
				var data []byte
				if data, err = os.ReadFile(bundlePath); err != nil {
					return err
				}
				err = svc.InstallBundle(ctx, data, source, target, root)
			}
			if err != nil {
				if ie, ok := domain.AsInstallError(err); ok && ie.Retryable() {
					return fmt.Errorf("%w (remove the root and retry)", err)
				}
				return err
			}

			if root == "" {
				root = a.cfg.Root
			}
			fmt.Fprintln(cmd.OutOrStdout(), "installed", root)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&bundlePath, "bundle", "b", "", "bootstrap bundle file")
	f.StringVar(&source, "source", "", "old identity prefix (default: identity.source)")
	f.StringVar(&target, "target", "", "new identity prefix (default: identity.target)")
	f.StringVar(&root, "root", "", "final install root (default: root)")
	f.BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	_ = cmd.MarkFlagRequired("bundle")
	cmd.MarkFlagsRequiredTogether("source", "target")
	return cmd
}
