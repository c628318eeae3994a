package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ning0612/reprefix/internal/daemon"
	"github.com/Ning0612/reprefix/internal/logger"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		pidPath string
		stop    bool
		status  bool
		output  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Transcode new package archives and check the root on an interval",
		Long: `Runs in the foreground until interrupted. Every watch.interval the
archives in watch.archive_dir are transcoded ahead of the package manager
and, when the doctor task is enabled, the root is checked for drift. One
watcher runs per root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pidPath == "" {
				pidPath = daemon.PathFor(a.cfg.StateDir, a.cfg.Root)
			}
			pid := daemon.NewPIDFile(pidPath)

			switch {
			case stop:
				if err := pid.Kill(); err != nil {
					return fmt.Errorf("failed to stop watch: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
				return nil
			case status:
				running, _ := pid.IsRunning()
				st := map[string]any{"running": running, "pid_file": pidPath}
				return render(cmd.OutOrStdout(), output, st, func(w io.Writer) error {
					if running {
						_, err := fmt.Fprintln(w, "watch is running")
						return err
					}
					_, err := fmt.Fprintln(w, "watch is not running")
					return err
				})
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			if err := pid.Write(); err != nil {
				return err
			}
			defer func() {
				if err := pid.Remove(); err != nil {
					logger.Get().Warn("failed to remove PID file", "error", err)
				}
			}()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			w := svc.NewWatcher()
			if err := w.Start(ctx); err != nil {
				return err
			}
			<-w.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&pidPath, "pid-file", "", "PID file (default: <state_dir>/<root lock name>.watch.pid)")
	cmd.Flags().BoolVar(&stop, "stop", false, "stop the running watcher")
	cmd.Flags().BoolVar(&status, "status", false, "report whether a watcher is running")
	cmd.MarkFlagsMutuallyExclusive("stop", "status")
	addOutputFlag(cmd, &output)
	return cmd
}
