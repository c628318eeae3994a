package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ning0612/reprefix/internal/interpose"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/process"
)

func newRunCmd(a *app) *cobra.Command {
	var noPreload bool
	cmd := &cobra.Command{
		Use:   "run -- command [args...]",
		Short: "Execute a command with interposition enabled",
		Long: `Replaces reprefix with command. PREFIX points at the configured root and
REPREFIX_INTERPOSE=1 is set. The preload library is added to LD_PRELOAD
when it exists, so paths under the old identity resolve to the new one
in the command and its children.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := a.cfg.Rule()
			if err != nil {
				return err
			}

			env := os.Environ()
			lib := a.cfg.Interpose.Library
			if _, err := os.Stat(lib); err != nil || noPreload {
				lib = ""
			}
			if lib != "" {
				env = interpose.Activate(env, lib)
			} else {
				env = interpose.Setenv(env, interpose.EnableEnv, "1")
			}
			env = interpose.Setenv(env, "PREFIX", a.cfg.Root)
			if a.cfg.Interpose.Debug {
				env = interpose.Setenv(env, interpose.DebugEnv, "1")
			}

			table := interpose.Load(rule, env)
			path, err := process.Lookup(table.Rewrite(args[0]), env)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			logger.Get().Debug("exec", "path", path, "args", args[1:], "preload", lib)
			// Execve does not return on success, so release what we hold first
			a.close()
			return table.Execve(path, args, env)
		},
	}
	cmd.Flags().BoolVar(&noPreload, "no-preload", false, "only set the environment, do not preload the library")
	return cmd
}
