package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ning0612/reprefix/internal/interpose"
)

func newInterposeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interpose",
		Short: "Build and enable the path interposition library",
	}
	cmd.AddCommand(newInterposeBuildCmd(a), newInterposeRenderCmd(a), newInterposeEnvCmd(a))
	return cmd
}

func newInterposeBuildCmd(a *app) *cobra.Command {
	var out, cc string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile the preload library for the configured identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := a.cfg.Rule()
			if err != nil {
				return err
			}
			if out == "" {
				out = a.cfg.Interpose.Library
			}
			if cc == "" {
				cc = a.cfg.Interpose.Compiler
			}
			if err := interpose.Build(cmd.Context(), cc, rule, out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (default: interpose.library)")
	cmd.Flags().StringVar(&cc, "cc", "", "C compiler (default: interpose.compiler)")
	return cmd
}

func newInterposeRenderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Print the preload library C source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := a.cfg.Rule()
			if err != nil {
				return err
			}
			src, err := interpose.RenderPreload(rule)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(src)
			return err
		},
	}
}

func newInterposeEnvCmd(a *app) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the shell exports that enable interposition",
		Long: `Prints export lines for the configured root. Use it as
    eval "$(reprefix interpose env)"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := interpose.Activate(os.Environ(), a.cfg.Interpose.Library)
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "export %s=%q\n", interpose.EnableEnv, interpose.Getenv(env, interpose.EnableEnv))
			fmt.Fprintf(w, "export %s=%q\n", interpose.PreloadEnv, interpose.Getenv(env, interpose.PreloadEnv))
			fmt.Fprintf(w, "export PREFIX=%q\n", a.cfg.Root)
			if debug || a.cfg.Interpose.Debug {
				fmt.Fprintf(w, "export %s=1\n", interpose.DebugEnv)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "log every rewritten path")
	return cmd
}
