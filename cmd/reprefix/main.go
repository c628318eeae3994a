// Command reprefix migrates a Termux style userland from one application
// identity (install prefix) to another.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ning0612/reprefix/internal/config"
	"github.com/Ning0612/reprefix/internal/domain"
	"github.com/Ning0612/reprefix/internal/logger"
	"github.com/Ning0612/reprefix/internal/service"
)

// exitError ends the process with code after its message (if any) was printed
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	svc *service.Service
}

func (a *app) load() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.Load(a.configPath)
	} else {
		a.cfg, err = config.LoadOrEnv("")
	}
	if err != nil {
		if errors.Is(err, domain.ErrConfigNotFound) {
			return fmt.Errorf("%w (pass --config or set %s_IDENTITY_SOURCE and %s_IDENTITY_TARGET)",
				err, config.EnvPrefix, config.EnvPrefix)
		}
		return err
	}

	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		a.cfg.Log.Format = a.logFormat
	}
	return logger.Init(a.cfg.LoggerConfig())
}

func (a *app) service() (*service.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	svc, err := service.New(a.cfg)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}

// close releases the service and the logger; safe to call more than once
func (a *app) close() {
	if a.svc != nil {
		if err := a.svc.Close(); err != nil {
			logger.Get().Warn("failed to close service", "error", err)
		}
		a.svc = nil
	}
	logger.Shutdown()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "reprefix",
		Short:         "Move a prefix-bound userland to a new application identity",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (default: search ./, ./configs, ~/.config/reprefix)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newInstallCmd(a),
		newTranscodeCmd(a),
		newWrapCmd(a),
		newDoctorCmd(a),
		newScanCmd(a),
		newRewriteCmd(a),
		newInterposeCmd(a),
		newRunCmd(a),
		newHistoryCmd(a),
		newWatchCmd(a),
	)
	return root
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
