// Package cmd wires the sentinel commands.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// ExitError carries a process exit status out of a command.
type ExitError struct {
	Status models.Status
	Err    error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d (%s)", int(e.Status), e.Status)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type globalOptions struct {
	configPath string
	verbose    bool
	logOutput  io.Writer
}

// NewRootCmd builds the sentinel command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{logOutput: os.Stderr}

	root := &cobra.Command{
		Use:   "sentinel",
		Short: "Find and stop slow workers",
		Long: `sentinel tails the live request log of a worker role, compares every
worker's average latency against its peers, and stops one worker that is
clearly slower than the rest.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default is $SENTINEL_CONFIG)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	root.AddCommand(newAuditCmd(opts))
	return root
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	root := NewRootCmd()
	err := root.Execute()
	if err == nil {
		return int(models.StatusSuccess)
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return int(exitErr.Status)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return int(models.StatusFailure)
}

// load reads the configuration and builds the logger it describes.
func (o *globalOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Logging.Level
	if o.verbose {
		level = "debug"
	}
	logger := utils.NewLogger(level, cfg.Logging.JSON, o.logOutput)
	return cfg, logger, nil
}
