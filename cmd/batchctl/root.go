// Package batchctl is the thin CLI view over the repository: job
// creation/start/status, process controls, and a live-activity watch.
package batchctl

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/batchctl/batchctl/internal/config"
	"github.com/batchctl/batchctl/internal/driver"
	"github.com/batchctl/batchctl/internal/store"
)

func init() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Execute builds and runs the root cobra command.
func Execute() error {
	root := &cobra.Command{
		Use:           "batchctl",
		Short:         "Agentic batch processing: orchestrate large batches of work through an agent CLI subprocess",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newJobCmd())
	root.AddCommand(newUnitCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newRunExecutorCmd()) // hidden: detached executor entry point
	root.AddCommand(newDevResetCmd())

	return root.Execute()
}

// openStore loads config and opens the repository, creating the storage
// directory if necessary.
func openStore() (*store.Store, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureStorageDir(); err != nil {
		return nil, cfg, fmt.Errorf("create storage dir: %w", err)
	}
	st, err := store.Open(cfg.StoragePath)
	if err != nil {
		return nil, cfg, fmt.Errorf("open store: %w", err)
	}
	return st, cfg, nil
}

func newDriver(cfg config.Config) *driver.Driver {
	d := driver.New()
	d.CLIPath = cfg.AgentPath
	return d
}

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(log)
}

func statusColor(status string) func(format string, a ...interface{}) string {
	switch status {
	case "completed":
		return color.GreenString
	case "failed":
		return color.RedString
	case "running", "processing", "assigned":
		return color.CyanString
	case "paused", "pending":
		return color.YellowString
	default:
		return fmt.Sprintf
	}
}
