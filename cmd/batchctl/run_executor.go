package batchctl

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/batchctl/batchctl/internal/config"
	"github.com/batchctl/batchctl/internal/executor"
	"github.com/batchctl/batchctl/internal/store"
)

// newRunExecutorCmd is the hidden entry point StartDetached re-execs into:
// "batchctl __run-executor --job-id <id> --db <path>". It is never invoked
// directly by an operator.
func newRunExecutorCmd() *cobra.Command {
	var jobID, dbPath string
	cmd := &cobra.Command{
		Use:    "__run-executor",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			exec := executor.New(st, newDriver(cfg), newLogger())
			return exec.Run(context.Background(), jobID)
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "job to run")
	cmd.Flags().StringVar(&dbPath, "db", "", "repository path")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
