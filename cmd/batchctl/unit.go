package batchctl

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/batchctl/batchctl/internal/control"
)

func newUnitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "unit", Short: "Inspect and control individual work units"}
	cmd.AddCommand(newUnitKillCmd())
	cmd.AddCommand(newUnitRestartCmd())
	cmd.AddCommand(newUnitKillExecutorCmd())
	cmd.AddCommand(newUnitResumeCmd())
	return cmd
}

func newUnitKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <unit-id>",
		Short: "SIGKILL a work unit's subprocess and flip it to failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			return control.New(st).KillWorkUnit(context.Background(), args[0])
		},
	}
}

func newUnitRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <unit-id>",
		Short: "Reset a failed work unit back to pending, preserving its retry count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			return control.New(st).RestartWorkUnit(context.Background(), args[0])
		},
	}
}

func newUnitKillExecutorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill-executor <job-id>",
		Short: "SIGKILL a job's detached executor process and fail the job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			return control.New(st).KillExecutor(context.Background(), args[0])
		},
	}
}

func newUnitResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Spawn a fresh executor for a paused job with remaining pending units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			pid, err := control.New(st).ResumeJob(context.Background(), args[0], st.Path(), "")
			if err != nil {
				return err
			}
			if pid == nil {
				fmt.Println("no pending units, nothing to resume")
				return nil
			}
			fmt.Printf("executor running, pid=%d\n", *pid)
			return nil
		},
	}
}
