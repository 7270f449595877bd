package batchctl

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/batchctl/batchctl/internal/orchestrator"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "job", Short: "Create, start, and inspect batch jobs"}
	cmd.AddCommand(newJobCreateCmd())
	cmd.AddCommand(newJobStartCmd())
	cmd.AddCommand(newJobStatusCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobCostCmd())
	return cmd
}

func newJobCreateCmd() *cobra.Command {
	var (
		name, description, intent                     string
		enumeratorType, enumeratorConfigJSON           string
		maxWorkers, maxRetries                         int
		postProcessingPrompt                           string
		bypassFailures                                 bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Enumerate payloads and persist a job plus its pending work units",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var enumConfig map[string]any
			if enumeratorConfigJSON != "" {
				if err := json.Unmarshal([]byte(enumeratorConfigJSON), &enumConfig); err != nil {
					return fmt.Errorf("parse --enumerator-config: %w", err)
				}
			}

			orch := orchestrator.New(st, newDriver(cfg), cfg, newLogger())
			res := orch.CreateJob(context.Background(), orchestrator.CreateJobRequest{
				Name:                 name,
				Description:          description,
				Intent:               intent,
				EnumeratorType:       enumeratorType,
				EnumeratorConfig:     enumConfig,
				MaxWorkers:           maxWorkers,
				MaxRetries:           maxRetries,
				PostProcessingPrompt: postProcessingPrompt,
				BypassFailures:       bypassFailures,
			})
			if !res.Success {
				return fmt.Errorf("create job: %s", res.Error)
			}
			fmt.Printf("created job %s (%d units)\n", res.Job.JobID, res.Job.TotalUnits)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&description, "description", "", "job description")
	cmd.Flags().StringVar(&intent, "intent", "", "high-level prompt intent")
	cmd.Flags().StringVar(&enumeratorType, "enumerator", "file", "enumerator type: file|csv|json|sql")
	cmd.Flags().StringVar(&enumeratorConfigJSON, "enumerator-config", "{}", "enumerator config, as JSON")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "override default max_workers")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "override default max_retries")
	cmd.Flags().StringVar(&postProcessingPrompt, "post-processing-prompt", "", "optional synthesis-step prompt")
	cmd.Flags().BoolVar(&bypassFailures, "bypass-failures", false, "allow post-processing to run despite permanent unit failures")
	return cmd
}

func newJobStartCmd() *cobra.Command {
	var skipTest bool
	var approveStr string
	cmd := &cobra.Command{
		Use:   "start <job-id>",
		Short: "Advance a job through test/approve and spawn its executor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var approve *bool
			switch approveStr {
			case "true":
				v := true
				approve = &v
			case "false":
				v := false
				approve = &v
			}

			orch := orchestrator.New(st, newDriver(cfg), cfg, newLogger())
			res := orch.StartJob(context.Background(), args[0], approve, skipTest)
			if !res.Success {
				return fmt.Errorf("start job: %s", res.Error)
			}
			if res.AlreadyRunning {
				fmt.Printf("already running, executor pid=%d\n", *res.ExecutorPID)
				return nil
			}
			if res.AwaitingApproval {
				fmt.Printf("test unit %s: passed=%v\noutput: %s\nerror: %s\n", res.TestUnitID, res.TestPassed, res.TestOutput, res.TestError)
				fmt.Println("re-run with --approve=true to start the executor, or --approve=false to reject")
				return nil
			}
			if res.ExecutorPID != nil {
				fmt.Printf("executor started, pid=%d\n", *res.ExecutorPID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipTest, "skip-test", false, "bypass the one-unit test phase")
	cmd.Flags().StringVar(&approveStr, "approve", "", "true|false to resolve a pending test phase")
	return cmd
}

func newJobStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's progress counters and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.GetJob(context.Background(), args[0])
			if err != nil {
				return err
			}
			color := statusColor(string(job.Status))
			fmt.Printf("%s  %s\n", job.JobID, color("%s", job.Status))
			fmt.Printf("  name: %s\n", job.Name)
			fmt.Printf("  units: %d total, %d completed, %d failed (%.0f%%)\n",
				job.TotalUnits, job.CompletedUnits, job.FailedUnits, job.ProgressPercentage())
			return nil
		},
	}
	return cmd
}

func newJobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every job",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.ListJobs(context.Background())
			if err != nil {
				return err
			}
			for _, j := range jobs {
				color := statusColor(string(j.Status))
				fmt.Printf("%s  %-12s  %s  (%d/%d)\n", j.JobID, color("%s", j.Status), j.Name, j.CompletedUnits+j.FailedUnits, j.TotalUnits)
			}
			return nil
		},
	}
}

func newJobCostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cost <job-id>",
		Short: "Sum cost_usd across every unit of the job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			total, err := st.GetJobTotalCost(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("$%.4f\n", total)
			return nil
		},
	}
}
