package batchctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDevResetCmd truncates every table in the repository. It is a
// development convenience, not an operator-facing maintenance command,
// and refuses to run without --yes.
func newDevResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:    "dev-reset",
		Short:  "Truncate every table in the repository (development only)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to truncate the repository without --yes")
			}
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.TruncateAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("repository reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm destructive reset")
	return cmd
}
