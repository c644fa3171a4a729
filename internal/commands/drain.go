package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newDrainCommand(g *globalOptions) *cobra.Command {
	var failOnRemaining bool

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run a single drain pass over the queue and exit",
		Example: `  # Retry everything once, exit non-zero if anything is left
  alioli drain -c config.yaml --fail-on-remaining`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.build(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.WithoutCancel(cmd.Context()))

			result, drainErr := a.DrainOnce(cmd.Context())
			remaining, err := a.Store().Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "result: %s\nremaining: %d\n", result, remaining)
			if drainErr != nil {
				return drainErr
			}
			if failOnRemaining && remaining > 0 {
				return fmt.Errorf("%d requests still queued", remaining)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnRemaining, "fail-on-remaining", false, "Exit with an error when requests remain queued")
	return cmd
}
