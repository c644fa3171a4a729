package commands

import (
	"github.com/spf13/cobra"
)

func newServeCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the retry scheduler and the admin server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.build(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}
