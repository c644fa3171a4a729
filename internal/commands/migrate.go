package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gaborage/alioli/config"
	"github.com/gaborage/alioli/queue/sqlstore"
)

func newMigrateCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the queue table for the postgresql or oracle store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Type != config.StorePostgreSQL && cfg.Store.Type != config.StoreOracle {
				return fmt.Errorf("migrate supports only %s and %s stores, configured store is %q",
					config.StorePostgreSQL, config.StoreOracle, cfg.Store.Type)
			}
			dialect, err := sqlstore.ParseDialect(cfg.Store.Type)
			if err != nil {
				return err
			}

			log := g.logger(cfg, cmd.ErrOrStderr())
			dbCfg := cfg.Store.Database
			dbCfg.AutoMigrate = false
			store, err := sqlstore.Open(cmd.Context(), dialect, &dbCfg, log)
			if err != nil {
				return err
			}
			defer store.Close(context.WithoutCancel(cmd.Context()))

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue table %q ready (%s)\n", dbCfg.Table, dialect)
			return nil
		},
	}
}
