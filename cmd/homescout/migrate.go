package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/store"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var dir string
	var direction string
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run archive store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if !cfg.Storage.Postgres.Enabled() {
				return fmt.Errorf("postgres not configured (storage.postgres.url or host)")
			}
			return store.Migrate(dir, store.DSN(cfg.Storage.Postgres), direction, steps)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
