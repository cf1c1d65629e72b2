package main

import (
	"github.com/spf13/cobra"

	"github.com/homescout/homescout/config"
	"github.com/homescout/homescout/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			return server.Run(cfg)
		},
	}
}
