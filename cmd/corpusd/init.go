package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/universal-corpus/patterns/config"
	"github.com/universal-corpus/patterns/sqlite"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database file and apply the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			repo, err := sqlite.Open(cfg.Database.Path, logger, nil)
			if err != nil {
				return err
			}
			defer repo.Close()

			logger.Info("database initialized", zap.String("path", cfg.Database.Path))
			fmt.Printf("initialized database at %s\n", cfg.Database.Path)
			return nil
		},
	}
}
