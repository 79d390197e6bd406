package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Cache.Purge(cmd.Context())
		if err != nil {
			return err
		}

		zap.L().Info("purge complete", zap.Int64("deleted", n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
