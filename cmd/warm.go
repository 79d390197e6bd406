package main

import (
	"bufio"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var warmConcurrency int

var warmCmd = &cobra.Command{
	Use:   "warm <urls-file>",
	Short: "Pre-warm the preview cache from a file of URLs, one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close()

		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		var enriched, failed atomic.Int64

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(warmConcurrency)

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			url := strings.TrimSpace(scanner.Text())
			if url == "" || strings.HasPrefix(url, "#") {
				continue
			}
			g.Go(func() error {
				if _, err := env.Pipeline.Run(ctx, url); err != nil {
					// One bad URL should not abort the batch.
					zap.L().Warn("warm failed", zap.String("url", url), zap.Error(err))
					failed.Add(1)
					return nil
				}
				enriched.Add(1)
				return nil
			})
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("warm complete",
			zap.Int64("enriched", enriched.Load()),
			zap.Int64("failed", failed.Load()),
		)
		return nil
	},
}

func init() {
	warmCmd.Flags().IntVar(&warmConcurrency, "concurrency", 4, "concurrent enrichments")
	rootCmd.AddCommand(warmCmd)
}
