package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wishwell/preview-service/internal/pipeline"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <url>",
	Short: "Enrich a single product URL and print the preview as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(cmd.Context(), args[0])
		if err != nil {
			if pipeline.KindOf(err) == pipeline.KindBadRequest {
				return eris.Wrapf(err, "invalid url %q", args[0])
			}
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(enrichCmd)
}
