package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/certflow/internal/app"
	"github.com/ternarybob/certflow/internal/common"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every pending row once, restarting after failures",
	Long: `Run logs in to the portal and walks the dataset in row order. Rows whose
status is already "encontrado" or "no encontrado" are skipped. Any failure
tears the browser down and starts over from a fresh login after the
configured backoff; the run exits once every row is resolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(common.FlagOverrides{}); err != nil {
			return err
		}

		application, err := app.New(config, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer application.Close()

		ctx := cmd.Context()
		err = application.Supervisor.Run(ctx)
		state := application.Supervisor.State()

		switch {
		case err == nil:
			logger.Info().
				Str("result_folder", state.ResultFolder).
				Str("summary", state.LastSummary.String()).
				Int("restarts", state.Restarts).
				Msg("All records resolved")
			return nil
		case errors.Is(err, ctx.Err()):
			logger.Info().
				Str("result_folder", state.ResultFolder).
				Msg("Interrupted; progress is saved in the dataset")
			return nil
		default:
			return err
		}
	},
}
