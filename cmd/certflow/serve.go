package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/certflow/internal/app"
	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/server"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the order endpoints, status API and optional scheduled runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(common.FlagOverrides{Port: servePort, Host: serveHost}); err != nil {
			return err
		}

		application, err := app.New(config, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer application.Close()

		srv := server.New(application)
		g, ctx := errgroup.WithContext(cmd.Context())

		// Runs started from the API or the schedule stop with the server
		application.Scheduler.Attach(ctx)
		if config.Schedule.Enabled {
			if err := application.Scheduler.Start(ctx, config.Schedule.Cron); err != nil {
				return err
			}
		}

		g.Go(srv.Start)

		g.Go(func() error {
			<-ctx.Done()
			logger.Info().Msg("Shutting down")

			application.Scheduler.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		logger.Info().
			Str("url", fmt.Sprintf("http://%s", srv.Addr())).
			Bool("schedule", config.Schedule.Enabled).
			Msg("Server ready - Press Ctrl+C to stop")

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Server port (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Server host (overrides config)")
}
