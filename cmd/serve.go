package cmd

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"github.com/yz4230/deployhost/internal/config"
	"github.com/yz4230/deployhost/internal/orchestrator"
	"github.com/yz4230/deployhost/internal/server"
)

var serveFlags struct {
	port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the deployment pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withInjector(cmd, func(ctx context.Context, injector *do.Injector) error {
			cfg := do.MustInvoke[*config.Config](injector)
			if cmd.Flags().Changed("port") {
				cfg.Port = serveFlags.port
			}

			controller := do.MustInvoke[*orchestrator.Controller](injector)
			if err := controller.Recover(ctx); err != nil {
				return err
			}

			srv := server.New(&server.Config{Port: cfg.Port, Logger: log.Logger, Injector: injector})
			errCh := make(chan error, 1)
			wg := &sync.WaitGroup{}
			wg.Go(func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			})

			select {
			case <-ctx.Done():
				log.Info().Msg("shutting down server...")
			case err := <-errCh:
				return err
			}
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			// pipelines record their interruption first so followers see it
			if err := controller.Shutdown(sctx); err != nil {
				log.Error().Err(err).Msg("error during pipeline shutdown")
			}
			if err := srv.Stop(sctx); err != nil {
				log.Error().Err(err).Msg("error during server shutdown")
			}
			wg.Wait()
			log.Info().Msg("server stopped")
			return nil
		})
	},
}

func init() {
	serveCmd.Flags().IntVarP(&serveFlags.port, "port", "p", 8080, "Port to listen on")
}
