package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"batchgen/internal/http/handlers"
	"batchgen/internal/http/httpapi"
	"batchgen/internal/infra"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Expose the job ledger and run control over HTTP",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := bootstrap(ctx, cmd.String("settings"))
			if err != nil {
				return err
			}
			defer rt.Close()

			app := handlers.NewApp(ctx, rt.engine, rt.settings.Defaults, &rt.logger)
			router := httpapi.NewRouter(app, rt.logger, httpapi.Options{
				AllowedOrigins:     rt.cfg.CORSAllowedOrigins,
				MutationsPerMinute: rt.cfg.ControlRateLimit,
				DefaultLocale:      rt.cfg.DefaultLocale,
			})
			server := infra.NewHTTPServer(rt.cfg, router)

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Info().Msgf("API listening on %s", server.Addr())
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				rt.logger.Error().Err(err).Msg("failed to shutdown server")
			}
			app.Wait()
			rt.logger.Info().Msg("server stopped")
			return nil
		},
	}
}
