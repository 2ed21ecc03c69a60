package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"chat-relay/handler"
	"chat-relay/internal/config"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		h, err := a.handler()
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr: a.cfg.Addr(),
			Handler: handler.NewHTTPHandler(h,
				handler.WithRateLimit(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst),
				handler.WithMetricsHandler(a.metrics.Handler()),
				handler.WithHTTPObserver(a.metrics),
			),
			ReadHeaderTimeout: 10 * time.Second,
			// replies may poll for a long time
			WriteTimeout: a.cfg.RequestTimeout + 5*time.Second,
		}

		var (
			wg       conc.WaitGroup
			serveErr error
		)
		wg.Go(func() {
			a.logger.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr = err
				stop()
			}
		})
		wg.Go(func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				a.logger.Warn().Err(err).Msg("graceful shutdown incomplete")
			}
		})
		wg.Wait()

		if serveErr != nil {
			return serveErr
		}
		a.logger.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (default 10000)")
	_ = v.BindPFlag(config.KeyPort, serveCmd.Flags().Lookup("port"))
}
