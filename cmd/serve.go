package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camden-git/framearchive/handlers"
	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/models"
	"github.com/camden-git/framearchive/realtime"
	"github.com/camden-git/framearchive/services"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the archive HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hub := realtime.NewHub()
		go hub.Run(ctx)

		a, err := newApp(hub)
		if err != nil {
			return err
		}
		defer a.Close()

		var auth handlers.Authenticator
		if a.cfg.AuthEnabled() {
			auth = services.NewTokenIntrospector(a.cfg.AuthProfileURL, nil)
		} else {
			logging.Warn().Msg("no auth profile url configured, authentication disabled")
		}

		router := handlers.NewRouter(handlers.RouterConfig{
			Frames: &handlers.FrameHandler{
				Frames:        a.frames,
				Archive:       a.archive,
				Ingest:        a.ingest,
				URLRoot:       models.URLRoot{HTTPRoot: a.cfg.HTTPRoot, RootURL: a.cfg.RootURL},
				ZipPrefix:     a.cfg.ZipPrefix,
				MaxUploadSize: a.cfg.MaxUploadSize,
			},
			Auth:            auth,
			Events:          hub.ServeWS,
			AllowedOrigins:  a.cfg.AllowedOrigins(),
			UploadRateLimit: a.cfg.UploadRateLimit,
		})

		srv := &http.Server{
			Addr:              ":" + a.cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logging.Info().Str("addr", srv.Addr).Msg("starting server")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logging.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
