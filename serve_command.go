package main

import (
	"context"
	"log/slog"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/server"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
	"github.com/oszuidwest/zwfm-voicerecorder/internal/util"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take on exit.
const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recorder with its WebSocket control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.GetAPIKey() == "" {
				slog.Warn("no API key configured, WebSocket and API requests will be refused")
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), util.ShutdownSignals()...)
			defer stop()

			hub := server.NewHub()
			app, err := newApp(cfg, func(types.ControllerStatus) { hub.Notify() })
			if err != nil {
				return err
			}
			defer app.Close()

			version := NewVersionChecker()
			defer version.Stop()

			srv := NewServer(runCtx, app, hub, version)
			httpServer := srv.Start()

			<-runCtx.Done()
			slog.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			}

			slog.Info("shutdown complete")
			return nil
		},
	}
}
