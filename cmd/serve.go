package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/logging"
	"github.com/tetherhq/tether/internal/webhook"
)

var serveAddr string

// serveCmd runs the webhook server: the interactions endpoint, the sync
// trigger for external schedulers and the dashboard, and the operation-log
// read model.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interactions and sync-trigger server",
	Long: `This command starts the HTTP server. It exposes the chat platform's
interaction callback endpoint (signature-verified), a sync trigger for the
scheduler and the dashboard, and the operation log read model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.cfg.Discord.PublicKey == "" {
			return fmt.Errorf("discord.public_key is required to serve interactions")
		}
		interactions, err := webhook.NewInteractionHandler(a.cfg.Discord.PublicKey, a.trackers, a.store)
		if err != nil {
			return err
		}

		addr := serveAddr
		if addr == "" {
			addr = a.cfg.Server.Addr
		}

		server := &http.Server{
			Addr:              addr,
			Handler:           webhook.NewServer(interactions, a.engine, a.store, a.cfg.Server.AdminToken),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errs := make(chan error, 1)
		go func() {
			logging.Info("webhook server listening", "addr", addr)
			errs <- server.ListenAndServe()
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errs:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case sig := <-stop:
			logging.Info("shutting down", "signal", sig.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides configuration)")
}
