package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/accessreg/accessreg/cmd/accessregd/cmd/cmdutil"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/server"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/services/validation"
	"github.com/accessreg/accessreg/cmd/accessregd/internal/telemetry"
)

// schemaCacheSize bounds the compiled request schemas kept by the validator.
const schemaCacheSize = 32

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registry API server",
	Long: `Migrates the database, connects the read cache and serves the registry
HTTP API. SIGHUP re-dials the cache backend without restarting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				log.Printf("WARNING: telemetry shutdown: %v", err)
			}
		}()

		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("failed to create server metrics: %w", err)
		}
		cacheMetrics, err := telemetry.NewCacheMetrics()
		if err != nil {
			return fmt.Errorf("failed to create cache metrics: %w", err)
		}

		bundle, err := cmdutil.NewRegistryBundle(ctx, cfg, cmdutil.RegistryOptions{
			Migrate:      true,
			CacheMetrics: cacheMetrics,
		})
		if err != nil {
			return err
		}
		defer bundle.Close()

		log.Printf("Connected to database")

		validator, err := validation.NewRequestValidator(schemaCacheSize)
		if err != nil {
			return fmt.Errorf("failed to create request validator: %w", err)
		}

		cors := server.DefaultCORSOptions(cfg.CORS.AllowedOrigins)
		handler := server.NewH2CHandler(server.RouterOptions{
			Service:     bundle.Service,
			Validator:   validator,
			Debug:       cfg.Debug,
			CORSOptions: &cors,
			Middleware:  []func(http.Handler) http.Handler{serverMetrics.Middleware},
			HealthHandler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				fmt.Fprintf(w, `{"status":"ok","cache":%q}`, bundle.Cache.State())
			},
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s (cache %s, removal policy %s)",
				cfg.ServerAddr, bundle.Cache.State(), bundle.Service.RemovalPolicy())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP re-dials the cache after an outage
		reconnect := make(chan os.Signal, 1)
		signal.Notify(reconnect, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				return fmt.Errorf("server error: %w", err)

			case sig := <-reconnect:
				log.Printf("Received signal %v, reconnecting cache", sig)
				rctx, cancel := context.WithTimeout(context.Background(), cfg.Cache.DialTimeout+time.Second)
				snapshot, err := bundle.Service.ReconnectCache(rctx)
				cancel()
				if err != nil {
					log.Printf("WARNING: cache reconnect failed (state=%s): %v", snapshot.State, err)
				} else {
					log.Printf("INFO: cache reconnected (backend=%s)", snapshot.Backend)
				}

			case sig := <-shutdown:
				log.Printf("Received signal %v, shutting down gracefully", sig)

				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(sctx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				log.Printf("Server stopped")
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
