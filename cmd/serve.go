package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaramelBytes/forecastdesk/internal/auth"
	"github.com/KaramelBytes/forecastdesk/internal/ingest"
	"github.com/KaramelBytes/forecastdesk/internal/ratelimit"
	"github.com/KaramelBytes/forecastdesk/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireConfig(); err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if cfg.AdminAPIKey == "" {
			log.Warn("admin_api_key not set; API routes are open")
		}
		deps := server.Deps{
			Asker:        a.responder,
			Forecasts:    a.agg,
			Fetcher:      ingest.NewFetcher(cfg.HTTPTimeout()),
			Limiter:      ratelimit.New(cfg.RateLimit),
			Users:        auth.Users(cfg.Users),
			Sessions:     auth.NewSessions(cfg.SessionTTL()),
			APIKey:       cfg.AdminAPIKey,
			CacheBackend: a.cache.Backend(),
			Log:          log.Named("http"),
		}
		// Assigned only when present so the interfaces stay nil.
		if a.db != nil {
			deps.Store = a.db
			deps.Writer = a.db
		}

		log.Info("starting server",
			zap.String("addr", cfg.ListenAddr),
			zap.String("provider", a.provider),
			zap.Bool("genai", a.runtime != nil),
			zap.Bool("database", a.db != nil),
			zap.String("cache", a.cache.Backend()),
			zap.Int("datasets", len(cfg.Datasets)))

		err = server.New(deps).ListenAndServe(ctx, cfg.ListenAddr)
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides listen_addr)")
}
