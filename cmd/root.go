package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgpkg "github.com/KaramelBytes/forecastdesk/internal/config"
	"github.com/KaramelBytes/forecastdesk/internal/logging"
)

var (
	// Global flags
	cfgFile string
	debug   bool
	// Retry/HTTP flags (override config if set)
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int

	// Loaded configuration
	cfg *cfgpkg.Global
	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "forecastdesk",
	Short: "ForecastDesk: forecast dashboard backend with natural-language Q&A",
	Long: `ForecastDesk aggregates forecast tables from a SQL database or a CSV host,
answers questions about them through a text-generation model, and serves the
dashboard API over HTTP.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	cobra.OnInitialize(loadConfig)
	err := rootCmd.Execute()
	_ = log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.forecastdesk/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max retry attempts on 429/5xx (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
}

func loadConfig() {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to read .env: %v\n", err)
	}

	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c
	applyFlagOverrides(cfg)

	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	l, err := logging.New(level, cfg.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: %v; using info level\n", err)
		l, err = logging.New("info", cfg.LogJSON)
	}
	if err == nil {
		log = l
	}
}

func applyFlagOverrides(c *cfgpkg.Global) {
	f := rootCmd.PersistentFlags()
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		c.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		c.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		c.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		c.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
}

// requireConfig fails commands that cannot run on defaults alone.
func requireConfig() error {
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	return nil
}
