package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/forecastdesk/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set ForecastDesk configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			fmt.Println("No config loaded")
			return nil
		}
		showConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func showConfig(w io.Writer, c *cfgpkg.Global) {
	fmt.Fprintf(w, "database_url: %s\n", maskDSN(c.DatabaseURL))
	fmt.Fprintf(w, "database_driver: %s\n", c.DatabaseDriver)
	if c.CSVBaseURL != "" {
		fmt.Fprintf(w, "csv_base_url: %s\n", c.CSVBaseURL)
	}
	fmt.Fprintf(w, "row_limit: %d\n", c.RowLimit)
	fmt.Fprintf(w, "datasets: %d configured\n", len(c.Datasets))
	if c.CacheURL != "" {
		fmt.Fprintf(w, "cache_url: %s\n", maskDSN(c.CacheURL))
	}
	fmt.Fprintf(w, "cache_ttl_sec: %d\n", c.CacheTTLSec)
	fmt.Fprintf(w, "llm_provider: %s\n", c.LLMProvider)
	fmt.Fprintf(w, "llm_model: %s\n", c.LLMModel)
	fmt.Fprintf(w, "llm_api_key: %s\n", mask(c.LLMAPIKey))
	fmt.Fprintf(w, "max_response_tokens: %d\n", c.MaxResponseTokens)
	fmt.Fprintf(w, "temperature: %.3f\n", c.Temperature)
	if c.LLMProvider == "ollama" {
		fmt.Fprintf(w, "ollama_host: %s\n", c.OllamaHost)
	}
	fmt.Fprintf(w, "listen_addr: %s\n", c.ListenAddr)
	fmt.Fprintf(w, "admin_api_key: %s\n", mask(c.AdminAPIKey))
	fmt.Fprintf(w, "rate_limit: %d\n", c.RateLimit)
	fmt.Fprintf(w, "session_ttl_min: %d\n", c.SessionTTLMin)
	if len(c.Users) > 0 {
		names := make([]string, 0, len(c.Users))
		for n := range c.Users {
			names = append(names, n)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "users: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(w, "log_level: %s\n", c.LogLevel)
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Println("Saved config")
		return nil
	},
}

func setConfigValue(c *cfgpkg.Global, key, val string) error {
	switch key {
	case "database_url":
		c.DatabaseURL = val
	case "database_driver":
		switch strings.ToLower(val) {
		case "postgres", "postgresql":
			c.DatabaseDriver = "postgres"
		case "sqlite", "sqlite3":
			c.DatabaseDriver = "sqlite"
		default:
			return fmt.Errorf("invalid database_driver: %s (use postgres or sqlite)", val)
		}
	case "csv_base_url":
		c.CSVBaseURL = val
	case "cache_url":
		c.CacheURL = val
	case "llm_provider":
		switch p := normalizeProvider(val); p {
		case "gemini", "openrouter", "ollama":
			c.LLMProvider = p
		default:
			return fmt.Errorf("invalid llm_provider: %s (use gemini, openrouter or ollama)", val)
		}
	case "llm_model":
		c.LLMModel = val
	case "llm_api_key":
		c.LLMAPIKey = val
	case "ollama_host":
		c.OllamaHost = val
	case "listen_addr":
		c.ListenAddr = val
	case "admin_api_key":
		c.AdminAPIKey = val
	case "log_level":
		c.LogLevel = val
	case "temperature":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid float for temperature: %v", val)
		}
		c.Temperature = f
	case "row_limit", "cache_ttl_sec", "max_response_tokens", "rate_limit", "session_ttl_min",
		"chart_sample_rows", "prompt_sample_rows", "http_timeout_sec":
		i, err := strconv.Atoi(val)
		if err != nil || i < 0 {
			return fmt.Errorf("invalid int for %s: %v", key, val)
		}
		*intField(c, key) = i
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

func intField(c *cfgpkg.Global, key string) *int {
	switch key {
	case "row_limit":
		return &c.RowLimit
	case "cache_ttl_sec":
		return &c.CacheTTLSec
	case "max_response_tokens":
		return &c.MaxResponseTokens
	case "rate_limit":
		return &c.RateLimit
	case "session_ttl_min":
		return &c.SessionTTLMin
	case "chart_sample_rows":
		return &c.ChartSampleRows
	case "prompt_sample_rows":
		return &c.PromptSampleRows
	default:
		return &c.HTTPTimeoutSec
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}

// maskDSN hides the password in a URL-style DSN.
func maskDSN(dsn string) string {
	scheme := strings.Index(dsn, "://")
	at := strings.LastIndex(dsn, "@")
	if scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return dsn
	}
	return dsn[:scheme+3] + user + ":****" + dsn[at:]
}
