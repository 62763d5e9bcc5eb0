package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaramelBytes/forecastdesk/internal/ingest"
	"github.com/KaramelBytes/forecastdesk/internal/store"
)

var (
	uploadWorkers   int
	uploadCSVAppend bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <dir>",
	Short: "Load every .xlsx workbook in a directory into the database, one table per sheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireConfig(); err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.db == nil {
			return fmt.Errorf("database not configured")
		}

		results, err := ingest.UploadDir(cmd.Context(), args[0], a.db, uploadWorkers, log.Named("upload"))
		if err != nil {
			return err
		}
		a.agg.Invalidate(cmd.Context())

		var failed []string
		for _, r := range results {
			switch {
			case r.Skipped:
				fmt.Printf("⚠ %s [%s]: empty sheet skipped\n", r.File, r.Sheet)
			case r.Err != nil:
				failed = append(failed, r.Table)
				fmt.Printf("✗ %s [%s] -> %s: %v\n", r.File, r.Sheet, r.Table, r.Err)
			default:
				fmt.Printf("✓ %s [%s] -> %s (%d rows)\n", r.File, r.Sheet, r.Table, r.Rows)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d sheet(s) failed: %s", len(failed), strings.Join(failed, ", "))
		}
		return nil
	},
}

var uploadCSVCmd = &cobra.Command{
	Use:   "upload-csv <url> <table>",
	Short: "Download a CSV file and write it to a database table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireConfig(); err != nil {
			return err
		}
		url, table := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
		if !store.ValidTableName(table) {
			return fmt.Errorf("%w: %q", store.ErrInvalidName, table)
		}
		a, err := buildApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.db == nil {
			return fmt.Errorf("database not configured")
		}

		frame, err := ingest.NewFetcher(cfg.HTTPTimeout()).FetchCSV(cmd.Context(), url, ingest.CSVOptions{Sanitize: true})
		if errors.Is(err, ingest.ErrEmpty) {
			return fmt.Errorf("%s: csv has no header row", url)
		}
		if err != nil {
			return err
		}
		write := a.db.ReplaceTable
		if uploadCSVAppend {
			write = a.db.AppendTable
		}
		n, err := write(cmd.Context(), table, frame)
		if err != nil {
			return err
		}
		a.agg.Invalidate(cmd.Context())
		log.Info("csv uploaded", zap.String("table", table), zap.Int("rows", n))
		fmt.Printf("✓ Wrote %d rows to %s\n", n, table)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(uploadCSVCmd)
	uploadCmd.Flags().IntVar(&uploadWorkers, "workers", 4, "workbooks parsed concurrently")
	uploadCSVCmd.Flags().BoolVar(&uploadCSVAppend, "append", true, "append to an existing table instead of replacing it")
}
