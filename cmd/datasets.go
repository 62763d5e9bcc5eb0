package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/forecastdesk/internal/analysis"
	"github.com/KaramelBytes/forecastdesk/internal/dataset"
	"github.com/KaramelBytes/forecastdesk/internal/utils"
)

var (
	datasetsJSON    bool
	datasetsProfile bool
	datasetsTables  bool
)

type datasetStatus struct {
	Name        string   `json:"name"`
	Physical    string   `json:"physical,omitempty"`
	Rows        int      `json:"rows"`
	Tried       []string `json:"tried"`
	Unreachable bool     `json:"unreachable,omitempty"`
	Error       string   `json:"error,omitempty"`
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Report how each configured dataset resolves to a physical table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireConfig(); err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if datasetsTables {
			if a.db == nil {
				return fmt.Errorf("database not configured")
			}
			tables, err := a.db.ListTables(cmd.Context())
			if err != nil {
				return err
			}
			if len(tables) == 0 {
				fmt.Println("(no tables)")
			}
			for _, t := range tables {
				fmt.Printf("- %s\n", t)
			}
			return nil
		}

		report, err := resolutionReport(cmd.Context(), a.resolver, a.agg.Datasets())
		if err != nil {
			return err
		}
		if datasetsJSON {
			b, err := utils.PrettyJSON(report)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
		} else {
			printReport(os.Stdout, report)
		}

		if datasetsProfile {
			snap, err := a.agg.Build(cmd.Context())
			if err != nil {
				return err
			}
			if snap.Table.Empty() {
				fmt.Println("\n(no rows to profile)")
				return nil
			}
			opt := analysis.DefaultOptions()
			opt.SampleRows = cfg.PromptSampleRows
			fmt.Println()
			fmt.Println(analysis.Profile("forecasts", snap.Table, opt).Markdown())
		}
		return nil
	},
}

// resolutionReport resolves every descriptor in order. Failures are reported per
// dataset; only context cancellation aborts the report.
func resolutionReport(ctx context.Context, r *dataset.Resolver, ds []dataset.Descriptor) ([]datasetStatus, error) {
	out := make([]datasetStatus, 0, len(ds))
	for _, d := range ds {
		st := datasetStatus{Name: d.Name}
		res, err := r.Resolve(ctx, d)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var rerr *dataset.ResolveError
			if errors.As(err, &rerr) {
				for _, at := range rerr.Attempts {
					st.Tried = append(st.Tried, at.Physical)
				}
				st.Unreachable = rerr.Unreachable()
			}
			st.Error = err.Error()
			out = append(out, st)
			continue
		}
		for _, at := range res.Attempts {
			st.Tried = append(st.Tried, at.Physical)
		}
		st.Tried = append(st.Tried, res.Physical)
		st.Physical = res.Physical
		st.Rows = res.Frame.Len()
		out = append(out, st)
	}
	return out, nil
}

func printReport(w io.Writer, report []datasetStatus) {
	found := 0
	for _, st := range report {
		switch {
		case st.Physical != "":
			found++
			fmt.Fprintf(w, "✓ %s -> %s (%d rows)\n", st.Name, st.Physical, st.Rows)
		case st.Unreachable:
			fmt.Fprintf(w, "✗ %s: source unreachable\n", st.Name)
		default:
			fmt.Fprintf(w, "✗ %s: not found (tried %d variants)\n", st.Name, len(st.Tried))
		}
	}
	fmt.Fprintf(w, "%d/%d datasets resolved\n", found, len(report))
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
	datasetsCmd.Flags().BoolVar(&datasetsJSON, "json", false, "print the report as JSON")
	datasetsCmd.Flags().BoolVar(&datasetsProfile, "profile", false, "also print a profile of the aggregated table")
	datasetsCmd.Flags().BoolVar(&datasetsTables, "tables", false, "list the physical tables in the database instead")
}
