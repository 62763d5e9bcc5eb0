package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/forecastdesk/internal/utils"
)

var (
	askChartOut  string
	askPrintOnly bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the forecasts from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireConfig(); err != nil {
			return err
		}
		question := strings.Join(args, " ")
		a, err := buildApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if askPrintOnly {
			snap, err := a.agg.Load(cmd.Context())
			if err != nil {
				return err
			}
			prompt := a.responder.Prompt(snap, question)
			fmt.Println(prompt)
			fmt.Fprintf(os.Stderr, "~%d prompt tokens\n", utils.CountTokens(prompt))
			return nil
		}

		ans, err := a.responder.Ask(cmd.Context(), question)
		if err != nil {
			return err
		}
		fmt.Println(ans.Text)
		if ans.NoData {
			fmt.Fprintf(os.Stderr, "db_connected: %v\n", ans.DBConnected)
			return nil
		}
		if askChartOut != "" && len(ans.Chart) > 0 {
			if err := utils.SafeWriteFile(askChartOut, ans.Chart); err != nil {
				return fmt.Errorf("write chart: %w", err)
			}
			fmt.Fprintf(os.Stderr, "✓ Chart written to %s\n", askChartOut)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askChartOut, "chart", "", "write the chart PNG to this path")
	askCmd.Flags().BoolVar(&askPrintOnly, "print-prompt", false, "print the prompt instead of calling the model")
}
