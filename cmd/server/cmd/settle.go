package cmd

import (
	"context"
	"encoding/json"
	"os"

	"earnsystem/internal/app"
	"earnsystem/internal/model"

	"github.com/spf13/cobra"
)

var settleDate string

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Run the daily settlement once and print the report",
	Long: `Runs the daily settlement for --date (YYYY-MM-DD), or for today in the configured
settlement timezone. Running a day that is already settled only picks up missed work.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		day := a.Settlement.Today()
		if settleDate != "" {
			day, err = model.ParseDay(settleDate)
			if err != nil {
				return err
			}
		}

		report, err := a.Settlement.RunOnce(context.Background(), day)
		if report != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)
		}
		return err
	},
}

func init() {
	settleCmd.Flags().StringVar(&settleDate, "date", "", "settlement day, YYYY-MM-DD")
	rootCmd.AddCommand(settleCmd)
}
