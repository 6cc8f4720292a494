package cmd

import (
	"context"
	"fmt"

	"earnsystem/internal/app"

	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll-payments",
	Short: "Ask the gateway once about every open deposit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.Poller.RunOnce(context.Background())
		fmt.Printf("checked=%d changed=%d errors=%d\n", res.Checked, res.Changed, res.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
