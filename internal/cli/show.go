package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crypto-arb-scanner/internal/app"
)

var (
	showLimit int
	showKind  string
	showCache bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently tracked opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:     showLimit,
			Kind:      showKind,
			FromCache: showCache,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of opportunities to display")
	showCmd.Flags().StringVar(&showKind, "kind", "", "Only show this opportunity kind")
	showCmd.Flags().BoolVar(&showCache, "cache", false, "Read the latest ranking from Redis instead of Postgres")
}
