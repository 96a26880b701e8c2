package cli

import (
	"github.com/spf13/cobra"

	"crypto-arb-scanner/internal/app"
)

var (
	scanFormat string
	scanLimit  int
	scanKind   string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan cycle and print the ranked opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context(), app.ScanOptions{
			Format: scanFormat,
			Limit:  scanLimit,
			Kind:   scanKind,
		})
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanFormat, "format", "table", "Output format: table or json")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 20, "Maximum opportunities to print (0 for all)")
	scanCmd.Flags().StringVar(&scanKind, "kind", "", "Comma-separated opportunity kinds to keep")
}
