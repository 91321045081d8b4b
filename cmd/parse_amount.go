package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"intake/internal/invoice"
	"intake/internal/logger"
)

var parseAmountCmd = &cobra.Command{
	Use:   "parse-amount [text...]",
	Short: "Show how an amount text is parsed",
	Long: `Run the total-amount parser on free text, the way it is applied to the
text Document AI returns for an invoice total. Useful when a saved record has
an unexpected amount.`,
	Example: `  intake parse-amount "Total: 450,75 EUR"
  intake parse-amount '$1,234.56'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.WithComponent("parse-amount")

		text := strings.Join(args, " ")
		amount, ok := invoice.ParseAmount(text)

		log.Debug().Str("text", text).Bool("parsed", ok).Msg("Parsed amount")

		result := map[string]any{"text": text, "total_amount": nil}
		if ok {
			result["total_amount"] = amount
		}
		return writeJSON(result, "", log)
	},
}

func init() {
	rootCmd.AddCommand(parseAmountCmd)
}
