package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"intake/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Intake - WhatsApp invoice intake backed by Google Document AI",
	Long: `Intake receives invoice photos sent to a WhatsApp Business number,
extracts supplier, date, total amount and currency with Google Document AI,
and stores the result in Google Sheets, PostgreSQL or the log.

Run "intake serve" for the webhook server or "intake extract" to process a
local image from the command line.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
