package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"multilang-bots/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "multilang-bots",
		Short: "Multi-tenant bot supervisor for translation centers",
		Long: `multilang-bots runs one bot per translation center: long-polling
runtimes under a single supervisor, a shared conversation state store,
a row-locked payment ledger and order notification fan-out.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.RunCmd())
	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.WebhookCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
