package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "paymentsctl",
		Short:         "Operator tool for the payment router",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(summaryCmd())
	root.AddCommand(purgeCmd())
	root.AddCommand(deadLettersCmd())
	root.AddCommand(enqueueCmd())
	root.AddCommand(statusCmd())
	return root
}
