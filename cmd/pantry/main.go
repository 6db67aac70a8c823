package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const service = "pantry"

var rootCmd = &cobra.Command{
	Use:           service,
	Short:         "Browse Open Food Facts and keep a cart and compare list per session",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(newServeCmd(), newSearchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pantry:", err)
		os.Exit(1)
	}
}
