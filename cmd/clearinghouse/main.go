package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "clearinghouse",
		Short:         "Perpetual futures clearing house: AMM pricing, margin, funding and liquidation",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newInspectMarketsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
