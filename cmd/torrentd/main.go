package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "torrentd",
		Short:         "Torrent session daemon",
		Long:          "Runs a torrent session over the anacrolix engine and exposes its statistics as Prometheus metrics.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newRunCommand(), newConfigCommand(), newMagnetCommand(), newHashCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "torrentd:", err)
		os.Exit(1)
	}
}
