package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"torrentsession/internal/torrentutil"
)

func newMagnetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "magnet <info-hash> [name]",
		Short: "Print a magnet link for an info hash",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 1 {
				name = args[1]
			}
			uri, err := torrentutil.CreateMagnetURI(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
}

func newHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <info-hash>",
		Short: "Check whether a string is a valid info hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := strings.TrimSpace(args[0])
			if !torrentutil.IsValidInfoHash(hash) {
				return fmt.Errorf("invalid info hash %q", hash)
			}
			version := "v1 (sha1)"
			if len(hash) == 64 {
				version = "v2 (sha256)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", strings.ToLower(hash), version)
			return nil
		},
	}
}
