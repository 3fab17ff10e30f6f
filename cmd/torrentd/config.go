package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"torrentsession/internal/app"
	"torrentsession/internal/domain"
)

const defaultSessionConfigFile = "session.yaml"

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the session configuration file",
	}
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default session configuration as YAML",
		Long: "Writes the default session configuration to path, or to TORRENT_SESSION_CONFIG when no path is given. " +
			"An existing file is kept unless --force is set.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.LoadConfig().SessionConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				path = defaultSessionConfigFile
			}
			if !force {
				if _, err := os.Stat(os.ExpandEnv(path)); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := app.WriteSessionConfiguration(path, domain.DefaultSessionConfiguration()); err != nil {
				return fmt.Errorf("write session config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
