package main

import (
	"fmt"

	"github.com/handiism/tdl/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(root *rootFlags) *cobra.Command {
	var save string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if save != "" {
				if err := cfg.Save(save); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", save)
				return nil
			}
			return cfg.Write(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "write the effective configuration as TOML to this path")
	return cmd
}
