package main

import (
	"fmt"
	"time"

	"github.com/handiism/tdl/internal/cache"
	"github.com/handiism/tdl/internal/config"
	"github.com/handiism/tdl/internal/logger"
	"github.com/spf13/cobra"
)

func newCacheCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the HTTP response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove expired entries that cannot be revalidated, and orphan blobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if root.verbose {
				cfg.Log.Level = "debug"
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer log.Sync()

			store, err := cache.Open(cfg.CacheDir, log)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries from %s\n", n, cfg.CacheDir)
			return nil
		},
	})
	return cmd
}
