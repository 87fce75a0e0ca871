package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitCancelled = 130
)

// errJobsFailed is returned when the run completed but some job failed.
var errJobsFailed = errors.New("some downloads failed")

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "tdl",
		Short:         "Download and tag catalog tracks described by a manifest",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/tdl/config.toml)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newGetCmd(flags), newCacheCmd(flags), newConfigCmd(flags))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancelled := ctx.Err() != nil
	stop()

	os.Exit(exitCode(err, cancelled))
}

func exitCode(err error, cancelled bool) int {
	switch {
	case cancelled || errors.Is(err, context.Canceled):
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		fmt.Fprintln(os.Stderr, "Download cancelled.")
		return exitCancelled
	case errors.Is(err, errJobsFailed):
		return exitFailure
	case err != nil:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitFailure
	default:
		return exitOK
	}
}
