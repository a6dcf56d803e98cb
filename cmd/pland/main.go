package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pland/internal/app"
	"pland/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "pland",
		Short:         "Telegram task and plan assistant with reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the bot",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate the config file and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := config.NewConfigManager(cfgPath).Load(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "config ok:", cfgPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "pland", version)
			},
		},
	)
	return root
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
		defer c()
		return errors.Join(err, a.Stop(stopCtx, app.StopFatalError))
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}
	stopCtx, c := context.WithTimeout(context.Background(), 15*time.Second)
	defer c()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}
