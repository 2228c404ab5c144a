package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/court-matching/internal/app"
	"github.com/example/court-matching/internal/config"
	"github.com/example/court-matching/internal/logging"
)

func newCmd() *cobra.Command {
	o := &config.Overrides{}
	cmd := &cobra.Command{
		Use:     "court-matching",
		Short:   "Player matching, chat and split-payment booking API.",
		Args:    cobra.ExactArgs(0),
		Version: releaseVersion,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("close backends", "error", err)
				}
			}()
			return a.Serve(ctx)
		},
	}
	o.Register(cmd.Flags())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("court-matching v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}
