package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/court-matching/internal/app"
	"github.com/example/court-matching/internal/config"
	"github.com/example/court-matching/internal/logging"
)

func main() {
	log.SetFlags(0)
	cobra.CheckErr(newCmd().Execute())
}

// newCmd runs the payment event consumer on its own, for deployments that
// scale it apart from the API.
func newCmd() *cobra.Command {
	o := &config.Overrides{}
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "court-matching-consumer",
		Short: "Applies payment gateway events to split-payment proposals.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.LogLevel).With("component", "payment-consumer")

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
			return a.ServeConsumer(ctx, metricsAddr)
		},
	}
	o.Register(cmd.Flags())
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics and health on (env: COURT_METRICS_ADDR)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}
