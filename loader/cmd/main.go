package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"wellbot/app/deps"
	"wellbot/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCmd runs only the inbox folder loader, for deployments that keep it
// apart from the API server. It behaves like `wellbot watch`.
func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "wellbot-loader",
		Short:        "Ingest files dropped into the loader source directory",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// .env is optional; real environment variables win
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()

			d, err := deps.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			svc, err := d.LoaderService()
			if err != nil {
				return err
			}
			svc.Run(ctx)
			logger.Info("Loader service stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}
