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

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "wellbot",
		Short:         "Knowledge base service of the wellness assistant",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			// .env is optional; real environment variables win
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newRetrieveCmd(opts),
		newWatchCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load(ctx context.Context) (*deps.Deps, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	return deps.Build(ctx, cfg, cfg.NewLogger())
}
