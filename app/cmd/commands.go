package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"wellbot/app/agent"
	"wellbot/app/server"
	"wellbot/types"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var withWatcher bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := opts.load(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			llm, err := agent.New(d.Config.LLMSettings(), d.Logger)
			if err != nil {
				return err
			}

			if withWatcher {
				svc, err := d.LoaderService()
				if err != nil {
					return err
				}
				go svc.Run(ctx)
			}

			s := server.NewServer(d, llm)
			errCh := make(chan error, 1)
			go func() { errCh <- s.Run() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				d.Logger.Info("Received shutdown signal, shutting down server...")
				s.Stop(context.WithoutCancel(ctx))
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&withWatcher, "watch", false, "also run the inbox folder loader")
	return cmd
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var declared string
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Extract, chunk, embed and index documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := opts.load(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			failed := 0
			for _, path := range args {
				kind := declared
				if kind == "" {
					kind = strings.ToLower(filepath.Ext(path))
				}
				fileType, ok := types.ParseFileType(kind)
				if !ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: unsupported file type\n", path)
					failed++
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				summary, err := d.Ingestor.Ingest(ctx, filepath.Base(path), fileType, data)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed++
					continue
				}
				if err := printJSON(cmd, summary); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&declared, "type", "", "declared format (pdf, txt, md); defaults to the file extension")
	return cmd
}

func newRetrieveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Print the context block and sources for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := opts.load(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			res, err := d.Retriever.Retrieve(ctx, strings.Join(args, " "), d.Settings.Get(ctx))
			if err != nil {
				return err
			}
			if res.ContextText == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no relevant knowledge base content")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.ContextText)
			return nil
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest files dropped into the loader source directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			svc, err := d.LoaderService()
			if err != nil {
				return err
			}
			svc.Run(cmd.Context())
			return nil
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the retrieval config",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the effective retrieval config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()
			return printJSON(cmd, d.Settings.Get(cmd.Context()))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set key=value...",
		Short: "Update retrieval config fields (similarity_threshold, max_chunks, use_top_chunks, debug_mode)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := opts.load(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			cfg, err := applyConfigArgs(d.Settings.Get(ctx), args)
			if err != nil {
				return err
			}
			if err := d.Settings.Set(ctx, cfg); err != nil {
				return err
			}
			return printJSON(cmd, cfg)
		},
	})
	return cmd
}

func applyConfigArgs(cfg types.RetrievalConfig, args []string) (types.RetrievalConfig, error) {
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return cfg, fmt.Errorf("expected key=value, got %q", arg)
		}
		var err error
		switch key {
		case "similarity_threshold":
			cfg.SimilarityThreshold, err = strconv.ParseFloat(value, 64)
		case "max_chunks":
			cfg.MaxChunks, err = strconv.Atoi(value)
		case "use_top_chunks":
			cfg.UseTopChunks, err = strconv.Atoi(value)
		case "debug_mode":
			cfg.DebugMode, err = strconv.ParseBool(value)
		default:
			return cfg, fmt.Errorf("unknown retrieval config key %q", key)
		}
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", key, err)
		}
	}
	return cfg, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
