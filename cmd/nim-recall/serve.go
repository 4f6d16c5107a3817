package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/nim-recall/document"
	"github.com/becomeliminal/nim-recall/scheduler"
	"github.com/becomeliminal/nim-recall/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, websocket and gRPC health servers",
	Long: `Serves the REST API, the websocket query protocol, /metrics and the
gRPC health service. Maintenance jobs and the ingestion inbox watcher run
alongside when enabled in the configuration.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// the first component to fail cancels ctx and stops the others
	g, ctx := errgroup.WithContext(cmd.Context())
	run := func(fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler.Config, scheduler.Jobs{
			Decay:       a.engine.Memories(),
			Preferences: a.learner,
			Backfill:    a.engine.Documents(),
			Pending:     a.engine,
		})
		if err != nil {
			return err
		}
		sched.Start()
		run(func() error {
			<-ctx.Done()
			return sched.Stop()
		})
	}

	if cfg.Watch.Dir != "" {
		w := document.NewWatcher(cfg.Watch.Dir, a.engine.Documents(), cfg.Watch.Debounce)
		run(func() error { return w.Run(ctx) })
	}

	srv := server.New(a.engine,
		server.WithGatherer(a.registry),
		server.WithHealthCheck(a.ping),
	)
	run(func() error {
		return srv.Run(ctx, cfg.Server.HTTPAddr, cfg.Server.GRPCAddr, cfg.Server.ShutdownTimeout)
	})

	slog.Info("nim-recall started",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"memory_backend", cfg.Storage.MemoryBackend,
		"embedding_provider", cfg.Embedding.Provider,
	)
	return g.Wait()
}
