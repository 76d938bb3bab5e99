package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack-go/internal/logging"
	"github.com/ragstack/ragstack-go/internal/provider"
	"github.com/ragstack/ragstack-go/internal/rag"
	"github.com/ragstack/ragstack-go/internal/server"
	ragsync "github.com/ragstack/ragstack-go/internal/sync"
	"github.com/ragstack/ragstack-go/internal/tasks"
	"github.com/ragstack/ragstack-go/internal/tracing"
)

// NewServeCmd constructs the `ragstack serve` command, which starts the HTTP
// server exposing the query and document APIs.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var deferred bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragstack HTTP server",
		Long: `Start the ragstack HTTP server on localhost.

The server exposes POST /api/query for retrieval-augmented question
answering (JSON or SSE streaming) and the /api/documents CRUD and sync
endpoints. With --deferred (or RAGSTACK_SYNC_DEFERRED=true) sync requests
are queued and handled by an in-process background worker instead of
blocking the request.

Examples:
  ragstack serve
  ragstack serve --port 9090
  RAGSTACK_SYNC_DEFERRED=true ragstack serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("model_provider", os.Getenv("MODEL_PROVIDER")),
				slog.String("embedding_provider", os.Getenv("EMBEDDING_PROVIDER")),
			)

			// Langfuse tracing is opt-in, no-op when keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			store, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer store.Close()

			generator, err := provider.GeneratorFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: initialise model provider: %w", err)
			}
			log.Info("generator initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "cerebras")))

			pipeline, err := rag.NewPipeline(emb, store, generator, nil)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			repo, err := openRepository(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer repo.Close()

			syncer, err := ragsync.NewSynchronizer(repo, emb, store)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if !deferred {
				deferred = os.Getenv("RAGSTACK_SYNC_DEFERRED") == "true"
			}

			var queue server.Enqueuer
			if deferred {
				queuePath := os.Getenv("RAGSTACK_TASKS_DB")
				if queuePath == "" {
					queuePath, err = tasks.DefaultDBPath()
					if err != nil {
						return fmt.Errorf("serve: %w", err)
					}
				}
				q, err := tasks.Open(queuePath)
				if err != nil {
					return fmt.Errorf("serve: open task queue: %w", err)
				}
				defer q.Close()
				queue = q
				log.Info("deferred sync enabled", slog.String("queue", queuePath))

				sweeper := ragsync.NewSweeper(repo, store, store)
				worker, err := tasks.NewWorker(tasks.WorkerConfig{
					Queue:         q,
					Syncer:        syncer,
					Sweeper:       sweeper,
					Vectors:       store,
					PollInterval:  envDuration("RAGSTACK_WORKER_POLL_INTERVAL"),
					SweepInterval: envDuration("RAGSTACK_WORKER_SWEEP_INTERVAL"),
				})
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				go func() {
					if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
						log.Error("worker stopped", slog.Any("error", err))
					}
				}()
			}

			pingers := []server.Pinger{
				server.NewQdrantPinger(store),
				server.NewEmbedderPinger(emb),
				server.NewGeneratorPinger(generator),
			}

			srv, err := server.New(pipeline, repo, syncer, queue, &server.Config{
				Host:         host,
				Port:         port,
				Logger:       log,
				Pingers:      pingers,
				APIKey:       os.Getenv("RAGSTACK_API_KEY"),
				DeferredSync: deferred,
			})
			if err != nil {
				return fmt.Errorf("serve: create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().BoolVar(&deferred, "deferred", false, "Queue sync requests for the background worker instead of running them inline")

	return cmd
}

// envDuration parses a duration environment variable; zero (use the worker
// default) when unset or malformed.
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
