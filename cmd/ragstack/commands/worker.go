package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack-go/internal/logging"
	ragsync "github.com/ragstack/ragstack-go/internal/sync"
	"github.com/ragstack/ragstack-go/internal/tasks"
)

// NewWorkerCmd constructs the `ragstack worker` command, a standalone
// process that drains the deferred sync queue and reconciles the vector
// store. It shares the queue database with a server running in deferred
// mode.
func NewWorkerCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background synchronization worker",
		Long: `Run the background worker that processes deferred synchronization
tasks and periodically removes orphaned vectors.

The worker polls the task queue written by a server started with deferred
sync enabled. Both processes must point at the same queue database
(RAGSTACK_TASKS_DB, default ~/.ragstack/tasks.db).

Examples:
  ragstack worker
  ragstack worker --once
  RAGSTACK_WORKER_POLL_INTERVAL=500ms ragstack worker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			repo, err := openRepository(log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer repo.Close()

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			store, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer store.Close()

			syncer, err := ragsync.NewSynchronizer(repo, emb, store)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			sweeper := ragsync.NewSweeper(repo, store, store)

			queuePath := os.Getenv("RAGSTACK_TASKS_DB")
			if queuePath == "" {
				queuePath, err = tasks.DefaultDBPath()
				if err != nil {
					return fmt.Errorf("worker: %w", err)
				}
			}
			queue, err := tasks.Open(queuePath)
			if err != nil {
				return fmt.Errorf("worker: open task queue: %w", err)
			}
			defer queue.Close()
			log.Info("task queue opened", slog.String("path", queuePath))

			worker, err := tasks.NewWorker(tasks.WorkerConfig{
				Queue:         queue,
				Syncer:        syncer,
				Sweeper:       sweeper,
				Vectors:       store,
				PollInterval:  envDuration("RAGSTACK_WORKER_POLL_INTERVAL"),
				SweepInterval: envDuration("RAGSTACK_WORKER_SWEEP_INTERVAL"),
			})
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			if once {
				handled := worker.Drain(ctx)
				log.Info("drain completed", slog.Int("handled", handled))
				return nil
			}

			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("worker: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Drain pending tasks once and exit instead of polling")

	return cmd
}
