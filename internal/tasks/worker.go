package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ragstack/ragstack-go/internal/logging"
	"github.com/ragstack/ragstack-go/internal/rag"
	ragsync "github.com/ragstack/ragstack-go/internal/sync"
)

// Default worker cadences. Polling is cheap against a local SQLite file;
// sweeping scans the whole vector collection, so it runs far less often.
const (
	DefaultPollInterval  = 2 * time.Second
	DefaultSweepInterval = 15 * time.Minute
)

// Worker drains the task queue and periodically reconciles the vector store.
type Worker struct {
	queue   *Queue
	syncer  *ragsync.Synchronizer
	sweeper *ragsync.Sweeper
	vectors rag.VectorStore

	pollInterval  time.Duration
	sweepInterval time.Duration
}

// WorkerConfig configures a Worker. Queue, Syncer, and Vectors are required;
// Sweeper is optional (no reconciliation pass when nil).
type WorkerConfig struct {
	Queue   *Queue
	Syncer  *ragsync.Synchronizer
	Sweeper *ragsync.Sweeper
	Vectors rag.VectorStore

	// PollInterval is how often the queue is checked for pending tasks.
	PollInterval time.Duration
	// SweepInterval is how often the orphan sweep runs.
	SweepInterval time.Duration
}

// NewWorker constructs a Worker from the given config.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, errors.New("tasks: queue must not be nil")
	}
	if cfg.Syncer == nil {
		return nil, errors.New("tasks: synchronizer must not be nil")
	}
	if cfg.Vectors == nil {
		return nil, errors.New("tasks: vector store must not be nil")
	}
	w := &Worker{
		queue:         cfg.Queue,
		syncer:        cfg.Syncer,
		sweeper:       cfg.Sweeper,
		vectors:       cfg.Vectors,
		pollInterval:  cfg.PollInterval,
		sweepInterval: cfg.SweepInterval,
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.sweepInterval <= 0 {
		w.sweepInterval = DefaultSweepInterval
	}
	return w, nil
}

// Run polls the queue until the context is cancelled. Each poll drains all
// pending tasks; the sweep runs on its own coarser ticker.
func (w *Worker) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("worker: started",
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("sweep_interval", w.sweepInterval),
	)

	poll := time.NewTicker(w.pollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(w.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker: stopping")
			return ctx.Err()
		case <-poll.C:
			w.Drain(ctx)
		case <-sweep.C:
			w.runSweep(ctx)
		}
	}
}

// Drain claims and handles pending tasks until the queue is empty or the
// context is cancelled. Returns the number of tasks handled.
func (w *Worker) Drain(ctx context.Context) int {
	log := logging.FromContext(ctx)
	handled := 0

	for ctx.Err() == nil {
		task, err := w.queue.ClaimNext(ctx)
		if errors.Is(err, ErrEmpty) {
			return handled
		}
		if err != nil {
			log.Error("worker: claim failed", slog.Any("error", err))
			return handled
		}

		if err := w.handle(ctx, task); err != nil {
			log.Warn("worker: task failed",
				slog.Int64("task_id", task.ID),
				slog.String("kind", string(task.Kind)),
				slog.Int("attempt", task.Attempts),
				slog.Any("error", err),
			)
			if err := w.queue.Fail(ctx, task.ID, err); err != nil {
				log.Error("worker: could not record task failure", slog.Any("error", err))
			}
			handled++
			continue
		}

		if err := w.queue.Complete(ctx, task.ID); err != nil {
			log.Error("worker: could not mark task done", slog.Any("error", err))
		}
		handled++
	}
	return handled
}

// handle dispatches a single task by kind.
func (w *Worker) handle(ctx context.Context, task *Task) error {
	switch task.Kind {
	case KindSyncDocument:
		_, err := w.syncer.Sync(ctx, task.Payload)
		return err
	case KindDeleteVector:
		return w.vectors.Delete(ctx, task.Payload)
	default:
		return errors.New("tasks: unknown task kind " + string(task.Kind))
	}
}

// runSweep runs one reconciliation pass if a sweeper is configured.
func (w *Worker) runSweep(ctx context.Context) {
	if w.sweeper == nil {
		return
	}
	log := logging.FromContext(ctx)
	report, err := w.sweeper.Sweep(ctx)
	if err != nil {
		log.Error("worker: sweep failed", slog.Any("error", err))
		return
	}
	log.Info("worker: sweep completed",
		slog.Int("scanned", report.Scanned),
		slog.Int("deleted", report.Deleted),
		slog.Int("failed", report.Failed),
	)
}
