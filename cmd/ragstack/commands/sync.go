package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack-go/internal/logging"
	ragsync "github.com/ragstack/ragstack-go/internal/sync"
)

// NewSyncCmd constructs the `ragstack sync` command, which synchronizes
// documents with the vector store from the CLI.
func NewSyncCmd() *cobra.Command {
	var all bool
	var sweep bool

	cmd := &cobra.Command{
		Use:   "sync [document-id...]",
		Short: "Synchronize documents with the vector store",
		Long: `Embed document content and write the vectors to Qdrant.

Pass document IDs to synchronize specific documents, or --all to re-sync
every document in the collection. Re-syncing an already synced document
replaces its vector. Each document is handled independently; failures are
reported per document and do not abort the rest.

--sweep additionally runs an orphan reconciliation pass afterwards,
removing vectors whose document no longer exists or no longer references
them.

Examples:
  ragstack sync 4f8b2c1d-...
  ragstack sync --all
  ragstack sync --all --sweep`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if !all && len(args) == 0 && !sweep {
				return fmt.Errorf("sync: pass document IDs, --all, or --sweep")
			}
			if all && len(args) > 0 {
				return fmt.Errorf("sync: --all and explicit document IDs are mutually exclusive")
			}

			repo, err := openRepository(log)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			defer repo.Close()

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			store, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			defer store.Close()

			syncer, err := ragsync.NewSynchronizer(repo, emb, store)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			ids := args
			if all {
				docs, err := repo.List(ctx, 0, 0)
				if err != nil {
					return fmt.Errorf("sync: list documents: %w", err)
				}
				ids = make([]string, 0, len(docs))
				for _, d := range docs {
					ids = append(ids, d.ID)
				}
				log.Info("syncing all documents", slog.Int("count", len(ids)))
			}

			failed := 0
			for _, res := range syncer.SyncBatch(ctx, ids) {
				if res.Err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "%s  FAILED: %v\n", res.DocumentID, res.Err)
					continue
				}
				fmt.Printf("%s  synced  (vector %s)\n", res.DocumentID, res.VectorID)
			}

			if sweep {
				report, err := ragsync.NewSweeper(repo, store, store).Sweep(ctx)
				if err != nil {
					return fmt.Errorf("sync: sweep: %w", err)
				}
				fmt.Printf("sweep: scanned %d, deleted %d orphans, %d failures\n",
					report.Scanned, report.Deleted, report.Failed)
			}

			if failed > 0 {
				return fmt.Errorf("sync: %d of %d documents failed", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Synchronize every document in the collection")
	cmd.Flags().BoolVar(&sweep, "sweep", false, "Run an orphan reconciliation pass afterwards")

	return cmd
}
