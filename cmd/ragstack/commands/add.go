package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack-go/internal/logging"
	ragsync "github.com/ragstack/ragstack-go/internal/sync"
)

// NewAddCmd constructs the `ragstack add` command, which creates documents
// from files or stdin and optionally synchronizes them immediately.
func NewAddCmd() *cobra.Command {
	var title string
	var source string
	var noSync bool

	cmd := &cobra.Command{
		Use:   "add [file...]",
		Short: "Add documents to the collection",
		Long: `Add one or more documents to the collection and synchronize them with
the vector store.

Each file becomes one document; the title defaults to the file name and can
be overridden with --title when adding a single document. With no file
arguments, content is read from stdin. Use --no-sync to store documents
without embedding them (sync later with 'ragstack sync').

Examples:
  ragstack add notes/runbook.md notes/oncall.md
  cat report.txt | ragstack add --title "Q3 report"
  ragstack add --no-sync bulk/*.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if title != "" && len(args) > 1 {
				return fmt.Errorf("add: --title only applies to a single document")
			}

			repo, err := openRepository(log)
			if err != nil {
				return fmt.Errorf("add: %w", err)
			}
			defer repo.Close()

			var syncer *ragsync.Synchronizer
			if !noSync {
				emb, err := buildEmbedder(log)
				if err != nil {
					return fmt.Errorf("add: %w", err)
				}
				store, err := buildVectorStore(ctx, log)
				if err != nil {
					return fmt.Errorf("add: %w", err)
				}
				defer store.Close()
				syncer, err = ragsync.NewSynchronizer(repo, emb, store)
				if err != nil {
					return fmt.Errorf("add: %w", err)
				}
			}

			type input struct {
				title   string
				content string
			}
			var inputs []input

			if len(args) == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("add: read stdin: %w", err)
				}
				if len(data) == 0 {
					return fmt.Errorf("add: provide file arguments or pipe content via stdin")
				}
				name := title
				if name == "" {
					name = "stdin"
				}
				inputs = append(inputs, input{title: name, content: string(data)})
			}
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("add: read %s: %w", path, err)
				}
				name := title
				if name == "" {
					name = filepath.Base(path)
				}
				inputs = append(inputs, input{title: name, content: string(data)})
			}

			for _, in := range inputs {
				doc, err := repo.Create(ctx, in.title, in.content, source)
				if err != nil {
					return fmt.Errorf("add: %w", err)
				}

				if syncer != nil {
					doc, err = syncer.Sync(ctx, doc.ID)
					if err != nil {
						return fmt.Errorf("add: document %s stored but sync failed: %w", doc.ID, err)
					}
					fmt.Printf("%s  %s  (vector %s)\n", doc.ID, doc.Title, doc.VectorID)
				} else {
					fmt.Printf("%s  %s  (not synced)\n", doc.ID, doc.Title)
				}
				log.Debug("document added",
					slog.String("document_id", doc.ID),
					slog.Bool("synced", syncer != nil),
				)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (single document only; defaults to file name)")
	cmd.Flags().StringVar(&source, "source", "cli", "Origin label stored with the documents")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Store documents without synchronizing them")

	return cmd
}
