package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragstack/ragstack-go/internal/logging"
	"github.com/ragstack/ragstack-go/internal/provider"
	"github.com/ragstack/ragstack-go/internal/rag"
)

// NewAskCmd constructs the `ragstack ask` command, which answers a single
// question against the synchronized collection and streams the answer to
// stdout.
func NewAskCmd() *cobra.Command {
	var topK int
	var scoreThreshold float32
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the document collection",
		Long: `Ask a natural language question. The question is embedded, matched
against the synchronized vector collection, and answered by the configured
generation model using the retrieved passages as context.

When nothing in the collection scores above --threshold the model still
answers, but without grounding context.

Examples:
  ragstack ask "what does the retention policy say about backups?"
  ragstack ask --top-k 10 --threshold 0.6 "who owns the billing service?"
  ragstack ask --sources "when was the incident process last changed?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			store, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer store.Close()

			generator, err := provider.GeneratorFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: initialise model provider: %w", err)
			}

			pipeline, err := rag.NewPipeline(emb, store, generator, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			sources, stream, err := pipeline.AnswerStream(ctx, args[0], topK, scoreThreshold)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer stream.Close()

			if showSources {
				if len(sources) == 0 {
					fmt.Fprintln(os.Stderr, "no sources above threshold — answering without context")
				}
				for _, src := range sources {
					fmt.Fprintf(os.Stderr, "[%.3f] %s (%s)\n", src.Score, src.Payload.Title, src.Payload.DocumentID)
				}
			}

			for {
				chunk, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("ask: stream: %w", err)
				}
				fmt.Print(chunk)
			}
			fmt.Println()

			log.Debug("ask completed", slog.Int("sources", len(sources)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Maximum number of passages to retrieve (default 5)")
	cmd.Flags().Float32VarP(&scoreThreshold, "threshold", "t", 0, "Minimum similarity score for retrieved passages")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print retrieved sources to stderr before the answer")

	return cmd
}
