package cli

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index configuration and health",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	stack, err := openStack(ctx, false)
	if err != nil {
		return err
	}
	defer stack.close()

	cmd.Printf("Vault:     %s\n", orUnset(stack.cfg.Vault))
	cmd.Printf("Index:     %s\n", stack.store.Path())
	cmd.Printf("Provider:  %s (%s)\n", stack.cfg.Embedding.Provider, stack.cfg.Embedding.Model)

	records, err := stack.store.EmbeddingStore().LoadEmbeddings(ctx)
	if err != nil {
		cmd.Printf("Embeddings: unavailable (%v)\n", err)
		return nil
	}
	cmd.Printf("Embeddings: %d stored\n", len(records))

	embedder, err := buildEmbedder(stack.cfg)
	if err != nil {
		cmd.Printf("Embedding service: not configured (%v)\n", err)
		return nil
	}
	defer embedder.Close()
	if err := embedder.Ping(ctx); err != nil {
		cmd.Printf("Embedding service: unreachable (%v)\n", err)
		return nil
	}
	cmd.Printf("Embedding service: ok (%d dimensions)\n", embedder.Dimensions())
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}
