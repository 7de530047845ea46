package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driving"
	"github.com/kilnworks/kiln-cli/internal/core/services"
)

var (
	queryLimit int
	queryJSON  bool

	// queryService is injectable for tests; nil wires the real stack.
	queryService driving.QueryService
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search the index by semantic similarity",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 10, "maximum number of results")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	service := queryService
	if service == nil {
		stack, err := openStack(ctx, true)
		if err != nil {
			return err
		}
		defer stack.close()
		service = services.NewQuery(stack.embedder, stack.index, stack.store.HashStore())
	}

	hits, err := service.SimilaritySearch(ctx, args[0], queryLimit)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		return outputHitsJSON(cmd, hits)
	}
	return outputHitsTable(cmd, hits)
}

func outputHitsJSON(cmd *cobra.Command, hits []domain.VectorHit) error {
	type hitJSON struct {
		Digest string  `json:"digest"`
		Score  float64 `json:"score"`
	}
	out := make([]hitJSON, len(hits))
	for i, h := range hits {
		out[i] = hitJSON{Digest: h.Digest.String(), Score: h.Score}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputHitsTable(cmd *cobra.Command, hits []domain.VectorHit) error {
	if len(hits) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	cmd.Println("Results:")
	for i, h := range hits {
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, h.Digest.Short(), h.Score)
	}
	return nil
}
