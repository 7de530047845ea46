package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driving"
	"github.com/kilnworks/kiln-cli/internal/core/services"
)

var (
	recordsJSON bool

	// recordsService is injectable for tests; nil wires the real stack.
	recordsService driving.QueryService
)

var recordsCmd = &cobra.Command{
	Use:   "records [path]",
	Short: "Show the indexed hash records for a document",
	Long: `Prints the persisted block digests for a document path (relative to
the vault root). These records are the index's ground truth of what was
last successfully indexed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecords,
}

func init() {
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "output records as JSON")
	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	service := recordsService
	if service == nil {
		stack, err := openStack(ctx, false)
		if err != nil {
			return err
		}
		defer stack.close()
		service = services.NewQuery(nil, nil, stack.store.HashStore())
	}

	records, err := service.HashRecords(ctx, args[0])
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			cmd.Printf("No records for %s (not indexed yet)\n", args[0])
			return nil
		}
		return fmt.Errorf("lookup failed: %w", err)
	}

	if recordsJSON {
		return outputRecordsJSON(cmd, records)
	}

	cmd.Printf("%s: %d blocks\n", args[0], len(records))
	for _, r := range records {
		cmd.Printf("  [%3d] %s  %6d bytes  %s\n",
			r.BlockIndex, r.Digest.Short(), r.FileSize, r.LastModified.Format(time.RFC3339))
	}
	return nil
}

func outputRecordsJSON(cmd *cobra.Command, records []domain.HashRecord) error {
	type recordJSON struct {
		Path         string    `json:"path"`
		BlockIndex   uint32    `json:"block_index"`
		Digest       string    `json:"digest"`
		FileSize     int64     `json:"file_size"`
		LastModified time.Time `json:"last_modified"`
	}
	out := make([]recordJSON, len(records))
	for i, r := range records {
		out[i] = recordJSON{
			Path:         r.Path,
			BlockIndex:   r.BlockIndex,
			Digest:       r.Digest.String(),
			FileSize:     r.FileSize,
			LastModified: r.LastModified,
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
