package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilnworks/kiln-cli/internal/connectors/filesystem"
	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/logger"
)

var watchVault string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the vault and index changes as they happen",
	Long: `Runs the indexing pipeline continuously, re-indexing documents as
they change on disk. Stop with Ctrl-C; in-flight work is flushed before
exit.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchVault, "vault", "", "vault directory (overrides config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := openStack(ctx, true)
	if err != nil {
		return err
	}
	defer stack.close()

	vault, err := vaultDir(stack.cfg, watchVault)
	if err != nil {
		return err
	}

	watcher, err := filesystem.New(vault, nil, stack.cfg.Pipeline.Debounce())
	if err != nil {
		return err
	}
	defer watcher.Close()

	pipeline, _ := stack.buildPipeline(vault)
	pipeline.Start(ctx)

	go func() {
		for ev := range pipeline.Completions() {
			if ev.Deleted {
				cmd.Printf("%s: removed from index\n", ev.Path)
				continue
			}
			cmd.Printf("%s: %d blocks reindexed in %dms\n", ev.Path, ev.BlocksReindexed, ev.Duration.Milliseconds())
		}
	}()

	cmd.Printf("Watching %s (Ctrl-C to stop)\n", vault)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down pipeline")
			return pipeline.Shutdown(context.Background())

		case event, ok := <-watcher.Events():
			if !ok {
				return pipeline.Shutdown(context.Background())
			}
			if err := pipeline.Submit(ctx, event); err != nil {
				if errors.Is(err, domain.ErrShutdown) || errors.Is(err, context.Canceled) {
					return pipeline.Shutdown(context.Background())
				}
				return err
			}

		case err, ok := <-watcher.Errors():
			if ok && err != nil {
				logger.Warn("Watcher: %v", err)
			}
		}
	}
}
