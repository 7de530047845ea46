package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/kilnworks/kiln-cli/internal/adapters/driven/config/file"
	"github.com/kilnworks/kiln-cli/internal/adapters/driven/embedding/ollama"
	"github.com/kilnworks/kiln-cli/internal/adapters/driven/embedding/openai"
	"github.com/kilnworks/kiln-cli/internal/adapters/driven/storage/sqlite"
	"github.com/kilnworks/kiln-cli/internal/adapters/driven/vector"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
	"github.com/kilnworks/kiln-cli/internal/core/services"
	"github.com/kilnworks/kiln-cli/internal/logger"
	"github.com/kilnworks/kiln-cli/internal/normalisers/markdown"
	"github.com/kilnworks/kiln-cli/internal/normalisers/plaintext"
)

// stack holds the wired adapters shared by the commands.
type stack struct {
	cfg      *file.Config
	store    *sqlite.Store
	embedder driven.EmbeddingService
	index    *vector.Index
}

// openStack loads config and opens the store. withEmbedder also
// constructs the embedding service and warms the vector index from
// persisted embeddings; without it, semantic features are disabled.
func openStack(ctx context.Context, withEmbedder bool) (*stack, error) {
	cfg, err := file.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	s := &stack{cfg: cfg, store: store}
	if !withEmbedder {
		return s, nil
	}

	s.embedder, err = buildEmbedder(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	s.index = vector.NewIndex(s.embedder.Dimensions())
	records, err := store.EmbeddingStore().LoadEmbeddings(ctx)
	if err != nil {
		logger.Warn("Could not load persisted embeddings, starting cold: %v", err)
	} else if err := s.index.Warm(ctx, records); err != nil {
		logger.Warn("Vector index warm-up failed: %v", err)
	} else {
		logger.Info("Vector index warmed with %d embeddings", s.index.Len())
	}
	return s, nil
}

func (s *stack) close() {
	if s.embedder != nil {
		s.embedder.Close()
	}
	if s.index != nil {
		s.index.Close()
	}
	s.store.Close()
}

func buildEmbedder(cfg *file.Config) (driven.EmbeddingService, error) {
	switch cfg.Embedding.Provider {
	case "ollama":
		return ollama.NewEmbeddingService(ollama.Config{
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		}), nil
	case "openai":
		keyEnv := cfg.Embedding.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		return openai.NewEmbeddingService(openai.Config{
			APIKey:     os.Getenv(keyEnv),
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// vaultDir returns the vault to operate on: the flag when given,
// otherwise the configured vault.
func vaultDir(cfg *file.Config, flag string) (string, error) {
	vault := flag
	if vault == "" {
		vault = cfg.Vault
	}
	if vault == "" {
		return "", fmt.Errorf("no vault configured: pass --vault or set vault in config.toml")
	}
	info, err := os.Stat(vault)
	if err != nil {
		return "", fmt.Errorf("vault %s: %w", vault, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("vault %s is not a directory", vault)
	}
	return vault, nil
}

// buildPipeline wires a resolver, the two consumers, and a pipeline for
// one run over vault.
func (s *stack) buildPipeline(vault string) (*services.Pipeline, *services.Resolver) {
	session := services.NewSession(s.store.HashStore())
	resolver := services.NewResolver(vault, markdown.New(), session)
	resolver.RegisterParser(".txt", plaintext.New())

	consumers := []driven.Consumer{services.NewHashWriter(s.store.HashStore(), session)}
	if s.embedder != nil {
		consumers = append(consumers, services.NewEmbedGate(s.embedder, s.index, s.store.EmbeddingStore(), services.EmbedGateConfig{
			BatchSize:         s.cfg.Embedding.BatchSize,
			Window:            s.cfg.Embedding.BatchWindow(),
			RequestsPerSecond: s.cfg.Embedding.RequestsPerSecond,
		}))
	}

	pipeline := services.NewPipeline(services.PipelineConfig{
		Workers:          s.cfg.Pipeline.Workers,
		IngressCapacity:  s.cfg.Pipeline.IngressCapacity,
		FanoutCapacity:   s.cfg.Pipeline.FanoutCapacity,
		ConsumerCapacity: s.cfg.Pipeline.ConsumerCapacity,
		Breaker: services.BreakerSettings{
			FailureThreshold: s.cfg.Breaker.FailureThreshold,
			Cooldown:         s.cfg.Breaker.Cooldown(),
			SuccessThreshold: s.cfg.Breaker.SuccessThreshold,
		},
	}, resolver, consumers)
	return pipeline, resolver
}
