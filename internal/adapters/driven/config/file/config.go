package file

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all kiln settings, persisted as TOML in the kiln
// config directory.
type Config struct {
	// Vault is the root directory of the note collection to index.
	Vault string `toml:"vault"`

	// DataDir holds the SQLite database. Defaults to <configDir>/data.
	DataDir string `toml:"data_dir"`

	Embedding EmbeddingConfig `toml:"embedding"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Breaker   BreakerConfig   `toml:"breaker"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "ollama" or "openai".
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	// BaseURL overrides the provider endpoint. Empty uses the provider default.
	BaseURL string `toml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `toml:"api_key_env"`
	// Dimensions sets the embedding vector size. Zero uses the model's
	// native size.
	Dimensions int `toml:"dimensions"`
	// BatchSize caps how many blocks are embedded per request.
	BatchSize int `toml:"batch_size"`
	// BatchWindowMS flushes a partial batch after this many milliseconds.
	BatchWindowMS int `toml:"batch_window_ms"`
	// RequestsPerSecond rate-limits calls to the provider. Zero disables.
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// PipelineConfig tunes the indexing pipeline.
type PipelineConfig struct {
	// Workers is the hash worker pool size. Zero means runtime.NumCPU().
	Workers int `toml:"workers"`
	// IngressCapacity bounds the file event queue.
	IngressCapacity int `toml:"ingress_capacity"`
	// FanoutCapacity bounds the dirty block queue feeding consumers.
	FanoutCapacity int `toml:"fanout_capacity"`
	// ConsumerCapacity bounds each consumer inbox.
	ConsumerCapacity int `toml:"consumer_capacity"`
	// DebounceMS coalesces rapid file events in watch mode.
	DebounceMS int `toml:"debounce_ms"`
}

// BreakerConfig tunes the per-consumer circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `toml:"failure_threshold"`
	CooldownSeconds  int `toml:"cooldown_seconds"`
	SuccessThreshold int `toml:"success_threshold"`
}

// Default values applied when a field is unset.
const (
	DefaultEmbeddingProvider = "ollama"
	DefaultEmbeddingModel    = "nomic-embed-text"
	DefaultBatchSize         = 32
	DefaultBatchWindowMS     = 200
	DefaultIngressCapacity   = 256
	DefaultFanoutCapacity    = 1024
	DefaultConsumerCapacity  = 1024
	DefaultDebounceMS        = 500
	DefaultFailureThreshold  = 5
	DefaultCooldownSeconds   = 30
	DefaultSuccessThreshold  = 3
)

// Load reads config.toml from configDir, applying defaults for any
// missing fields. If configDir is empty, defaults to ~/.kiln. A missing
// file yields a default config rather than an error.
func Load(configDir string) (*Config, error) {
	dir, err := resolveDir(configDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	data, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyDefaults(dir)
	return cfg, nil
}

// Save writes the config as TOML to configDir/config.toml, creating the
// directory if needed.
func Save(configDir string, cfg *Config) error {
	dir, err := resolveDir(configDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func resolveDir(configDir string) (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kiln"), nil
}

func (c *Config) applyDefaults(configDir string) {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(configDir, "data")
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = DefaultEmbeddingProvider
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultEmbeddingModel
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = DefaultBatchSize
	}
	if c.Embedding.BatchWindowMS <= 0 {
		c.Embedding.BatchWindowMS = DefaultBatchWindowMS
	}
	if c.Pipeline.IngressCapacity <= 0 {
		c.Pipeline.IngressCapacity = DefaultIngressCapacity
	}
	if c.Pipeline.FanoutCapacity <= 0 {
		c.Pipeline.FanoutCapacity = DefaultFanoutCapacity
	}
	if c.Pipeline.ConsumerCapacity <= 0 {
		c.Pipeline.ConsumerCapacity = DefaultConsumerCapacity
	}
	if c.Pipeline.DebounceMS <= 0 {
		c.Pipeline.DebounceMS = DefaultDebounceMS
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.Breaker.CooldownSeconds <= 0 {
		c.Breaker.CooldownSeconds = DefaultCooldownSeconds
	}
	if c.Breaker.SuccessThreshold <= 0 {
		c.Breaker.SuccessThreshold = DefaultSuccessThreshold
	}
}

// BatchWindow returns the batch flush window as a duration.
func (c EmbeddingConfig) BatchWindow() time.Duration {
	return time.Duration(c.BatchWindowMS) * time.Millisecond
}

// Debounce returns the watch debounce interval as a duration.
func (c PipelineConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Cooldown returns the breaker cooldown as a duration.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}
