package embedding

import (
	"context"
	"fmt"
	"time"
)

// Provider defines the interface for embedding providers
type Provider interface {
	// Embed generates an embedding vector for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of embeddings produced by this provider
	Dimensions() int

	// Name returns the provider name for identification
	Name() string
}

// Config represents embedding provider configuration
type Config struct {
	Provider   string        `json:"provider"`   // "ollama" or "hash"
	Model      string        `json:"model"`      // Model name
	BaseURL    string        `json:"base_url"`   // API endpoint for remote providers
	Dimensions int           `json:"dimensions"` // Expected embedding dimensions
	Timeout    time.Duration `json:"timeout"`    // Per-call timeout
}

// DefaultConfig returns default embedding configuration
func DefaultConfig() Config {
	return Config{
		Provider:   "hash",
		Model:      "nomic-embed-text",
		BaseURL:    "http://localhost:11434",
		Dimensions: 256,
		Timeout:    5 * time.Second,
	}
}

// NewProvider builds a provider from configuration.
func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "ollama":
		return NewOllamaProvider(config)
	case "hash", "":
		return NewHashProvider(config.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", config.Provider)
	}
}
