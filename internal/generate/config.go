package generate

import (
	"fmt"
	"time"
)

// Provider identifies a generation backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// Config represents generation backend configuration.
type Config struct {
	Provider      Provider      `json:"provider"`
	Model         string        `json:"model"`
	APIKey        string        `json:"-"`
	BaseURL       string        `json:"base_url"`
	Timeout       time.Duration `json:"timeout"`
	Temperature   float64       `json:"temperature"`
	MaxTokens     int           `json:"max_tokens"`
	MinConfidence float64       `json:"min_confidence"` // decline below this
}

// DefaultConfig returns generation defaults.
func DefaultConfig() Config {
	return Config{
		Provider:      ProviderOllama,
		Model:         "llama3",
		Timeout:       8 * time.Second,
		Temperature:   0.1,
		MaxTokens:     1000,
		MinConfidence: 0.3,
	}
}

// Validate checks provider-specific requirements and fills provider
// default base URLs.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig().Timeout
	}

	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultConfig().MaxTokens
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("API key is required for OpenAI provider")
		}

		if c.BaseURL == "" {
			c.BaseURL = "https://api.openai.com/v1"
		}
	case ProviderAnthropic:
		if c.APIKey == "" {
			return fmt.Errorf("API key is required for Anthropic provider")
		}

		if c.BaseURL == "" {
			c.BaseURL = "https://api.anthropic.com/v1"
		}
	case ProviderOllama:
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}

	return nil
}
