package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/domain/ports"
)

// Config holds language model provider configuration.
type Config struct {
	// Provider: "ollama" or "genai"
	Provider string `yaml:"provider"`

	// Ollama configuration
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	// GenAI configuration
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "llama3.2",
		GenAIModel:     "gemini-2.0-flash",
	}
}

// NewModel creates a language model for the configured provider.
func NewModel(ctx context.Context, cfg Config, logger *zap.Logger) (ports.LanguageModel, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaAdapter(cfg.OllamaEndpoint, cfg.OllamaModel, logger), nil
	case "genai":
		return NewGenAIAdapter(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}
