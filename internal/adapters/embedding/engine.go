package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/domain/ports"
)

// Config holds embedding provider configuration.
type Config struct {
	// Provider: "ollama" or "genai"
	Provider string `yaml:"provider"`

	// Ollama configuration
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	// GenAI configuration
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
	TaskType    string `yaml:"task_type"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "nomic-embed-text",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
	}
}

// NewService creates an embedding service for the configured provider.
func NewService(ctx context.Context, cfg Config, logger *zap.Logger) (ports.EmbeddingService, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaAdapter(cfg.OllamaEndpoint, cfg.OllamaModel, logger), nil
	case "genai":
		return NewGenAIAdapter(ctx, cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}
