// Package config loads application configuration from YAML with
// environment fallbacks for secrets.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Embedding ProviderConfig  `yaml:"embedding"`
	LLM       ProviderConfig  `yaml:"llm"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Index     IndexConfig     `yaml:"index"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	RequestTimeout int    `yaml:"request_timeout_seconds"`
}

// RetrievalConfig holds the retrieval tunables. The thresholds were
// discovered empirically; keep them here so tuning never needs a code
// change.
type RetrievalConfig struct {
	TopK              int     `yaml:"top_k"`
	SearchThreshold   float64 `yaml:"search_threshold"`
	CentroidThreshold float64 `yaml:"centroid_threshold"`
}

// PipelineConfig holds orchestrator tunables.
type PipelineConfig struct {
	ContextWindow int `yaml:"context_window"`
}

// ProviderConfig selects and configures a model provider.
type ProviderConfig struct {
	Provider       string `yaml:"provider"` // "ollama" | "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint,omitempty"`
	OllamaModel    string `yaml:"ollama_model,omitempty"`
	GenAIAPIKey    string `yaml:"genai_api_key,omitempty"`
	GenAIModel     string `yaml:"genai_model,omitempty"`
	TaskType       string `yaml:"task_type,omitempty"`
}

// CatalogConfig locates the refined menu export.
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// IndexConfig holds index persistence configuration.
type IndexConfig struct {
	DataPath string `yaml:"data_path"`
}

// SessionConfig holds conversation store configuration.
type SessionConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug | info | warn | error
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 60,
		},
		Retrieval: RetrievalConfig{
			TopK:              20,
			SearchThreshold:   0.8,
			CentroidThreshold: 0.30,
		},
		Pipeline: PipelineConfig{
			ContextWindow: 5,
		},
		Embedding: ProviderConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "nomic-embed-text",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
		},
		LLM: ProviderConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "llama3.2",
			GenAIModel:     "gemini-2.0-flash",
		},
		Catalog: CatalogConfig{
			Path:  "./seed_data/dishes_refined.json",
			Watch: true,
		},
		Index: IndexConfig{
			DataPath: "./data",
		},
		Session: SessionConfig{
			MaxTurns: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, layered over the defaults. An
// empty path returns the defaults. GENAI_API_KEY in the environment
// overrides both provider keys so secrets stay out of the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if key := os.Getenv("GENAI_API_KEY"); key != "" {
		if cfg.Embedding.GenAIAPIKey == "" {
			cfg.Embedding.GenAIAPIKey = key
		}
		if cfg.LLM.GenAIAPIKey == "" {
			cfg.LLM.GenAIAPIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.SearchThreshold < 0 || c.Retrieval.SearchThreshold > 1 {
		return fmt.Errorf("retrieval.search_threshold must be in [0,1], got %g", c.Retrieval.SearchThreshold)
	}
	if c.Retrieval.CentroidThreshold < -1 || c.Retrieval.CentroidThreshold > 1 {
		return fmt.Errorf("retrieval.centroid_threshold must be in [-1,1], got %g", c.Retrieval.CentroidThreshold)
	}
	if c.Pipeline.ContextWindow <= 0 {
		return fmt.Errorf("pipeline.context_window must be positive, got %d", c.Pipeline.ContextWindow)
	}
	return nil
}
