// Package llm provides language model adapters.
// Clean Architecture: Adapters implementing ports.LanguageModel.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/safebites/menuquery/internal/backoff"
	"github.com/safebites/menuquery/internal/domain/entities"
)

// OllamaAdapter implements ports.LanguageModel using the Ollama API.
type OllamaAdapter struct {
	baseURL string
	model   string
	client  *http.Client
	retry   backoff.Config
	logger  *zap.Logger
}

// NewOllamaAdapter creates a new Ollama language model adapter.
func NewOllamaAdapter(baseURL, model string, logger *zap.Logger) *OllamaAdapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaAdapter{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		retry:  backoff.DefaultConfig(),
		logger: logger,
	}
}

// ollamaGenerateRequest is the Ollama generate API request.
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// ollamaGenerateResponse is the Ollama generate API response.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Complete produces a completion for the prompt, retrying transient
// provider failures with bounded backoff.
func (a *OllamaAdapter) Complete(ctx context.Context, prompt string) (string, error) {
	var out string
	err := backoff.Do(ctx, a.retry, func() error {
		resp, err := a.completeOnce(ctx, prompt)
		if err != nil {
			a.logger.Debug("completion attempt failed", zap.Error(err))
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", entities.ErrExternalService, err)
	}
	return out, nil
}

func (a *OllamaAdapter) completeOnce(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaGenerateRequest{
		Model:  a.model,
		Prompt: prompt,
		Stream: false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Ollama returned status %d", resp.StatusCode)
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return genResp.Response, nil
}
