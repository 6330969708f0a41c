package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/safebites/menuquery/internal/backoff"
	"github.com/safebites/menuquery/internal/domain/entities"
)

// GenAIAdapter implements ports.LanguageModel using Google's Gemini API.
type GenAIAdapter struct {
	model string
	retry backoff.Config

	// generate performs one provider call. The SDK client is a concrete
	// struct, so the call sits behind this seam.
	generate func(ctx context.Context, prompt string) (string, error)
}

// NewGenAIAdapter creates a new GenAI language model adapter.
func NewGenAIAdapter(ctx context.Context, apiKey, model string) (*GenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}

	a := &GenAIAdapter{model: model, retry: backoff.DefaultConfig()}
	a.generate = func(ctx context.Context, prompt string) (string, error) {
		contents := []*genai.Content{
			genai.NewContentFromText(prompt, genai.RoleUser),
		}
		resp, err := client.Models.GenerateContent(ctx, a.model, contents, nil)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return a, nil
}

// Complete produces a completion for the prompt, retrying transient
// failures with bounded backoff.
func (a *GenAIAdapter) Complete(ctx context.Context, prompt string) (string, error) {
	var text string
	err := backoff.Do(ctx, a.retry, func() error {
		out, err := a.generate(ctx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: GenAI generate: %v", entities.ErrExternalService, err)
	}

	if text == "" {
		return "", fmt.Errorf("%w: GenAI returned no text", entities.ErrMalformedModelOutput)
	}
	return text, nil
}
