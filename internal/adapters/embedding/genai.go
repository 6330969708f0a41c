package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/safebites/menuquery/internal/backoff"
	"github.com/safebites/menuquery/internal/domain/entities"
)

// GenAIAdapter generates embeddings using Google's Gemini API.
type GenAIAdapter struct {
	model    string
	taskType string
	retry    backoff.Config

	// embed performs one provider call. The SDK client is a concrete
	// struct, so the call sits behind this seam.
	embed func(ctx context.Context, texts []string) ([][]float32, error)
}

// NewGenAIAdapter creates a new GenAI embedding adapter.
func NewGenAIAdapter(ctx context.Context, apiKey, model, taskType string) (*GenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}

	a := &GenAIAdapter{
		model:    model,
		taskType: taskType,
		retry:    backoff.DefaultConfig(),
	}
	a.embed = func(ctx context.Context, texts []string) ([][]float32, error) {
		contents := make([]*genai.Content, len(texts))
		for i, text := range texts {
			contents[i] = genai.NewContentFromText(text, genai.RoleUser)
		}
		result, err := client.Models.EmbedContent(ctx, a.model, contents, &genai.EmbedContentConfig{
			TaskType: a.taskType,
		})
		if err != nil {
			return nil, err
		}
		embeddings := make([][]float32, len(result.Embeddings))
		for i, emb := range result.Embeddings {
			embeddings[i] = emb.Values
		}
		return embeddings, nil
	}
	return a, nil
}

// Embed generates an embedding for a single text.
func (a *GenAIAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single
// provider call, retrying transient failures with bounded backoff.
func (a *GenAIAdapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var embeddings [][]float32
	err := backoff.Do(ctx, a.retry, func() error {
		vecs, err := a.embed(ctx, texts)
		if err != nil {
			return err
		}
		embeddings = vecs
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: GenAI embed: %v", entities.ErrExternalService, err)
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: GenAI returned %d embeddings for %d texts",
			entities.ErrMalformedModelOutput, len(embeddings), len(texts))
	}
	return embeddings, nil
}
