package embedding

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hrygo/ragd/internal/errs"
)

// OpenAIProvider calls an OpenAI-compatible embeddings endpoint via
// github.com/sashabaranov/go-openai, the same client ai/core/llm/service.go
// uses for chat completions — here pointed at its CreateEmbeddings call
// instead, so it can sit in front of a local llama.cpp/Ollama/TEI server
// as well as the real OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAIProvider builds a provider against baseURL (empty uses the
// public OpenAI API) with the given model and expected dimension D.
func NewOpenAIProvider(apiKey, baseURL, model string, dim int) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    dim,
	}
}

func (p *OpenAIProvider) Dimension() int { return p.dim }

// ParallelSafe reports true: go-openai's client is a thin wrapper over
// net/http's Client, which is safe for concurrent use.
func (p *OpenAIProvider) ParallelSafe() bool { return true }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, errors.Wrap(errs.ErrEmbeddingFailed, err.Error())
	}
	if len(resp.Data) == 0 {
		return nil, errors.Wrap(errs.ErrEmbeddingFailed, "embedding response contained no data")
	}
	return resp.Data[0].Embedding, nil
}
