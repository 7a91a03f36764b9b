// Package embedding produces text embeddings for skill retrieval.
// Embedding failures are deliberately soft: the caller gets nil and the
// skill pipeline continues without vector search.
package embedding

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const maxEmbedChars = 4000

// Provider embeds text through the OpenAI embeddings endpoint.
type Provider struct {
	model   string
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a provider. API keys are supplied per call since they arrive
// with each request.
func New(model, baseURL string, timeout time.Duration, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{model: model, baseURL: baseURL, timeout: timeout, logger: logger}
}

// Embed returns the embedding vector for text, or nil when the text is
// empty or the upstream call fails. Never returns an error; failures are
// logged and swallowed.
func (p *Provider) Embed(ctx context.Context, apiKey, text string) []float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if runes := []rune(trimmed); len(runes) > maxEmbedChars {
		trimmed = strings.TrimSpace(string(runes[:maxEmbedChars]))
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	if p.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(p.timeout))
	}
	client := openai.NewClient(opts...)

	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(trimmed)},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		p.logger.Warn("embedding_failed", "error", err)
		return nil
	}
	if len(resp.Data) == 0 {
		return nil
	}
	return resp.Data[0].Embedding
}
