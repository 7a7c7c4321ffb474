package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// DenseEmbedder produces 1536-dim dense vectors via the embedding API.
type DenseEmbedder struct {
	client openai.Client
	model  string
}

// NewDenseEmbedder builds a DenseEmbedder for the given model. Extra request
// options (base URL overrides for tests) are passed through.
func NewDenseEmbedder(apiKey, model string, opts ...option.RequestOption) *DenseEmbedder {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &DenseEmbedder{client: openai.NewClient(all...), model: model}
}

// EmbedTexts returns one dense vector per input, aligned by stable index.
// Empty inputs are filtered before the provider call and come back nil.
func (e *DenseEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	kept, pos := filterEmpty(texts)
	if len(kept) == 0 {
		return make([][]float32, len(texts)), nil
	}

	dense := make([][]float32, 0, len(kept))
	for start := 0; start < len(kept); start += maxBatch {
		end := start + maxBatch
		if end > len(kept) {
			end = len(kept)
		}
		batch := kept[start:end]
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		})
		if err != nil {
			return nil, fmt.Errorf("dense embed call failed: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("unexpected embedding count: got %d, want %d", len(resp.Data), len(batch))
		}
		for _, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for i, f := range d.Embedding {
				vec[i] = float32(f)
			}
			dense = append(dense, vec)
		}
	}
	return AlignDense(len(texts), pos, dense), nil
}
