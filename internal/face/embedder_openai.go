package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIEmbeddingModel = openai.EmbeddingModelTextEmbedding3Small

// openaiEmbedder computes a face embedding via OpenAI's embeddings
// endpoint, passing the aligned crop as a data URL input.
type openaiEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

func newOpenAIEmbedder(apiKey, model string, dim int) (*openaiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("face: openai embedder requires embedder_api_key")
	}
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiEmbedder{client: &client, model: model, dim: dim}, nil
}

func (e *openaiEmbedder) Dim() int { return e.dim }

func (e *openaiEmbedder) Embed(ctx context.Context, aligned image.Image) ([]float32, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, aligned, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("encode aligned crop: %w", err)
	}
	imageRef := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(imageRef)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings API error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings API returned no data")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, x := range resp.Data[0].Embedding {
		vec[i] = float32(x)
	}
	return l2Normalize(vec), nil
}
