package face

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"google.golang.org/genai"
)

const defaultGeminiEmbeddingModel = "gemini-embedding-001"

// geminiEmbedder computes a face embedding via the Gemini API's
// multimodal embedding model.
type geminiEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

func newGeminiEmbedder(apiKey, model string, dim int) (*geminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("face: gemini embedder requires embedder_api_key")
	}
	if model == "" {
		model = defaultGeminiEmbeddingModel
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiEmbedder{client: client, model: model, dim: dim}, nil
}

func (e *geminiEmbedder) Dim() int { return e.dim }

func (e *geminiEmbedder) Embed(ctx context.Context, aligned image.Image) ([]float32, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, aligned, &jpeg.Options{Quality: 92}); err != nil {
		return nil, fmt.Errorf("encode aligned crop: %w", err)
	}

	contents := []*genai.Content{
		{Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: buf.Bytes()}}}},
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content error: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini returned no embedding")
	}

	return l2Normalize(resp.Embeddings[0].Values), nil
}
