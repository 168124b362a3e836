package face

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/kestrel-systems/faceaccess/internal/config"
	"github.com/kestrel-systems/faceaccess/internal/faulterr"
)

// Embedder turns an aligned face crop into a fixed-dimension vector.
// Implementations are expected to L2-normalize their output; the store
// and matcher both assume unit-norm vectors.
type Embedder interface {
	Embed(ctx context.Context, aligned image.Image) ([]float32, error)
	Dim() int
}

// NewEmbedder selects a backend per cfg.EmbedderBackend. "onnx" and
// "opencv" both speak to a local inference server over HTTP using the
// same wire contract; "openai" and "gemini" call a hosted multimodal API.
func NewEmbedder(cfg config.FaceConfig) (Embedder, error) {
	switch cfg.EmbedderBackend {
	case "", "onnx", "opencv":
		return newHTTPEmbedder(cfg.EmbedderURL, cfg.EmbedderModel, cfg.EmbeddingDim)
	case "openai":
		return newOpenAIEmbedder(cfg.EmbedderAPIKey, cfg.EmbedderModel, cfg.EmbeddingDim)
	case "gemini":
		return newGeminiEmbedder(cfg.EmbedderAPIKey, cfg.EmbedderModel, cfg.EmbeddingDim)
	default:
		return nil, faulterr.New(faulterr.ConfigInvalid, "face.NewEmbedder", fmt.Errorf("unknown embedder backend %q", cfg.EmbedderBackend))
	}
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq <= 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
