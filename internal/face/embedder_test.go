package face

import (
	"math"
	"testing"

	"github.com/kestrel-systems/faceaccess/internal/config"
)

func testFaceConfig(backend string) config.FaceConfig {
	return config.FaceConfig{EmbedderBackend: backend, EmbeddingDim: 512}
}

func TestL2NormalizeProducesUnitVector(t *testing.T) {
	v := []float32{3, 4, 0}
	norm := l2Normalize(v)

	var sumSq float64
	for _, x := range norm {
		sumSq += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(sumSq)-1) > 1e-5 {
		t.Fatalf("normalized vector norm = %v, want ~1", math.Sqrt(sumSq))
	}
}

func TestL2NormalizeZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	norm := l2Normalize(v)
	for _, x := range norm {
		if x != 0 {
			t.Fatalf("expected zero vector unchanged, got %v", norm)
		}
	}
}

func TestNewEmbedderRejectsUnknownBackend(t *testing.T) {
	_, err := NewEmbedder(testFaceConfig("nonsense"))
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewEmbedderDefaultsToHTTP(t *testing.T) {
	e, err := NewEmbedder(testFaceConfig(""))
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	if _, ok := e.(*httpEmbedder); !ok {
		t.Fatalf("expected *httpEmbedder, got %T", e)
	}
}
