package face

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestAlignProducesSquareInputSize(t *testing.T) {
	img := solidImage(200, 200, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	aligner := NewAligner(112)

	out, err := aligner.Align(img, BBox{X1: 20, Y1: 20, X2: 120, Y2: 120})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	bounds := out.Bounds()
	if bounds.Dx() != 112 || bounds.Dy() != 112 {
		t.Fatalf("got %dx%d, want 112x112", bounds.Dx(), bounds.Dy())
	}
}

func TestAlignDefaultsInputSizeWhenUnset(t *testing.T) {
	aligner := NewAligner(0)
	if aligner.InputSize != 112 {
		t.Fatalf("InputSize = %d, want default 112", aligner.InputSize)
	}
}

func TestAlignClampsBoxToFrameBounds(t *testing.T) {
	img := solidImage(50, 50, color.RGBA{R: 255, A: 255})
	aligner := NewAligner(64)

	out, err := aligner.Align(img, BBox{X1: -100, Y1: -100, X2: 1000, Y2: 1000})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	bounds := out.Bounds()
	if bounds.Dx() != 64 || bounds.Dy() != 64 {
		t.Fatalf("got %dx%d, want 64x64", bounds.Dx(), bounds.Dy())
	}
}

func TestAlignRejectsDegenerateBox(t *testing.T) {
	img := solidImage(50, 50, color.RGBA{A: 255})
	aligner := NewAligner(64)

	if _, err := aligner.Align(img, BBox{X1: 10, Y1: 10, X2: 10, Y2: 10}); err == nil {
		t.Fatal("expected an error for a zero-area box")
	}
}
