package face

import (
	"image"
	"image/color"
	"testing"
)

func checkerboard(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestGrayscaleCropDimensions(t *testing.T) {
	img := checkerboard(100, 100)
	gray, w, h := GrayscaleCrop(img, BBox{X1: 10, Y1: 20, X2: 40, Y2: 60})
	if w != 30 || h != 40 {
		t.Fatalf("got w=%d h=%d, want w=30 h=40", w, h)
	}
	if len(gray) != w*h {
		t.Fatalf("len(gray)=%d, want %d", len(gray), w*h)
	}
}

func TestGrayscaleCropClampsToBounds(t *testing.T) {
	img := checkerboard(50, 50)
	gray, w, h := GrayscaleCrop(img, BBox{X1: -20, Y1: -20, X2: 1000, Y2: 1000})
	if w != 50 || h != 50 {
		t.Fatalf("got w=%d h=%d, want w=50 h=50", w, h)
	}
	if len(gray) != 2500 {
		t.Fatalf("len(gray)=%d, want 2500", len(gray))
	}
}

func TestGrayscaleCropDegenerateBoxIsEmpty(t *testing.T) {
	img := checkerboard(50, 50)
	gray, w, h := GrayscaleCrop(img, BBox{X1: 10, Y1: 10, X2: 10, Y2: 10})
	if gray != nil || w != 0 || h != 0 {
		t.Fatalf("expected empty result for degenerate box, got w=%d h=%d len=%d", w, h, len(gray))
	}
}

func TestGrayscaleCropBlackAndWhiteExtremes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.White)
		}
	}
	gray, w, h := GrayscaleCrop(img, BBox{X1: 0, Y1: 0, X2: 4, Y2: 4})
	if w != 4 || h != 4 {
		t.Fatalf("got w=%d h=%d, want 4x4", w, h)
	}
	for i, v := range gray {
		if v != 255 {
			t.Fatalf("gray[%d] = %d, want 255 on a pure white crop", i, v)
		}
	}
}
