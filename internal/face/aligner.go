package face

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Aligner crops a detected face out of a frame and resizes it to the
// embedder's expected square input size.
type Aligner interface {
	Align(img image.Image, box BBox) (image.Image, error)
}

// CropResizeAligner crops the bounding box (clamped to the frame) and
// scales it to a square InputSize x InputSize image via Catmull-Rom
// interpolation.
type CropResizeAligner struct {
	InputSize int
}

func NewAligner(inputSize int) *CropResizeAligner {
	if inputSize <= 0 {
		inputSize = 112
	}
	return &CropResizeAligner{InputSize: inputSize}
}

func (a *CropResizeAligner) Align(img image.Image, box BBox) (image.Image, error) {
	bounds := img.Bounds()
	rect := image.Rect(
		clampInt(int(box.X1), bounds.Min.X, bounds.Max.X),
		clampInt(int(box.Y1), bounds.Min.Y, bounds.Max.Y),
		clampInt(int(box.X2), bounds.Min.X, bounds.Max.X),
		clampInt(int(box.Y2), bounds.Min.Y, bounds.Max.Y),
	)
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, errNoFace
	}

	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)

	dst := image.NewRGBA(image.Rect(0, 0, a.InputSize, a.InputSize))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), cropped, cropped.Bounds(), xdraw.Over, nil)
	return dst, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
