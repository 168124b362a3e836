package face

import "image"

// GrayscaleCrop extracts the pixels within box (clamped to img's bounds)
// as 8-bit grayscale, row-major, for use with BlurMetric.
func GrayscaleCrop(img image.Image, box BBox) (gray []byte, width, height int) {
	bounds := img.Bounds()
	x1 := clampInt(int(box.X1), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(box.Y1), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(box.X2), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(box.Y2), bounds.Min.Y, bounds.Max.Y)

	width = x2 - x1
	height = y2 - y1
	if width <= 0 || height <= 0 {
		return nil, 0, 0
	}

	gray = make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x1+x, y1+y).RGBA()
			// Rec. 601 luma, operating on the 16-bit-per-channel values RGBA() returns.
			lum := (299*r + 587*g + 114*b) / 1000
			gray[y*width+x] = byte(lum >> 8)
		}
	}
	return gray, width, height
}
