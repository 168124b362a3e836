package face

import "math"

// BBox is a pixel-space bounding box in corner form [x1, y1, x2, y2].
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Area is the pixel area of the box; degenerate boxes report zero.
func (b BBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Width and Height report the box's pixel dimensions.
func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// AspectRatio is width/height, or 0 for a degenerate box.
func (b BBox) AspectRatio() float64 {
	h := b.Height()
	if h <= 0 {
		return 0
	}
	return b.Width() / h
}

// TouchesEdge reports whether the box touches any border of a
// frameWidth x frameHeight image, within margin pixels.
func (b BBox) TouchesEdge(frameWidth, frameHeight int, margin float64) bool {
	return b.X1 <= margin || b.Y1 <= margin ||
		b.X2 >= float64(frameWidth)-margin || b.Y2 >= float64(frameHeight)-margin
}

// Largest returns the box with the greatest area among boxes, and its
// index. It panics if boxes is empty; callers are expected to have
// already checked len(boxes) > 0.
func Largest(boxes []BBox) (BBox, int) {
	bestIdx := 0
	bestArea := boxes[0].Area()
	for i := 1; i < len(boxes); i++ {
		if a := boxes[i].Area(); a > bestArea {
			bestArea = a
			bestIdx = i
		}
	}
	return boxes[bestIdx], bestIdx
}

// WithinPositionTolerance reports whether prev and cur are within tolerance
// pixels of each other in both axes, the stability gate's core test.
func WithinPositionTolerance(prev, cur BBox, tolerance float64) bool {
	dx := math.Abs(cur.X1 - prev.X1)
	dy := math.Abs(cur.Y1 - prev.Y1)
	return dx < tolerance && dy < tolerance
}
