// Package face implements the detect -> quality-check -> align -> embed
// pipeline stages that turn a captured frame into a face embedding. The
// detector and embedding models themselves are opaque collaborators
// (onnx/opencv inference or a remote multimodal API); this package only
// owns the contracts between stages and the stages that are plain Go.
package face

import (
	"context"
	"image"
)

// Detection is one detected face in pixel space.
type Detection struct {
	Box        BBox
	Confidence float64
}

// Detector finds faces in a decoded frame. Concrete implementations wrap
// an inference runtime (onnx, opencv) that is out of scope here; Detector
// is the seam a real model integration plugs into.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}
