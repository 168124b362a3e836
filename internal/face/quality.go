package face

import "github.com/kestrel-systems/faceaccess/internal/faulterr"

// QualityConfig holds the thresholds a detected face must clear before it
// proceeds to alignment and embedding.
type QualityConfig struct {
	MinFaceSize   int     // minimum of box width/height, pixels
	BlurThreshold float64 // minimum acceptable blur metric (Laplacian variance)
	MinAspect     float64
	MaxAspect     float64
}

// DefaultQualityConfig mirrors the aspect-ratio band documented for the
// enrollment processor; callers override MinFaceSize/BlurThreshold from
// configuration.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{MinFaceSize: 40, BlurThreshold: 50, MinAspect: 0.7, MaxAspect: 1.3}
}

// BlurMetric computes the Laplacian-variance sharpness score of a
// grayscale image region: low variance means a flat, blurry image.
func BlurMetric(gray []byte, width, height int) float64 {
	if width < 3 || height < 3 {
		return 0
	}
	at := func(x, y int) float64 { return float64(gray[y*width+x]) }

	var sum, sumSq float64
	n := 0
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			lap := -4*at(x, y) + at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// ValidateQuality applies the enrollment quality gate to one frame's
// detections: exactly one face, minimum dimension, blur, edge, and aspect
// ratio. It returns the single accepted detection or a QualityRejection
// error describing the first failing check.
func ValidateQuality(detections []Detection, frameWidth, frameHeight int, blur float64, cfg QualityConfig) (Detection, error) {
	switch len(detections) {
	case 0:
		return Detection{}, faulterr.New(faulterr.QualityRejection, "face.ValidateQuality", errNoFace)
	case 1:
	default:
		return Detection{}, faulterr.New(faulterr.QualityRejection, "face.ValidateQuality", errMultipleFaces)
	}

	d := detections[0]
	box := d.Box

	if box.Width() < float64(cfg.MinFaceSize) || box.Height() < float64(cfg.MinFaceSize) {
		return Detection{}, faulterr.New(faulterr.QualityRejection, "face.ValidateQuality", errFaceTooSmall)
	}
	if blur < cfg.BlurThreshold {
		return Detection{}, faulterr.New(faulterr.QualityRejection, "face.ValidateQuality", errTooBlurry)
	}
	if box.TouchesEdge(frameWidth, frameHeight, 1) {
		return Detection{}, faulterr.New(faulterr.QualityRejection, "face.ValidateQuality", errFaceAtEdge)
	}
	ar := box.AspectRatio()
	if ar < cfg.MinAspect || ar > cfg.MaxAspect {
		return Detection{}, faulterr.New(faulterr.QualityRejection, "face.ValidateQuality", errBadAspect)
	}

	return d, nil
}
