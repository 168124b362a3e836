package face

import (
	"errors"
	"testing"

	"github.com/kestrel-systems/faceaccess/internal/faulterr"
)

func goodDetection() Detection {
	return Detection{Box: BBox{X1: 100, Y1: 100, X2: 180, Y2: 180}, Confidence: 0.99}
}

func TestValidateQualityAcceptsGoodFace(t *testing.T) {
	cfg := DefaultQualityConfig()
	d, err := ValidateQuality([]Detection{goodDetection()}, 640, 480, 100, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Box.Area() != goodDetection().Box.Area() {
		t.Fatal("expected the sole detection to be returned")
	}
}

func TestValidateQualityRejectsNoFace(t *testing.T) {
	_, err := ValidateQuality(nil, 640, 480, 100, DefaultQualityConfig())
	assertQualityRejection(t, err)
}

func TestValidateQualityRejectsMultipleFaces(t *testing.T) {
	dets := []Detection{goodDetection(), goodDetection()}
	_, err := ValidateQuality(dets, 640, 480, 100, DefaultQualityConfig())
	assertQualityRejection(t, err)
}

func TestValidateQualityRejectsTooSmall(t *testing.T) {
	small := Detection{Box: BBox{X1: 100, Y1: 100, X2: 110, Y2: 110}}
	_, err := ValidateQuality([]Detection{small}, 640, 480, 100, DefaultQualityConfig())
	assertQualityRejection(t, err)
}

func TestValidateQualityRejectsBlur(t *testing.T) {
	cfg := DefaultQualityConfig()
	_, err := ValidateQuality([]Detection{goodDetection()}, 640, 480, 1, cfg)
	assertQualityRejection(t, err)
}

func TestValidateQualityRejectsEdge(t *testing.T) {
	edge := Detection{Box: BBox{X1: 0, Y1: 100, X2: 80, Y2: 180}}
	_, err := ValidateQuality([]Detection{edge}, 640, 480, 100, DefaultQualityConfig())
	assertQualityRejection(t, err)
}

func TestValidateQualityRejectsAspect(t *testing.T) {
	wide := Detection{Box: BBox{X1: 100, Y1: 100, X2: 300, Y2: 150}}
	_, err := ValidateQuality([]Detection{wide}, 640, 480, 100, DefaultQualityConfig())
	assertQualityRejection(t, err)
}

func assertQualityRejection(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	if faulterr.Of(err) != faulterr.QualityRejection {
		t.Fatalf("expected QualityRejection kind, got %v", faulterr.Of(err))
	}
	var fe *faulterr.Error
	if !errors.As(err, &fe) {
		t.Fatal("expected a *faulterr.Error")
	}
}

func TestBlurMetricFlatImageIsZero(t *testing.T) {
	gray := make([]byte, 10*10)
	for i := range gray {
		gray[i] = 128
	}
	if got := BlurMetric(gray, 10, 10); got != 0 {
		t.Fatalf("BlurMetric(flat) = %v, want 0", got)
	}
}

func TestBlurMetricNoisyImageIsHigh(t *testing.T) {
	gray := make([]byte, 10*10)
	for i := range gray {
		if i%2 == 0 {
			gray[i] = 0
		} else {
			gray[i] = 255
		}
	}
	flat := make([]byte, 10*10)
	for i := range flat {
		flat[i] = 128
	}
	if BlurMetric(gray, 10, 10) <= BlurMetric(flat, 10, 10) {
		t.Fatal("expected high-frequency image to score above flat image")
	}
}
