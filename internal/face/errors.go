package face

import "errors"

var (
	errNoFace        = errors.New("no face detected")
	errMultipleFaces = errors.New("multiple faces detected")
	errFaceTooSmall  = errors.New("face dimension below minimum size")
	errTooBlurry     = errors.New("face below blur threshold")
	errFaceAtEdge    = errors.New("face touches frame edge")
	errBadAspect     = errors.New("face aspect ratio out of range")
)
