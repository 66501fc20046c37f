// Package landmark holds the face-mesh landmark types shared by the
// detectors and the sprite compositor.
package landmark

import (
	"context"
	"image"
)

// Face-mesh indices read by the compositor.
const (
	NoseTip       = 1
	Forehead      = 10
	RightEyeOuter = 33
	MouthLeft     = 61
	Chin          = 152
	RightCheek    = 234
	LeftEyeOuter  = 263
	MouthRight    = 291
	LeftCheek     = 454

	// MinPoints is the shortest set that covers every index above.
	MinPoints = LeftCheek + 1
	// MeshPoints is the full face-mesh size reported by the Python landmarker.
	MeshPoints = 478
)

// Landmark is a point in normalized [0,1] image space.
type Landmark struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Set is one detected face, indexed by the face-mesh topology.
type Set []Landmark

// Valid reports whether the set is long enough for every index the
// compositor reads.
func (s Set) Valid() bool {
	return len(s) >= MinPoints
}

// Detector finds zero or more landmark sets in a frame.
type Detector interface {
	Detect(ctx context.Context, frame *image.RGBA) ([]Set, error)
	Close() error
}

// Filter returns the sets that can be read safely. The input slice is left
// untouched, since detectors may reuse it across frames.
func Filter(sets []Set) []Set {
	out := make([]Set, 0, len(sets))
	for _, s := range sets {
		if s.Valid() {
			out = append(out, s)
		}
	}
	return out
}
