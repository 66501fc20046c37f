package filter

import (
	"math"

	"github.com/andresmejia3/facefilter/internal/landmark"
)

// Point is a pixel-space position.
type Point struct {
	X, Y float64
}

func scaled(l landmark.Landmark, w, h float64) Point {
	return Point{X: l.X * w, Y: l.Y * h}
}

func midpoint(a, b landmark.Landmark, w, h float64) Point {
	return Point{X: (a.X + b.X) / 2 * w, Y: (a.Y + b.Y) / 2 * h}
}

// ResolveAnchor maps an anchor kind to a pixel position on a w x h canvas.
// lm must cover landmark.MinPoints entries.
func ResolveAnchor(lm landmark.Set, a Anchor, w, h float64) Point {
	switch a {
	case AnchorEyes:
		return midpoint(lm[landmark.LeftEyeOuter], lm[landmark.RightEyeOuter], w, h)
	case AnchorForehead:
		return scaled(lm[landmark.Forehead], w, h)
	case AnchorNose:
		return scaled(lm[landmark.NoseTip], w, h)
	case AnchorMouth:
		return midpoint(lm[landmark.MouthLeft], lm[landmark.MouthRight], w, h)
	default:
		return midpoint(lm[landmark.Forehead], lm[landmark.Chin], w, h)
	}
}

// Rotation estimates head roll in radians from the outer eye corners.
// The vector runs from the right eye outer to the left eye outer, so a left
// eye lower in the frame (larger y) gives a positive angle.
func Rotation(lm landmark.Set, w, h float64) float64 {
	left, right := lm[landmark.LeftEyeOuter], lm[landmark.RightEyeOuter]
	dx := (left.X - right.X) * w
	dy := (left.Y - right.Y) * h
	return math.Atan2(dy, dx)
}

// FaceWidth measures the horizontal face size driving sprite scale.
func FaceWidth(lm landmark.Set, basis WidthBasis, w float64) float64 {
	if basis == WidthFace {
		return math.Abs(lm[landmark.LeftCheek].X-lm[landmark.RightCheek].X) * w
	}
	return math.Abs(lm[landmark.LeftEyeOuter].X-lm[landmark.RightEyeOuter].X) * w
}
