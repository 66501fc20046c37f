package filter

import (
	"image"

	"github.com/andresmejia3/facefilter/internal/landmark"
)

// Surface is a 2D drawing target with a save/restore transform stack.
// Translate, Rotate and Scale compose onto the current transform.
type Surface interface {
	Save()
	Restore()
	Translate(x, y float64)
	Rotate(angle float64)
	Scale(sx, sy float64)
	DrawImage(img image.Image, x, y, w, h float64)
}

// Placement is the screen-space transform for one sprite on one face.
type Placement struct {
	X, Y          float64 // translate target, offsets applied
	Angle         float64
	Width, Height float64
}

// Compose computes where a sprite of natural size imgW x imgH lands on a
// w x h canvas. It returns false when the sprite has no usable size yet.
func Compose(lm landmark.Set, def Definition, imgW, imgH, w, h float64) (Placement, bool) {
	if imgW <= 0 || imgH <= 0 {
		return Placement{}, false
	}
	anchor := ResolveAnchor(lm, def.Anchor, w, h)
	angle := Rotation(lm, w, h)
	faceW := FaceWidth(lm, def.WidthBasis, w)

	spriteW := faceW * def.Scale
	spriteH := spriteW * (imgH / imgW)

	return Placement{
		X:      anchor.X + def.OffsetX*spriteW,
		Y:      anchor.Y + def.OffsetY*spriteH,
		Angle:  angle,
		Width:  spriteW,
		Height: spriteH,
	}, true
}

// Draw renders img for def on the face described by lm. A sprite without
// decoded bounds is skipped without touching the surface.
func Draw(s Surface, lm landmark.Set, def Definition, img image.Image, w, h float64) bool {
	if img == nil {
		return false
	}
	b := img.Bounds()
	p, ok := Compose(lm, def, float64(b.Dx()), float64(b.Dy()), w, h)
	if !ok {
		return false
	}
	s.Save()
	s.Translate(p.X, p.Y)
	s.Rotate(p.Angle)
	s.DrawImage(img, -p.Width/2, -p.Height/2, p.Width, p.Height)
	s.Restore()
	return true
}
