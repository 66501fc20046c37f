package filter

import "image"

// Border describes a decorative frame whose inner rectangle should line up
// with the canvas edges. Insets are fractions of the frame image.
type Border struct {
	Image  image.Image
	Left   float64
	Top    float64
	Width  float64 // inner rectangle width fraction
	Height float64 // inner rectangle height fraction
}

// TetBorder returns the insets of the stock festive frame.
func TetBorder(img image.Image) Border {
	return Border{Image: img, Left: 0.10, Top: 0.14, Width: 0.82, Height: 0.76}
}

// DrawBorder stretches the frame over a w x h canvas. With mirrored set the
// artwork is drawn flipped so it reads correctly once the frame is mirrored
// for display.
func DrawBorder(s Surface, b Border, w, h float64, mirrored bool) bool {
	if b.Image == nil || b.Width <= 0 || b.Height <= 0 {
		return false
	}
	if r := b.Image.Bounds(); r.Dx() == 0 || r.Dy() == 0 {
		return false
	}
	fw := w / b.Width
	fh := h / b.Height
	fx := -b.Left * fw
	fy := -b.Top * fh

	s.Save()
	if mirrored {
		s.Scale(-1, 1)
		s.DrawImage(b.Image, -fx-fw, fy, fw, fh)
	} else {
		s.DrawImage(b.Image, fx, fy, fw, fh)
	}
	s.Restore()
	return true
}
