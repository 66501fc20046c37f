// Package canvas implements filter.Surface over an in-memory RGBA frame.
package canvas

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

var identity = f64.Aff3{1, 0, 0, 0, 1, 0}

// Canvas draws into an *image.RGBA through an affine transform stack.
type Canvas struct {
	dst    *image.RGBA
	m      f64.Aff3
	stack  []f64.Aff3
	interp xdraw.Interpolator
}

// New wraps dst. Drawing mutates dst in place.
func New(dst *image.RGBA) *Canvas {
	return &Canvas{dst: dst, m: identity, interp: xdraw.BiLinear}
}

// FromRaw wraps a packed RGBA buffer without copying it.
func FromRaw(pix []byte, width, height int) *Canvas {
	return New(&image.RGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	})
}

// Image returns the underlying frame.
func (c *Canvas) Image() *image.RGBA { return c.dst }

// Size returns the canvas size in pixels as floats.
func (c *Canvas) Size() (float64, float64) {
	b := c.dst.Bounds()
	return float64(b.Dx()), float64(b.Dy())
}

// Transform returns the current local-to-device transform.
func (c *Canvas) Transform() f64.Aff3 { return c.m }

// ParseInterpolator maps a resampler name to its x/image implementation.
// An empty name selects bilinear.
func ParseInterpolator(name string) (xdraw.Interpolator, error) {
	switch name {
	case "", "bilinear":
		return xdraw.BiLinear, nil
	case "nearest":
		return xdraw.NearestNeighbor, nil
	case "approx-bilinear":
		return xdraw.ApproxBiLinear, nil
	case "catmull-rom":
		return xdraw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("unknown interpolator '%s'", name)
	}
}

// SetInterpolator swaps the resampler used by DrawImage.
func (c *Canvas) SetInterpolator(i xdraw.Interpolator) { c.interp = i }

// Save pushes the current transform.
func (c *Canvas) Save() { c.stack = append(c.stack, c.m) }

// Restore pops the last saved transform. An unbalanced Restore is a no-op.
func (c *Canvas) Restore() {
	if len(c.stack) == 0 {
		return
	}
	c.m = c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
}

// Translate moves the origin.
func (c *Canvas) Translate(x, y float64) {
	c.m = mul(c.m, f64.Aff3{1, 0, x, 0, 1, y})
}

// Rotate turns the axes clockwise on screen by angle radians.
func (c *Canvas) Rotate(angle float64) {
	sin, cos := math.Sincos(angle)
	c.m = mul(c.m, f64.Aff3{cos, -sin, 0, sin, cos, 0})
}

// Scale stretches the axes.
func (c *Canvas) Scale(sx, sy float64) {
	c.m = mul(c.m, f64.Aff3{sx, 0, 0, 0, sy, 0})
}

// DrawImage composites img into the local rectangle (x, y, w, h).
func (c *Canvas) DrawImage(img image.Image, x, y, w, h float64) {
	sb := img.Bounds()
	if sb.Empty() || w == 0 || h == 0 {
		return
	}
	s2d := mul(c.m, f64.Aff3{
		w / float64(sb.Dx()), 0, x,
		0, h / float64(sb.Dy()), y,
	})
	s2d = mul(s2d, f64.Aff3{1, 0, -float64(sb.Min.X), 0, 1, -float64(sb.Min.Y)})
	c.interp.Transform(c.dst, s2d, img, sb, xdraw.Over, nil)
}

// DrawFrame copies src over the whole canvas, ignoring the transform.
func (c *Canvas) DrawFrame(src image.Image) {
	xdraw.Draw(c.dst, c.dst.Bounds(), src, src.Bounds().Min, xdraw.Src)
}

// Mirror flips the frame horizontally in place.
func (c *Canvas) Mirror() {
	b := c.dst.Bounds()
	pix := c.dst.Pix
	stride := c.dst.Stride
	for y := 0; y < b.Dy(); y++ {
		row := y * stride
		for l, r := 0, b.Dx()-1; l < r; l, r = l+1, r-1 {
			lo, ro := row+l*4, row+r*4
			pix[lo], pix[ro] = pix[ro], pix[lo]
			pix[lo+1], pix[ro+1] = pix[ro+1], pix[lo+1]
			pix[lo+2], pix[ro+2] = pix[ro+2], pix[lo+2]
			pix[lo+3], pix[ro+3] = pix[ro+3], pix[lo+3]
		}
	}
}

// mul returns a∘b: b is applied first.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}
