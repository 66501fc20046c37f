package session

import (
	"fmt"
	"image"
	"sync"

	"github.com/andresmejia3/facefilter/internal/canvas"
	"github.com/andresmejia3/facefilter/internal/filter"
	"github.com/andresmejia3/facefilter/internal/landmark"
	"github.com/andresmejia3/facefilter/internal/types"
	xdraw "golang.org/x/image/draw"
)

// RenderOptions configures the per-frame composition.
type RenderOptions struct {
	Selected     string
	Border       *filter.Border
	Mirror       bool
	Interpolator xdraw.Interpolator // nil keeps the canvas default
}

// Renderer composites the selected filter, the border and the mirror flip
// onto frames. Selection may change from another goroutine between frames.
type Renderer struct {
	catalog *filter.Catalog
	sprites *filter.SpriteCache
	border  *filter.Border
	mirror  bool
	interp  xdraw.Interpolator

	mu       sync.RWMutex
	selected string
}

// NewRenderer validates the initial selection.
func NewRenderer(c *filter.Catalog, sprites *filter.SpriteCache, opts RenderOptions) (*Renderer, error) {
	r := &Renderer{catalog: c, sprites: sprites, border: opts.Border, mirror: opts.Mirror, interp: opts.Interpolator}
	if err := r.Select(opts.Selected); err != nil {
		return nil, err
	}
	return r, nil
}

// Select switches the active filter. An empty id clears the selection.
func (r *Renderer) Select(id string) error {
	if id != "" {
		if _, ok := r.catalog.Lookup(id); !ok {
			return fmt.Errorf("unknown filter '%s'", id)
		}
	}
	r.mu.Lock()
	r.selected = id
	r.mu.Unlock()
	return nil
}

// Selected returns the active filter id, or "" for none.
func (r *Renderer) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

func (r *Renderer) release() {
	r.mu.Lock()
	r.sprites = nil
	r.mu.Unlock()
}

// Render draws onto frame in place. Faces whose sprite is not ready yet are
// left untouched; that is a normal frame, not an error.
func (r *Renderer) Render(frame *image.RGBA, sets []landmark.Set) types.JobStats {
	stats := types.JobStats{Frames: 1, Faces: len(sets)}
	cv := canvas.New(frame)
	if r.interp != nil {
		cv.SetInterpolator(r.interp)
	}
	w, h := cv.Size()

	r.mu.RLock()
	id, sprites := r.selected, r.sprites
	r.mu.RUnlock()

	if id != "" && sprites != nil && len(sets) > 0 {
		def, _ := r.catalog.Lookup(id)
		img := sprites.Image(id)
		for _, lm := range sets {
			if !lm.Valid() {
				continue
			}
			if filter.Draw(cv, lm, def, img, w, h) {
				stats.Sprites++
			}
		}
	}

	if r.border != nil {
		filter.DrawBorder(cv, *r.border, w, h, r.mirror)
	}
	if r.mirror {
		cv.Mirror()
	}
	return stats
}
