package filter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// Sprite is the outcome of loading one catalog image. A failed load keeps
// its error and never draws.
type Sprite struct {
	Image image.Image
	Err   error
}

// Ready reports whether the sprite decoded to a drawable image.
func (s Sprite) Ready() bool {
	if s.Err != nil || s.Image == nil {
		return false
	}
	b := s.Image.Bounds()
	return b.Dx() > 0 && b.Dy() > 0
}

// SpriteCache maps filter ids to loaded sprites. Reads are safe while the
// cache is still being filled; absent entries read as not ready.
type SpriteCache struct {
	mu      sync.RWMutex
	sprites map[string]Sprite
}

// NewSpriteCache returns an empty cache.
func NewSpriteCache() *SpriteCache {
	return &SpriteCache{sprites: make(map[string]Sprite)}
}

// Get returns the sprite for id, if an attempt has finished.
func (c *SpriteCache) Get(id string) (Sprite, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sprites[id]
	return s, ok
}

// Image returns the drawable image for id or nil.
func (c *SpriteCache) Image(id string) image.Image {
	s, ok := c.Get(id)
	if !ok || !s.Ready() {
		return nil
	}
	return s.Image
}

func (c *SpriteCache) put(id string, s Sprite) {
	c.mu.Lock()
	c.sprites[id] = s
	c.mu.Unlock()
}

// Len is the number of finished load attempts.
func (c *SpriteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sprites)
}

// Keys lists the ids with a finished attempt.
func (c *SpriteCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.sprites))
	for k := range c.sprites {
		keys = append(keys, k)
	}
	return keys
}

// Loader fetches and decodes one image reference.
type Loader interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

// DefaultMaxSpriteBytes bounds a single sprite file or response body.
const DefaultMaxSpriteBytes = 32 << 20

// FileLoader reads local paths and http(s) URLs.
type FileLoader struct {
	Client   *http.Client
	MaxBytes int64 // 0 means DefaultMaxSpriteBytes
}

// Load implements Loader.
func (l FileLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	var r io.ReadCloser
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		client := l.Client
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: %s", ref, resp.Status)
		}
		r = resp.Body
	} else {
		f, err := os.Open(ref)
		if err != nil {
			return nil, err
		}
		r = f
	}
	defer r.Close()

	limit := l.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxSpriteBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("sprite %s exceeds %d bytes", ref, limit)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ref, err)
	}
	return img, nil
}

// PreloadOptions tunes Preload.
type PreloadOptions struct {
	MaxSide     int // sprites larger than this are thumbnailed; 0 disables
	Concurrency int
	Logger      *zap.Logger
}

// Preload loads every catalog sprite once and returns when all attempts
// have finished.
func Preload(ctx context.Context, c *Catalog, loader Loader, opts PreloadOptions) *SpriteCache {
	cache := NewSpriteCache()
	PreloadInto(ctx, cache, c, loader, opts)
	return cache
}

// PreloadInto fills cache in place so callers can start reading before the
// batch completes. Individual failures are stored, never returned.
func PreloadInto(ctx context.Context, cache *SpriteCache, c *Catalog, loader Loader, opts PreloadOptions) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limit := opts.Concurrency
	if limit < 1 {
		limit = 4
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, def := range c.All() {
		g.Go(func() error {
			img, err := loader.Load(ctx, def.Image)
			if err != nil {
				log.Warn("sprite load failed", zap.String("filter", def.ID), zap.String("image", def.Image), zap.Error(err))
				cache.put(def.ID, Sprite{Err: err})
				return nil
			}
			if opts.MaxSide > 0 {
				b := img.Bounds()
				if b.Dx() > opts.MaxSide || b.Dy() > opts.MaxSide {
					img = resize.Thumbnail(uint(opts.MaxSide), uint(opts.MaxSide), img, resize.Lanczos3)
				}
			}
			log.Debug("sprite loaded", zap.String("filter", def.ID), zap.Int("width", img.Bounds().Dx()), zap.Int("height", img.Bounds().Dy()))
			cache.put(def.ID, Sprite{Image: img})
			return nil
		})
	}
	_ = g.Wait()
}
