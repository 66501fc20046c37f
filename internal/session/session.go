// Package session owns the live pieces of a filter run: sprite cache,
// landmark detector and frame stream, and drives them frame by frame.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/andresmejia3/facefilter/internal/filter"
	"github.com/andresmejia3/facefilter/internal/landmark"
	"github.com/andresmejia3/facefilter/internal/types"
	"go.uber.org/zap"
)

// ErrDisposed is returned by Run once Dispose has been called.
var ErrDisposed = errors.New("session disposed")

// Session ties a Renderer to the detector and source it consumes.
type Session struct {
	*Renderer

	detector landmark.Detector
	source   FrameSource
	log      *zap.Logger

	mu       sync.Mutex
	sprites  *filter.SpriteCache
	cancel   context.CancelFunc
	done     chan struct{}
	disposed bool

	once       sync.Once
	disposeErr error
}

// Options configures New.
type Options struct {
	RenderOptions
	Logger *zap.Logger
}

// New takes ownership of sprites, detector and source. They are released by
// Dispose, including when New itself fails.
func New(c *filter.Catalog, sprites *filter.SpriteCache, detector landmark.Detector, source FrameSource, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{detector: detector, source: source, sprites: sprites, log: log}
	r, err := NewRenderer(c, sprites, opts.RenderOptions)
	if err != nil {
		s.Dispose()
		return nil, err
	}
	s.Renderer = r
	return s, nil
}

// Run drives the frame loop until ctx is cancelled, the source ends or the
// session is disposed. Those are clean stops and return a nil error.
func (s *Session) Run(ctx context.Context, sched Scheduler, sink FrameSink) (types.JobStats, error) {
	var stats types.JobStats

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return stats, ErrDisposed
	}
	if s.done != nil {
		s.mu.Unlock()
		return stats, errors.New("session already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	defer func() {
		cancel()
		sched.Stop()
		s.mu.Lock()
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()
		close(done)
	}()

	for {
		if err := sched.Wait(ctx); err != nil {
			return stats, nil
		}

		frame, err := s.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return stats, nil
			}
			return stats, fmt.Errorf("frame source: %w", err)
		}
		if frame == nil || frame.Bounds().Empty() {
			stats.Skipped++
			continue
		}

		st, err := s.step(ctx, frame)
		stats.Add(st)
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			return stats, err
		}

		if err := sink.WriteFrame(frame); err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			return stats, fmt.Errorf("frame sink: %w", err)
		}
	}
}

func (s *Session) step(ctx context.Context, frame *image.RGBA) (types.JobStats, error) {
	sets, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return types.JobStats{}, fmt.Errorf("landmark detection: %w", err)
	}
	sets = landmark.Filter(sets)
	stats := s.Render(frame, sets)
	s.log.Debug("frame rendered",
		zap.Int("faces", stats.Faces),
		zap.Int("sprites", stats.Sprites),
		zap.String("filter", s.Selected()))
	return stats, nil
}

// Sprites returns the owned cache, or nil after Dispose.
func (s *Session) Sprites() *filter.SpriteCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sprites
}

// Dispose stops the loop and releases the detector, the stream and the
// sprite cache. Every release runs even if an earlier one fails; repeated
// calls return the first result.
func (s *Session) Dispose() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.disposed = true
		cancel, done := s.cancel, s.done
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		var errs []error
		if s.source != nil {
			if err := s.source.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close source: %w", err))
			}
		}
		if s.detector != nil {
			if err := s.detector.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close detector: %w", err))
			}
		}
		if done != nil {
			<-done
		}

		s.mu.Lock()
		s.sprites = nil
		s.mu.Unlock()
		if s.Renderer != nil {
			s.Renderer.release()
		}

		s.disposeErr = errors.Join(errs...)
		s.log.Debug("session disposed", zap.Error(s.disposeErr))
	})
	return s.disposeErr
}
