package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/andresmejia3/facefilter/internal/utils"
)

// FrameSource yields frames in capture order. Next returns io.EOF when the
// stream ends. A frame with empty bounds means the source has no usable
// dimensions yet.
type FrameSource interface {
	Next(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// FrameSink receives every rendered frame.
type FrameSink interface {
	WriteFrame(frame *image.RGBA) error
}

// SinkFunc adapts a function to FrameSink.
type SinkFunc func(frame *image.RGBA) error

// WriteFrame implements FrameSink.
func (f SinkFunc) WriteFrame(frame *image.RGBA) error { return f(frame) }

// RawSource reads packed RGBA frames of a fixed size from a stream. The
// frame buffer is reused, so sinks must consume it before the next call.
type RawSource struct {
	r      io.Reader
	width  int
	height int
	frame  *image.RGBA
	close  func() error
	once   sync.Once
	err    error
}

// NewRawSource wraps r. closeFn, if set, runs once on Close.
func NewRawSource(r io.Reader, width, height int, closeFn func() error) *RawSource {
	return &RawSource{
		r:      r,
		width:  width,
		height: height,
		frame:  image.NewRGBA(image.Rect(0, 0, width, height)),
		close:  closeFn,
	}
}

// Next implements FrameSource.
func (s *RawSource) Next(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(s.r, s.frame.Pix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return s.frame, nil
}

// Close implements FrameSource.
func (s *RawSource) Close() error {
	s.once.Do(func() {
		if s.close != nil {
			s.err = s.close()
		}
	})
	return s.err
}

// FFmpegSource starts an ffmpeg decoder and exposes it as a RawSource.
// Closing it stops the process, which releases the camera.
func FFmpegSource(cmd *utils.SafeCommand, width, height int) (*RawSource, error) {
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	return NewRawSource(out, width, height, func() error {
		out.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		// The kill is ours, so the exit status carries no information.
		_ = cmd.Wait()
		return nil
	}), nil
}

// EncoderSink writes frames to a started encoder's stdin.
type EncoderSink struct {
	w io.WriteCloser
}

// NewEncoderSink wraps an encoder input pipe.
func NewEncoderSink(w io.WriteCloser) *EncoderSink { return &EncoderSink{w: w} }

// WriteFrame implements FrameSink.
func (e *EncoderSink) WriteFrame(frame *image.RGBA) error {
	_, err := e.w.Write(frame.Pix)
	return err
}

// Close ends the encoder input.
func (e *EncoderSink) Close() error { return e.w.Close() }

// Scheduler paces the run loop.
type Scheduler interface {
	Wait(ctx context.Context) error
	Stop()
}

// Immediate runs the next iteration as soon as the previous one ends. Use
// it when the source itself is paced, like a camera.
type Immediate struct{}

// Wait implements Scheduler.
func (Immediate) Wait(ctx context.Context) error { return ctx.Err() }

// Stop implements Scheduler.
func (Immediate) Stop() {}

// Ticker caps the loop at a fixed rate.
type Ticker struct {
	t *time.Ticker
}

// NewTicker returns a scheduler firing fps times per second.
func NewTicker(fps float64) *Ticker {
	if fps <= 0 {
		fps = 30
	}
	return &Ticker{t: time.NewTicker(time.Duration(float64(time.Second) / fps))}
}

// Wait implements Scheduler.
func (t *Ticker) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.t.C:
		return nil
	}
}

// Stop implements Scheduler.
func (t *Ticker) Stop() { t.t.Stop() }
