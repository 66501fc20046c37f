package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/facefilter/internal/landmark"
	"github.com/andresmejia3/facefilter/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1

	// maxPoints guards against garbage length fields from a crashed worker.
	maxPoints = 4096
	maxFaces  = 64
)

// Config controls how a landmark worker is started.
type Config struct {
	Python        string
	Script        string
	RawWidth      int
	RawHeight     int
	MaxFaces      int
	MinConfidence float64
	ReadTimeout   time.Duration
	Logger        *zap.Logger
}

// PythonWorker drives one face-landmarker process. Frames go in on stdin,
// results come back on a side pipe (FD 3) so Python's stdout noise never
// corrupts the protocol.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
	Width       int
	Height      int
	log         *zap.Logger
}

// NewPythonWorker starts the landmarker script. Frame dimensions are fixed
// for the life of the process.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	script := cfg.Script
	if script == "" {
		script = "python/landmarker.py"
	}
	maxFaces := cfg.MaxFaces
	if maxFaces < 1 {
		maxFaces = 1
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	py := utils.NewSafeCommandContext(ctx, python, "-u", script,
		"--width", strconv.Itoa(cfg.RawWidth),
		"--height", strconv.Itoa(cfg.RawHeight),
		"--max-faces", strconv.Itoa(maxFaces),
		"--min-confidence", strconv.FormatFloat(cfg.MinConfidence, 'f', -1, 64),
	)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	log.Debug("landmark worker started", zap.Int("worker", id), zap.Int("pid", py.Process.Pid))

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
		Width:       cfg.RawWidth,
		Height:      cfg.RawHeight,
		log:         log,
	}, nil
}

// Communicate sends one framed request and reads one framed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("worker %d timed out after %s", w.ID, w.ReadTimeout)
		}
		return nil, err // This is where we catch an import crash in the script
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends a packed RGBA frame and decodes the landmark sets.
func (w *PythonWorker) ProcessFrame(frame []byte) ([]landmark.Set, error) {
	resp, err := w.Communicate(frame)
	if err != nil {
		return nil, err
	}
	return parseLandmarks(resp)
}

// Detect implements landmark.Detector. Sets too short for the compositor
// are dropped here.
func (w *PythonWorker) Detect(ctx context.Context, frame *image.RGBA) ([]landmark.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := frame.Bounds()
	if w.Width > 0 && (b.Dx() != w.Width || b.Dy() != w.Height) {
		return nil, fmt.Errorf("frame is %dx%d, worker expects %dx%d", b.Dx(), b.Dy(), w.Width, w.Height)
	}
	pix := frame.Pix
	if frame.Stride != b.Dx()*4 {
		pix = packRGBA(frame)
	}
	sets, err := w.ProcessFrame(pix)
	if err != nil {
		return nil, err
	}
	kept := landmark.Filter(sets)
	if len(kept) != len(sets) {
		w.logger().Debug("dropped short landmark sets", zap.Int("worker", w.ID), zap.Int("dropped", len(sets)-len(kept)))
	}
	return kept, nil
}

// Close shuts the pipes and waits for the process to exit.
func (w *PythonWorker) Close() error {
	var errs []error
	if w.Stdin != nil {
		errs = append(errs, w.Stdin.Close())
	}
	if w.DataPipe != nil {
		errs = append(errs, w.DataPipe.Close())
	}
	if w.Cmd != nil {
		errs = append(errs, w.Cmd.Wait())
		w.logger().Debug("landmark worker stopped", zap.Int("worker", w.ID))
	}
	return errors.Join(errs...)
}

// parseLandmarks decodes a worker response.
// OK:    [0][NumFaces u32] then per face [NumPoints u32][x y z float32 ...]
// Error: [1][MsgLen u32][Msg]
func parseLandmarks(resp []byte) ([]landmark.Set, error) {
	if len(resp) == 0 {
		return nil, errors.New("empty worker response")
	}
	r := bytes.NewReader(resp[1:])

	switch resp[0] {
	case statusError:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)

	case statusOK:
		var numFaces uint32
		if err := binary.Read(r, binary.BigEndian, &numFaces); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
		if numFaces > maxFaces {
			return nil, fmt.Errorf("malformed response: %d faces", numFaces)
		}
		sets := make([]landmark.Set, 0, numFaces)
		for i := uint32(0); i < numFaces; i++ {
			var numPoints uint32
			if err := binary.Read(r, binary.BigEndian, &numPoints); err != nil {
				return nil, fmt.Errorf("malformed face %d: %w", i, err)
			}
			if numPoints > maxPoints {
				return nil, fmt.Errorf("malformed face %d: %d points", i, numPoints)
			}
			raw := make([]float32, numPoints*3)
			if err := binary.Read(r, binary.BigEndian, raw); err != nil {
				return nil, fmt.Errorf("malformed face %d: %w", i, err)
			}
			set := make(landmark.Set, numPoints)
			for p := range set {
				set[p] = landmark.Landmark{
					X: float64(raw[p*3]),
					Y: float64(raw[p*3+1]),
					Z: float64(raw[p*3+2]),
				}
				if math.IsNaN(set[p].X) || math.IsNaN(set[p].Y) {
					return nil, fmt.Errorf("malformed face %d: NaN landmark %d", i, p)
				}
			}
			sets = append(sets, set)
		}
		return sets, nil

	default:
		return nil, fmt.Errorf("unknown worker status %d", resp[0])
	}
}

func packRGBA(img *image.RGBA) []byte {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	out := make([]byte, rowLen*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		copy(out[y*rowLen:(y+1)*rowLen], img.Pix[y*img.Stride:y*img.Stride+rowLen])
	}
	return out
}
func (w *PythonWorker) logger() *zap.Logger {
	if w.log == nil {
		return zap.NewNop()
	}
	return w.log
}
