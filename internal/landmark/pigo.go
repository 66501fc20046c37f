package landmark

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"

	pigo "github.com/esimov/pigo/core"
)

// PigoConfig tunes the in-process cascade detector.
type PigoConfig struct {
	CascadePath string
	MinSize     int
	MaxSize     int
	MinQuality  float32
	MaxFaces    int
}

// PigoDetector runs the pigo face finder and lays an upright face-mesh
// approximation over each detection box. It needs no external process, at the
// price of never reporting head roll.
type PigoDetector struct {
	classifier *pigo.Pigo
	cfg        PigoConfig
}

// NewPigoDetector unpacks the cascade file referenced by cfg.
func NewPigoDetector(cfg PigoConfig) (*PigoDetector, error) {
	b, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(b)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 40
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 2000
	}
	if cfg.MinQuality <= 0 {
		cfg.MinQuality = 5.0
	}
	return &PigoDetector{classifier: classifier, cfg: cfg}, nil
}

// Detect implements Detector.
func (d *PigoDetector) Detect(ctx context.Context, frame *image.RGBA) ([]Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds := frame.Bounds()
	params := pigo.CascadeParams{
		MinSize:     d.cfg.MinSize,
		MaxSize:     d.cfg.MaxSize,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(frame),
			Rows:   bounds.Dy(),
			Cols:   bounds.Dx(),
			Dim:    bounds.Dx(),
		},
	}
	dets := d.classifier.RunCascade(params, 0)
	dets = d.classifier.ClusterDetections(dets, 0.18)

	// Largest faces first so MaxFaces keeps the most prominent ones.
	sort.Slice(dets, func(i, j int) bool { return dets[i].Scale > dets[j].Scale })

	var sets []Set
	for _, det := range dets {
		if det.Q < d.cfg.MinQuality {
			continue
		}
		sets = append(sets, FromBox(float64(det.Col), float64(det.Row), float64(det.Scale), float64(bounds.Dx()), float64(bounds.Dy())))
		if d.cfg.MaxFaces > 0 && len(sets) == d.cfg.MaxFaces {
			break
		}
	}
	return sets, nil
}

// Close implements Detector. The classifier holds no external resources.
func (d *PigoDetector) Close() error { return nil }

// FromBox builds a full-length landmark set from a square face box centred
// at (cx, cy) with side s, in a w x h frame. Only the indices the compositor
// reads are placed; every other point sits on the box centre.
func FromBox(cx, cy, s, w, h float64) Set {
	pt := func(fx, fy float64) Landmark {
		return Landmark{X: (cx + fx*s) / w, Y: (cy + fy*s) / h}
	}
	set := make(Set, MeshPoints)
	centre := pt(0, 0)
	for i := range set {
		set[i] = centre
	}
	set[Forehead] = pt(0, -0.42)
	set[Chin] = pt(0, 0.48)
	set[NoseTip] = pt(0, 0.05)
	set[RightEyeOuter] = pt(-0.25, -0.12)
	set[LeftEyeOuter] = pt(0.25, -0.12)
	set[MouthLeft] = pt(-0.17, 0.25)
	set[MouthRight] = pt(0.17, 0.25)
	set[RightCheek] = pt(-0.45, 0)
	set[LeftCheek] = pt(0.45, 0)
	return set
}
