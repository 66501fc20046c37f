package types

import "time"

// FrameTask represents a single raw RGBA frame sent to a worker for processing
type FrameTask struct {
	Index int
	Data  []byte
}

// Job is one recorded render: a video, a snapshot or a live session.
type Job struct {
	ID         string
	Kind       string // apply, snap, live
	Input      string
	Output     string
	SourceID   string
	FilterID   string
	Status     string // running, done, failed
	Error      string
	Stats      JobStats
	StartedAt  time.Time
	FinishedAt *time.Time
}

// JobStats counts what a render did.
type JobStats struct {
	Frames  int
	Faces   int
	Sprites int
	Skipped int
}

// Add accumulates another frame's counters.
func (s *JobStats) Add(o JobStats) {
	s.Frames += o.Frames
	s.Faces += o.Faces
	s.Sprites += o.Sprites
	s.Skipped += o.Skipped
}
