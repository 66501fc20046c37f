package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"math"
	"testing"

	"github.com/andresmejia3/facefilter/internal/landmark"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// okPayload builds a status-OK response with one face per entry in faces.
func okPayload(faces ...[]float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(len(faces)))
	for _, f := range faces {
		binary.Write(payload, binary.BigEndian, uint32(len(f)/3))
		binary.Write(payload, binary.BigEndian, f)
	}
	return payload.Bytes()
}

func frame(payload []byte) *MockCloser {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(pipe, binary.BigEndian, uint32(len(payload)))
	pipe.Write(payload)
	return pipe
}

func meshPoints(n int) []float32 {
	pts := make([]float32, n*3)
	for i := 0; i < n; i++ {
		pts[i*3] = 0.5
		pts[i*3+1] = 0.5
	}
	return pts
}

func TestProcessFrame(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}

	pts := meshPoints(landmark.MeshPoints)
	pts[landmark.LeftEyeOuter*3] = 0.63
	pts[landmark.LeftEyeOuter*3+1] = 0.42

	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: frame(okPayload(pts)),
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	sets, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if got := binary.BigEndian.Uint32(sentData[:4]); got != uint32(len(inputFrame)) {
		t.Errorf("Expected length header %d, got %d", len(inputFrame), got)
	}

	if len(sets) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(sets))
	}
	if len(sets[0]) != landmark.MeshPoints {
		t.Fatalf("Expected %d points, got %d", landmark.MeshPoints, len(sets[0]))
	}
	// float32 round trip
	if math.Abs(sets[0][landmark.LeftEyeOuter].X-0.63) > 1e-6 {
		t.Errorf("Expected left eye x approx 0.63, got %f", sets[0][landmark.LeftEyeOuter].X)
	}
}

func TestProcessFrame_Error(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)
	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: frame(payload.Bytes()),
	}

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	w := &PythonWorker{
		ID:       2,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: frame(okPayload()),
	}
	sets, err := w.ProcessFrame([]byte{0})
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if len(sets) != 0 {
		t.Errorf("Expected no faces, got %d", len(sets))
	}
}

func TestProcessFrame_Truncated(t *testing.T) {
	full := okPayload(meshPoints(landmark.MeshPoints))
	w := &PythonWorker{
		ID:       3,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: frame(full[:len(full)-10]),
	}
	if _, err := w.ProcessFrame([]byte{0}); err == nil {
		t.Fatal("Expected error for truncated face data")
	}
}

func TestParseLandmarks_Garbage(t *testing.T) {
	tests := []struct {
		name string
		resp []byte
	}{
		{"Empty", nil},
		{"Unknown status", []byte{7}},
		{"Too many faces", []byte{statusOK, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"Missing face count", []byte{statusOK, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseLandmarks(tt.resp); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestDetectDropsShortSets(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{
		ID:       4,
		Stdin:    stdinMock,
		DataPipe: frame(okPayload(meshPoints(12), meshPoints(landmark.MeshPoints))),
		Width:    2,
		Height:   2,
	}

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	sets, err := w.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("Expected the short set to be dropped, got %d sets", len(sets))
	}
	if got := stdinMock.Len(); got != 4+2*2*4 {
		t.Errorf("Expected header plus packed frame (%d bytes), got %d", 4+2*2*4, got)
	}
}

func TestDetectRejectsWrongSize(t *testing.T) {
	w := &PythonWorker{ID: 5, Width: 4, Height: 4}
	if _, err := w.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2))); err == nil {
		t.Fatal("Expected size mismatch error")
	}
}

func TestPackRGBA(t *testing.T) {
	parent := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range parent.Pix {
		parent.Pix[i] = byte(i)
	}
	sub := parent.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)
	packed := packRGBA(sub)
	if len(packed) != 2*2*4 {
		t.Fatalf("Expected 16 bytes, got %d", len(packed))
	}
	// Row 1, column 1 of the parent starts at 1*16 + 1*4
	if packed[0] != 20 || packed[8] != 36 {
		t.Errorf("Unexpected packed bytes: %v", packed)
	}
}
