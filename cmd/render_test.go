package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facefilter/internal/filter"
	"github.com/andresmejia3/facefilter/internal/types"
	xdraw "golang.org/x/image/draw"
)

// silenceStderr discards error boxes for the duration of a test.
func silenceStderr(t *testing.T) {
	t.Helper()
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	t.Cleanup(func() {
		w.Close()
		os.Stderr = oldStderr
		r.Close()
	})
}

func TestReorderBuffer(t *testing.T) {
	b := newReorderBuffer()

	if got := b.push(applyResult{Index: 2}); len(got) != 0 {
		t.Fatalf("frame 2 released before 0: %v", got)
	}
	if got := b.push(applyResult{Index: 1}); len(got) != 0 {
		t.Fatalf("frame 1 released before 0: %v", got)
	}
	got := b.push(applyResult{Index: 0})
	if len(got) != 3 {
		t.Fatalf("expected 3 frames released, got %d", len(got))
	}
	for i, r := range got {
		if r.Index != i {
			t.Errorf("position %d holds frame %d", i, r.Index)
		}
	}
	if b.len() != 0 {
		t.Errorf("buffer should be empty, holds %d", b.len())
	}

	if got := b.push(applyResult{Index: 3}); len(got) != 1 || got[0].Index != 3 {
		t.Errorf("in-order frame should pass straight through, got %v", got)
	}
}

func TestResolveDBURL(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")
	if got := resolveDBURL(""); got != "postgres://localhost:5432/facefilter" {
		t.Errorf("default URL = %s", got)
	}
	if got := resolveDBURL("postgres://flag/db"); got != "postgres://flag/db" {
		t.Errorf("flag should win, got %s", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "filters")
	t.Setenv("POSTGRES_PORT", "")
	if got := resolveDBURL(""); got != "postgres://u:p@db:5432/filters" {
		t.Errorf("env URL = %s", got)
	}
}

func TestValidateRenderFlags(t *testing.T) {
	valid := Options{Detector: "python", MinConfidence: 0.5, WorkerTimeout: "30s"}

	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"Valid options", func(o *Options) {}, false},
		{"Pigo detector", func(o *Options) { o.Detector = "pigo" }, false},
		{"Unknown detector", func(o *Options) { o.Detector = "opencv" }, true},
		{"Zero confidence", func(o *Options) { o.MinConfidence = 0 }, true},
		{"Confidence above one", func(o *Options) { o.MinConfidence = 1.5 }, true},
		{"Bad timeout", func(o *Options) { o.WorkerTimeout = "soon" }, true},
		{"Nearest interpolation", func(o *Options) { o.Interp = "nearest" }, false},
		{"Unknown interpolation", func(o *Options) { o.Interp = "lanczos" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			silenceStderr(t)
			opts := valid
			tt.mutate(&opts)
			if err := validateRenderFlags(&opts); (err != nil) != tt.wantErr {
				t.Errorf("validateRenderFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	opts := valid
	validateRenderFlags(&opts)
	if opts.NumEngines != 1 || opts.MaxFaces != 1 {
		t.Errorf("engines and max faces should default to 1, got %d and %d", opts.NumEngines, opts.MaxFaces)
	}
}

func TestRenderOptionsInterpolator(t *testing.T) {
	ro := renderOptions(Options{FilterID: "mustache", Mirror: true, Interp: "nearest"}, nil)
	if ro.Interpolator != xdraw.NearestNeighbor {
		t.Errorf("Expected nearest-neighbour interpolator, got %v", ro.Interpolator)
	}
	if ro.Selected != "mustache" || !ro.Mirror {
		t.Errorf("Selection or mirror lost: %+v", ro)
	}
}

func TestCheckInputFile(t *testing.T) {
	silenceStderr(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "in.mp4")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := checkInputFile(file, "a video file"); err != nil {
		t.Errorf("existing file rejected: %v", err)
	}
	if err := checkInputFile(filepath.Join(dir, "missing.mp4"), "a video file"); err == nil {
		t.Error("missing file accepted")
	}
	if err := checkInputFile(dir, "a video file"); err == nil {
		t.Error("directory accepted")
	}
}

func TestLoadCatalog(t *testing.T) {
	c, err := loadCatalog(Options{SpritesDir: "art"})
	if err != nil {
		t.Fatal(err)
	}
	def, ok := c.Lookup("sunglasses")
	if !ok || def.Image != "art/sunglasses.png" {
		t.Errorf("built-in catalog not rooted at sprites dir: %+v", def)
	}

	silenceStderr(t)
	if _, err := loadCatalog(Options{CatalogPath: filepath.Join(t.TempDir(), "none.yaml")}); err == nil {
		t.Error("missing catalog file should fail")
	}
}

type fixedLoader map[string]image.Image

func (f fixedLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	if img, ok := f[ref]; ok {
		return img, nil
	}
	return nil, errors.New("not found")
}

func TestPrintFilters(t *testing.T) {
	c := filter.Builtin("")

	var out bytes.Buffer
	printFilters(&out, c, nil)
	text := out.String()
	if !strings.HasPrefix(text, "ID") || strings.Contains(text, "STATUS") {
		t.Errorf("unexpected header:\n%s", text)
	}
	for _, def := range c.All() {
		if !strings.Contains(text, def.ID) {
			t.Errorf("listing misses %s", def.ID)
		}
	}

	sprites := filter.Preload(context.Background(), c, fixedLoader{
		"sunglasses.png": image.NewRGBA(image.Rect(0, 0, 20, 10)),
	}, filter.PreloadOptions{})
	out.Reset()
	printFilters(&out, c, sprites)
	text = out.String()
	if !strings.Contains(text, "STATUS") || !strings.Contains(text, "ok 20x10") || !strings.Contains(text, "error") {
		t.Errorf("status column missing or wrong:\n%s", text)
	}
}

func TestPrintJobs(t *testing.T) {
	var out bytes.Buffer
	printJobs(&out, nil)
	if !strings.Contains(out.String(), "No jobs") {
		t.Errorf("empty history message missing: %q", out.String())
	}

	out.Reset()
	printJobs(&out, []types.Job{{
		ID:        "0123456789abcdef",
		Kind:      "snap",
		Status:    "failed",
		Error:     "no camera",
		Stats:     types.JobStats{Frames: 1, Faces: 2, Sprites: 2},
		StartedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.Local),
		Output:    "out.png",
	}})
	text := out.String()
	for _, want := range []string{"01234567", "snap", "failed: no camera", "2026-01-02 03:04", "out.png"} {
		if !strings.Contains(text, want) {
			t.Errorf("history row missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "0123456789") {
		t.Error("job id should be shortened")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "go?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Errorf("prompt not written: %q", out.String())
		}
	}
}

func TestRemoveSnapshots(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"facefilter-1.png", "facefilter-2.png", "keep.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if n := removeSnapshots(dir); n != 2 {
		t.Errorf("removed %d files, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.png")); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestDisplayFilter(t *testing.T) {
	if displayFilter("") != "none" || displayFilter("mustache") != "mustache" {
		t.Error("displayFilter mislabels selection")
	}
}

type fakeHistory struct {
	resets int
}

func (f *fakeHistory) Reset(ctx context.Context) error {
	f.resets++
	return nil
}

func TestResetFilesWithoutDatabase(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "facefilter-1.png")
	if err := os.WriteFile(snap, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runReset(context.Background(), nil, strings.NewReader("y\n"), &out, false, true, dir); err != nil {
		t.Fatalf("files-only reset should not need a database: %v", err)
	}
	if _, err := os.Stat(snap); !os.IsNotExist(err) {
		t.Errorf("snapshot still present: %v", err)
	}
}

func TestResetHistory(t *testing.T) {
	silenceStderr(t)
	var out bytes.Buffer
	if err := runReset(context.Background(), nil, strings.NewReader("y\n"), &out, true, false, t.TempDir()); err == nil {
		t.Error("history reset without a database should fail")
	}

	db := &fakeHistory{}
	if err := runReset(context.Background(), db, strings.NewReader("y\n"), &out, true, false, t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if db.resets != 1 {
		t.Errorf("expected one reset, got %d", db.resets)
	}

	db = &fakeHistory{}
	runReset(context.Background(), db, strings.NewReader("n\n"), &out, true, false, t.TempDir())
	if db.resets != 0 {
		t.Error("declined prompt still reset the history")
	}
}
