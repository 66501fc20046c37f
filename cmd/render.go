package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/facefilter/internal/canvas"
	"github.com/andresmejia3/facefilter/internal/filter"
	"github.com/andresmejia3/facefilter/internal/landmark"
	"github.com/andresmejia3/facefilter/internal/session"
	"github.com/andresmejia3/facefilter/internal/types"
	"github.com/andresmejia3/facefilter/internal/utils"
	"github.com/andresmejia3/facefilter/internal/worker"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// addRenderFlags registers the flags every rendering command shares.
func addRenderFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.FilterID, "filter", "f", "", "Filter to apply (see 'facefilter filters'); empty draws no sprite")
	cmd.Flags().StringVar(&opts.CatalogPath, "catalog", "", "YAML catalog replacing the built-in filters")
	cmd.Flags().StringVar(&opts.SpritesDir, "sprites", "assets/filters", "Directory holding the built-in sprite images (PNG, JPEG, GIF or WebP)")
	cmd.Flags().StringVar(&opts.BorderPath, "border", "", "Decorative border image drawn over the whole frame")
	cmd.Flags().BoolVar(&opts.Mirror, "mirror", false, "Flip output horizontally (selfie view)")
	cmd.Flags().StringVar(&opts.Detector, "detector", "python", "Landmark detector: python, pigo")
	cmd.Flags().StringVar(&opts.CascadePath, "cascade", "cascade/facefinder", "Pigo cascade file (pigo detector only)")
	cmd.Flags().IntVar(&opts.MaxFaces, "max-faces", 4, "Maximum faces to detect per frame")
	cmd.Flags().Float64VarP(&opts.MinConfidence, "detection-threshold", "D", 0.5, "Face detection confidence threshold")
	cmd.Flags().StringVar(&opts.WorkerTimeout, "worker-timeout", "30s", "Timeout for a worker to process a single frame")
	cmd.Flags().StringVar(&opts.WorkerScript, "worker-script", "python/landmarker.py", "Landmarker script run by python workers")
	cmd.Flags().StringVar(&opts.Interp, "interp", "bilinear", "Sprite resampling: nearest, approx-bilinear, bilinear, catmull-rom")
	cmd.Flags().IntVar(&opts.MaxSpriteSide, "max-sprite-side", 1024, "Downscale sprites whose longest side exceeds this (0 keeps originals)")
}

func validateRenderFlags(opts *Options) error {
	if opts.Detector != "python" && opts.Detector != "pigo" {
		err := fmt.Errorf("invalid detector '%s'. Must be 'python' or 'pigo'", opts.Detector)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if opts.MaxFaces < 1 {
		opts.MaxFaces = 1
	}
	if opts.MinConfidence <= 0 || opts.MinConfidence > 1.0 {
		err := fmt.Errorf("must be between 0.0 and 1.0, got %f", opts.MinConfidence)
		utils.ShowError("Invalid detection threshold", err, nil)
		return err
	}
	if _, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
		utils.ShowError("Invalid worker-timeout format (use '30s', '1m')", err, nil)
		return err
	}
	if _, err := canvas.ParseInterpolator(opts.Interp); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	return nil
}

// renderOptions converts flags into compositor settings. Flags are
// validated first, so the interpolator name is known to parse.
func renderOptions(opts Options, border *filter.Border) session.RenderOptions {
	interp, _ := canvas.ParseInterpolator(opts.Interp)
	return session.RenderOptions{
		Selected:     opts.FilterID,
		Border:       border,
		Mirror:       opts.Mirror,
		Interpolator: interp,
	}
}

// checkInputFile mirrors the checks every file-based command performs.
func checkInputFile(path, want string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected "+want, err, nil)
		return err
	}
	return nil
}

func loadCatalog(opts Options) (*filter.Catalog, error) {
	if opts.CatalogPath == "" {
		return filter.Builtin(opts.SpritesDir), nil
	}
	c, err := filter.LoadCatalog(opts.CatalogPath)
	if err != nil {
		utils.ShowError("Failed to load filter catalog", err, nil)
		return nil, err
	}
	return c, nil
}

// loadSprites preloads every catalog sprite. Failures are reported and
// leave that filter drawing nothing.
func loadSprites(ctx context.Context, c *filter.Catalog, opts Options) *filter.SpriteCache {
	fmt.Fprintf(os.Stderr, "🎨 Loading %d sprites...\n", c.Len())
	cache := filter.Preload(ctx, c, filter.FileLoader{}, filter.PreloadOptions{
		MaxSide: opts.MaxSpriteSide,
		Logger:  Log,
	})
	for _, def := range c.All() {
		if s, _ := cache.Get(def.ID); s.Err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Sprite for '%s' unavailable: %v\n", def.ID, s.Err)
		}
	}
	return cache
}

func loadBorder(ctx context.Context, opts Options) (*filter.Border, error) {
	if opts.BorderPath == "" {
		return nil, nil
	}
	img, err := filter.FileLoader{}.Load(ctx, opts.BorderPath)
	if err != nil {
		utils.ShowError("Failed to load border image", err, nil)
		return nil, err
	}
	b := filter.TetBorder(img)
	return &b, nil
}

// newDetector starts one landmark detector for frames of the given size.
// The returned command is non-nil for python workers so crash logs can be
// shown.
func newDetector(ctx context.Context, id int, opts Options, width, height int) (landmark.Detector, *utils.SafeCommand, error) {
	if opts.Detector == "pigo" {
		d, err := landmark.NewPigoDetector(landmark.PigoConfig{
			CascadePath: opts.CascadePath,
			MaxFaces:    opts.MaxFaces,
		})
		return d, nil, err
	}

	timeout, _ := time.ParseDuration(opts.WorkerTimeout)
	w, err := worker.NewPythonWorker(ctx, id, worker.Config{
		Script:        opts.WorkerScript,
		RawWidth:      width,
		RawHeight:     height,
		MaxFaces:      opts.MaxFaces,
		MinConfidence: opts.MinConfidence,
		ReadTimeout:   timeout,
		Logger:        Log.With(zap.Int("worker", id)),
	})
	if err != nil {
		return nil, nil, err
	}
	return w, w.Cmd, nil
}

// newRenderer builds the per-frame compositor shared by all commands.
func newRenderer(ctx context.Context, opts Options) (*session.Renderer, *filter.Catalog, *filter.SpriteCache, error) {
	c, err := loadCatalog(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	if opts.FilterID != "" {
		if _, ok := c.Lookup(opts.FilterID); !ok {
			err := fmt.Errorf("unknown filter '%s'", opts.FilterID)
			utils.ShowError("Configuration Error", err, nil)
			return nil, nil, nil, err
		}
	}
	border, err := loadBorder(ctx, opts)
	if err != nil {
		return nil, nil, nil, err
	}
	sprites := loadSprites(ctx, c, opts)
	r, err := session.NewRenderer(c, sprites, renderOptions(opts, border))
	if err != nil {
		return nil, nil, nil, err
	}
	return r, c, sprites, nil
}

// startJob records a running job when history is enabled.
func startJob(ctx context.Context, kind string, opts Options, sourceID string) string {
	id := uuid.NewString()
	if DB == nil {
		return id
	}
	job := types.Job{
		ID:        id,
		Kind:      kind,
		Input:     opts.InputPath,
		Output:    opts.OutputPath,
		SourceID:  sourceID,
		FilterID:  opts.FilterID,
		StartedAt: time.Now(),
	}
	if err := DB.StartJob(ctx, job); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to record job: %v\n", err)
	}
	return id
}

// finishJob closes the job row. It uses a fresh context since the command's
// may already be cancelled.
func finishJob(id string, stats types.JobStats, runErr error) {
	if DB == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := DB.FinishJob(ctx, id, stats, runErr); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to update job %s: %v\n", id, err)
	}
}

func printStats(stats types.JobStats) {
	fmt.Fprintf(os.Stderr, "✅ %d frames, %d faces, %d sprites drawn", stats.Frames, stats.Faces, stats.Sprites)
	if stats.Skipped > 0 {
		fmt.Fprintf(os.Stderr, ", %d frames skipped", stats.Skipped)
	}
	fmt.Fprintln(os.Stderr)
}
