package cmd

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/facefilter/internal/canvas"
	"github.com/andresmejia3/facefilter/internal/filter"
	"github.com/andresmejia3/facefilter/internal/types"
	"github.com/andresmejia3/facefilter/internal/utils"
	"github.com/spf13/cobra"
)

var snapOpts Options

var snapCmd = &cobra.Command{
	Use:         "snap <image_path_or_url>",
	Short:       "Apply a face filter to a single photo and save it as PNG",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		snapOpts.InputPath = args[0]
		return runSnap(cmd.Context(), snapOpts)
	},
}

func init() {
	snapCmd.Flags().StringVarP(&snapOpts.OutputPath, "output", "o", "", "Output PNG (default: facefilter-<timestamp>.png)")
	addRenderFlags(snapCmd, &snapOpts)
	rootCmd.AddCommand(snapCmd)
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func runSnap(ctx context.Context, opts Options) (err error) {
	if !isURL(opts.InputPath) {
		if err := checkInputFile(opts.InputPath, "an image file"); err != nil {
			return err
		}
	}
	if err := validateRenderFlags(&opts); err != nil {
		return err
	}
	if opts.OutputPath == "" {
		opts.OutputPath = fmt.Sprintf("facefilter-%d.png", time.Now().UnixMilli())
	}

	renderer, _, _, err := newRenderer(ctx, opts)
	if err != nil {
		return err
	}

	src, err := filter.FileLoader{}.Load(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to read image", err, nil)
		return err
	}
	b := src.Bounds()
	frame := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	canvas.New(frame).DrawFrame(src)

	jobID := startJob(ctx, "snap", opts, "")
	var stats types.JobStats
	defer func() { finishJob(jobID, stats, err) }()

	fmt.Fprintln(os.Stderr, "🚀 Starting landmark engine...")
	det, py, err := newDetector(ctx, 0, opts, b.Dx(), b.Dy())
	if err != nil {
		utils.ShowError("Failed to start landmark detector", err, py)
		return err
	}
	defer det.Close()

	fmt.Fprintln(os.Stderr, "🔍 Finding faces...")
	sets, err := det.Detect(ctx, frame)
	if err != nil {
		utils.ShowError("Landmark detection failed", err, py)
		return err
	}
	if len(sets) == 0 {
		fmt.Fprintln(os.Stderr, "❌ No faces detected, saving the photo without a filter.")
	}
	stats = renderer.Render(frame, sets)

	if err := writePNG(opts.OutputPath, frame); err != nil {
		utils.ShowError("Failed to save snapshot", err, nil)
		return err
	}
	printStats(stats)
	fmt.Fprintf(os.Stderr, "📸 Saved %s\n", opts.OutputPath)
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
