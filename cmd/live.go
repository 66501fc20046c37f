package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/facefilter/internal/filter"
	"github.com/andresmejia3/facefilter/internal/session"
	"github.com/andresmejia3/facefilter/internal/types"
	"github.com/andresmejia3/facefilter/internal/utils"
	"github.com/spf13/cobra"
)

var (
	liveOpts   Options
	liveFormat string
	liveWidth  int
	liveHeight int
	liveFPS    float64
)

var liveCmd = &cobra.Command{
	Use:         "live",
	Short:       "Filter a camera stream until Ctrl+C, recording the result",
	Long:        "Captures the camera through ffmpeg, applies the selected filter to every frame and encodes the output. Type a filter id and Enter to switch filters while recording, or 'none' to clear.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLive(cmd.Context(), liveOpts, cmd.InOrStdin())
	},
}

func init() {
	liveCmd.Flags().StringVarP(&liveOpts.InputPath, "device", "d", "/dev/video0", "Camera device")
	liveCmd.Flags().StringVar(&liveFormat, "format", "v4l2", "ffmpeg input format for the camera (v4l2, avfoundation, dshow)")
	liveCmd.Flags().IntVar(&liveWidth, "width", 640, "Capture width")
	liveCmd.Flags().IntVar(&liveHeight, "height", 480, "Capture height")
	liveCmd.Flags().Float64Var(&liveFPS, "fps", 30, "Capture frame rate")
	liveCmd.Flags().StringVarP(&liveOpts.OutputPath, "output", "o", "live.mkv", "Path to output recording")
	addRenderFlags(liveCmd, &liveOpts)
	rootCmd.AddCommand(liveCmd)
}

func runLive(ctx context.Context, opts Options, in io.Reader) (err error) {
	if err := validateRenderFlags(&opts); err != nil {
		return err
	}
	if liveWidth <= 0 || liveHeight <= 0 || liveFPS <= 0 {
		err := fmt.Errorf("width, height and fps must be positive")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	catalog, err := loadCatalog(opts)
	if err != nil {
		return err
	}
	border, err := loadBorder(ctx, opts)
	if err != nil {
		return err
	}

	// Ctrl+C stops the loop; Dispose then stops these processes in order.
	procCtx, stopProcs := context.WithCancel(context.Background())
	defer stopProcs()

	fmt.Fprintln(os.Stderr, "🚀 Starting landmark engine...")
	det, py, err := newDetector(procCtx, 0, opts, liveWidth, liveHeight)
	if err != nil {
		utils.ShowError("Failed to start landmark detector", err, py)
		return err
	}

	fmt.Fprintf(os.Stderr, "📷 Opening %s...\n", opts.InputPath)
	camera := utils.NewFFmpegCameraDecoder(procCtx, liveFormat, opts.InputPath, liveWidth, liveHeight, liveFPS)
	src, err := session.FFmpegSource(camera, liveWidth, liveHeight)
	if err != nil {
		det.Close()
		utils.ShowError("Failed to open camera", err, camera)
		return err
	}

	// Sprites load in the background; frames render without a sprite until
	// theirs is ready.
	sprites := filter.NewSpriteCache()
	go filter.PreloadInto(ctx, sprites, catalog, filter.FileLoader{}, filter.PreloadOptions{
		MaxSide: opts.MaxSpriteSide,
		Logger:  Log,
	})

	// The session owns the stream and detector from here on. Ctrl+C cancels
	// ctx, the loop returns and Dispose releases both.
	sess, err := session.New(catalog, sprites, det, src, session.Options{
		RenderOptions: renderOptions(opts, border),
		Logger:        Log,
	})
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	defer func() {
		if derr := sess.Dispose(); derr != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Teardown: %v\n", derr)
		}
	}()

	// Not bound to ctx: the encoder has to outlive Ctrl+C to finish the file.
	encoder := utils.NewFFmpegEncoder(context.Background(), opts.OutputPath, liveFPS, liveWidth, liveHeight)
	encoderIn, err := encoder.StdinPipe()
	if err != nil {
		utils.ShowError("Failed to create encoder pipe", err, nil)
		return err
	}
	if err := encoder.Start(); err != nil {
		utils.ShowError("Failed to start encoder", err, nil)
		return err
	}
	sink := session.NewEncoderSink(encoderIn)

	jobID := startJob(ctx, "live", opts, "")
	var stats types.JobStats
	defer func() { finishJob(jobID, stats, err) }()

	go readSelections(in, sess)

	fmt.Fprintln(os.Stderr, "🔴 Recording. Press Ctrl+C to stop.")
	stats, err = sess.Run(ctx, session.NewTicker(liveFPS), sink)
	if err != nil {
		utils.ShowError("Live session failed", err, py)
	}

	sink.Close()
	if werr := encoder.Wait(); werr != nil {
		utils.ShowError("Encoder process failed", werr, encoder)
		if err == nil {
			err = werr
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)
	printStats(stats)
	fmt.Fprintf(os.Stderr, "💾 Saved %s\n", opts.OutputPath)
	return nil
}

// readSelections switches the session's filter from lines typed on in.
func readSelections(in io.Reader, sess *session.Session) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		if id == "none" {
			id = ""
		}
		if err := sess.Select(id); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
			continue
		}
		fmt.Fprintf(os.Stderr, "🎭 Filter: %s\n", displayFilter(id))
	}
}

func displayFilter(id string) string {
	if id == "" {
		return "none"
	}
	return id
}
