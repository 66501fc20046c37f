package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/facefilter/internal/canvas"
	"github.com/andresmejia3/facefilter/internal/landmark"
	"github.com/andresmejia3/facefilter/internal/types"
	"github.com/andresmejia3/facefilter/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var applyOpts Options

var applyCmd = &cobra.Command{
	Use:         "apply",
	Short:       "Apply a face filter to every frame of a video",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runApply(cmd.Context(), applyOpts)
	},
}

func init() {
	applyCmd.Flags().StringVarP(&applyOpts.InputPath, "input", "i", "", "Path to input video")
	applyCmd.Flags().StringVarP(&applyOpts.OutputPath, "output", "o", "filtered.mp4", "Path to output video")
	applyCmd.Flags().IntVarP(&applyOpts.NumEngines, "engines", "e", 1, "Number of parallel landmark workers")
	addRenderFlags(applyCmd, &applyOpts)

	applyCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(applyCmd)
}

// frameBufferPool recycles raw frame buffers between the decoder and the
// encoder to reduce GC pressure.
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 1920*1080*4) },
}

type applyResult struct {
	Index int
	Data  []byte
	Sets  []landmark.Set
}

// reorderBuffer releases worker results in frame order.
type reorderBuffer struct {
	next    int
	pending map[int]applyResult
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[int]applyResult)}
}

// push stores res and returns every result that is now in sequence.
func (b *reorderBuffer) push(res applyResult) []applyResult {
	b.pending[res.Index] = res
	var ready []applyResult
	for {
		r, ok := b.pending[b.next]
		if !ok {
			return ready
		}
		delete(b.pending, b.next)
		ready = append(ready, r)
		b.next++
	}
}

func (b *reorderBuffer) len() int { return len(b.pending) }

func runApply(ctx context.Context, opts Options) (err error) {
	// Create a cancellable context to ensure all child processes (FFmpeg, Python)
	// are killed immediately if this function returns early (e.g. on error).
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := checkInputFile(opts.InputPath, "a video file"); err != nil {
		return err
	}
	if err := validateRenderFlags(&opts); err != nil {
		return err
	}

	// Safety Check: Prevent overwriting input file which causes corruption
	inAbs, _ := filepath.Abs(opts.InputPath)
	outAbs, _ := filepath.Abs(opts.OutputPath)
	if inAbs == outAbs {
		return fmt.Errorf("input and output paths must be different to prevent file corruption")
	}

	info, err := utils.ProbeVideo(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to probe video", err, nil)
		return err
	}
	width, height := info.Width, info.Height
	totalFrames := utils.GetTotalFrames(ctx, opts.InputPath)

	renderer, _, _, err := newRenderer(ctx, opts)
	if err != nil {
		return err
	}

	sourceID, _ := utils.GenerateVideoID(opts.InputPath)
	jobID := startJob(ctx, "apply", opts, sourceID)
	var stats types.JobStats
	defer func() { finishJob(jobID, stats, err) }()

	taskChan := make(chan types.FrameTask, opts.NumEngines)
	resultsChan := make(chan applyResult, opts.NumEngines*2)
	errChan := make(chan error, opts.NumEngines+2)

	var wg sync.WaitGroup
	readyChan := make(chan bool, opts.NumEngines)

	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			det, py, err := newDetector(ctx, id, opts, width, height)
			if err != nil {
				utils.ShowError("Worker startup failed", err, py)
				select {
				case errChan <- err:
				default:
				}
				return
			}
			defer det.Close()
			readyChan <- true

			for task := range taskChan {
				frame := canvas.FromRaw(task.Data, width, height).Image()
				sets, err := det.Detect(ctx, frame)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					utils.ShowError("Landmark worker crashed", err, py)
					select {
					case errChan <- err:
					default:
					}
					return
				}
				select {
				case resultsChan <- applyResult{Index: task.Index, Data: task.Data, Sets: sets}:
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	// Wait for workers to be ready
	fmt.Fprintln(os.Stderr, "🚀 Warming up engines...")
	for i := 0; i < opts.NumEngines; i++ {
		select {
		case <-readyChan:
		case err := <-errChan:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	decoder := utils.NewFFmpegRawDecoder(ctx, opts.InputPath)
	decoderOut, err := decoder.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create decoder pipe", err, nil)
		return err
	}
	if err := decoder.Start(); err != nil {
		utils.ShowError("Failed to start decoder", err, nil)
		return err
	}

	encoder := utils.NewFFmpegEncoder(ctx, opts.OutputPath, info.FPS, width, height)
	encoderIn, err := encoder.StdinPipe()
	if err != nil {
		utils.ShowError("Failed to create encoder pipe", err, nil)
		return err
	}
	if err := encoder.Start(); err != nil {
		utils.ShowError("Failed to start encoder", err, nil)
		return err
	}

	go func() {
		defer close(taskChan)
		frameSize := width * height * 4
		idx := 0
		for {
			buf := frameBufferPool.Get().([]byte)
			if cap(buf) < frameSize {
				buf = make([]byte, frameSize)
			}
			buf = buf[:frameSize]

			if _, err := io.ReadFull(decoderOut, buf); err != nil {
				// EOF or unexpected error, stop reading
				frameBufferPool.Put(buf)
				return
			}

			select {
			case taskChan <- types.FrameTask{Index: idx, Data: buf}:
				idx++
			case <-ctx.Done():
				return
			}
		}
	}()

	var barTotal int64 = int64(totalFrames)
	if barTotal <= 0 {
		barTotal = -1 // Trigger spinner mode
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("Filtering"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	order := newReorderBuffer()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			return err
		case res, ok := <-resultsChan:
			if !ok {
				goto Flush
			}
			for _, frame := range order.push(res) {
				img := canvas.FromRaw(frame.Data, width, height).Image()
				stats.Add(renderer.Render(img, frame.Sets))
				if _, err := encoderIn.Write(frame.Data); err != nil {
					utils.ShowError("Encoder rejected frame", err, encoder)
					return err
				}

				// Release buffer back to pool
				frameBufferPool.Put(frame.Data)
				bar.Add(1)
			}
		}
	}

Flush:
	bar.Finish()
	if order.len() > 0 {
		Log.Warn("frames left unordered", zap.Int("pending", order.len()))
	}
	encoderIn.Close()
	if err := encoder.Wait(); err != nil {
		utils.ShowError("Encoder process failed", err, encoder)
		return err
	}
	if err := decoder.Wait(); err != nil {
		utils.ShowError("Decoder process failed", err, decoder)
		return err
	}
	fmt.Fprintln(os.Stderr)
	printStats(stats)
	fmt.Fprintf(os.Stderr, "💾 Saved %s\n", opts.OutputPath)
	return nil
}
