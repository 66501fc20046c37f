package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 2. Video Engine (Shared by Apply & Live) ---

// VideoInfo is what the pipeline needs to know about a stream up front.
type VideoInfo struct {
	Width  int
	Height int
	FPS    float64
}

// ProbeVideo reads dimensions and frame rate of the first video stream.
func ProbeVideo(ctx context.Context, path string) (VideoInfo, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (VideoInfo, error) {
	var res struct {
		Streams []struct {
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			RFrameRate   string `json:"r_frame_rate"`
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream found")
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}
	fps, err := ParseFrameRate(s.AvgFrameRate)
	if err != nil || fps <= 0 {
		fps, err = ParseFrameRate(s.RFrameRate)
		if err != nil {
			return VideoInfo{}, err
		}
	}
	return VideoInfo{Width: s.Width, Height: s.Height, FPS: fps}, nil
}

// ParseFrameRate parses ffprobe rates such as "30000/1001" or "25".
func ParseFrameRate(rate string) (float64, error) {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate '%s': %w", rate, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate '%s': %w", rate, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("invalid frame rate '%s': zero denominator", rate)
	}
	return n / d, nil
}

// GetTotalFrames uses ffprobe to count frames for the progress bar
// It returns 0 if the count fails, allowing the caller to fallback to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=nb_frames", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	var res struct {
		Streams []struct {
			NbFrames string `json:"nb_frames"`
		} `json:"streams"`
	}
	if json.Unmarshal(out, &res) != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbFrames)
	if err != nil {
		return 0
	}
	return count
}

// NewFFmpegRawDecoder streams the input as packed RGBA frames on Stdout.
func NewFFmpegRawDecoder(ctx context.Context, inputPath string) *SafeCommand {
	return NewSafeCommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", inputPath, "-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// NewFFmpegCameraDecoder captures a device (v4l2 on Linux) as packed RGBA
// frames at the requested size.
func NewFFmpegCameraDecoder(ctx context.Context, format, device string, width, height int, fps float64) *SafeCommand {
	return NewSafeCommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-f", format,
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", device,
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// NewFFmpegEncoder reads packed RGBA frames on Stdin and writes outputPath.
func NewFFmpegEncoder(ctx context.Context, outputPath string, fps float64, width, height int) *SafeCommand {
	return NewSafeCommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		outputPath)
}
