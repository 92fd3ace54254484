// Package video wraps the ffmpeg and ffprobe command line tools.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dudu/deepswap/internal/log"
)

const (
	// FramePattern names extracted frames; the frame id is the file stem
	FramePattern = "%06d.jpg"

	DefaultQuality = 70
	encoder        = "libx264"
	preset         = "veryfast"
	jpegQuality    = 2
)

// Resolution is a frame size in pixels
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Even rounds both dimensions down to even values, as yuv420p requires
func (r Resolution) Even() Resolution {
	return Resolution{Width: r.Width &^ 1, Height: r.Height &^ 1}
}

// Available reports whether ffmpeg and ffprobe are on PATH
func Available() error {
	for _, tool := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%s not found: %w", tool, err)
		}
	}
	return nil
}

// ProbeResolution reads the size of the first video stream
func ProbeResolution(ctx context.Context, path string) (Resolution, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height", "-of", "json", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Resolution{}, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (Resolution, error) {
	var res struct {
		Streams []Resolution `json:"streams"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return Resolution{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 || res.Streams[0].Width <= 0 || res.Streams[0].Height <= 0 {
		return Resolution{}, fmt.Errorf("no video stream found")
	}
	return res.Streams[0], nil
}

// ExtractFrames decodes videoPath into JPEG frames under dir at fps,
// scaled to res
func ExtractFrames(ctx context.Context, videoPath, dir string, res Resolution, fps int) error {
	return run(ctx, extractArgs(videoPath, dir, res, fps))
}

func extractArgs(videoPath, dir string, res Resolution, fps int) []string {
	return []string{
		"-hwaccel", "auto",
		"-i", videoPath,
		"-q:v", fmt.Sprint(jpegQuality),
		"-pix_fmt", "rgb24",
		"-vf", fmt.Sprintf("scale=%s,fps=%d", res.Even(), fps),
		"-vsync", "0",
		filepath.Join(dir, FramePattern),
	}
}

// Mux encodes the frames under dir into output, copying the audio of
// audioSource when it has any
func Mux(ctx context.Context, dir, audioSource, output string, fps, quality int) error {
	return run(ctx, muxArgs(dir, audioSource, output, fps, quality))
}

func muxArgs(dir, audioSource, output string, fps, quality int) []string {
	args := []string{
		"-framerate", fmt.Sprint(fps),
		"-i", filepath.Join(dir, FramePattern),
	}
	if audioSource != "" {
		args = append(args, "-i", audioSource, "-map", "0:v:0", "-map", "1:a:0?", "-c:a", "copy", "-shortest")
	}
	return append(args,
		"-c:v", encoder,
		"-preset", preset,
		"-crf", fmt.Sprint(crf(quality)),
		"-pix_fmt", "yuv420p",
		"-y", output,
	)
}

// crf maps a 0-100 quality to the x264 constant rate factor range 51-0
func crf(quality int) int {
	quality = max(0, min(quality, 100))
	return int(math.Round(51 - float64(quality)*0.51))
}

func run(ctx context.Context, args []string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	cmd := exec.CommandContext(ctx, "ffmpeg", full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug("running ffmpeg", "args", strings.Join(full, " "))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
