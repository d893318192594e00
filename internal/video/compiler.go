// Package video turns an archived frame directory into an mp4 with ffmpeg.
package video

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
)

// Compiler runs ffmpeg over PNG frame directories.
type Compiler struct {
	ffmpeg string
	fps    int
	outDir string
}

// NewCompiler writes videos to outDir at fps frames per second.
func NewCompiler(ffmpeg string, fps int, outDir string) *Compiler {
	if ffmpeg == "" {
		ffmpeg = DefaultFFmpeg
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Compiler{ffmpeg: ffmpeg, fps: fps, outDir: outDir}
}

// OutputPath returns where the video for framesDir is written.
func (c *Compiler) OutputPath(framesDir string) string {
	return filepath.Join(c.outDir, filepath.Base(framesDir)+".mp4")
}

// Args returns the ffmpeg arguments for framesDir.
func (c *Compiler) Args(framesDir string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-framerate", strconv.Itoa(c.fps),
		"-pattern_type", "glob",
		"-i", filepath.Join(framesDir, FrameGlob),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y", c.OutputPath(framesDir),
	}
}

// Compile encodes framesDir and returns the video path. ffmpeg's stderr is
// attached to the error on failure.
func (c *Compiler) Compile(ctx context.Context, framesDir string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "video_compile")
	defer span.End()
	span.SetAttr("frames_dir", framesDir)
	log := trace.Logger(ctx)

	if err := os.MkdirAll(c.outDir, 0o755); err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeEncode, "create %s", c.outDir)
	}

	out := c.OutputPath(framesDir)
	cmd := exec.CommandContext(ctx, c.ffmpeg, c.Args(framesDir)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		span.SetAttr("error", err.Error())
		if ctx.Err() != nil {
			return "", apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "video compile cancelled")
		}
		return "", apperrors.Wrapf(err, apperrors.CodeEncode, "ffmpeg %s", filepath.Base(framesDir)).
			WithMetadata("stderr", tail(stderr.String(), MaxStderr))
	}

	info, err := os.Stat(out)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeEncode, "ffmpeg produced no %s", out)
	}
	log.Info("video compiled", "path", out, "size", humanize.Bytes(uint64(info.Size())), "span", span)
	return out, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
