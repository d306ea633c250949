package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/medialens/mediaproc/internal/ops"
	"github.com/medialens/mediaproc/internal/pipeline"
)

// Handlers returns the closed handler set for the audio namespace. The codec
// work itself is delegated to ffmpeg; this package only maps validated
// parameters onto its invocation.
func Handlers() map[string]pipeline.Handler {
	return map[string]pipeline.Handler{
		ops.OpConvert: pipeline.HandlerFunc(convert),
	}
}

// convert transcodes the artifact via ffmpeg. The context carries the
// wall-clock processing window: ffmpeg is killed when it expires.
func convert(ctx context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	format := p.Str("f")

	dir, err := os.MkdirTemp("", "audioconv")
	if err != nil {
		return pipeline.Context{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input."+sourceExt(pc.Meta.Format))
	outPath := filepath.Join(dir, "output."+format)
	if err := os.WriteFile(inPath, pc.Artifact, 0o600); err != nil {
		return pipeline.Context{}, fmt.Errorf("failed to write input: %w", err)
	}

	args := []string{"-i", inPath}

	// ss and t arrive in milliseconds; ffmpeg wants seconds.
	if p.Has("ss") {
		args = append(args, "-ss", msToSeconds(p.Int("ss")))
	}
	if p.Has("t") {
		args = append(args, "-t", msToSeconds(p.Int("t")))
	}
	if p.Has("ar") {
		args = append(args, "-ar", strconv.Itoa(p.Int("ar")))
	}
	if p.Has("ac") {
		args = append(args, "-ac", strconv.Itoa(p.Int("ac")))
	}

	switch {
	case p.Has("aq"):
		if format == "mp3" {
			// mp3's VBR scale runs 0 (best) to 9; map the 0-100 quality onto it.
			args = append(args, "-q:a", strconv.Itoa(p.Int("aq")*9/100))
		} else {
			args = append(args, "-q:a", strconv.Itoa(p.Int("aq")))
		}
	case p.Has("ab"):
		args = append(args, "-b:a", strconv.Itoa(p.Int("ab")))
	}

	if format == "flac" && p.Has("adepth") {
		args = append(args, "-sample_fmt", "s"+p.Str("adepth"))
	}

	// m4a and oga are extensions, not ffmpeg muxer names: m4a is an mp4
	// container with an aac stream, oga an ogg container.
	switch format {
	case "m4a":
		args = append(args, "-f", "mp4", "-c:a", "aac")
	case "oga":
		args = append(args, "-f", "ogg")
	default:
		args = append(args, "-f", format)
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return pipeline.Context{}, ctx.Err()
		}
		return pipeline.Context{}, fmt.Errorf("ffmpeg conversion failed: %s", lastLine(stderr.Bytes()))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return pipeline.Context{}, fmt.Errorf("failed to read output: %w", err)
	}

	pc.Artifact = out
	pc.Meta.Format = format
	if p.Has("ar") {
		pc.Meta.SampleRate = p.Int("ar")
	}
	if p.Has("ac") {
		pc.Meta.Channels = p.Int("ac")
	}
	if p.Has("t") {
		pc.Meta.DurationMS = p.Int("t")
	}
	return pc, nil
}

func sourceExt(format string) string {
	if format == "" {
		return "wav"
	}
	return format
}

func msToSeconds(ms int) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

// lastLine extracts ffmpeg's actual error, which follows the banner and
// progress output.
func lastLine(b []byte) []byte {
	b = bytes.TrimRight(b, "\n")
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b
}
