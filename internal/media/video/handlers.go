package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/medialens/mediaproc/internal/ops"
	"github.com/medialens/mediaproc/internal/pipeline"
)

var supportedCodecs = map[string]bool{"h264": true, "h265": true, "hevc": true}

// Handlers returns the closed handler set for the video namespace.
func Handlers() map[string]pipeline.Handler {
	return map[string]pipeline.Handler{
		ops.OpSnapshot: pipeline.HandlerFunc(snapshot),
	}
}

type streamInfo struct {
	codec      string
	colorSpace string
	width      int
	height     int
}

// snapshot extracts a single frame at t milliseconds and encodes it as
// jpg/png. The video stream is probed first: only h264/h265 sources are
// accepted and BT.2020 color is rejected, matching the codec support of the
// frame extractor.
func snapshot(ctx context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	dir, err := os.MkdirTemp("", "videosnap")
	if err != nil {
		return pipeline.Context{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ext := pc.Meta.Format
	if ext == "" {
		ext = "mp4"
	}
	inPath := filepath.Join(dir, "input."+ext)
	outPath := filepath.Join(dir, "frame."+p.Str("f"))
	if err := os.WriteFile(inPath, pc.Artifact, 0o600); err != nil {
		return pipeline.Context{}, fmt.Errorf("failed to write input: %w", err)
	}

	info, err := probe(ctx, inPath)
	if err != nil {
		return pipeline.Context{}, err
	}
	if !supportedCodecs[info.codec] {
		return pipeline.Context{}, fmt.Errorf("unsupported codec: %s", info.codec)
	}
	if info.colorSpace == "bt2020" || strings.HasPrefix(info.colorSpace, "bt2020") {
		return pipeline.Context{}, fmt.Errorf("BT.2020 color space is not supported")
	}

	seek := msToSeconds(p.Int("t"))
	args := make([]string, 0, 16)
	if p.Str("m") == "fast" {
		// Fast mode seeks on the input side: keyframe-accurate only, but no
		// decode of the leading stream.
		args = append(args, "-ss", seek, "-i", inPath)
	} else {
		args = append(args, "-i", inPath, "-ss", seek)
	}
	if p.Str("ar") != "auto" {
		args = append(args, "-noautorotate")
	}
	if w, h := snapDims(info, p.Int("w"), p.Int("h")); w > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", w, h))
	}
	args = append(args, "-frames:v", "1", outPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return pipeline.Context{}, ctx.Err()
		}
		return pipeline.Context{}, fmt.Errorf("frame extraction failed: %s", bytes.TrimSpace(stderr.Bytes()))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return pipeline.Context{}, fmt.Errorf("failed to read frame: %w", err)
	}

	pc.Artifact = out
	pc.Meta.Format = p.Str("f")
	pc.Meta.Width, pc.Meta.Height = snapDims(info, p.Int("w"), p.Int("h"))
	return pc, nil
}

// snapDims resolves the output frame size: zero values auto-calculate from
// the source aspect ratio, both zero keeps the source size.
func snapDims(info streamInfo, w, h int) (int, int) {
	switch {
	case w == 0 && h == 0:
		return info.width, info.height
	case w == 0:
		return h * info.width / info.height, h
	case h == 0:
		return w, w * info.height / info.width
	}
	return w, h
}

func probe(ctx context.Context, path string) (streamInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,color_space,width,height",
		"-of", "csv=p=0", path)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return streamInfo{}, ctx.Err()
		}
		return streamInfo{}, fmt.Errorf("failed to probe video: %w", err)
	}

	return parseStreamInfo(string(out))
}

// parseStreamInfo decodes one csv line of ffprobe output. Dimensions must be
// positive: snapDims divides by them when auto-filling the aspect ratio.
func parseStreamInfo(out string) (streamInfo, error) {
	fields := strings.Split(strings.TrimSpace(out), ",")
	if len(fields) < 3 {
		return streamInfo{}, fmt.Errorf("no video stream found")
	}

	info := streamInfo{codec: strings.ToLower(fields[0])}
	info.width, _ = strconv.Atoi(fields[1])
	info.height, _ = strconv.Atoi(fields[2])
	if info.width <= 0 || info.height <= 0 {
		return streamInfo{}, fmt.Errorf("invalid stream dimensions: %q x %q", fields[1], fields[2])
	}
	if len(fields) > 3 {
		info.colorSpace = strings.ToLower(fields[3])
	}
	return info, nil
}

func msToSeconds(ms int) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}
