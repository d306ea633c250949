package image

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"image/color"
	"strconv"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/medialens/mediaproc/internal/ops"
	"github.com/medialens/mediaproc/internal/pipeline"
)

const defaultQuality = 85

// objectFetcher supplies watermark overlay images from the source bucket.
type objectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Handlers returns the closed handler set for the image namespace, one per
// operation. Every stage is in-process pixel work on the artifact bytes
// except watermark, which may fetch an overlay image from storage.
func Handlers(fetcher objectFetcher, bucket string) map[string]pipeline.Handler {
	wm := &watermarker{fetcher: fetcher, bucket: bucket}
	return map[string]pipeline.Handler{
		ops.OpResize:     pipeline.HandlerFunc(resize),
		ops.OpCrop:       pipeline.HandlerFunc(crop),
		ops.OpRotate:     pipeline.HandlerFunc(rotate),
		ops.OpAutoOrient: pipeline.HandlerFunc(autoOrient),
		ops.OpGrayscale:  pipeline.HandlerFunc(grayscale),
		ops.OpBlur:       pipeline.HandlerFunc(blur),
		ops.OpWatermark:  pipeline.HandlerFunc(wm.apply),
		ops.OpQuality:    pipeline.HandlerFunc(quality),
		ops.OpFormat:     pipeline.HandlerFunc(convertFormat),
	}
}

// resize scales the image according to one of three parameter families:
// percentage (p), longest/shortest side (l/s), or width/height (w/h) with a
// fit mode. With limit enabled (the default), upscaling requests return the
// artifact unchanged.
func resize(_ context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	img, err := decode(pc)
	if err != nil {
		return pipeline.Context{}, err
	}
	ow, oh := img.Bounds().Dx(), img.Bounds().Dy()
	limit := p.Bool("limit")

	var out *stdimage.NRGBA
	switch {
	case p.Has("p"):
		pct := p.Int("p")
		nw, nh := ow*pct/100, oh*pct/100
		if limit && (nw > ow || nh > oh) {
			return pc, nil
		}
		out = imaging.Resize(img, nw, nh, imaging.Lanczos)

	case p.Has("l") || p.Has("s"):
		var ratio float64
		if p.Has("l") {
			ratio = float64(p.Int("l")) / float64(max(ow, oh))
		} else {
			ratio = float64(p.Int("s")) / float64(min(ow, oh))
		}
		nw, nh := int(float64(ow)*ratio), int(float64(oh)*ratio)
		if limit && (nw > ow || nh > oh) {
			return pc, nil
		}
		out = imaging.Resize(img, nw, nh, imaging.Lanczos)

	default:
		w, h := p.Int("w"), p.Int("h")
		switch p.Str("m") {
		case "fixed":
			out = imaging.Resize(img, w, h, imaging.Lanczos)
		case "fill":
			out = imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
		case "pad":
			fitted := imaging.Fit(img, w, h, imaging.Lanczos)
			canvas := imaging.New(w, h, parseHexColor(p.Str("color")))
			out = imaging.PasteCenter(canvas, fitted)
		case "mfit":
			nw, nh := fitDims(ow, oh, w, h, false)
			if limit && (nw > ow || nh > oh) {
				return pc, nil
			}
			out = imaging.Resize(img, nw, nh, imaging.Lanczos)
		default: // lfit
			nw, nh := fitDims(ow, oh, w, h, true)
			if limit && (nw > ow || nh > oh) {
				return pc, nil
			}
			out = imaging.Resize(img, nw, nh, imaging.Lanczos)
		}
	}

	return encode(pc, out, defaultQuality)
}

// fitDims scales (ow, oh) so the result fits inside (shrink) or covers
// (grow) the requested box, keeping aspect ratio. A zero w or h constrains
// only the other dimension.
func fitDims(ow, oh, w, h int, shrink bool) (int, int) {
	var ratio float64
	switch {
	case w > 0 && h > 0:
		rw, rh := float64(w)/float64(ow), float64(h)/float64(oh)
		if shrink {
			ratio = min(rw, rh)
		} else {
			ratio = max(rw, rh)
		}
	case w > 0:
		ratio = float64(w) / float64(ow)
	default:
		ratio = float64(h) / float64(oh)
	}
	return int(float64(ow) * ratio), int(float64(oh) * ratio)
}

// crop cuts a (w, h) window anchored at the gravity point, shifted by the
// x/y offsets. A missing dimension defaults to the image's full extent.
func crop(_ context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	img, err := decode(pc)
	if err != nil {
		return pipeline.Context{}, err
	}
	iw, ih := img.Bounds().Dx(), img.Bounds().Dy()

	cw, ch := iw, ih
	if p.Has("w") {
		cw = min(p.Int("w"), iw)
	}
	if p.Has("h") {
		ch = min(p.Int("h"), ih)
	}

	bx, by := anchor(p.Str("g"), iw, ih, cw, ch)
	x1 := clamp(bx+p.Int("x"), 0, iw-cw)
	y1 := clamp(by+p.Int("y"), 0, ih-ch)

	out := imaging.Crop(img, stdimage.Rect(x1, y1, x1+cw, y1+ch))
	return encode(pc, out, defaultQuality)
}

// rotate turns the image clockwise by a right-angle step. imaging's RotateN
// helpers are counter-clockwise, hence the swap.
func rotate(_ context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	img, err := decode(pc)
	if err != nil {
		return pipeline.Context{}, err
	}

	var out *stdimage.NRGBA
	switch p.Str("degree") {
	case "180":
		out = imaging.Rotate180(img)
	case "270":
		out = imaging.Rotate90(img)
	default: // 90
		out = imaging.Rotate270(img)
	}
	return encode(pc, out, defaultQuality)
}

// autoOrient re-decodes the artifact applying the EXIF orientation tag.
func autoOrient(_ context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	if !p.Bool("auto") {
		return pc, nil
	}
	img, err := imaging.Decode(bytes.NewReader(pc.Artifact), imaging.AutoOrientation(true))
	if err != nil {
		return pipeline.Context{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return encode(pc, imaging.Clone(img), defaultQuality)
}

func grayscale(_ context.Context, pc pipeline.Context, _ ops.Params) (pipeline.Context, error) {
	img, err := decode(pc)
	if err != nil {
		return pipeline.Context{}, err
	}
	return encode(pc, imaging.Grayscale(img), defaultQuality)
}

func blur(_ context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	img, err := decode(pc)
	if err != nil {
		return pipeline.Context{}, err
	}
	return encode(pc, imaging.Blur(img, float64(p.Int("r"))), defaultQuality)
}

// quality re-encodes a lossy artifact at the requested quality. Lossless
// formats have no quality dial; asking for one is a conversion error.
func quality(_ context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	switch pc.Meta.Format {
	case "jpg", "jpeg", "":
	default:
		return pipeline.Context{}, fmt.Errorf("quality is not applicable to %s", pc.Meta.Format)
	}
	img, err := decode(pc)
	if err != nil {
		return pipeline.Context{}, err
	}
	return encode(pc, imaging.Clone(img), p.Int("q"))
}

// convertFormat re-encodes the artifact in the target format and updates the
// format descriptor the rest of the pipeline sees.
func convertFormat(_ context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	img, err := decode(pc)
	if err != nil {
		return pipeline.Context{}, err
	}
	pc.Meta.Format = p.Str("f")
	return encode(pc, imaging.Clone(img), p.Int("q"))
}

func decode(pc pipeline.Context) (stdimage.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(pc.Artifact))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// encode serializes the processed image in the context's current format and
// refreshes the dimension metadata. webp has its own encoder; imaging covers
// everything else.
func encode(pc pipeline.Context, img *stdimage.NRGBA, quality int) (pipeline.Context, error) {
	buf := bytes.NewBuffer(nil)
	if pc.Meta.Format == "webp" {
		if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return pipeline.Context{}, fmt.Errorf("failed to encode image: %w", err)
		}
	} else {
		format, err := encodingFor(pc.Meta.Format)
		if err != nil {
			return pipeline.Context{}, err
		}
		if err := imaging.Encode(buf, img, format, imaging.JPEGQuality(quality)); err != nil {
			return pipeline.Context{}, fmt.Errorf("failed to encode image: %w", err)
		}
	}

	pc.Artifact = buf.Bytes()
	pc.Meta.Width = img.Bounds().Dx()
	pc.Meta.Height = img.Bounds().Dy()
	return pc, nil
}

func encodingFor(format string) (imaging.Format, error) {
	switch format {
	case "jpg", "jpeg", "":
		return imaging.JPEG, nil
	case "png":
		return imaging.PNG, nil
	case "gif":
		return imaging.GIF, nil
	case "bmp":
		return imaging.BMP, nil
	case "tiff":
		return imaging.TIFF, nil
	default:
		return 0, fmt.Errorf("unsupported conversion to %s", format)
	}
}

// anchor returns the top-left corner of a (w, h) box placed at the gravity
// point of a (iw, ih) frame.
func anchor(g string, iw, ih, w, h int) (int, int) {
	var x, y int
	switch g {
	case "nw", "west", "sw":
		x = 0
	case "north", "center", "south":
		x = (iw - w) / 2
	default: // ne, east, se
		x = iw - w
	}
	switch g {
	case "nw", "north", "ne":
		y = 0
	case "west", "center", "east":
		y = (ih - h) / 2
	default: // sw, south, se
		y = ih - h
	}
	return x, y
}

func parseHexColor(hex string) color.NRGBA {
	if len(hex) != 6 {
		return color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	}
	parse := func(s string) uint8 {
		n, _ := strconv.ParseUint(s, 16, 8)
		return uint8(n)
	}
	return color.NRGBA{R: parse(hex[0:2]), G: parse(hex[2:4]), B: parse(hex[4:6]), A: 0xFF}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
