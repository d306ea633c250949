package image

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/medialens/mediaproc/internal/ops"
	"github.com/medialens/mediaproc/internal/pipeline"
)

var (
	fontOnce sync.Once
	fontTTF  *truetype.Font
	fontErr  error
)

// fontFace returns a face of the compiled-in Go Regular font at the requested
// size. The font ships inside the binary, so watermarking never depends on a
// filesystem asset.
func fontFace(size float64) (font.Face, error) {
	fontOnce.Do(func() {
		fontTTF, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("failed to load font: %w", fontErr)
	}
	return truetype.NewFace(fontTTF, &truetype.Options{Size: size}), nil
}

// watermarker stamps either a text mark or an overlay image fetched from the
// source bucket onto the artifact.
type watermarker struct {
	fetcher objectFetcher
	bucket  string
}

func (wm *watermarker) apply(ctx context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	img, err := decode(pc)
	if err != nil {
		return pipeline.Context{}, err
	}

	if p.Has("image") {
		out, err := wm.overlay(ctx, img, p)
		if err != nil {
			return pipeline.Context{}, err
		}
		return encode(pc, out, defaultQuality)
	}

	out, err := drawText(img, p)
	if err != nil {
		return pipeline.Context{}, err
	}
	return encode(pc, out, defaultQuality)
}

// overlay composites a watermark image at the gravity anchor, scaled to P
// percent of its own size, with transparency t (100 = opaque).
func (wm *watermarker) overlay(ctx context.Context, base stdimage.Image, p ops.Params) (*stdimage.NRGBA, error) {
	key, err := ops.DecodeRef(p.Str("image"))
	if err != nil {
		return nil, fmt.Errorf("invalid watermark image reference: %w", err)
	}

	data, err := wm.fetcher.Fetch(ctx, wm.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch watermark image: %w", err)
	}
	mark, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode watermark image: %w", err)
	}

	if p.Has("P") {
		pct := p.Int("P")
		mw := mark.Bounds().Dx() * pct / 100
		mh := mark.Bounds().Dy() * pct / 100
		if mw < 1 || mh < 1 {
			return nil, fmt.Errorf("watermark image scales to nothing at %d%%", pct)
		}
		mark = imaging.Resize(mark, mw, mh, imaging.Lanczos)
	}

	iw, ih := base.Bounds().Dx(), base.Bounds().Dy()
	mw, mh := mark.Bounds().Dx(), mark.Bounds().Dy()

	g := p.Str("g")
	bx, by := anchor(g, iw, ih, mw, mh)
	x := clamp(bx+marginX(g, p.Int("x")), 0, max(iw-mw, 0))
	y := clamp(by+marginY(g, p.Int("y"))+voffsetFor(g, p.Int("voffset")), 0, max(ih-mh, 0))

	opacity := float64(p.Int("t")) / 100
	return imaging.Overlay(base, mark, stdimage.Pt(x, y), opacity), nil
}

// drawText draws the text onto the image at the gravity anchor, pushed inward
// by the x/y margins, with transparency t and optional rotation in degrees
// around the text position.
func drawText(img stdimage.Image, p ops.Params) (*stdimage.NRGBA, error) {
	dc := gg.NewContextForImage(img)

	c := parseHexColor(p.Str("color"))
	alpha := float64(p.Int("t")) / 100
	dc.SetRGBA(float64(c.R)/255, float64(c.G)/255, float64(c.B)/255, alpha)

	face, err := fontFace(float64(p.Int("size")))
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(face)

	text := p.Str("text")
	tw, th := dc.MeasureString(text)

	g := p.Str("g")
	bx, by := anchor(g, dc.Width(), dc.Height(), int(tw), int(th))
	px := float64(bx + marginX(g, p.Int("x")))
	py := float64(by + marginY(g, p.Int("y")) + voffsetFor(g, p.Int("voffset")))

	if deg := p.Int("rotate"); deg != 0 {
		dc.RotateAbout(gg.Radians(float64(deg)), px, py)
	}

	dc.DrawStringAnchored(text, px, py+th, 0, 0)

	return imaging.Clone(dc.Image()), nil
}

// marginX pushes the mark away from the horizontal edge it is anchored to;
// centered gravities ignore the margin.
func marginX(g string, x int) int {
	switch g {
	case "nw", "west", "sw":
		return x
	case "ne", "east", "se":
		return -x
	}
	return 0
}

func marginY(g string, y int) int {
	switch g {
	case "nw", "north", "ne":
		return y
	case "sw", "south", "se":
		return -y
	}
	return 0
}

// voffsetFor shifts marks on the middle row vertically; the top and bottom
// rows are positioned by the y margin alone.
func voffsetFor(g string, v int) int {
	switch g {
	case "west", "center", "east":
		return v
	}
	return 0
}
