package document

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

// Handlers returns the closed handler set for the document namespace.
func Handlers() map[string]pipeline.Handler {
	return map[string]pipeline.Handler{
		ops.OpConvert: pipeline.HandlerFunc(convert),
	}
}

// convert renders an office document into pdf, a page raster (png/jpg) or
// plain text. LibreOffice produces the intermediate pdf; poppler tools take
// it the rest of the way. Raster targets emit the first page of the
// selection, text targets concatenate the selected range.
func convert(ctx context.Context, pc pipeline.Context, p ops.Params) (pipeline.Context, error) {
	source := p.Str("source")
	target := p.Str("target")

	dir, err := os.MkdirTemp("", "docconv")
	if err != nil {
		return pipeline.Context{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input."+source)
	if err := os.WriteFile(inPath, pc.Artifact, 0o600); err != nil {
		return pipeline.Context{}, fmt.Errorf("failed to write input: %w", err)
	}

	var pages []int
	if p.Has("pages") {
		pages, err = ops.ParsePages(p.Str("pages"))
		if err != nil {
			return pipeline.Context{}, err
		}
	}

	pdfPath := inPath
	if source != "pdf" {
		pdfPath, err = toPDF(ctx, dir, inPath)
		if err != nil {
			return pipeline.Context{}, err
		}
	}

	var out []byte
	switch target {
	case "pdf":
		out, err = os.ReadFile(pdfPath)
		if err != nil {
			return pipeline.Context{}, fmt.Errorf("failed to read pdf output: %w", err)
		}
	case "png", "jpg":
		out, err = rasterPage(ctx, dir, pdfPath, target, firstPage(pages))
	case "txt":
		out, err = extractText(ctx, dir, pdfPath, pages)
	default:
		err = fmt.Errorf("unsupported target format: %s", target)
	}
	if err != nil {
		return pipeline.Context{}, err
	}

	pc.Artifact = out
	pc.Meta.Format = target
	return pc, nil
}

func toPDF(ctx context.Context, dir, inPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "libreoffice",
		"--headless", "--norestore",
		"--convert-to", "pdf",
		"--outdir", dir, inPath)
	cmd.Env = append(os.Environ(), "HOME="+dir)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("pdf conversion failed: %s", bytes.TrimSpace(stderr.Bytes()))
	}

	base := filepath.Base(inPath)
	pdfPath := filepath.Join(dir, base[:len(base)-len(filepath.Ext(base))]+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("pdf conversion produced no output: %w", err)
	}
	return pdfPath, nil
}

func rasterPage(ctx context.Context, dir, pdfPath, format string, page int) ([]byte, error) {
	codec := "-png"
	if format == "jpg" {
		codec = "-jpeg"
	}
	outBase := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm", codec,
		"-f", strconv.Itoa(page), "-l", strconv.Itoa(page),
		"-singlefile", pdfPath, outBase)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("page rendering failed: %s", bytes.TrimSpace(stderr.Bytes()))
	}

	out, err := os.ReadFile(outBase + "." + format)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page: %w", err)
	}
	return out, nil
}

func extractText(ctx context.Context, dir, pdfPath string, pages []int) ([]byte, error) {
	outPath := filepath.Join(dir, "out.txt")
	args := []string{"-layout"}
	if len(pages) > 0 {
		args = append(args,
			"-f", strconv.Itoa(pages[0]),
			"-l", strconv.Itoa(pages[len(pages)-1]))
	}
	args = append(args, pdfPath, outPath)

	cmd := exec.CommandContext(ctx, "pdftotext", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("text extraction failed: %s", bytes.TrimSpace(stderr.Bytes()))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted text: %w", err)
	}
	return out, nil
}

func firstPage(pages []int) int {
	if len(pages) == 0 {
		return 1
	}
	return pages[0]
}
