// internal/ocr/ocr.go
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loopautoma/loopautoma/internal/config"
	"github.com/loopautoma/loopautoma/internal/llm"
	"github.com/loopautoma/loopautoma/internal/screen"
)

// Provider extracts text from a screen region. Any provider failure means
// "no text available this cycle", never a fatal condition; callers skip the
// check and try again next tick.
type Provider interface {
	ExtractText(ctx context.Context, r config.Region) (string, error)
}

// New selects a provider from configuration.
func New(cfg config.OCRConfig, capture screen.Capture, client llm.Client) (Provider, error) {
	switch cfg.Provider {
	case "tesseract":
		return &Tesseract{Capture: capture, Binary: cfg.Binary, Language: cfg.Language}, nil
	case "vision":
		if client == nil {
			return nil, fmt.Errorf("vision OCR requires a configured LLM client")
		}
		return &Vision{Capture: capture, Client: client}, nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown OCR provider %q", cfg.Provider)
}

// Tesseract shells out to the tesseract binary for local extraction.
type Tesseract struct {
	Capture  screen.Capture
	Binary   string
	Language string
}

// ExtractText implements Provider.
func (t *Tesseract) ExtractText(ctx context.Context, r config.Region) (string, error) {
	frame, err := t.Capture.CaptureRegion(r)
	if err != nil {
		return "", fmt.Errorf("capturing region for OCR: %w", err)
	}
	pngData, err := frame.EncodePNG()
	if err != nil {
		return "", fmt.Errorf("encoding region for OCR: %w", err)
	}

	// tesseract reads the image from a file; "stdout" selects stdout output.
	tmp, err := os.CreateTemp("", "loopautoma-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("creating temp image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(pngData); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp image: %w", err)
	}
	tmp.Close()

	binary := t.Binary
	if binary == "" {
		binary = "tesseract"
	}
	lang := t.Language
	if lang == "" {
		lang = "eng"
	}

	cmd := exec.CommandContext(ctx, binary, tmp.Name(), "stdout", "-l", lang)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("running %s: %w: %s", filepath.Base(binary), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(out.String()), nil
}

// Vision delegates extraction to a vision-capable model.
type Vision struct {
	Capture screen.Capture
	Client  llm.Client
}

// ExtractText implements Provider.
func (v *Vision) ExtractText(ctx context.Context, r config.Region) (string, error) {
	frame, err := v.Capture.CaptureRegion(r)
	if err != nil {
		return "", fmt.Errorf("capturing region for vision OCR: %w", err)
	}
	pngData, err := frame.EncodePNG()
	if err != nil {
		return "", fmt.Errorf("encoding region for vision OCR: %w", err)
	}
	text, err := v.Client.ExtractText(ctx, pngData)
	if err != nil {
		return "", fmt.Errorf("vision extraction: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Fake serves scripted text per region id.
type Fake struct {
	Texts map[string]string
	Errs  map[string]error
}

// NewFake creates an empty fake provider.
func NewFake() *Fake {
	return &Fake{Texts: make(map[string]string), Errs: make(map[string]error)}
}

// ExtractText implements Provider.
func (f *Fake) ExtractText(ctx context.Context, r config.Region) (string, error) {
	if err := f.Errs[r.ID]; err != nil {
		return "", err
	}
	return f.Texts[r.ID], nil
}
