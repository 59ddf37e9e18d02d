// Package tesseract recognizes text with the tesseract command line tool.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnavailable is returned when the tesseract binary is missing.
var ErrUnavailable = errors.New("tesseract unavailable")

// OCR shells out to tesseract, streaming the image on stdin.
type OCR struct {
	Binary   string
	Language string
}

// New returns an OCR using tesseract from PATH with the given language
// (defaults to "eng").
func New(language string) *OCR {
	if language == "" {
		language = "eng"
	}
	return &OCR{Binary: "tesseract", Language: language}
}

// Name implements extraction.OCR.
func (o *OCR) Name() string { return "tesseract" }

// Available reports whether the binary can be found.
func (o *OCR) Available() bool {
	_, err := exec.LookPath(o.binary())
	return err == nil
}

func (o *OCR) binary() string {
	if o.Binary == "" {
		return "tesseract"
	}
	return o.Binary
}

// Recognize implements extraction.OCR.
func (o *OCR) Recognize(ctx context.Context, image []byte, _ string) (string, error) {
	if len(image) == 0 {
		return "", nil
	}
	bin, err := exec.LookPath(o.binary())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	lang := o.Language
	if lang == "" {
		lang = "eng"
	}

	cmd := exec.CommandContext(ctx, bin, "stdin", "stdout", "-l", lang)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("tesseract: %w", ctxErr)
		}
		return "", fmt.Errorf("tesseract failed: %w; stderr=%s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
