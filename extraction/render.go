package extraction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// DefaultRenderDPI is the resolution pages are rasterized at for OCR.
const DefaultRenderDPI = 200

// ErrRendererUnavailable is returned when the pdftoppm binary is missing.
var ErrRendererUnavailable = errors.New("pdf renderer unavailable")

// Pdftoppm renders PDF pages with poppler's pdftoppm.
type Pdftoppm struct {
	Binary string
	DPI    int
}

// NewPdftoppm returns a renderer using pdftoppm from PATH at DefaultRenderDPI.
func NewPdftoppm() *Pdftoppm {
	return &Pdftoppm{Binary: "pdftoppm", DPI: DefaultRenderDPI}
}

// Available reports whether the binary can be found.
func (p *Pdftoppm) Available() bool {
	_, err := exec.LookPath(p.binary())
	return err == nil
}

func (p *Pdftoppm) binary() string {
	if p.Binary == "" {
		return "pdftoppm"
	}
	return p.Binary
}

// RenderPage writes the document to a scratch directory and rasterizes the
// requested page to PNG. The caller's context bounds the subprocess.
func (p *Pdftoppm) RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1, got %d", page)
	}
	bin, err := exec.LookPath(p.binary())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRendererUnavailable, err)
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = DefaultRenderDPI
	}

	dir, err := os.MkdirTemp("", "docrag-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write render input: %w", err)
	}
	prefix := filepath.Join(dir, "page")
	pageArg := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-r", strconv.Itoa(dpi),
		"-png", "-singlefile",
		"-f", pageArg, "-l", pageArg,
		in, prefix)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("pdftoppm: %w", ctxErr)
		}
		return nil, fmt.Errorf("pdftoppm failed: %w; out=%s", err, string(out))
	}
	img, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("no image produced by pdftoppm: %w", err)
	}
	return img, nil
}
