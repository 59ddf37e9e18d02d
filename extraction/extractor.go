// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extraction

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docrag/chunking"
	"github.com/poiesic/docrag/core"
)

const (
	// MinPageChars is the native text length below which a PDF page is OCR'd.
	MinPageChars = 50
	// DefaultOCRTimeout bounds each render and OCR call.
	DefaultOCRTimeout = 60 * time.Second
)

// Extraction methods reported on a Result.
const (
	MethodNative = "native"
	MethodOCR    = "ocr"
	MethodMixed  = "mixed"
)

// OCR recognizes text in a raster image.
type OCR interface {
	Recognize(ctx context.Context, image []byte, mimeType string) (string, error)
	Name() string
}

// PageRenderer rasterizes a single 1-based PDF page to PNG.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdf []byte, page int) ([]byte, error)
}

// Extractor produces page-addressed text from file contents.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (*Result, error)
}

// Result is the text of one document. Formats without pages produce a single
// page numbered 0.
type Result struct {
	Pages    []chunking.Page
	Format   string
	Method   string
	OCRPages []int
	Warnings []string
}

// Text joins all pages with blank lines.
func (r *Result) Text() string {
	parts := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// CharCount returns the number of runes across pages, ignoring surrounding whitespace.
func (r *Result) CharCount() int {
	n := 0
	for _, p := range r.Pages {
		n += len([]rune(strings.TrimSpace(p.Text)))
	}
	return n
}

func (r *Result) empty() bool {
	for _, p := range r.Pages {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}

type formatFunc func(ctx context.Context, e *extractor, data []byte) (*Result, error)

var formats = map[string]formatFunc{
	".pdf":  extractPDF,
	".txt":  extractPlain,
	".md":   extractPlain,
	".docx": extractDOCX,
	".csv":  extractCSV,
	".png":  extractImage,
	".jpg":  extractImage,
	".jpeg": extractImage,
	".tif":  extractImage,
	".tiff": extractImage,
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".csv":  "text/csv",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// ContentTypeFor maps a filename to its MIME type, or application/octet-stream
// when the extension is not supported.
func ContentTypeFor(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Supported reports whether filename has an extension Extract can handle.
func Supported(filename string) bool {
	_, ok := formats[strings.ToLower(filepath.Ext(filename))]
	return ok
}

type extractor struct {
	ocr          OCR
	renderer     PageRenderer
	minPageChars int
	timeout      time.Duration
	logger       *slog.Logger
}

// Option configures an Extractor.
type Option func(*extractor)

// WithOCR sets the OCR backend used for images and thin PDF pages.
func WithOCR(ocr OCR) Option {
	return func(e *extractor) {
		e.ocr = ocr
	}
}

// WithRenderer sets the PDF page renderer used ahead of OCR.
func WithRenderer(r PageRenderer) Option {
	return func(e *extractor) {
		e.renderer = r
	}
}

// WithMinPageChars overrides MinPageChars.
func WithMinPageChars(n int) Option {
	return func(e *extractor) {
		if n >= 0 {
			e.minPageChars = n
		}
	}
}

// WithOCRTimeout bounds every render and OCR call.
func WithOCRTimeout(d time.Duration) Option {
	return func(e *extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Extractor. Without an OCR backend, images are rejected and
// thin PDF pages keep their native text.
func New(opts ...Option) Extractor {
	e := &extractor{
		minPageChars: MinPageChars,
		timeout:      DefaultOCRTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "extractor")
	return e
}

// Extract dispatches on the file extension. Unknown extensions fail with
// core.ErrUnsupportedFormat; documents with no text after every fallback fail
// with core.ErrNoContentExtracted.
func (e *extractor) Extract(ctx context.Context, filename string, data []byte) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	fn, ok := formats[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, ext)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", core.ErrNoContentExtracted, filename)
	}

	result, err := fn(ctx, e, data)
	if err != nil {
		return nil, err
	}
	result.Format = strings.TrimPrefix(ext, ".")
	if result.empty() {
		return nil, fmt.Errorf("%w: %s", core.ErrNoContentExtracted, filename)
	}
	e.logger.Debug("extracted document",
		"filename", filename,
		"pages", len(result.Pages),
		"method", result.Method,
		"ocr_pages", len(result.OCRPages),
		"chars", result.CharCount())
	return result, nil
}

// recognize runs OCR under the configured timeout.
func (e *extractor) recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	text, err := e.ocr.Recognize(ctx, image, mimeType)
	if err != nil {
		return "", fmt.Errorf("ocr %s: %w", e.ocr.Name(), err)
	}
	return text, nil
}

func extractImage(ctx context.Context, e *extractor, data []byte) (*Result, error) {
	if e.ocr == nil {
		return nil, fmt.Errorf("%w: images require an OCR backend", core.ErrUnsupportedFormat)
	}
	text, err := e.recognize(ctx, data, sniffImageType(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrNoContentExtracted, err)
	}
	return &Result{
		Pages:    []chunking.Page{{Number: 0, Text: strings.TrimSpace(text)}},
		Method:   MethodOCR,
		OCRPages: []int{0},
	}, nil
}

func sniffImageType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8")):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
