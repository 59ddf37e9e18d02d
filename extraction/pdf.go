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
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/poiesic/docrag/chunking"
	"github.com/poiesic/docrag/core"
)

// extractPDF reads the text layer page by page. Pages whose native text is
// shorter than minPageChars are rendered and OCR'd when a renderer and OCR
// backend are configured. Non-blank OCR text replaces the page's native text;
// a failed or blank fallback keeps it.
func extractPDF(ctx context.Context, e *extractor, data []byte) (*Result, error) {
	r, err := openPDF(data)
	if err != nil {
		return nil, fmt.Errorf("%w: pdf reader: %w", core.ErrNoContentExtracted, err)
	}

	n := r.NumPage()
	result := &Result{Pages: make([]chunking.Page, 0, n)}
	fonts := make(map[string]*pdf.Font)
	var lastErr error
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := pageText(r, i, fonts)
		if err != nil {
			e.logger.Warn("failed to read pdf page text", "page", i, "err", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("page %d: %v", i, err))
		}
		text = collapseWhitespace(text)

		if len([]rune(text)) < e.minPageChars && e.ocr != nil && e.renderer != nil {
			ocrText, err := e.ocrPage(ctx, data, i)
			switch {
			case err != nil:
				lastErr = err
				e.logger.Warn("pdf page OCR failed, keeping native text", "page", i, "err", err)
				result.Warnings = append(result.Warnings, fmt.Sprintf("page %d ocr: %v", i, err))
			case strings.TrimSpace(ocrText) != "":
				text = ocrText
				result.OCRPages = append(result.OCRPages, i)
			}
		}
		result.Pages = append(result.Pages, chunking.Page{Number: i, Text: text})
	}

	switch {
	case len(result.OCRPages) == 0:
		result.Method = MethodNative
	case len(result.OCRPages) == len(result.Pages):
		result.Method = MethodOCR
	default:
		result.Method = MethodMixed
	}
	if result.empty() && lastErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrNoContentExtracted, lastErr)
	}
	return result, nil
}

func (e *extractor) ocrPage(ctx context.Context, data []byte, page int) (string, error) {
	renderCtx, cancel := context.WithTimeout(ctx, e.timeout)
	img, err := e.renderer.RenderPage(renderCtx, data, page)
	cancel()
	if err != nil {
		return "", fmt.Errorf("render page %d: %w", page, err)
	}
	text, err := e.recognize(ctx, img, "image/png")
	if err != nil {
		return "", err
	}
	return collapseWhitespace(text), nil
}

// openPDF guards against panics raised by the parser on malformed input.
func openPDF(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

func pageText(r *pdf.Reader, num int, fonts map[string]*pdf.Font) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("malformed page: %v", p)
		}
	}()
	p := r.Page(num)
	if p.V.IsNull() {
		return "", nil
	}
	for _, name := range p.Fonts() {
		if _, ok := fonts[name]; !ok {
			f := p.Font(name)
			fonts[name] = &f
		}
	}
	return p.GetPlainText(fonts)
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
