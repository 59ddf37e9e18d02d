package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/docrag/chunking"
	"github.com/poiesic/docrag/core"
)

func extractPlain(_ context.Context, _ *extractor, data []byte) (*Result, error) {
	text := strings.ReplaceAll(string(bytes.TrimPrefix(data, []byte("\ufeff"))), "\r\n", "\n")
	return &Result{
		Pages:  []chunking.Page{{Number: 0, Text: text}},
		Method: MethodNative,
	}, nil
}

// extractDOCX gathers the <w:t> runs of word/document.xml, one line per
// paragraph.
func extractDOCX(_ context.Context, _ *extractor, data []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: docx: %w", core.ErrNoContentExtracted, err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: docx has no word/document.xml", core.ErrNoContentExtracted)
	}
	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: docx: %w", core.ErrNoContentExtracted, err)
	}
	defer rc.Close()

	text, err := docxParagraphs(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: docx xml: %w", core.ErrNoContentExtracted, err)
	}
	return &Result{
		Pages:  []chunking.Page{{Number: 0, Text: text}},
		Method: MethodNative,
	}, nil
}

func docxParagraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var paragraphs []string
	var current strings.Builder
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "t":
				var v string
				if err := dec.DecodeElement(&v, &se); err != nil {
					return "", err
				}
				current.WriteString(v)
			case "tab":
				current.WriteString("\t")
			}
		case xml.EndElement:
			if se.Name.Local == "p" {
				if p := strings.TrimSpace(current.String()); p != "" {
					paragraphs = append(paragraphs, p)
				}
				current.Reset()
			}
		}
	}
	if p := strings.TrimSpace(current.String()); p != "" {
		paragraphs = append(paragraphs, p)
	}
	return strings.Join(paragraphs, "\n"), nil
}

// extractCSV renders each record as "header: value" pairs so retrieved
// chunks keep their column context.
func extractCSV(_ context.Context, _ *extractor, data []byte) (*Result, error) {
	cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: csv: %w", core.ErrNoContentExtracted, err)
	}
	if len(records) == 0 {
		return &Result{Method: MethodNative}, nil
	}

	header := records[0]
	var b strings.Builder
	for _, rec := range records[1:] {
		fields := make([]string, 0, len(rec))
		for i, v := range rec {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				fields = append(fields, strings.TrimSpace(header[i])+": "+v)
			} else {
				fields = append(fields, v)
			}
		}
		if len(fields) > 0 {
			b.WriteString(strings.Join(fields, ", "))
			b.WriteString("\n")
		}
	}
	text := b.String()
	if len(records) == 1 {
		text = strings.Join(header, ", ")
	}
	return &Result{
		Pages:  []chunking.Page{{Number: 0, Text: text}},
		Method: MethodNative,
	}, nil
}
