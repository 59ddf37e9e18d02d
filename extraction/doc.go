// Package extraction turns uploaded files into page-addressed plain text.
//
// Supported inputs are PDF (native text per page, with rendered-page OCR for
// pages whose text layer is too thin), plain text and markdown, DOCX, CSV and
// raster images. OCR backends live under extraction/ocr.
package extraction
