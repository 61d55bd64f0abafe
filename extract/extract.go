// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0

// Package extract turns uploaded resume blobs into plain text. Extraction is
// strictly best-effort: a failure yields an empty string and never an error,
// so a bad upload can still produce a stored resume the user can edit.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"resumehub/platform/shared/logger"
)

// ImagePlaceholder is stored for image uploads until OCR exists.
const ImagePlaceholder = "Image content detected - OCR functionality would be implemented here"

// Extractor converts an uploaded blob into plain text.
type Extractor interface {
	Extract(data []byte, mediaType string) string
}

// Basic handles plain text and DOCX natively and recognizes images; PDF text
// extraction is not implemented and yields "".
type Basic struct {
	log *logger.Logger
}

// NewBasic creates the default extractor.
func NewBasic() *Basic {
	return &Basic{log: logger.New("extract")}
}

var _ Extractor = (*Basic)(nil)

// Extract implements Extractor. An empty mediaType is sniffed from the blob.
func (b *Basic) Extract(data []byte, mediaType string) string {
	if len(data) == 0 {
		return ""
	}
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}

	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return string(data)
	case strings.Contains(mediaType, "word") || strings.Contains(mediaType, "document"):
		text, err := docxText(data)
		if err != nil {
			b.log.Warn("", "", "Failed to extract DOCX text", map[string]interface{}{
				"error": err.Error(),
			})
			return ""
		}
		return text
	case strings.Contains(mediaType, "image"):
		return ImagePlaceholder
	default:
		return ""
	}
}

// docxText pulls the character runs out of word/document.xml. A DOCX is a zip
// archive; the w:t elements carry all visible text.
func docxText(data []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	for _, f := range r.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return xmlText(rc)
	}
	return "", nil
}

func xmlText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var sb strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			// Paragraph boundaries become line breaks.
			if t.Name.Local == "p" {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String(), nil
}
