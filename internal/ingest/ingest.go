// Package ingest extracts plain text from documents so a whole file can be
// scored as text input.
package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for file extensions ParseFile does not handle.
var ErrUnsupported = errors.New("ingest: unsupported file type")

// Document is the text extracted from one file.
type Document struct {
	Title string
	Path  string
	Text  string
}

// ParseFile reads path and returns its whitespace-normalized text.
//
// Expectations:
//   - .txt and .md are read as UTF-8 (invalid bytes are an error)
//   - .pdf pages are extracted in order; pages without text are skipped
//   - .docx paragraphs become lines
//   - Blank lines are dropped and runs of spaces collapse to one
//   - Other extensions return ErrUnsupported
func ParseFile(path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var (
		text string
		err  error
	)
	switch ext {
	case ".txt", ".md":
		text, err = readPlain(path)
	case ".pdf":
		text, err = readPDF(path)
	case ".docx":
		text, err = readDOCX(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if err != nil {
		return nil, err
	}
	return &Document{
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:  path,
		Text:  Normalize(text),
	}, nil
}

// Normalize trims every line, collapses inner whitespace and drops blank lines.
func Normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if f := strings.Fields(line); len(f) > 0 {
			kept = append(kept, strings.Join(f, " "))
		}
	}
	return strings.Join(kept, "\n")
}

func readPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("ingest: read: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("ingest: %s is not valid UTF-8", path)
	}
	return string(raw), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingest: open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(content)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("ingest: no extractable text in %s", path)
	}
	return b.String(), nil
}

func readDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("ingest: open docx: %w", err)
	}
	defer zr.Close()

	var body []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("ingest: open document.xml: %w", err)
		}
		body, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("ingest: read document.xml: %w", err)
		}
		break
	}
	if len(body) == 0 {
		return "", fmt.Errorf("ingest: %s has no word/document.xml", path)
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("ingest: decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "p":
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
