package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrExtraction wraps any failure to pull text out of a source file.
var ErrExtraction = errors.New("extraction failed")

// ErrUnsupportedType is returned for content types the pipeline does
// not know how to extract.
var ErrUnsupportedType = errors.New("unsupported content type")

// ErrEmptyContent is returned when extraction succeeds structurally but
// yields no usable text.
var ErrEmptyContent = errors.New("no extractable text")

// Result is the extracted text of a single source. For paginated
// sources the text carries "[Page N]" markers on their own lines so
// downstream chunking can attribute page numbers.
type Result struct {
	Text      string
	PageCount int
}

const (
	typePDF      = "application/pdf"
	typePlain    = "text/plain"
	typeMarkdown = "text/markdown"
	typeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Extract pulls plain text out of an uploaded file. The content type
// is trusted first; when it is empty or generic the filename extension
// decides.
func Extract(filename, contentType string, data []byte) (*Result, error) {
	switch resolveType(filename, contentType) {
	case typePDF:
		return extractPDF(data)
	case typeDOCX:
		return extractDOCX(data)
	case typePlain, typeMarkdown:
		return extractPlain(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
}

func resolveType(filename, contentType string) string {
	// Strip parameters like "; charset=utf-8"
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	switch contentType {
	case typePDF, typePlain, typeMarkdown, typeDOCX:
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return typePDF
	case ".docx":
		return typeDOCX
	case ".md", ".markdown":
		return typeMarkdown
	case ".txt":
		return typePlain
	}
	return contentType
}

func extractPDF(data []byte) (*Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: pdf reader: %v", ErrExtraction, err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	extracted := 0

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			// A single bad page should not sink the document
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		fmt.Fprintf(&sb, "[Page %d]\n%s\n\n", i, text)
		extracted++
	}

	if extracted == 0 {
		return nil, fmt.Errorf("%w: pdf yielded no text", ErrEmptyContent)
	}

	return &Result{Text: normalize(sb.String()), PageCount: pages}, nil
}

func extractPlain(data []byte) (*Result, error) {
	text := normalize(string(data))
	if text == "" {
		return nil, ErrEmptyContent
	}
	return &Result{Text: text, PageCount: 1}, nil
}

// normalize collapses Windows line endings and runs of blank lines so
// chunk boundaries behave the same regardless of source platform.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
