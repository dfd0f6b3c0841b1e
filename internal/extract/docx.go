package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCX files are zip archives; the body lives in word/document.xml as
// WordprocessingML. Paragraph elements (w:p) become lines, text runs
// (w:t) are concatenated within a paragraph.

type docxDocument struct {
	Body docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Texts []string `xml:"t"`
}

func extractDOCX(data []byte) (*Result, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: docx archive: %v", ErrExtraction, err)
	}

	var docXML []byte
	for _, f := range archive.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: docx document.xml: %v", ErrExtraction, err)
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: docx document.xml: %v", ErrExtraction, err)
		}
		break
	}
	if docXML == nil {
		return nil, fmt.Errorf("%w: docx missing word/document.xml", ErrExtraction)
	}

	var doc docxDocument
	if err := xml.Unmarshal(docXML, &doc); err != nil {
		return nil, fmt.Errorf("%w: docx xml: %v", ErrExtraction, err)
	}

	var sb strings.Builder
	for _, para := range doc.Body.Paragraphs {
		var line strings.Builder
		for _, run := range para.Runs {
			for _, t := range run.Texts {
				line.WriteString(t)
			}
		}
		sb.WriteString(line.String())
		sb.WriteString("\n")
	}

	text := normalize(sb.String())
	if text == "" {
		return nil, ErrEmptyContent
	}
	return &Result{Text: text, PageCount: 1}, nil
}
