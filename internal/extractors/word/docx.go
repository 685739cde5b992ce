// Package word extracts raw text from Word documents: the modern XML-based
// container (.docx) and the legacy binary compound file (.doc).
package word

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

type Extractor struct{}

func New() *Extractor { return &Extractor{} }

func (e *Extractor) Name() string { return "word" }

func (e *Extractor) MIMETypes() []string {
	return []string{
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/msword",
	}
}

// Extract dispatches on the container signature rather than the declared
// MIME type: clients routinely label .docx as msword and vice versa.
func (e *Extractor) Extract(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if bytes.HasPrefix(data, []byte("PK")) {
		return extractDocx(data)
	}
	return extractDoc(data)
}

func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	body, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return "", fmt.Errorf("docx body: %w", err)
	}

	return docxText(body), nil
}

// docxText walks <w:body> and flattens runs into plain text. Paragraphs
// become lines; tabs and explicit breaks are preserved; table cells are
// separated by tabs.
func docxText(b []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(b))

	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "p":
			para := docxParagraph(dec)
			if strings.TrimSpace(para) != "" {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(strings.TrimSpace(para))
			}
		}
	}
	return sb.String()
}

// docxParagraph reads one <w:p> element and returns its text content.
func docxParagraph(dec *xml.Decoder) string {
	var runs []string
	depth := 1

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "t":
				runs = append(runs, readCharData(dec, &depth))
			case "tab":
				runs = append(runs, "\t")
			case "br", "cr":
				runs = append(runs, "\n")
			}
		case xml.EndElement:
			depth--
		}
	}
	return strings.Join(runs, "")
}

// readCharData reads character data inside a text element, tracking depth.
func readCharData(dec *xml.Decoder, depth *int) string {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			*depth++
		case xml.EndElement:
			*depth--
			return sb.String()
		}
	}
	return sb.String()
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("missing %s", name)
}
