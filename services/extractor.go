package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"rag-knowledge-platform/models"

	"github.com/ledongthuc/pdf"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtractionFailure = errors.New("extraction failed")
)

// Block is a unit of extracted text. PageNumber and SlideNumber are 1-based,
// zero when the format has no such anchor.
type Block struct {
	Text        string
	PageNumber  int
	SlideNumber int
}

// InferSourceType maps a file name's extension to a supported source type.
func InferSourceType(filename string) (models.SourceType, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch models.SourceType(ext) {
	case models.SourceTypePDF, models.SourceTypeDOCX, models.SourceTypePPTX, models.SourceTypePPT:
		return models.SourceType(ext), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
}

// Extractor turns a stored file into text blocks.
type Extractor struct {
	maxBytes int64
}

// NewExtractor creates an extractor that refuses files larger than maxBytes.
// A non-positive maxBytes disables the cap.
func NewExtractor(maxBytes int64) *Extractor {
	return &Extractor{maxBytes: maxBytes}
}

func (e *Extractor) Extract(ctx context.Context, path string, sourceType models.SourceType) ([]Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch sourceType {
	case models.SourceTypePDF, models.SourceTypeDOCX, models.SourceTypePPTX, models.SourceTypePPT:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, sourceType)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, extractionError("stat file", err)
	}
	if e.maxBytes > 0 && stat.Size() > e.maxBytes {
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d", ErrExtractionFailure, stat.Size(), e.maxBytes)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, extractionError("read file", err)
	}

	switch sourceType {
	case models.SourceTypePDF:
		return extractPDF(content)
	case models.SourceTypeDOCX:
		return extractDOCX(content)
	default:
		return extractSlides(content)
	}
}

func extractionError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrExtractionFailure, what, err)
}

// extractPDF yields one block per page. The parser panics on some malformed
// input, so panics are reported as extraction failures.
func extractPDF(content []byte) (blocks []Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			blocks = nil
			err = fmt.Errorf("%w: pdf parser: %v", ErrExtractionFailure, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, extractionError("open pdf", err)
	}

	pages := reader.NumPage()
	blocks = make([]Block, 0, pages)
	for i := 1; i <= pages; i++ {
		blocks = append(blocks, Block{Text: pdfPageText(reader, i), PageNumber: i})
	}
	return blocks, nil
}

// pdfPageText returns "" for pages that cannot be decoded.
func pdfPageText(reader *pdf.Reader, n int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	page := reader.Page(n)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(make(map[string]*pdf.Font))
	if err != nil {
		return ""
	}
	return text
}

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, extractionError("open archive", err)
	}
	return zr, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, extractionError("open "+f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, extractionError("read "+f.Name, err)
	}
	return data, nil
}

// extractDOCX returns the body text as a single block with one line per
// paragraph.
func extractDOCX(content []byte) ([]Block, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("%w: word/document.xml not found", ErrExtractionFailure)
	}

	data, err := readZipFile(body)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	dec := xml.NewDecoder(bytes.NewReader(data))
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, extractionError("parse word/document.xml", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}

	return []Block{{Text: strings.TrimRight(sb.String(), "\n")}}, nil
}

var slidePartPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractSlides yields one block per slide in slide-number order, with
// SlideNumber set to the slide's position.
func extractSlides(content []byte) ([]Block, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}

	type slidePart struct {
		n    int
		file *zip.File
	}
	var parts []slidePart
	for _, f := range zr.File {
		m := slidePartPattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		parts = append(parts, slidePart{n: n, file: f})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no slides found", ErrExtractionFailure)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	blocks := make([]Block, 0, len(parts))
	for i, p := range parts {
		data, err := readZipFile(p.file)
		if err != nil {
			return nil, err
		}
		runs, err := slideTextRuns(data)
		if err != nil {
			return nil, extractionError("parse "+p.file.Name, err)
		}
		blocks = append(blocks, Block{Text: strings.Join(runs, " "), SlideNumber: i + 1})
	}
	return blocks, nil
}

func slideTextRuns(data []byte) ([]string, error) {
	var runs []string
	dec := xml.NewDecoder(bytes.NewReader(data))
	var cur *strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return runs, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				cur = &strings.Builder{}
			}
		case xml.EndElement:
			if t.Name.Local == "t" && cur != nil {
				runs = append(runs, cur.String())
				cur = nil
			}
		case xml.CharData:
			if cur != nil {
				cur.Write(t)
			}
		}
	}
}
