package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"aala/internal"
)

// Document is a paged source of positioned text. Implementations need not be
// safe for concurrent use.
type Document interface {
	NumPages() int
	Page(n int) (internal.Page, error)
	Close() error
}

type Opener func(path string) (Document, error)

type pdfDocument struct {
	file   *os.File
	reader *pdf.Reader
}

func OpenPDF(path string) (Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	return &pdfDocument{file: f, reader: r}, nil
}

func (d *pdfDocument) NumPages() int {
	return d.reader.NumPage()
}

// Page returns the text fragments of page n (1-based). A null page yields an
// empty fragment list.
func (d *pdfDocument) Page(n int) (internal.Page, error) {
	if n < 1 || n > d.reader.NumPage() {
		return internal.Page{}, fmt.Errorf("page %d out of range", n)
	}
	p := d.reader.Page(n)
	page := internal.Page{Number: n}
	if p.V.IsNull() {
		return page, nil
	}

	texts := p.Content().Text
	page.Fragments = make([]internal.Fragment, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		page.Fragments = append(page.Fragments, internal.Fragment{
			Text:     t.S,
			X:        t.X,
			Y:        t.Y,
			W:        t.W,
			FontSize: t.FontSize,
			Seq:      i,
		})
	}
	return page, nil
}

func (d *pdfDocument) Close() error {
	return d.file.Close()
}
