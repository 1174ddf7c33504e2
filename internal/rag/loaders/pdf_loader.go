package loaders

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/ledongthuc/pdf"

	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

// PdfLoader reads PDF files, concatenating the extracted text of all
// pages into one document body.
type PdfLoader struct{}

// NewPdfLoader creates a new PdfLoader.
func NewPdfLoader() *PdfLoader {
	return &PdfLoader{}
}

// Load extracts the plain text of a PDF file into a Document.
func (l *PdfLoader) Load(ctx context.Context, path string) (*schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	reader, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("failed to extract pdf text: %w", err)
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, fmt.Errorf("failed to read pdf text: %w", err)
	}

	return &schema.Document{
		Title: filepath.Base(path),
		Body:  normalize(buf.String()),
	}, nil
}

var _ interfaces.Loader = (*PdfLoader)(nil)
