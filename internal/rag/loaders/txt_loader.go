// Package loaders reads corpus source files into documents. Document
// identity and hierarchy metadata are filled in by the ingestion
// pipeline from the corpus registry; loaders only produce text.
package loaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

// TxtLoader reads plain text and markdown files.
type TxtLoader struct{}

// NewTxtLoader creates a new TxtLoader.
func NewTxtLoader() *TxtLoader {
	return &TxtLoader{}
}

// Load reads a text file from the given path into a Document.
func (l *TxtLoader) Load(ctx context.Context, path string) (*schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text file: %w", err)
	}

	return &schema.Document{
		Title: filepath.Base(path),
		Body:  normalize(string(content)),
	}, nil
}

// normalize unifies line endings so chunk boundaries and content
// hashes do not depend on how the file was produced.
func normalize(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// ForPath picks a loader by file extension.
func ForPath(path string) interfaces.Loader {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewPdfLoader()
	}
	return NewTxtLoader()
}

var _ interfaces.Loader = (*TxtLoader)(nil)
