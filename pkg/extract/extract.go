// Package extract turns source documents into page text for the journal parser.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yomogi-work/kizuki-log-sync/pkg/journal"
)

// Extractor reads one source document into page text.
type Extractor interface {
	Extract(ctx context.Context, path string) (journal.Document, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, path string) (journal.Document, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) (journal.Document, error) {
	return f(ctx, path)
}

// ByExtension dispatches on the lower-cased file extension (".pdf", ".html").
type ByExtension map[string]Extractor

func (m ByExtension) Extract(ctx context.Context, path string) (journal.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := m[ext]
	if !ok {
		return journal.Document{}, fmt.Errorf("no extractor for %q files", ext)
	}
	return e.Extract(ctx, path)
}

// Default returns the extractor set used by the CLI: pdftotext for PDFs and
// readability for saved HTML pages.
func Default(pdftotext string) ByExtension {
	html := &HTML{}
	return ByExtension{
		".pdf":  &PDFToText{Binary: pdftotext},
		".html": html,
		".htm":  html,
	}
}
