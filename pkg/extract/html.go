package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-shiori/go-readability"

	"github.com/yomogi-work/kizuki-log-sync/pkg/journal"
)

// HTML extracts the main text of a journal page saved from the training
// portal. The whole page becomes a single document page.
type HTML struct{}

func (h *HTML) Extract(ctx context.Context, path string) (journal.Document, error) {
	if err := ctx.Err(); err != nil {
		return journal.Document{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return journal.Document{}, fmt.Errorf("read html: %w", err)
	}
	abs, _ := filepath.Abs(path)
	pageURL := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}

	article, err := readability.FromReader(bytes.NewReader(SanitizeRuby(body)), pageURL)
	if err != nil {
		return journal.Document{}, fmt.Errorf("extract article %s: %w", filepath.Base(path), err)
	}
	return journal.Document{Name: filepath.Base(path), Pages: []string{article.TextContent}}, nil
}

var (
	// (?s) allows dot to match newlines
	// (?i) makes it case-insensitive
	reRT = regexp.MustCompile(`(?si)<rt\b[^>]*>.*?</rt>`)
	reRP = regexp.MustCompile(`(?si)<rp\b[^>]*>.*?</rp>`)
)

// SanitizeRuby removes ruby text (<rt>...</rt>) and ruby parentheses (<rp>...</rp>)
// from HTML content, so furigana is not concatenated onto the base text
// (e.g. "薬剤師" becoming "薬剤師やくざいし") and does not break label matching.
func SanitizeRuby(content []byte) []byte {
	cleaned := reRT.ReplaceAll(content, []byte{})
	cleaned = reRP.ReplaceAll(cleaned, []byte{})
	return cleaned
}
