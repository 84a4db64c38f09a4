package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/yomogi-work/kizuki-log-sync/pkg/journal"
)

// PDFToText extracts PDF text with poppler's pdftotext. Pages are separated
// by form feeds in its output.
type PDFToText struct {
	Binary  string
	Timeout time.Duration
}

func (p *PDFToText) Extract(ctx context.Context, path string) (journal.Document, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdftotext"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return journal.Document{}, fmt.Errorf("%s not found in PATH: %w", bin, err)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-layout", "-enc", "UTF-8", path, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return journal.Document{}, fmt.Errorf("pdftotext %s: %w; out=%s", filepath.Base(path), err, strings.TrimSpace(stderr.String()))
	}
	return journal.Document{Name: filepath.Base(path), Pages: splitFormFeeds(stdout.String())}, nil
}

func splitFormFeeds(out string) []string {
	pages := strings.Split(out, "\f")
	// pdftotext terminates the last page with a form feed too.
	if n := len(pages); n > 0 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages
}
