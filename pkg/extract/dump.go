package extract

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/yomogi-work/kizuki-log-sync/pkg/journal"
)

// The combined text dump holds many documents:
//
//	--- File: <name> ---
//	-- Page 1 --
//	<text>
//	...
//	==================================================
var (
	reFileMarker = regexp.MustCompile(`--- File: (.*?) ---`)
	rePageMarker = regexp.MustCompile(`-- Page \d+ --`)
	reRule       = regexp.MustCompile(`(?m)^=+\s*$`)
)

const documentRule = "=================================================="

// ParseDump splits a combined text dump into documents.
func ParseDump(text string) []journal.Document {
	locs := reFileMarker.FindAllStringSubmatchIndex(text, -1)
	docs := make([]journal.Document, 0, len(locs))
	for i, loc := range locs {
		name := strings.TrimSpace(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		docs = append(docs, journal.Document{Name: name, Pages: splitPages(text[loc[1]:end])})
	}
	return docs
}

func splitPages(body string) []string {
	chunks := rePageMarker.Split(body, -1)
	var pages []string
	for i, c := range chunks {
		c = reRule.ReplaceAllString(c, "")
		// Text before the first page marker is only the file header.
		if i == 0 && strings.TrimSpace(c) == "" {
			continue
		}
		pages = append(pages, strings.Trim(c, "\n"))
	}
	return pages
}

// ReadDump reads and splits the dump file at path.
func ReadDump(path string) ([]journal.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	return ParseDump(string(b)), nil
}

// WriteDump writes docs in the combined dump format.
func WriteDump(w io.Writer, docs []journal.Document) error {
	bw := bufio.NewWriter(w)
	for _, d := range docs {
		fmt.Fprintf(bw, "--- File: %s ---\n", d.Name)
		for i, p := range d.Pages {
			fmt.Fprintf(bw, "-- Page %d --\n%s\n", i+1, p)
		}
		fmt.Fprintf(bw, "\n%s\n\n", documentRule)
	}
	return bw.Flush()
}
