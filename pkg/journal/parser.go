// Package journal turns extracted journal-form text into per-student,
// per-date field buckets.
package journal

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yomogi-work/kizuki-log-sync/pkg/identity"
	"github.com/yomogi-work/kizuki-log-sync/pkg/week"
)

// Document is the extracted text of one source file, page by page.
type Document struct {
	Name  string
	Pages []string
}

// Key identifies a bucket: one student on one calendar date.
type Key struct {
	Name string
	Date string
}

// Fields holds the text accumulated for a bucket.
type Fields struct {
	PracticalContent  string
	UnachievedPoint   string
	PharmacistComment string
}

// Empty reports whether no student-written text was found.
func (f *Fields) Empty() bool {
	return f.PracticalContent == "" && f.UnachievedPoint == ""
}

// Result is the parse output for one or more documents.
type Result struct {
	Entries map[Key]*Fields
	// Order lists keys in first-seen order.
	Order        []Key
	Pages        int
	SkippedPages int
	Warnings     []string
}

func newResult() *Result {
	return &Result{Entries: map[Key]*Fields{}}
}

// Students returns the distinct student names, sorted.
func (r *Result) Students() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range r.Order {
		if !seen[k.Name] {
			seen[k.Name] = true
			out = append(out, k.Name)
		}
	}
	sort.Strings(out)
	return out
}

// KeysFor returns the student's keys in ascending date order.
func (r *Result) KeysFor(name string) []Key {
	var out []Key
	for _, k := range r.Order {
		if k.Name == name {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

var (
	reYearInName   = regexp.MustCompile(`_(\d{4})\d{4}(?:\.[A-Za-z0-9]+)?$`)
	reYearInHeader = regexp.MustCompile(`(\d{4})年`)
	reName         = regexp.MustCompile(`氏名[(（]\s*(.*?)\s*[)）]`)
	reDate         = regexp.MustCompile(`日誌\s*(\d{1,2})月(\d{1,2})日`)

	rePractical = regexp.MustCompile(`(?s)具体的な実習内容\s*(.*?)(?:実習に関する能力|実習にて達成できなかった点|-- Page|==+|$)`)
	reUnachieved = regexp.MustCompile(`(?s)実習にて達成できなかった点\s*\n?\s*(?:（次回への反省・改善点）)?\s*(.*?)(?:添付資料|薬剤師のコメント|-- Page|==+|$)`)
	reComment   = regexp.MustCompile(`(?s)薬剤師のコメント\s*(.*?)(?:登録者|添付資料|-- Page|==+|$)`)
)

// Minimum rune counts (exclusive) below which a captured field is noise
// from the form layout rather than student text.
const (
	minPractical  = 5
	minUnachieved = 3
	minComment    = 2
)

// Parser extracts journal fields from documents.
type Parser struct {
	// DefaultYear is used when neither the document name nor its first
	// page carries a year.
	DefaultYear int
}

// NewParser returns a parser with the given fallback year.
func NewParser(defaultYear int) *Parser {
	return &Parser{DefaultYear: defaultYear}
}

// Parse processes doc page by page in order. Pages without a name and date
// label are skipped; a page whose date label is not a real calendar date is
// skipped with a warning.
func (p *Parser) Parse(doc Document) *Result {
	res := newResult()
	year := p.year(doc)

	for i, page := range doc.Pages {
		res.Pages++
		key, ok, warn := p.pageKey(page, year)
		if warn != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s page %d: %s", doc.Name, i+1, warn))
		}
		if !ok {
			res.SkippedPages++
			continue
		}

		f := Fields{
			PracticalContent:  capture(rePractical, page, minPractical),
			UnachievedPoint:   capture(reUnachieved, page, minUnachieved),
			PharmacistComment: capture(reComment, page, minComment),
		}
		res.add(key, f)
	}
	return res
}

// ParseAll parses every document and folds the results together, so a
// student whose pages span several documents ends up in one bucket per date.
func (p *Parser) ParseAll(docs []Document) *Result {
	out := newResult()
	for _, d := range docs {
		out.Merge(p.Parse(d))
	}
	return out
}

// Merge folds other into r using the same accumulation rule as page parsing.
func (r *Result) Merge(other *Result) {
	for _, k := range other.Order {
		r.add(k, *other.Entries[k])
	}
	r.Pages += other.Pages
	r.SkippedPages += other.SkippedPages
	r.Warnings = append(r.Warnings, other.Warnings...)
}

func (r *Result) add(k Key, f Fields) {
	cur, ok := r.Entries[k]
	if !ok {
		cur = &Fields{}
		r.Entries[k] = cur
		r.Order = append(r.Order, k)
	}
	cur.PracticalContent = accumulate(cur.PracticalContent, f.PracticalContent)
	cur.UnachievedPoint = accumulate(cur.UnachievedPoint, f.UnachievedPoint)
	cur.PharmacistComment = accumulate(cur.PharmacistComment, f.PharmacistComment)
}

// accumulate appends v to cur on a new line unless v is empty or already
// contained in cur.
func accumulate(cur, v string) string {
	switch {
	case v == "":
		return cur
	case cur == "":
		return v
	case strings.Contains(cur, v):
		return cur
	}
	return cur + "\n" + v
}

func capture(re *regexp.Regexp, page string, min int) string {
	m := re.FindStringSubmatch(page)
	if m == nil {
		return ""
	}
	v := strings.TrimSpace(m[1])
	if utf8.RuneCountInString(v) <= min {
		return ""
	}
	return v
}

func (p *Parser) pageKey(page string, year int) (Key, bool, string) {
	nm := reName.FindStringSubmatch(page)
	dm := reDate.FindStringSubmatch(page)
	if nm == nil || dm == nil {
		return Key{}, false, ""
	}
	name := identity.Canonicalize(nm[1])
	if name == "" {
		return Key{}, false, "empty name label"
	}
	month, _ := strconv.Atoi(dm[1])
	day, _ := strconv.Atoi(dm[2])
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Month() != time.Month(month) || d.Day() != day {
		return Key{}, false, fmt.Sprintf("invalid date %d月%d日", month, day)
	}
	return Key{Name: name, Date: d.Format(week.DateLayout)}, true, ""
}

func (p *Parser) year(doc Document) int {
	if m := reYearInName.FindStringSubmatch(doc.Name); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil {
			return y
		}
	}
	if len(doc.Pages) > 0 {
		header := doc.Pages[0]
		if i := strings.Index(header, "日誌"); i > 0 {
			header = header[:i]
		}
		if m := reYearInHeader.FindStringSubmatch(header); m != nil {
			if y, err := strconv.Atoi(m[1]); err == nil {
				return y
			}
		}
	}
	if p.DefaultYear > 0 {
		return p.DefaultYear
	}
	return time.Now().Year()
}
