// Package annotation builds and maintains the manual-annotation dataset: a
// stratified sample drawn from the store, additive syncs from the snapshot,
// and reports over judged entries.
package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/yomogi-work/kizuki-log-sync/pkg/atomicfile"
)

// Dataset is the annotation file: open metadata plus the entry list.
type Dataset struct {
	Metadata map[string]interface{} `json:"metadata"`
	Entries  []*Entry               `json:"entries"`
}

// Entry is one journal presented for annotation.
//
// An entry decoded from a file keeps its original bytes and encodes back to
// exactly those bytes, including fields this package does not know about.
// Only entries built in memory are encoded from the typed fields.
type Entry struct {
	ID                 int        `json:"id"`
	JournalID          JournalRef `json:"journal_id"`
	Context            Context    `json:"context"`
	EntryText          string     `json:"entry_text"`
	PharmacistFeedback string     `json:"pharmacist_feedback"`
	Judgment           Judgment   `json:"judgment"`

	raw json.RawMessage
}

type Context struct {
	StudentName string `json:"student_name"`
	StudentID   int64  `json:"student_id"`
	WeekNumber  int    `json:"week_number"`
	JournalDate string `json:"journal_date"`
}

// Judgment is the annotator's verdict. Nil fields are not judged yet.
type Judgment struct {
	Level         *int    `json:"level"`
	ConceptSource *string `json:"concept_source"`
	Confidence    *int    `json:"confidence"`
	Evidence      string  `json:"evidence"`
	Notes         string  `json:"notes"`
}

// Judged reports whether a level has been assigned.
func (j Judgment) Judged() bool { return j.Level != nil }

type entryFields Entry

func (e *Entry) UnmarshalJSON(data []byte) error {
	var f entryFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*e = Entry(f)
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (e *Entry) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	return json.Marshal((*entryFields)(e))
}

// JournalRef is a journal identifier that is a number for entries sampled
// from the store and a "<studentID>_<date>" string for synced entries.
type JournalRef string

// JournalRefID returns the reference for a store journal id.
func JournalRefID(id int64) JournalRef {
	return JournalRef(strconv.FormatInt(id, 10))
}

func (r JournalRef) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(r), 10, 64); err == nil {
		return []byte(r), nil
	}
	return json.Marshal(string(r))
}

func (r *JournalRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = JournalRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("journal_id: %w", err)
	}
	*r = JournalRef(n.String())
	return nil
}

// NewDataset returns an empty dataset with the given metadata.
func NewDataset(metadata map[string]interface{}) *Dataset {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Dataset{Metadata: metadata, Entries: []*Entry{}}
}

// MaxID returns the largest entry id, or 0 for an empty dataset.
func (d *Dataset) MaxID() int {
	max := 0
	for _, e := range d.Entries {
		if e.ID > max {
			max = e.ID
		}
	}
	return max
}

type entryKey struct {
	name, date string
}

// keys indexes the entries by (student name, date), with names passed
// through canon. The first entry wins when two share a key.
func (d *Dataset) keys(canon func(string) string) map[entryKey]*Entry {
	out := make(map[entryKey]*Entry, len(d.Entries))
	for _, e := range d.Entries {
		k := entryKey{name: canon(e.Context.StudentName), date: e.Context.JournalDate}
		if _, dup := out[k]; !dup {
			out[k] = e
		}
	}
	return out
}

// Empty reports whether nothing at all has been recorded.
func (j Judgment) Empty() bool {
	return j.Level == nil && j.ConceptSource == nil && j.Confidence == nil &&
		j.Evidence == "" && j.Notes == ""
}

// judgmentJSON returns the judgment as it was read, or as encoded from the
// typed fields for entries built in memory.
func (e *Entry) judgmentJSON() (json.RawMessage, error) {
	if e.raw != nil {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(e.raw, &fields); err != nil {
			return nil, err
		}
		if j, ok := fields["judgment"]; ok {
			return j, nil
		}
	}
	return json.Marshal(e.Judgment)
}

// patch replaces one top-level field of a decoded entry's original bytes.
// Other fields, known or not, keep their values.
func (e *Entry) patch(field string, value json.RawMessage) error {
	if e.raw == nil {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.raw, &fields); err != nil {
		return err
	}
	fields[field] = value

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return err
	}
	e.raw = bytes.TrimRight(buf.Bytes(), "\n")
	return nil
}

// adoptJudgment copies from's judgment onto e.
func (e *Entry) adoptJudgment(from *Entry) error {
	j, err := from.judgmentJSON()
	if err != nil {
		return err
	}
	if err := e.patch("judgment", j); err != nil {
		return err
	}
	e.Judgment = from.Judgment
	return nil
}

func (e *Entry) renumber(id int) error {
	if err := e.patch("id", json.RawMessage(strconv.Itoa(id))); err != nil {
		return err
	}
	e.ID = id
	return nil
}

// Load reads a dataset file. A file that does not decode returns an error
// wrapping atomicfile.ErrCorrupt.
func Load(path string) (*Dataset, error) {
	var d Dataset
	if err := atomicfile.ReadJSON(path, &d); err != nil {
		return nil, err
	}
	if d.Metadata == nil {
		d.Metadata = map[string]interface{}{}
	}
	if d.Entries == nil {
		d.Entries = []*Entry{}
	}
	return &d, nil
}

// Save atomically replaces path with d.
func Save(path string, d *Dataset) error {
	return atomicfile.WriteJSON(path, d)
}

// LatestJudged returns the judged export that sorts last by file name.
// A judgedGlob without a directory is matched next to canonical.
func LatestJudged(canonical, judgedGlob string) (path string, ok bool, err error) {
	if judgedGlob == "" {
		return "", false, nil
	}
	pattern := judgedGlob
	if filepath.Dir(pattern) == "." {
		pattern = filepath.Join(filepath.Dir(canonical), pattern)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", false, fmt.Errorf("judged glob %q: %w", judgedGlob, err)
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	sort.Strings(matches)
	return matches[len(matches)-1], true, nil
}

// SourcePath picks the dataset to report on: the latest judged export by
// file name, else the canonical file. ok is false when neither exists.
func SourcePath(canonical, judgedGlob string) (path string, ok bool, err error) {
	if path, ok, err = LatestJudged(canonical, judgedGlob); err != nil || ok {
		return path, ok, err
	}
	if _, err := os.Stat(canonical); err == nil {
		return canonical, true, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, err
	}
	return "", false, nil
}
