// Package snapshot defines the denormalized per-student document consumed by
// the dashboard client, and projects it from the store.
package snapshot

import (
	"encoding/json"
	"strings"

	"github.com/yomogi-work/kizuki-log-sync/pkg/atomicfile"
)

type Snapshot struct {
	GeneratedAt string    `json:"generated_at,omitempty"`
	Students    []Student `json:"students"`
}

type Student struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Settings Settings `json:"settings"`
	// LegacyStartDate is read from older snapshots that kept the start
	// date at the top level of the student object.
	LegacyStartDate string          `json:"startDate,omitempty"`
	Journals        []Journal       `json:"journals"`
	Insights        []Insight       `json:"insights"`
	GrowthTriggers  []GrowthTrigger `json:"growth_triggers"`
}

type Settings struct {
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

type Journal struct {
	ID               int64  `json:"id,omitempty"`
	Date             string `json:"date"`
	WeekNumber       int    `json:"week_number"`
	PracticalContent string `json:"practical_content"`
	UnachievedPoint  string `json:"unachieved_point"`
	InstructorNotes  string `json:"instructor_notes"`
	ContentRaw       string `json:"content_raw"`
	// LegacyFeedback is the reviewer comment field of older snapshots.
	LegacyFeedback string          `json:"feedback,omitempty"`
	Keywords       []string        `json:"keywords,omitempty"`
	Analysis       json.RawMessage `json:"analysis,omitempty"`
}

type Insight struct {
	JournalID   int64  `json:"journal_id"`
	JournalDate string `json:"journal_date,omitempty"`
	Type        string `json:"type"`
	Snippet     string `json:"snippet"`
	Reason      string `json:"reason"`
}

type GrowthTrigger struct {
	Date        string `json:"date"`
	Description string `json:"description"`
}

// StartDate returns the student's configured start date, if any.
func (s *Student) StartDate() string {
	if s.Settings.StartDate != "" {
		return s.Settings.StartDate
	}
	return s.LegacyStartDate
}

// Notes returns the reviewer comment of a journal.
func (j *Journal) Notes() string {
	if j.InstructorNotes != "" {
		return j.InstructorNotes
	}
	return j.LegacyFeedback
}

// Empty reports whether the journal carries no student-written text.
func (j *Journal) Empty() bool {
	return strings.TrimSpace(j.PracticalContent) == "" && strings.TrimSpace(j.UnachievedPoint) == ""
}

// Load reads a snapshot file. A file that exists but does not decode returns
// an error wrapping atomicfile.ErrCorrupt and is left untouched.
func Load(path string) (*Snapshot, error) {
	var s Snapshot
	if err := atomicfile.ReadJSON(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save atomically replaces path with s.
func Save(path string, s *Snapshot) error {
	return atomicfile.WriteJSON(path, s)
}
