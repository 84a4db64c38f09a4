package db

import "database/sql"

// Student is a canonical student identity.
type Student struct {
	ID        int64          `db:"id"`
	Name      string         `db:"name"`
	StartDate sql.NullString `db:"start_date"`
}

// Journal is one student's entry for one calendar date.
type Journal struct {
	ID                int64  `db:"id"`
	StudentID         int64  `db:"student_id"`
	Date              string `db:"date"`
	WeekNumber        int    `db:"week_number"`
	PracticalContent  string `db:"practical_content"`
	UnachievedPoint   string `db:"unachieved_point"`
	PharmacistComment string `db:"pharmacist_comment"`
	ContentRaw        string `db:"content_raw"`
}

// Empty reports whether the journal carries no student-written text.
func (j *Journal) Empty() bool {
	return j.PracticalContent == "" && j.UnachievedPoint == ""
}

type Feedback struct {
	ID        int64  `db:"id"`
	JournalID int64  `db:"journal_id"`
	Comment   string `db:"comment"`
	Intent    string `db:"intent"`
}

// Insight is a derived observation attached to a journal.
type Insight struct {
	ID          int64  `db:"id"`
	JournalID   int64  `db:"journal_id"`
	JournalDate string `db:"journal_date"`
	Type        string `db:"type"`
	Snippet     string `db:"snippet"`
	Reason      string `db:"reason"`
}

type GrowthTrigger struct {
	ID          int64  `db:"id"`
	StudentID   int64  `db:"student_id"`
	Label       string `db:"date"`
	Description string `db:"description"`
}

// Analysis is an opaque collaborator result for a (student, date) pair.
type Analysis struct {
	ID        int64  `db:"id"`
	StudentID int64  `db:"student_id"`
	Date      string `db:"date"`
	Model     string `db:"model"`
	Body      string `db:"body"`
	CreatedAt string `db:"created_at"`
}

// SampleCandidate is a journal row joined with what the sampler emits.
type SampleCandidate struct {
	JournalID   int64  `db:"journal_id"`
	StudentID   int64  `db:"student_id"`
	StudentName string `db:"student_name"`
	Date        string `db:"date"`
	WeekNumber  int    `db:"week_number"`
	ContentRaw  string `db:"content_raw"`
	Feedback    string `db:"feedback"`
}

// StudentSummary is a per-student journal count and week range.
type StudentSummary struct {
	ID        int64          `db:"id"`
	Name      string         `db:"name"`
	StartDate sql.NullString `db:"start_date"`
	Journals  int            `db:"journals"`
	MinWeek   sql.NullInt64  `db:"min_week"`
	MaxWeek   sql.NullInt64  `db:"max_week"`
}
