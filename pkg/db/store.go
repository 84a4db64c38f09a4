package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yomogi-work/kizuki-log-sync/pkg/week"
)

// DBExecutor is an interface that allows methods to accept either *sqlx.DB or *sqlx.Tx
type DBExecutor interface {
	sqlx.Ext
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
}

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyJournal is returned when a journal with neither practical
	// content nor an unachieved point is written.
	ErrEmptyJournal = errors.New("journal has no content")
)

// isUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// GetStudent returns the student with the given id.
func GetStudent(db DBExecutor, id int64) (*Student, error) {
	var s Student
	if err := db.Get(&s, `SELECT id, name, start_date FROM students WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "student %d", id)
	}
	return &s, nil
}

// FindStudentByName returns the student whose canonical name is exactly name.
func FindStudentByName(db DBExecutor, name string) (*Student, error) {
	var s Student
	if err := db.Get(&s, `SELECT id, name, start_date FROM students WHERE name = ?`, name); err != nil {
		return nil, notFound(err, "student %q", name)
	}
	return &s, nil
}

// FindStudentByAlias returns the student an alias points at.
func FindStudentByAlias(db DBExecutor, alias string) (*Student, error) {
	var s Student
	err := db.Get(&s, `SELECT s.id, s.name, s.start_date FROM student_aliases a
		JOIN students s ON s.id = a.student_id WHERE a.alias = ?`, alias)
	if err != nil {
		return nil, notFound(err, "alias %q", alias)
	}
	return &s, nil
}

// CreateOrGetStudent returns the id of the student named name, inserting it
// with no start date when missing.
func CreateOrGetStudent(db DBExecutor, name string) (id int64, created bool, err error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0, false, fmt.Errorf("student name must be non-empty")
	}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := db.Get(&id, `SELECT id FROM students WHERE name = ?`, trimmed)
		if err == nil {
			return id, false, nil
		}
		if err != sql.ErrNoRows {
			return 0, false, err
		}

		res, err := db.Exec(`INSERT INTO students (name) VALUES (?)`, trimmed)
		if err != nil {
			if isUniqueConstraintErr(err) {
				continue
			}
			return 0, false, fmt.Errorf("insert student: %w", err)
		}
		id, err = res.LastInsertId()
		return id, err == nil, err
	}
	return 0, false, fmt.Errorf("could not create or get student after %d retries", maxRetries)
}

// ListStudents returns all students ordered by id.
func ListStudents(db DBExecutor) ([]Student, error) {
	var out []Student
	if err := db.Select(&out, `SELECT id, name, start_date FROM students ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return out, nil
}

// AddAlias points alias at studentID. Re-adding the same pair is a no-op.
func AddAlias(db DBExecutor, alias string, studentID int64) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("alias must be non-empty")
	}
	_, err := db.Exec(`INSERT INTO student_aliases (alias, student_id) VALUES (?, ?)
		ON CONFLICT(alias) DO UPDATE SET student_id = excluded.student_id`, alias, studentID)
	if err != nil {
		return fmt.Errorf("add alias: %w", err)
	}
	return nil
}

// ListAliases returns the aliases registered for a student.
func ListAliases(db DBExecutor, studentID int64) ([]string, error) {
	var out []string
	if err := db.Select(&out, `SELECT alias FROM student_aliases WHERE student_id = ? ORDER BY alias`, studentID); err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	return out, nil
}

type aliasTarget struct {
	Alias string `db:"alias"`
	Name  string `db:"name"`
}

// AliasTargets maps every registered alias to the name of its student.
func AliasTargets(db DBExecutor) (map[string]string, error) {
	var rows []aliasTarget
	if err := db.Select(&rows, `SELECT a.alias, s.name FROM student_aliases a
		JOIN students s ON s.id = a.student_id ORDER BY a.alias`); err != nil {
		return nil, fmt.Errorf("list alias targets: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Alias] = r.Name
	}
	return out, nil
}

// SetStartDate stores the student's start date and recomputes the week
// number of every one of their journals.
func SetStartDate(db DBExecutor, studentID int64, start string) error {
	if _, err := week.ParseDate(start); err != nil {
		return err
	}
	if _, err := db.Exec(`UPDATE students SET start_date = ? WHERE id = ?`, start, studentID); err != nil {
		return fmt.Errorf("set start date: %w", err)
	}
	return RecomputeWeeks(db, studentID)
}

// RecomputeWeeks rewrites week_number for the student's journals from the
// stored start date. Students without a start date are left untouched.
func RecomputeWeeks(db DBExecutor, studentID int64) error {
	s, err := GetStudent(db, studentID)
	if err != nil {
		return err
	}
	if !s.StartDate.Valid || s.StartDate.String == "" {
		return nil
	}
	start, err := week.ParseDate(s.StartDate.String)
	if err != nil {
		return err
	}

	var rows []struct {
		ID   int64  `db:"id"`
		Date string `db:"date"`
	}
	if err := db.Select(&rows, `SELECT id, date FROM journals WHERE student_id = ?`, studentID); err != nil {
		return fmt.Errorf("load journal dates: %w", err)
	}
	for _, r := range rows {
		d, err := week.ParseDate(r.Date)
		if err != nil {
			return fmt.Errorf("journal %d: %w", r.ID, err)
		}
		if _, err := db.Exec(`UPDATE journals SET week_number = ? WHERE id = ?`, week.Number(start, d), r.ID); err != nil {
			return fmt.Errorf("update week: %w", err)
		}
	}
	return nil
}

// ClearJournals deletes every journal together with its feedbacks and insights,
// and resets their id sequences so a rebuild from the same input assigns the
// same ids. Students, aliases, growth triggers and analyses are kept.
func ClearJournals(db DBExecutor) error {
	tables := []string{"feedbacks", "insights", "journals"}
	for _, table := range tables {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := db.Exec(`DELETE FROM sqlite_sequence WHERE name IN (?, ?, ?)`, tables[0], tables[1], tables[2]); err != nil {
		return fmt.Errorf("reset sequences: %w", err)
	}
	return nil
}

// InsertJournal inserts j and returns its id. A second journal for the same
// (student, date) violates the journals uniqueness index.
func InsertJournal(db DBExecutor, j *Journal) (int64, error) {
	if j.Empty() {
		return 0, fmt.Errorf("insert journal %d/%s: %w", j.StudentID, j.Date, ErrEmptyJournal)
	}
	if j.WeekNumber < 1 {
		j.WeekNumber = 1
	}
	res, err := db.Exec(`INSERT INTO journals
		(student_id, date, week_number, practical_content, unachieved_point, pharmacist_comment, content_raw)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.StudentID, j.Date, j.WeekNumber, j.PracticalContent, j.UnachievedPoint, j.PharmacistComment, j.ContentRaw)
	if err != nil {
		return 0, fmt.Errorf("insert journal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	j.ID = id
	return id, nil
}

// JournalExists reports whether the student already has a journal on date.
func JournalExists(db DBExecutor, studentID int64, date string) (bool, error) {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM journals WHERE student_id = ? AND date = ?`, studentID, date); err != nil {
		return false, fmt.Errorf("journal exists: %w", err)
	}
	return n > 0, nil
}

const journalCols = `id, student_id, date, week_number, practical_content, unachieved_point, pharmacist_comment, content_raw`

// GetJournal returns the student's journal for date.
func GetJournal(db DBExecutor, studentID int64, date string) (*Journal, error) {
	var j Journal
	if err := db.Get(&j, `SELECT `+journalCols+` FROM journals WHERE student_id = ? AND date = ?`, studentID, date); err != nil {
		return nil, notFound(err, "journal %d/%s", studentID, date)
	}
	return &j, nil
}

// ListJournals returns a student's journals in ascending date order.
func ListJournals(db DBExecutor, studentID int64) ([]Journal, error) {
	var out []Journal
	if err := db.Select(&out, `SELECT `+journalCols+` FROM journals WHERE student_id = ? ORDER BY date, id`, studentID); err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}
	return out, nil
}

// CountJournals returns the total number of journals in the store.
func CountJournals(db DBExecutor) (int, error) {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM journals`); err != nil {
		return 0, fmt.Errorf("count journals: %w", err)
	}
	return n, nil
}

// InsertFeedback attaches a reviewer comment to a journal.
func InsertFeedback(db DBExecutor, journalID int64, comment, intent string) (int64, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return 0, fmt.Errorf("feedback comment must be non-empty")
	}
	res, err := db.Exec(`INSERT INTO feedbacks (journal_id, comment, intent) VALUES (?, ?, ?)`, journalID, comment, intent)
	if err != nil {
		return 0, fmt.Errorf("insert feedback: %w", err)
	}
	return res.LastInsertId()
}

// ListFeedbacks returns the feedback rows of a student's journals, oldest first.
func ListFeedbacks(db DBExecutor, studentID int64) ([]Feedback, error) {
	var out []Feedback
	err := db.Select(&out, `SELECT f.id, f.journal_id, f.comment, f.intent FROM feedbacks f
		JOIN journals j ON j.id = f.journal_id WHERE j.student_id = ? ORDER BY f.id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list feedbacks: %w", err)
	}
	return out, nil
}

// InsertInsight attaches a derived insight to a journal.
func InsertInsight(db DBExecutor, in *Insight) (int64, error) {
	if strings.TrimSpace(in.Type) == "" {
		return 0, fmt.Errorf("insight type must be non-empty")
	}
	res, err := db.Exec(`INSERT INTO insights (journal_id, type, snippet, reason) VALUES (?, ?, ?, ?)`,
		in.JournalID, in.Type, in.Snippet, in.Reason)
	if err != nil {
		return 0, fmt.Errorf("insert insight: %w", err)
	}
	return res.LastInsertId()
}

// ListInsights returns a student's insights ordered by journal date.
func ListInsights(db DBExecutor, studentID int64) ([]Insight, error) {
	var out []Insight
	err := db.Select(&out, `SELECT i.id, i.journal_id, j.date AS journal_date, i.type, i.snippet, i.reason
		FROM insights i JOIN journals j ON j.id = i.journal_id
		WHERE j.student_id = ? ORDER BY j.date, i.id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return out, nil
}

// InsertGrowthTrigger records a growth trigger for a student.
func InsertGrowthTrigger(db DBExecutor, studentID int64, label, description string) (int64, error) {
	if strings.TrimSpace(description) == "" {
		return 0, fmt.Errorf("growth trigger description must be non-empty")
	}
	res, err := db.Exec(`INSERT INTO growth_triggers (student_id, date, description) VALUES (?, ?, ?)`,
		studentID, label, description)
	if err != nil {
		return 0, fmt.Errorf("insert growth trigger: %w", err)
	}
	return res.LastInsertId()
}

// ListGrowthTriggers returns a student's growth triggers ordered by label.
func ListGrowthTriggers(db DBExecutor, studentID int64) ([]GrowthTrigger, error) {
	var out []GrowthTrigger
	err := db.Select(&out, `SELECT id, student_id, date, description FROM growth_triggers
		WHERE student_id = ? ORDER BY date, id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list growth triggers: %w", err)
	}
	return out, nil
}

// UpsertAnalysis stores the analysis for (student, date), replacing any earlier one.
func UpsertAnalysis(db DBExecutor, a *Analysis) error {
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := db.Exec(`INSERT INTO analyses (student_id, date, model, body, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(student_id, date) DO UPDATE SET
		  model = excluded.model,
		  body = excluded.body,
		  created_at = excluded.created_at`,
		a.StudentID, a.Date, a.Model, a.Body, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}
	return nil
}

// ListAnalyses returns a student's analyses keyed by date.
func ListAnalyses(db DBExecutor, studentID int64) (map[string]Analysis, error) {
	var rows []Analysis
	err := db.Select(&rows, `SELECT id, student_id, date, model, body, created_at FROM analyses WHERE student_id = ?`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	out := make(map[string]Analysis, len(rows))
	for _, a := range rows {
		out[a.Date] = a
	}
	return out, nil
}

// ListSampleCandidates returns every journal with its student name and
// reviewer feedback, ordered by student name, week and date. The stored
// pharmacist comment is preferred; otherwise the oldest feedback row is used.
func ListSampleCandidates(db DBExecutor) ([]SampleCandidate, error) {
	var out []SampleCandidate
	err := db.Select(&out, `SELECT j.id AS journal_id, s.id AS student_id, s.name AS student_name,
		  j.date, j.week_number, j.content_raw,
		  COALESCE(NULLIF(j.pharmacist_comment, ''),
		    (SELECT f.comment FROM feedbacks f WHERE f.journal_id = j.id ORDER BY f.id LIMIT 1), '') AS feedback
		FROM journals j JOIN students s ON s.id = j.student_id
		ORDER BY s.name, j.week_number, j.date`)
	if err != nil {
		return nil, fmt.Errorf("list sample candidates: %w", err)
	}
	return out, nil
}

// ListStudentSummaries returns per-student journal counts and week ranges.
func ListStudentSummaries(db DBExecutor) ([]StudentSummary, error) {
	var out []StudentSummary
	err := db.Select(&out, `SELECT s.id, s.name, s.start_date, COUNT(j.id) AS journals,
		  MIN(j.week_number) AS min_week, MAX(j.week_number) AS max_week
		FROM students s LEFT JOIN journals j ON j.student_id = s.id
		GROUP BY s.id ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("list student summaries: %w", err)
	}
	return out, nil
}

// MergeStudents folds dropID into keepID. Journals are unioned by date, with
// the kept student's journal winning a conflict; empty fields of the winner
// are filled from the loser, and the loser's feedbacks and insights move over
// only when the winner has none. Growth triggers, analyses and aliases are
// re-pointed, the earliest start date is kept, and the dropped name becomes
// an alias of the kept student. Callers should run this inside a transaction.
func MergeStudents(db DBExecutor, keepID, dropID int64) error {
	if keepID == dropID {
		return fmt.Errorf("merge students: cannot merge student %d into itself", keepID)
	}
	keep, err := GetStudent(db, keepID)
	if err != nil {
		return err
	}
	drop, err := GetStudent(db, dropID)
	if err != nil {
		return err
	}

	dropJournals, err := ListJournals(db, dropID)
	if err != nil {
		return err
	}
	for _, dj := range dropJournals {
		kj, err := GetJournal(db, keepID, dj.Date)
		if errors.Is(err, ErrNotFound) {
			if _, err := db.Exec(`UPDATE journals SET student_id = ? WHERE id = ?`, keepID, dj.ID); err != nil {
				return fmt.Errorf("move journal %d: %w", dj.ID, err)
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := absorbJournal(db, kj, &dj); err != nil {
			return err
		}
	}

	stmts := []struct {
		what, query string
	}{
		{"growth triggers", `UPDATE growth_triggers SET student_id = ? WHERE student_id = ?`},
		{"analyses", `UPDATE OR IGNORE analyses SET student_id = ? WHERE student_id = ?`},
		{"aliases", `UPDATE student_aliases SET student_id = ? WHERE student_id = ?`},
	}
	for _, s := range stmts {
		if _, err := db.Exec(s.query, keepID, dropID); err != nil {
			return fmt.Errorf("move %s: %w", s.what, err)
		}
	}
	if _, err := db.Exec(`DELETE FROM analyses WHERE student_id = ?`, dropID); err != nil {
		return fmt.Errorf("drop shadowed analyses: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM students WHERE id = ?`, dropID); err != nil {
		return fmt.Errorf("delete student %d: %w", dropID, err)
	}
	if err := AddAlias(db, drop.Name, keepID); err != nil {
		return err
	}

	start := earliest(keep.StartDate, drop.StartDate)
	if start == "" {
		return nil
	}
	return SetStartDate(db, keepID, start)
}

// absorbJournal merges loser into winner (same student after merge, same date)
// and deletes loser.
func absorbJournal(db DBExecutor, winner, loser *Journal) error {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&winner.PracticalContent, loser.PracticalContent)
	fill(&winner.UnachievedPoint, loser.UnachievedPoint)
	fill(&winner.PharmacistComment, loser.PharmacistComment)
	fill(&winner.ContentRaw, loser.ContentRaw)
	if _, err := db.Exec(`UPDATE journals SET practical_content = ?, unachieved_point = ?,
		pharmacist_comment = ?, content_raw = ? WHERE id = ?`,
		winner.PracticalContent, winner.UnachievedPoint, winner.PharmacistComment, winner.ContentRaw, winner.ID); err != nil {
		return fmt.Errorf("fill journal %d: %w", winner.ID, err)
	}

	for _, table := range []string{"feedbacks", "insights"} {
		var n int
		if err := db.Get(&n, `SELECT COUNT(*) FROM `+table+` WHERE journal_id = ?`, winner.ID); err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		if n == 0 {
			if _, err := db.Exec(`UPDATE `+table+` SET journal_id = ? WHERE journal_id = ?`, winner.ID, loser.ID); err != nil {
				return fmt.Errorf("move %s: %w", table, err)
			}
			continue
		}
		if _, err := db.Exec(`DELETE FROM `+table+` WHERE journal_id = ?`, loser.ID); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	if _, err := db.Exec(`DELETE FROM journals WHERE id = ?`, loser.ID); err != nil {
		return fmt.Errorf("delete journal %d: %w", loser.ID, err)
	}
	return nil
}

func earliest(a, b sql.NullString) string {
	switch {
	case a.Valid && a.String != "" && b.Valid && b.String != "":
		if b.String < a.String {
			return b.String
		}
		return a.String
	case a.Valid && a.String != "":
		return a.String
	case b.Valid && b.String != "":
		return b.String
	}
	return ""
}
