// Package ingest writes parsed journals into the store, either as a full
// rebuild from documents or as an additive merge from a snapshot.
package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/yomogi-work/kizuki-log-sync/pkg/db"
	"github.com/yomogi-work/kizuki-log-sync/pkg/identity"
	"github.com/yomogi-work/kizuki-log-sync/pkg/journal"
	"github.com/yomogi-work/kizuki-log-sync/pkg/logger"
	"github.com/yomogi-work/kizuki-log-sync/pkg/snapshot"
	"github.com/yomogi-work/kizuki-log-sync/pkg/week"
)

// Ingester handles the ingestion of journals into the database.
// Every run happens inside a single transaction: it either commits fully or
// leaves the store unchanged.
type Ingester struct {
	DB *sqlx.DB
	// Log is used for the run summary and per-record warnings. nil means no logging.
	Log *logger.Logger
	// OnProgress is called after each student with the number of students processed.
	OnProgress func(current, total int)
}

// NewIngester creates a new Ingester.
func NewIngester(conn *sqlx.DB) *Ingester {
	return &Ingester{DB: conn}
}

// Report summarizes one ingestion run.
type Report struct {
	Mode            string
	Students        int
	CreatedStudents int
	Inserted        int
	// Skipped counts records skipped because (student, date) was already stored.
	Skipped int
	// Empty counts records suppressed for having no student-written text.
	Empty           int
	Feedbacks       int
	Pages           int
	SkippedPages    int
	Warnings        []string
	ExtractFailures []string
}

// LogSummary writes the report through log.
func (r *Report) LogSummary(log *logger.Logger) {
	log = logger.OrNop(log)
	log.Info("ingestion finished",
		"mode", r.Mode,
		"students", r.Students,
		"created_students", r.CreatedStudents,
		"inserted", r.Inserted,
		"skipped", r.Skipped,
		"empty", r.Empty,
		"feedbacks", r.Feedbacks,
		"pages", r.Pages,
		"skipped_pages", r.SkippedPages,
		"warnings", len(r.Warnings),
		"extract_failures", len(r.ExtractFailures),
	)
	for _, w := range r.Warnings {
		log.Warn("parse warning", "detail", w)
	}
	for _, f := range r.ExtractFailures {
		log.Warn("extraction failure", "detail", f)
	}
}

// Rebuild replaces every journal, feedback and insight with the parsed
// result. Students keep their ids; a student without a start date gets the
// earliest labelled date of theirs, empty days included. A student whose
// every record is empty is not created.
func (ig *Ingester) Rebuild(ctx context.Context, parsed *journal.Result) (*Report, error) {
	log := logger.OrNop(ig.Log)
	rep := &Report{
		Mode:         "rebuild",
		Pages:        parsed.Pages,
		SkippedPages: parsed.SkippedPages,
		Warnings:     append([]string(nil), parsed.Warnings...),
	}

	names := parsed.Students()
	err := db.WithTx(ctx, ig.DB, func(tx *sqlx.Tx) error {
		if err := db.ClearJournals(tx); err != nil {
			return err
		}
		resolver := identity.NewResolver(tx)

		for i, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}

			all := parsed.KeysFor(name)
			var keys []journal.Key
			for _, k := range all {
				if parsed.Entries[k].Empty() {
					rep.Empty++
					continue
				}
				keys = append(keys, k)
			}
			if len(keys) == 0 {
				continue
			}

			sid, created, err := resolver.Resolve(name)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", name, err)
			}
			rep.Students++
			if created {
				rep.CreatedStudents++
			}
			// Empty days still count toward the start date.
			start, err := ensureStartDate(tx, sid, all[0].Date)
			if err != nil {
				return err
			}

			for _, k := range keys {
				f := parsed.Entries[k]
				n, err := ig.insert(tx, sid, start, k.Date, f.PracticalContent, f.UnachievedPoint, f.PharmacistComment, "")
				if err != nil {
					return fmt.Errorf("%s %s: %w", name, k.Date, err)
				}
				rep.Inserted++
				rep.Feedbacks += n
			}
			log.Debug("student rebuilt", "student", name, "id", sid, "journals", len(keys))
			if ig.OnProgress != nil {
				ig.OnProgress(i+1, len(names))
			}
		}
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("rebuild: %w", err)
	}
	return rep, nil
}

// Append merges snapshot journals into the store without touching existing
// records: a (student, date) already stored is skipped.
func (ig *Ingester) Append(ctx context.Context, snap *snapshot.Snapshot) (*Report, error) {
	log := logger.OrNop(ig.Log)
	rep := &Report{Mode: "append"}

	err := db.WithTx(ctx, ig.DB, func(tx *sqlx.Tx) error {
		resolver := identity.NewResolver(tx)

		for i, s := range snap.Students {
			if err := ctx.Err(); err != nil {
				return err
			}

			journals := make([]snapshot.Journal, 0, len(s.Journals))
			for _, j := range s.Journals {
				if j.Empty() {
					rep.Empty++
					continue
				}
				if _, err := week.ParseDate(j.Date); err != nil {
					rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: %v", s.Name, err))
					continue
				}
				journals = append(journals, j)
			}
			if len(journals) == 0 {
				continue
			}
			sort.SliceStable(journals, func(a, b int) bool { return journals[a].Date < journals[b].Date })

			sid, created, err := resolver.Resolve(s.Name)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", s.Name, err)
			}
			rep.Students++
			if created {
				rep.CreatedStudents++
			}
			fallback := journals[0].Date
			if sd := s.StartDate(); sd != "" {
				if _, err := week.ParseDate(sd); err == nil {
					fallback = sd
				}
			}
			start, err := ensureStartDate(tx, sid, fallback)
			if err != nil {
				return err
			}

			for _, j := range journals {
				exists, err := db.JournalExists(tx, sid, j.Date)
				if err != nil {
					return err
				}
				if exists {
					rep.Skipped++
					continue
				}
				n, err := ig.insert(tx, sid, start, j.Date, j.PracticalContent, j.UnachievedPoint, j.Notes(), j.ContentRaw)
				if err != nil {
					return fmt.Errorf("%s %s: %w", s.Name, j.Date, err)
				}
				rep.Inserted++
				rep.Feedbacks += n
			}
			log.Debug("student appended", "student", s.Name, "id", sid)
			if ig.OnProgress != nil {
				ig.OnProgress(i+1, len(snap.Students))
			}
		}
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("append: %w", err)
	}
	return rep, nil
}

// ensureStartDate returns the student's start date, setting it to fallback
// when the student has none yet.
func ensureStartDate(exec db.DBExecutor, studentID int64, fallback string) (string, error) {
	s, err := db.GetStudent(exec, studentID)
	if err != nil {
		return "", err
	}
	if s.StartDate.Valid && s.StartDate.String != "" {
		return s.StartDate.String, nil
	}
	if err := db.SetStartDate(exec, studentID, fallback); err != nil {
		return "", err
	}
	return fallback, nil
}

// insert stores one journal and its feedback row, returning the number of
// feedback rows written.
func (ig *Ingester) insert(exec db.DBExecutor, studentID int64, start, date, practical, unachieved, comment, contentRaw string) (int, error) {
	wk, err := week.NumberISO(start, date)
	if err != nil {
		return 0, err
	}
	if contentRaw == "" {
		contentRaw = journal.Compose(practical, unachieved)
	}
	j := &db.Journal{
		StudentID:         studentID,
		Date:              date,
		WeekNumber:        wk,
		PracticalContent:  practical,
		UnachievedPoint:   unachieved,
		PharmacistComment: comment,
		ContentRaw:        contentRaw,
	}
	id, err := db.InsertJournal(exec, j)
	if err != nil {
		return 0, err
	}
	if comment == "" {
		return 0, nil
	}
	if _, err := db.InsertFeedback(exec, id, comment, ""); err != nil {
		return 0, err
	}
	return 1, nil
}
