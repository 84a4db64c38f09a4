package llm

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yomogi-work/kizuki-log-sync/pkg/db"
	"github.com/yomogi-work/kizuki-log-sync/pkg/identity"
	"github.com/yomogi-work/kizuki-log-sync/pkg/logger"
)

// Bridge analyzes stored journals and keeps the results in the store.
type Bridge struct {
	DB     *sqlx.DB
	Client Client
	Log    *logger.Logger
}

func NewBridge(conn *sqlx.DB, client Client, log *logger.Logger) *Bridge {
	return &Bridge{DB: conn, Client: client, Log: logger.OrNop(log)}
}

// Request builds the analysis request for the student's journal on date.
func (b *Bridge) Request(studentName, date string) (int64, Request, error) {
	s, err := identity.NewResolver(b.DB).Lookup(studentName)
	if err != nil {
		return 0, Request{}, err
	}
	j, err := db.GetJournal(b.DB, s.ID, date)
	if err != nil {
		return 0, Request{}, err
	}
	triggers, err := db.ListGrowthTriggers(b.DB, s.ID)
	if err != nil {
		return 0, Request{}, err
	}

	req := Request{
		Week:             j.WeekNumber,
		PracticalContent: j.PracticalContent,
		UnachievedPoint:  j.UnachievedPoint,
		InstructorNotes:  j.PharmacistComment,
	}
	for _, t := range triggers {
		req.PreviousTriggers = append(req.PreviousTriggers, fmt.Sprintf("%s: %s", t.Label, t.Description))
	}
	return s.ID, req, nil
}

// Analyze runs the client on the student's journal for date and stores the
// result, replacing any earlier analysis of that journal.
func (b *Bridge) Analyze(ctx context.Context, studentName, date string) (*db.Analysis, error) {
	sid, req, err := b.Request(studentName, date)
	if err != nil {
		return nil, err
	}
	b.Log.Info("requesting analysis", "student_id", sid, "date", date, "week", req.Week)

	res, err := b.Client.Analyze(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("analyze %s %s: %w", studentName, date, err)
	}
	if res.SOS {
		b.Log.Warn("analysis raised an sos alert", "student_id", sid, "date", date)
	}

	a := &db.Analysis{StudentID: sid, Date: date, Model: res.Model, Body: res.Body}
	if err := db.UpsertAnalysis(b.DB, a); err != nil {
		return nil, err
	}
	return a, nil
}
