package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yomogi-work/kizuki-log-sync/pkg/db"
	"github.com/yomogi-work/kizuki-log-sync/pkg/logger"
	"github.com/yomogi-work/kizuki-log-sync/pkg/week"
)

// KeywordExtractor returns up to n keywords of text.
type KeywordExtractor interface {
	Keywords(text string, n int) []string
}

// Projector builds a Snapshot from the store. It never writes to the store.
type Projector struct {
	DB *sqlx.DB
	// Keywords, when set, annotates each journal with KeywordLimit keywords.
	Keywords     KeywordExtractor
	KeywordLimit int
	// ProgramWeeks sets settings.endDate relative to the start date.
	ProgramWeeks int
	Log          *logger.Logger
	Now          func() time.Time
}

// NewProjector returns a projector with an 11-week program and no keywords.
func NewProjector(conn *sqlx.DB) *Projector {
	return &Projector{DB: conn, ProgramWeeks: 11}
}

// Project reads every student inside one transaction, so the snapshot is a
// consistent view even if another process writes concurrently.
func (p *Projector) Project(ctx context.Context) (*Snapshot, error) {
	log := logger.OrNop(p.Log)
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot read: %w", err)
	}
	defer tx.Rollback()

	students, err := db.ListStudents(tx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		GeneratedAt: now().Format(time.RFC3339),
		Students:    make([]Student, 0, len(students)),
	}
	for _, s := range students {
		node, err := p.projectStudent(tx, s)
		if err != nil {
			return nil, fmt.Errorf("project student %d: %w", s.ID, err)
		}
		snap.Students = append(snap.Students, node)
	}
	log.Debug("snapshot projected", "students", len(snap.Students))
	return snap, nil
}

func (p *Projector) projectStudent(exec db.DBExecutor, s db.Student) (Student, error) {
	node := Student{
		ID:             s.ID,
		Name:           s.Name,
		Journals:       []Journal{},
		Insights:       []Insight{},
		GrowthTriggers: []GrowthTrigger{},
	}
	if s.StartDate.Valid && s.StartDate.String != "" {
		node.Settings.StartDate = s.StartDate.String
		if start, err := week.ParseDate(s.StartDate.String); err == nil && p.ProgramWeeks > 0 {
			node.Settings.EndDate = start.AddDate(0, 0, p.ProgramWeeks*7).Format(week.DateLayout)
		}
	}

	journals, err := db.ListJournals(exec, s.ID)
	if err != nil {
		return node, err
	}
	feedbacks, err := db.ListFeedbacks(exec, s.ID)
	if err != nil {
		return node, err
	}
	firstFeedback := map[int64]string{}
	for _, f := range feedbacks {
		if _, ok := firstFeedback[f.JournalID]; !ok {
			firstFeedback[f.JournalID] = f.Comment
		}
	}
	analyses, err := db.ListAnalyses(exec, s.ID)
	if err != nil {
		return node, err
	}

	for _, j := range journals {
		if j.Empty() {
			continue
		}
		notes := j.PharmacistComment
		if notes == "" {
			notes = firstFeedback[j.ID]
		}
		jn := Journal{
			ID:               j.ID,
			Date:             j.Date,
			WeekNumber:       j.WeekNumber,
			PracticalContent: j.PracticalContent,
			UnachievedPoint:  j.UnachievedPoint,
			InstructorNotes:  notes,
			ContentRaw:       j.ContentRaw,
		}
		if p.Keywords != nil && p.KeywordLimit > 0 {
			jn.Keywords = p.Keywords.Keywords(j.PracticalContent+"\n"+j.UnachievedPoint, p.KeywordLimit)
		}
		if a, ok := analyses[j.Date]; ok {
			jn.Analysis = opaque(a.Body)
		}
		node.Journals = append(node.Journals, jn)
	}

	insights, err := db.ListInsights(exec, s.ID)
	if err != nil {
		return node, err
	}
	for _, in := range insights {
		node.Insights = append(node.Insights, Insight{
			JournalID:   in.JournalID,
			JournalDate: in.JournalDate,
			Type:        in.Type,
			Snippet:     in.Snippet,
			Reason:      in.Reason,
		})
	}

	triggers, err := db.ListGrowthTriggers(exec, s.ID)
	if err != nil {
		return node, err
	}
	for _, g := range triggers {
		node.GrowthTriggers = append(node.GrowthTriggers, GrowthTrigger{Date: g.Label, Description: g.Description})
	}
	return node, nil
}

// opaque embeds body as-is when it is JSON, otherwise as a JSON string.
func opaque(body string) json.RawMessage {
	if json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}
	b, _ := json.Marshal(body)
	return b
}
