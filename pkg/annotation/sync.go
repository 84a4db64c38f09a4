package annotation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/yomogi-work/kizuki-log-sync/pkg/identity"
	"github.com/yomogi-work/kizuki-log-sync/pkg/journal"
	"github.com/yomogi-work/kizuki-log-sync/pkg/logger"
	"github.com/yomogi-work/kizuki-log-sync/pkg/snapshot"
	"github.com/yomogi-work/kizuki-log-sync/pkg/week"
)

// ErrStudentNotFound is returned when the sync target is not in the snapshot.
var ErrStudentNotFound = errors.New("student not found in snapshot")

// DefaultStartDate is the program start assumed for snapshot students that
// carry no start date.
const DefaultStartDate = "2026-02-16"

// Syncer appends snapshot journals that the dataset does not have yet.
// Existing entries are never removed, reordered or renumbered; the only
// change an existing entry can see is an empty judgment being filled from a
// judged export.
type Syncer struct {
	// Student limits the sync to one canonical student name. Empty means all.
	Student          string
	DefaultStartDate string
	// Aliases maps canonical alias names to canonical student names, so
	// entries recorded under a merged-away name match the kept student.
	Aliases map[string]string
	Log     *logger.Logger
	Now     func() time.Time
}

// NewSyncer returns a syncer for student ("" for everyone).
func NewSyncer(student string) *Syncer {
	return &Syncer{Student: student, DefaultStartDate: DefaultStartDate}
}

// canonical returns the student name entries are matched under.
func (s *Syncer) canonical(name string) string {
	c := identity.Canonicalize(name)
	if to, ok := s.Aliases[c]; ok {
		return identity.Canonicalize(to)
	}
	return c
}

// Sync appends to ds every non-empty snapshot journal whose (student, date)
// is not yet present, and returns how many entries were added.
func (s *Syncer) Sync(snap *snapshot.Snapshot, ds *Dataset) (int, error) {
	log := logger.OrNop(s.Log)

	students, err := s.targets(snap)
	if err != nil {
		return 0, err
	}

	have := ds.keys(s.canonical)
	nextID := ds.MaxID()
	added := 0
	for _, st := range students {
		start := st.StartDate()
		if _, err := week.ParseDate(start); err != nil {
			start = s.DefaultStartDate
		}

		journals := append([]snapshot.Journal(nil), st.Journals...)
		sort.SliceStable(journals, func(i, j int) bool { return journals[i].Date < journals[j].Date })

		for _, j := range journals {
			if j.Date == "" || j.Empty() {
				continue
			}
			k := entryKey{name: s.canonical(st.Name), date: j.Date}
			if have[k] != nil {
				continue
			}
			wk, err := week.NumberISO(start, j.Date)
			if err != nil {
				log.Warn("skipping journal with bad date", "student", st.Name, "date", j.Date, "error", err)
				continue
			}

			nextID++
			ds.Entries = append(ds.Entries, &Entry{
				ID:        nextID,
				JournalID: JournalRef(fmt.Sprintf("%d_%s", st.ID, j.Date)),
				Context: Context{
					StudentName: st.Name,
					StudentID:   st.ID,
					WeekNumber:  wk,
					JournalDate: j.Date,
				},
				EntryText:          journal.Compose(j.PracticalContent, j.UnachievedPoint),
				PharmacistFeedback: j.Notes(),
			})
			have[k] = ds.Entries[len(ds.Entries)-1]
			added++
			log.Info("entry added", "id", nextID, "student", st.Name, "date", j.Date, "week", wk)
		}
	}
	return added, nil
}

func (s *Syncer) targets(snap *snapshot.Snapshot) ([]snapshot.Student, error) {
	if s.Student == "" {
		return snap.Students, nil
	}
	want := s.canonical(s.Student)
	for _, st := range snap.Students {
		if s.canonical(st.Name) == want {
			return []snapshot.Student{st}, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", want, ErrStudentNotFound)
}

// FoldJudgments copies judgments from a judged export into ds. An entry
// takes the export's judgment only when its own is still empty, so
// judgments recorded in ds always win. Export entries whose (student, date)
// ds lacks are appended, renumbered when their id is taken. Nothing in ds is
// removed or reordered. It returns how many judgments were copied and how
// many entries were appended.
func (s *Syncer) FoldJudgments(ds, export *Dataset) (judged, imported int, err error) {
	log := logger.OrNop(s.Log)

	have := ds.keys(s.canonical)
	ids := make(map[int]bool, len(ds.Entries))
	for _, e := range ds.Entries {
		ids[e.ID] = true
	}
	nextID := ds.MaxID()

	for _, e := range export.Entries {
		k := entryKey{name: s.canonical(e.Context.StudentName), date: e.Context.JournalDate}
		cur := have[k]
		if cur == nil {
			if ids[e.ID] || e.ID <= 0 {
				for nextID++; ids[nextID]; nextID++ {
				}
				if err := e.renumber(nextID); err != nil {
					return judged, imported, fmt.Errorf("renumber entry: %w", err)
				}
			}
			ds.Entries = append(ds.Entries, e)
			have[k] = e
			ids[e.ID] = true
			imported++
			log.Info("entry imported from judged export", "id", e.ID, "student", e.Context.StudentName, "date", e.Context.JournalDate)
			continue
		}
		if e.Judgment.Empty() || !cur.Judgment.Empty() {
			continue
		}
		if err := cur.adoptJudgment(e); err != nil {
			return judged, imported, fmt.Errorf("entry %d: %w", cur.ID, err)
		}
		judged++
	}
	return judged, imported, nil
}

// SyncResult describes one file-level sync run.
type SyncResult struct {
	// Source is the dataset file the run started from, or "" when a new
	// dataset was started.
	Source string
	// Export is the judged export folded into Source, if any.
	Export   string
	Added    int
	Judged   int
	Imported int
	Written  bool
}

// SyncFiles brings the canonical dataset up to date and writes it back when
// anything changed.
//
// The canonical file is the base whenever it exists; the latest judged
// export is folded into it (see FoldJudgments). Without a canonical file the
// latest judged export is the base, and with neither a new dataset is
// started. Snapshot journals are then appended (see Sync). A corrupt
// snapshot or dataset aborts the run without writing, and judged exports
// are only read.
func (s *Syncer) SyncFiles(snapPath, canonical, judgedGlob string) (*SyncResult, error) {
	log := logger.OrNop(s.Log)

	snap, err := snapshot.Load(snapPath)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	exportPath, hasExport, err := LatestJudged(canonical, judgedGlob)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(canonical)
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return nil, statErr
	}

	res := &SyncResult{}
	var ds *Dataset
	switch {
	case statErr == nil:
		res.Source = canonical
		if ds, err = Load(canonical); err != nil {
			return nil, fmt.Errorf("load dataset: %w", err)
		}
		if hasExport {
			export, err := Load(exportPath)
			if err != nil {
				return nil, fmt.Errorf("load judged export: %w", err)
			}
			res.Export = exportPath
			if res.Judged, res.Imported, err = s.FoldJudgments(ds, export); err != nil {
				return nil, err
			}
		}
	case hasExport:
		res.Source = exportPath
		if ds, err = Load(exportPath); err != nil {
			return nil, fmt.Errorf("load judged export: %w", err)
		}
	default:
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		ds = NewDataset(map[string]interface{}{
			"sync_date": now().Format(week.DateLayout),
			"note":      "Auto-synced from " + filepath.Base(snapPath),
		})
		log.Warn("no dataset found, starting a new one", "path", canonical)
	}
	log.Info("dataset loaded", "source", res.Source, "export", res.Export, "entries", len(ds.Entries),
		"judgments_folded", res.Judged, "imported", res.Imported)

	if res.Added, err = s.Sync(snap, ds); err != nil {
		return res, err
	}
	if res.Added+res.Judged+res.Imported == 0 {
		log.Info("dataset already in sync")
		return res, nil
	}
	if err := Save(canonical, ds); err != nil {
		return res, fmt.Errorf("save dataset: %w", err)
	}
	res.Written = true
	log.Info("dataset written", "path", canonical, "added", res.Added)
	return res, nil
}
