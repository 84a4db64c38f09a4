package annotation

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yomogi-work/kizuki-log-sync/pkg/journal"
	"github.com/yomogi-work/kizuki-log-sync/pkg/snapshot"
)

func snapshotFixture() *snapshot.Snapshot {
	return &snapshot.Snapshot{Students: []snapshot.Student{
		{
			ID:       1,
			Name:     "山田 太郎",
			Settings: snapshot.Settings{StartDate: "2025-05-19"},
			Journals: []snapshot.Journal{
				{Date: "2025-06-03", PracticalContent: "既にある"},
				{Date: "2025-05-27", PracticalContent: "既にある"},
				{Date: "2025-06-16", PracticalContent: "疑義照会を見学した。", UnachievedPoint: "処方意図の確認", InstructorNotes: "良い視点"},
				{Date: "2025-06-17"},
			},
		},
		{
			ID:              2,
			Name:            "八木 優",
			LegacyStartDate: "2026-02-16",
			Journals: []snapshot.Journal{
				{Date: "2026-02-24", UnachievedPoint: "説明が長くなった。", LegacyFeedback: "要点から"},
			},
		},
	}}
}

func TestSyncIsAdditive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "step0_judged.json")
	writeFile(t, path, judgedFile)
	ds, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	judgedBefore, _ := ds.Entries[0].MarshalJSON()

	s := NewSyncer("")
	added, err := s.Sync(snapshotFixture(), ds)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 added, got %d", added)
	}
	if len(ds.Entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(ds.Entries))
	}
	judgedAfter, _ := ds.Entries[0].MarshalJSON()
	if string(judgedBefore) != string(judgedAfter) {
		t.Fatalf("judged entry changed")
	}

	e := ds.Entries[2]
	if e.ID != 5 || e.JournalID != "1_2025-06-16" || e.Context.WeekNumber != 5 {
		t.Fatalf("unexpected new entry %+v", e)
	}
	if e.Judgment.Level != nil {
		t.Fatalf("new entry should have a null level")
	}
	if e.EntryText != journal.Compose("疑義照会を見学した。", "処方意図の確認") || e.PharmacistFeedback != "良い視点" {
		t.Fatalf("unexpected text/feedback %q %q", e.EntryText, e.PharmacistFeedback)
	}
	yagi := ds.Entries[3]
	if yagi.ID != 6 || yagi.Context.WeekNumber != 2 || yagi.PharmacistFeedback != "要点から" {
		t.Fatalf("unexpected legacy-sourced entry %+v", yagi)
	}

	again, err := s.Sync(snapshotFixture(), ds)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again != 0 {
		t.Fatalf("second sync added %d", again)
	}
}

func TestSyncTargetStudent(t *testing.T) {
	ds := NewDataset(nil)
	added, err := NewSyncer("八木　優").Sync(snapshotFixture(), ds)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if added != 1 || ds.Entries[0].Context.StudentName != "八木 優" {
		t.Fatalf("expected only the target student, got %d entries", added)
	}

	_, err = NewSyncer("田中").Sync(snapshotFixture(), NewDataset(nil))
	if !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound, got %v", err)
	}
}

func TestSyncDefaultStartDate(t *testing.T) {
	snap := &snapshot.Snapshot{Students: []snapshot.Student{{
		ID: 3, Name: "新人",
		Journals: []snapshot.Journal{{Date: "2026-03-02", PracticalContent: "初日のオリエンテーション"}},
	}}}
	ds := NewDataset(nil)
	if _, err := NewSyncer("").Sync(snap, ds); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := ds.Entries[0].Context.WeekNumber; got != 3 {
		t.Fatalf("expected week 3 from the default start date, got %d", got)
	}
}

func levelOf(t *testing.T, ds *Dataset, name, date string) *int {
	t.Helper()
	for _, e := range ds.Entries {
		if e.Context.StudentName == name && e.Context.JournalDate == date {
			return e.Judgment.Level
		}
	}
	t.Fatalf("no entry for %s %s", name, date)
	return nil
}

func TestSyncFilesStartsFreshDataset(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "dashboard_data.json")
	canonical := filepath.Join(dir, "step0_data.json")
	if err := snapshot.Save(snapPath, snapshotFixture()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	res, err := NewSyncer("").SyncFiles(snapPath, canonical, "step0_judged_*.json")
	if err != nil {
		t.Fatalf("sync files: %v", err)
	}
	if res.Source != "" || !res.Written || res.Added != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	ds, err := Load(canonical)
	if err != nil {
		t.Fatalf("load canonical: %v", err)
	}
	if ds.Metadata["note"] != "Auto-synced from dashboard_data.json" || ds.Metadata["sync_date"] == nil {
		t.Fatalf("unexpected metadata %v", ds.Metadata)
	}
}

// Without a canonical file the judged export is the base; once written,
// the canonical file is the base and repeated runs change nothing.
func TestSyncFilesFromJudgedExportIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "dashboard_data.json")
	canonical := filepath.Join(dir, "step0_data.json")
	if err := snapshot.Save(snapPath, snapshotFixture()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	judged := filepath.Join(dir, "step0_judged_2025-07-01.json")
	writeFile(t, judged, judgedFile)

	s := NewSyncer("")
	first, err := s.SyncFiles(snapPath, canonical, "step0_judged_*.json")
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Source != judged || first.Added != 2 || !first.Written {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := s.SyncFiles(snapPath, canonical, "step0_judged_*.json")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Source != canonical || second.Export != judged {
		t.Fatalf("second run should read canonical and fold the export, got %+v", second)
	}
	if second.Added != 0 || second.Judged != 0 || second.Imported != 0 || second.Written {
		t.Fatalf("second run changed the dataset: %+v", second)
	}

	ds, err := Load(canonical)
	if err != nil {
		t.Fatalf("load canonical: %v", err)
	}
	if len(ds.Entries) != 4 || ds.Metadata["extraction_date"] != "2025-07-01" {
		t.Fatalf("unexpected canonical dataset: %d entries, metadata %v", len(ds.Entries), ds.Metadata)
	}
	before, _ := os.ReadFile(judged)
	if string(before) != judgedFile {
		t.Fatalf("judged export must not be rewritten")
	}
}

func TestSyncFilesKeepsCanonicalJudgments(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "dashboard_data.json")
	canonical := filepath.Join(dir, "step0_data.json")
	if err := snapshot.Save(snapPath, snapshotFixture()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	s := NewSyncer("")
	if _, err := s.SyncFiles(snapPath, canonical, "step0_judged_*.json"); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	// A reviewer judges 八木 directly in the canonical file.
	ds, err := Load(canonical)
	if err != nil {
		t.Fatalf("load canonical: %v", err)
	}
	for _, e := range ds.Entries {
		if e.Context.StudentName == "八木 優" {
			if err := e.patch("judgment", json.RawMessage(`{"level":4,"concept_source":"PHARMACIST","confidence":2,"evidence":"","notes":""}`)); err != nil {
				t.Fatalf("patch: %v", err)
			}
		}
	}
	if err := Save(canonical, ds); err != nil {
		t.Fatalf("save canonical: %v", err)
	}

	// The export judges 05-27 (empty in canonical) and disagrees on nothing else.
	writeFile(t, filepath.Join(dir, "step0_judged_2025-07-01.json"), judgedFile)
	res, err := s.SyncFiles(snapPath, canonical, "step0_judged_*.json")
	if err != nil {
		t.Fatalf("sync with export: %v", err)
	}
	if res.Judged != 1 || res.Added != 0 || res.Imported != 0 || !res.Written {
		t.Fatalf("unexpected result %+v", res)
	}
	ds, err = Load(canonical)
	if err != nil {
		t.Fatalf("reload canonical: %v", err)
	}
	if len(ds.Entries) != 4 {
		t.Fatalf("canonical entries dropped: %d left", len(ds.Entries))
	}
	if lv := levelOf(t, ds, "八木 優", "2026-02-24"); lv == nil || *lv != 4 {
		t.Fatalf("canonical judgment lost: %v", lv)
	}
	if lv := levelOf(t, ds, "山田 太郎", "2025-05-27"); lv == nil || *lv != 2 {
		t.Fatalf("export judgment not folded in: %v", lv)
	}

	// A later export that disagrees with a recorded judgment does not win.
	writeFile(t, filepath.Join(dir, "step0_judged_2025-07-02.json"), `{"metadata":{},"entries":[
{"id":9,"journal_id":"2_2026-02-24","context":{"student_name":"八木 優","student_id":2,"week_number":2,"journal_date":"2026-02-24"},"entry_text":"","pharmacist_feedback":"","judgment":{"level":1,"concept_source":null,"confidence":1,"evidence":"","notes":""}}]}`)
	res, err = s.SyncFiles(snapPath, canonical, "step0_judged_*.json")
	if err != nil {
		t.Fatalf("sync with newer export: %v", err)
	}
	if res.Written || res.Judged != 0 {
		t.Fatalf("recorded judgment should not be replaced: %+v", res)
	}
	ds, _ = Load(canonical)
	if lv := levelOf(t, ds, "八木 優", "2026-02-24"); lv == nil || *lv != 4 {
		t.Fatalf("canonical judgment replaced: %v", lv)
	}
}

func TestFoldJudgmentsImportsMissingEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "step0_judged.json")
	writeFile(t, path, judgedFile)
	export, err := Load(path)
	if err != nil {
		t.Fatalf("load export: %v", err)
	}

	ds := NewDataset(nil)
	ds.Entries = append(ds.Entries, &Entry{ID: 1, Context: Context{StudentName: "佐藤 花子", JournalDate: "2025-05-22"}})

	judged, imported, err := NewSyncer("").FoldJudgments(ds, export)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	if judged != 0 || imported != 2 || len(ds.Entries) != 3 {
		t.Fatalf("expected 2 imported entries, got judged=%d imported=%d entries=%d", judged, imported, len(ds.Entries))
	}
	moved := ds.Entries[1]
	if moved.ID != 2 || moved.Context.JournalDate != "2025-05-27" {
		t.Fatalf("expected the colliding id renumbered to 2, got %+v", moved)
	}
	b, err := moved.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["id"] != float64(2) || fields["reviewer"] != "A" {
		t.Fatalf("renumbered entry should keep unknown fields, got %v", fields)
	}
	if !strings.Contains(string(b), "<夜間>") {
		t.Fatalf("evidence should not be HTML-escaped: %s", b)
	}
	if ds.Entries[2].ID != 4 {
		t.Fatalf("free id should be kept, got %d", ds.Entries[2].ID)
	}
}

func TestSyncMatchesMergedNames(t *testing.T) {
	ds := NewDataset(nil)
	ds.Entries = append(ds.Entries, &Entry{ID: 1, Context: Context{StudentName: "ヤマダ タロウ", JournalDate: "2025-06-16"}})

	s := NewSyncer("山田 太郎")
	s.Aliases = map[string]string{"ヤマダ タロウ": "山田 太郎"}
	added, err := s.Sync(snapshotFixture(), ds)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 05-27 and 06-03 only, got %d added", added)
	}
	for _, e := range ds.Entries[1:] {
		if e.Context.JournalDate == "2025-06-16" {
			t.Fatalf("date recorded under the merged name was added again")
		}
	}

	plain := NewDataset(nil)
	plain.Entries = append(plain.Entries, &Entry{ID: 1, Context: Context{StudentName: "ヤマダ タロウ", JournalDate: "2025-06-16"}})
	if added, _ := NewSyncer("山田 太郎").Sync(snapshotFixture(), plain); added != 3 {
		t.Fatalf("without aliases the names differ, expected 3 added, got %d", added)
	}
}

func TestSyncFilesNothingToAdd(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "dashboard_data.json")
	canonical := filepath.Join(dir, "step0_data.json")
	if err := snapshot.Save(snapPath, &snapshot.Snapshot{Students: []snapshot.Student{}}); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	res, err := NewSyncer("").SyncFiles(snapPath, canonical, "")
	if err != nil {
		t.Fatalf("sync files: %v", err)
	}
	if res.Written {
		t.Fatalf("nothing added, nothing should be written")
	}
	if _, err := os.Stat(canonical); !os.IsNotExist(err) {
		t.Fatalf("canonical file should not exist, got %v", err)
	}
}
