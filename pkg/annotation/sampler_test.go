package annotation

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/yomogi-work/kizuki-log-sync/pkg/db"
)

var fixedNow = func() time.Time { return time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC) }

func longText(tag string) string {
	return "【実習内容】\n" + tag + strings.Repeat("調剤と服薬指導の振り返り。", 5)
}

// candidates builds four students with journals in weeks 1..10, ordered the
// way the store returns them.
func candidates() []db.SampleCandidate {
	var out []db.SampleCandidate
	id := int64(0)
	for s, name := range []string{"伊藤 健", "佐藤 花子", "山田 太郎", "鈴木 一郎"} {
		for wk := 1; wk <= 10; wk++ {
			id++
			date := time.Date(2025, 5, 19, 0, 0, 0, 0, time.UTC).AddDate(0, 0, (wk-1)*7).Format("2006-01-02")
			out = append(out, db.SampleCandidate{
				JournalID:   id,
				StudentID:   int64(s + 1),
				StudentName: name,
				Date:        date,
				WeekNumber:  wk,
				ContentRaw:  longText(fmt.Sprintf("%s-%d", name, wk)),
				Feedback:    "コメント",
			})
		}
	}
	out = append(out, db.SampleCandidate{JournalID: 999, StudentID: 1, StudentName: "伊藤 健", Date: "2025-08-01", WeekNumber: 11, ContentRaw: "短い"})
	return out
}

func TestSampleDeterministic(t *testing.T) {
	s := NewSampler()
	s.Now = fixedNow

	a, err := s.Sample(candidates())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	b, err := s.Sample(candidates())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(a.Entries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(a.Entries))
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed gave different samples")
	}
	if a.Metadata["total_journals_in_db"] != 40 {
		t.Fatalf("short journal should not be a candidate: %v", a.Metadata["total_journals_in_db"])
	}

	perBucket := map[string]int{}
	for i, e := range a.Entries {
		if e.ID != i+1 {
			t.Fatalf("entry %d has id %d", i, e.ID)
		}
		if e.Judgment.Judged() || e.Judgment.Confidence != nil {
			t.Fatalf("new entry should be unjudged: %+v", e.Judgment)
		}
		period := "late"
		if e.Context.WeekNumber <= 5 {
			period = "early"
		}
		perBucket[e.Context.StudentName+"_"+period]++
	}
	if len(perBucket) != 8 {
		t.Fatalf("expected all 8 buckets represented, got %v", perBucket)
	}
	// 20/8 = 2 per bucket, the remaining 4 go to the first four keys.
	if perBucket["伊藤 健_early"] != 3 || perBucket["山田 太郎_late"] != 2 {
		t.Fatalf("unexpected allocation %v", perBucket)
	}

	s.Seed = 7
	c, err := s.Sample(candidates())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if reflect.DeepEqual(a.Entries, c.Entries) {
		t.Fatalf("different seed gave identical sample")
	}
}

func TestSampleMoreBucketsThanSize(t *testing.T) {
	s := NewSampler()
	s.Size = 3
	ds, err := s.Sample(candidates())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(ds.Entries) != 8 {
		t.Fatalf("expected one entry per bucket, got %d", len(ds.Entries))
	}
}

func TestSampleFromStore(t *testing.T) {
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	sid, _, err := db.CreateOrGetStudent(conn, "山田 太郎")
	if err != nil {
		t.Fatalf("student: %v", err)
	}
	jid, err := db.InsertJournal(conn, &db.Journal{
		StudentID: sid, Date: "2025-05-20", WeekNumber: 1,
		PracticalContent: "散剤の計量", ContentRaw: longText("a"),
	})
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if _, err := db.InsertFeedback(conn, jid, "次は監査も", ""); err != nil {
		t.Fatalf("feedback: %v", err)
	}

	s := NewSampler()
	s.DBFile = "kizuki_log.db"
	ds, err := s.SampleDB(conn)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(ds.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(ds.Entries))
	}
	e := ds.Entries[0]
	if e.JournalID != JournalRefID(jid) || e.PharmacistFeedback != "次は監査も" {
		t.Fatalf("unexpected entry %+v", e)
	}
}
