package annotation

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/yomogi-work/kizuki-log-sync/pkg/db"
	"github.com/yomogi-work/kizuki-log-sync/pkg/logger"
	"github.com/yomogi-work/kizuki-log-sync/pkg/week"
)

const samplingMethod = "stratified (student x period)"

// Sampler draws a reproducible stratified sample of journals. Journals are
// bucketed by student and period (early or late) and drawn evenly from each
// bucket, so every student and both halves of the program are represented.
type Sampler struct {
	Size int
	Seed int64
	// MinContentLength is the rune count a journal's content must exceed to
	// be a candidate.
	MinContentLength int
	EarlyWeeks       int

	// DBFile and RunID are recorded in the dataset metadata.
	DBFile string
	RunID  string

	Log *logger.Logger
	Now func() time.Time
}

// NewSampler returns a sampler with the default size, seed, length
// threshold and period split.
func NewSampler() *Sampler {
	return &Sampler{Size: 20, Seed: 42, MinContentLength: 50, EarlyWeeks: 5}
}

// SampleDB loads the candidates from the store and samples them.
func (s *Sampler) SampleDB(exec db.DBExecutor) (*Dataset, error) {
	cands, err := db.ListSampleCandidates(exec)
	if err != nil {
		return nil, err
	}
	return s.Sample(cands)
}

// Sample builds a dataset from candidates, which must be ordered by student
// name, week and date. The same candidates and seed always give the same
// dataset apart from the extraction date.
func (s *Sampler) Sample(cands []db.SampleCandidate) (*Dataset, error) {
	if s.Size < 1 {
		return nil, fmt.Errorf("sample size must be positive, got %d", s.Size)
	}
	log := logger.OrNop(s.Log)

	var eligible []db.SampleCandidate
	buckets := map[string][]db.SampleCandidate{}
	for _, c := range cands {
		if utf8.RuneCountInString(c.ContentRaw) <= s.MinContentLength {
			continue
		}
		eligible = append(eligible, c)
		key := c.StudentName + "_" + week.Period(c.WeekNumber, s.EarlyWeeks)
		buckets[key] = append(buckets[key], c)
	}

	keys := make([]string, 0, len(buckets))
	sizes := make(map[string]interface{}, len(buckets))
	for k, b := range buckets {
		keys = append(keys, k)
		sizes[k] = len(b)
	}
	sort.Strings(keys)

	rng := rand.New(rand.NewSource(s.Seed))
	var sampled []db.SampleCandidate
	if len(keys) > 0 {
		per := s.Size / len(keys)
		if per < 1 {
			per = 1
		}
		remainder := s.Size - per*len(keys)
		for i, k := range keys {
			n := per
			if i < remainder {
				n++
			}
			b := append([]db.SampleCandidate(nil), buckets[k]...)
			rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
			if n > len(b) {
				n = len(b)
			}
			sampled = append(sampled, b[:n]...)
			log.Debug("bucket sampled", "bucket", k, "size", len(b), "drawn", n)
		}
		rng.Shuffle(len(sampled), func(i, j int) { sampled[i], sampled[j] = sampled[j], sampled[i] })
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	meta := map[string]interface{}{
		"extraction_date":      now().Format(week.DateLayout),
		"total_sampled":        len(sampled),
		"total_journals_in_db": len(eligible),
		"seed":                 s.Seed,
		"db_file":              s.DBFile,
		"sampling_method":      samplingMethod,
		"buckets":              sizes,
	}
	if s.RunID != "" {
		meta["run_id"] = s.RunID
	}

	ds := NewDataset(meta)
	for i, c := range sampled {
		ds.Entries = append(ds.Entries, &Entry{
			ID:        i + 1,
			JournalID: JournalRefID(c.JournalID),
			Context: Context{
				StudentName: c.StudentName,
				StudentID:   c.StudentID,
				WeekNumber:  c.WeekNumber,
				JournalDate: c.Date,
			},
			EntryText:          c.ContentRaw,
			PharmacistFeedback: c.Feedback,
		})
	}
	log.Info("sample drawn", "candidates", len(eligible), "buckets", len(keys), "sampled", len(sampled))
	return ds, nil
}
