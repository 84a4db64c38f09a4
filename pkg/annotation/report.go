package annotation

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"unicode/utf8"
)

// Concept sources in report order. Entries without a source count as UNKNOWN.
var conceptSources = []string{"SELF", "ECHO", "MIXED", "UNKNOWN"}

var levelNames = map[int]string{
	1: "Lv.1 事実記述(点)",
	2: "Lv.2 文脈理解(線)",
	3: "Lv.3 職能一般化(面)",
}

var confidenceNames = map[int]string{
	1: "迷った",
	2: "やや迷った",
	3: "確信",
}

// Report summarizes the judged entries of a dataset.
type Report struct {
	Total    int
	Judged   int
	Unjudged int

	Levels     map[int]int
	Confidence map[int]int
	Sources    map[string]int
	// Crosstab counts judged entries by level (1..3) and concept source.
	Crosstab map[int]map[string]int

	Students []StudentStat
	Early    PeriodStat
	Late     PeriodStat
	// EarlyWeeks is the last week counted as early.
	EarlyWeeks int

	// LowConfidence lists entries the annotator marked with confidence 1.
	LowConfidence []*Entry
}

// StudentStat is the level distribution of one student.
type StudentStat struct {
	Name   string
	N      int
	Mean   float64
	Levels map[int]int
}

// PeriodStat is the mean level over one half of the program.
type PeriodStat struct {
	N    int
	Mean float64
}

// Analyze computes the report for ds. earlyWeeks splits early from late.
func Analyze(ds *Dataset, earlyWeeks int) *Report {
	r := &Report{
		Total:      len(ds.Entries),
		Levels:     map[int]int{},
		Confidence: map[int]int{},
		Sources:    map[string]int{},
		Crosstab:   map[int]map[string]int{1: {}, 2: {}, 3: {}},
		EarlyWeeks: earlyWeeks,
	}

	type acc struct {
		n, sum int
		levels map[int]int
	}
	students := map[string]*acc{}
	var earlySum, lateSum int

	for _, e := range ds.Entries {
		j := e.Judgment
		if !j.Judged() {
			r.Unjudged++
			continue
		}
		r.Judged++
		lv := *j.Level
		r.Levels[lv]++
		if j.Confidence != nil && *j.Confidence != 0 {
			r.Confidence[*j.Confidence]++
			if *j.Confidence == 1 {
				r.LowConfidence = append(r.LowConfidence, e)
			}
		}
		src := "UNKNOWN"
		if j.ConceptSource != nil && *j.ConceptSource != "" {
			src = *j.ConceptSource
		}
		r.Sources[src]++
		if row, ok := r.Crosstab[lv]; ok {
			row[src]++
		}

		a := students[e.Context.StudentName]
		if a == nil {
			a = &acc{levels: map[int]int{}}
			students[e.Context.StudentName] = a
		}
		a.n++
		a.sum += lv
		a.levels[lv]++

		if e.Context.WeekNumber <= earlyWeeks {
			r.Early.N++
			earlySum += lv
		} else {
			r.Late.N++
			lateSum += lv
		}
	}

	if r.Early.N > 0 {
		r.Early.Mean = float64(earlySum) / float64(r.Early.N)
	}
	if r.Late.N > 0 {
		r.Late.Mean = float64(lateSum) / float64(r.Late.N)
	}

	for name, a := range students {
		r.Students = append(r.Students, StudentStat{
			Name:   name,
			N:      a.n,
			Mean:   float64(a.sum) / float64(a.n),
			Levels: a.levels,
		})
	}
	sort.Slice(r.Students, func(i, j int) bool { return r.Students[i].Name < r.Students[j].Name })
	return r
}

// Trend returns the late minus early mean level and a label for it. ok is
// false unless both periods have judged entries.
func (r *Report) Trend() (diff float64, label string, ok bool) {
	if r.Early.N == 0 || r.Late.N == 0 {
		return 0, "", false
	}
	diff = r.Late.Mean - r.Early.Mean
	switch {
	case diff > 0:
		label = "上昇"
	case diff < 0:
		label = "低下"
	default:
		label = "変化なし"
	}
	return diff, label, true
}

// ModeLevel returns the most frequent level and its count. Ties go to the
// lower level.
func (r *Report) ModeLevel() (level, count int) {
	for lv, n := range r.Levels {
		if n > count || (n == count && lv < level) {
			level, count = lv, n
		}
	}
	return level, count
}

// WriteText renders the report for a terminal.
func (r *Report) WriteText(w io.Writer) error {
	rule := strings.Repeat("=", 60)
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n概念化レベル分析レポート\n%s\n", rule, rule)
	fmt.Fprintf(&b, "\n--- 基本統計 ---\n")
	fmt.Fprintf(&b, "  全エントリー: %d件\n  判定済み: %d件\n  未判定: %d件\n", r.Total, r.Judged, r.Unjudged)
	if r.Judged == 0 {
		fmt.Fprintf(&b, "\n判定済みエントリーがありません。\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	fmt.Fprintf(&b, "\n--- レベル分布 ---\n")
	for lv := 1; lv <= 3; lv++ {
		n := r.Levels[lv]
		pct := float64(n) / float64(r.Judged) * 100
		fmt.Fprintf(&b, "  %s: %d件 (%.1f%%) %s\n", levelNames[lv], n, pct, strings.Repeat("#", int(pct/2)))
	}

	fmt.Fprintf(&b, "\n--- 自信度分布 ---\n")
	for c := 1; c <= 3; c++ {
		fmt.Fprintf(&b, "  %d (%s): %d件\n", c, confidenceNames[c], r.Confidence[c])
	}

	fmt.Fprintf(&b, "\n--- Concept Source 分布 ---\n")
	for _, s := range conceptSources {
		if n := r.Sources[s]; n > 0 || s != "UNKNOWN" {
			fmt.Fprintf(&b, "  %s: %d件\n", s, n)
		}
	}

	fmt.Fprintf(&b, "\n--- Level × Concept Source クロス集計 ---\n")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\t%s\t合計\n", strings.Join(conceptSources, "\t"))
	totals := map[string]int{}
	for lv := 1; lv <= 3; lv++ {
		row := r.Crosstab[lv]
		sum := 0
		fmt.Fprintf(tw, "Level %d", lv)
		for _, s := range conceptSources {
			fmt.Fprintf(tw, "\t%d", row[s])
			sum += row[s]
			totals[s] += row[s]
		}
		fmt.Fprintf(tw, "\t%d\n", sum)
	}
	fmt.Fprintf(tw, "合計")
	all := 0
	for _, s := range conceptSources {
		fmt.Fprintf(tw, "\t%d", totals[s])
		all += totals[s]
	}
	fmt.Fprintf(tw, "\t%d\n", all)
	if err := tw.Flush(); err != nil {
		return err
	}
	if lv3 := r.Crosstab[3]; lv3["SELF"]+lv3["ECHO"]+lv3["MIXED"] > 0 {
		fmt.Fprintf(&b, "\n  Level 3 の内訳: SELF %d件 / ECHO %d件\n", lv3["SELF"], lv3["ECHO"])
		if lv3["ECHO"] > lv3["SELF"] {
			fmt.Fprintf(&b, "  注意: Level 3 の多くが ECHO です。\n")
		}
	}

	fmt.Fprintf(&b, "\n--- 学生別レベル分布 ---\n")
	for _, s := range r.Students {
		lvs := make([]int, 0, len(s.Levels))
		for lv := range s.Levels {
			lvs = append(lvs, lv)
		}
		sort.Ints(lvs)
		parts := make([]string, len(lvs))
		for i, lv := range lvs {
			parts[i] = fmt.Sprintf("Lv%d:%d", lv, s.Levels[lv])
		}
		fmt.Fprintf(&b, "  %s: 平均=%.2f (%s)\n", s.Name, s.Mean, strings.Join(parts, ", "))
	}

	fmt.Fprintf(&b, "\n--- 期間別比較 ---\n")
	if r.Early.N > 0 {
		fmt.Fprintf(&b, "  前半 (Week 1-%d): 平均=%.2f (n=%d)\n", r.EarlyWeeks, r.Early.Mean, r.Early.N)
	}
	if r.Late.N > 0 {
		fmt.Fprintf(&b, "  後半 (Week %d-): 平均=%.2f (n=%d)\n", r.EarlyWeeks+1, r.Late.Mean, r.Late.N)
	}
	if diff, label, ok := r.Trend(); ok {
		fmt.Fprintf(&b, "  差分: %+.2f (%s)\n", diff, label)
	}

	if len(r.LowConfidence) > 0 {
		fmt.Fprintf(&b, "\n--- 迷ったケース (自信度=1) ---\n")
		for _, e := range r.LowConfidence {
			fmt.Fprintf(&b, "  #%d %s Week%d -> Lv.%d\n", e.ID, e.Context.StudentName, e.Context.WeekNumber, *e.Judgment.Level)
			if notes := e.Judgment.Notes; notes != "" {
				fmt.Fprintf(&b, "    メモ: %s\n", truncate(notes, 80))
			}
		}
	}

	lv, n := r.ModeLevel()
	fmt.Fprintf(&b, "\n--- まとめ ---\n  最頻レベル: Lv.%d (%d件)\n", lv, n)
	if len(r.LowConfidence) > 0 {
		fmt.Fprintf(&b, "  判定困難ケース: %d件\n", len(r.LowConfidence))
	}
	if _, label, ok := r.Trend(); ok {
		fmt.Fprintf(&b, "  成長トレンド: %s\n", label)
	}
	fmt.Fprintf(&b, "\n%s\n", rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
