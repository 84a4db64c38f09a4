package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yomogi-work/kizuki-log-sync/pkg/annotation"
	"github.com/yomogi-work/kizuki-log-sync/pkg/atomicfile"
	"github.com/yomogi-work/kizuki-log-sync/pkg/db"
	"github.com/yomogi-work/kizuki-log-sync/pkg/extract"
	"github.com/yomogi-work/kizuki-log-sync/pkg/identity"
	"github.com/yomogi-work/kizuki-log-sync/pkg/ingest"
	"github.com/yomogi-work/kizuki-log-sync/pkg/journal"
	"github.com/yomogi-work/kizuki-log-sync/pkg/llm"
	"github.com/yomogi-work/kizuki-log-sync/pkg/scheduler"
	"github.com/yomogi-work/kizuki-log-sync/pkg/snapshot"
	"github.com/yomogi-work/kizuki-log-sync/pkg/textstats"
)

func commands() map[string]*command {
	list := []*command{
		{
			name:  "extract",
			usage: "extract [--raw-dir DIR] [--pattern GLOB] [--out FILE]  extract journal PDFs into the text dump",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("raw-dir", "", "directory holding the source documents")
				fs.String("pattern", "", "file name pattern of the source documents")
				fs.String("out", "", "text dump to write")
				fs.Int("workers", 0, "concurrent extractions")
				bind(fs, v, "raw-dir", "data.raw_dir")
				bind(fs, v, "pattern", "data.pattern")
				bind(fs, v, "out", "data.extracted_text")
				bind(fs, v, "workers", "extract.workers")
			},
			run: runExtract,
		},
		{
			name:  "ingest",
			usage: "ingest [--dump FILE | --extract]  rebuild the journal store from the text dump",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("dump", "", "text dump to read")
				fs.Bool("extract", false, "extract the source documents instead of reading the dump")
				fs.Int("default-year", 0, "year for documents that carry none")
				bind(fs, v, "dump", "data.extracted_text")
				bind(fs, v, "default-year", "parse.default_year")
			},
			run: runIngest,
		},
		{
			name:  "append",
			usage: "append [--snapshot FILE]  add snapshot journals missing from the store",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("snapshot", "", "snapshot file to read")
				bind(fs, v, "snapshot", "snapshot.path")
			},
			run: runAppend,
		},
		{
			name:  "project",
			usage: "project [--out FILE]  write the dashboard snapshot",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("out", "", "snapshot file to write")
				fs.Int("keywords", 0, "keywords per journal (0 disables)")
				bind(fs, v, "out", "snapshot.path")
				bind(fs, v, "keywords", "snapshot.keywords")
			},
			run: runProject,
		},
		{
			name:  "sample",
			usage: "sample [--size N] [--seed N] [--force]  draw the annotation sample",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.Int("size", 0, "number of entries")
				fs.Int64("seed", 0, "random seed")
				fs.String("out", "", "annotation dataset to write")
				fs.Bool("force", false, "overwrite an existing dataset")
				bind(fs, v, "size", "sample.size")
				bind(fs, v, "seed", "sample.seed")
				bind(fs, v, "out", "annotation.path")
			},
			run: runSample,
		},
		{
			name:  "sync",
			usage: "sync [--student NAME]  append new snapshot journals to the annotation dataset",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("student", "", "only sync this student")
				fs.String("snapshot", "", "snapshot file to read")
				fs.String("out", "", "annotation dataset to write")
				bind(fs, v, "student", "sync.student")
				bind(fs, v, "snapshot", "snapshot.path")
				bind(fs, v, "out", "annotation.path")
			},
			run: runSync,
		},
		{
			name:  "report",
			usage: "report [--input FILE]  summarize judged entries and export CSV/XLSX",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("input", "", "dataset to read (default: latest judged export)")
				fs.String("csv", "", "CSV file to write (empty skips)")
				fs.String("xlsx", "", "XLSX file to write (empty skips)")
				bind(fs, v, "csv", "report.csv")
				bind(fs, v, "xlsx", "report.xlsx")
			},
			run: runReport,
		},
		{
			name:  "analyze",
			usage: "analyze --student NAME --date YYYY-MM-DD  run the LLM bridge on one journal",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("student", "", "student name")
				fs.String("date", "", "journal date")
				fs.String("model", "", "model name")
				bind(fs, v, "model", "llm.model")
			},
			run: runAnalyze,
		},
		{
			name:  "alias add",
			usage: "alias add ALIAS --student NAME  register another name for a student",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("student", "", "existing student name")
			},
			run: runAliasAdd,
		},
		{
			name:  "merge",
			usage: "merge --keep NAME --drop NAME  fold one student into another",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("keep", "", "student that remains")
				fs.String("drop", "", "student that is folded in and removed")
			},
			run: runMerge,
		},
		{
			name:  "trigger add",
			usage: "trigger add --student NAME --label LABEL --description TEXT  record a growth trigger",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("student", "", "student name")
				fs.String("label", "", "date or period label")
				fs.String("description", "", "what changed")
			},
			run: runTriggerAdd,
		},
		{
			name:  "insight add",
			usage: "insight add --student NAME --date YYYY-MM-DD --type TYPE  attach an insight to a journal",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("student", "", "student name")
				fs.String("date", "", "journal date")
				fs.String("type", "", "insight category")
				fs.String("snippet", "", "quoted journal text")
				fs.String("reason", "", "why it matters")
			},
			run: runInsightAdd,
		},
		{
			name:  "status",
			usage: "status  list students with journal counts and week ranges",
			run:   runStatus,
		},
		{
			name:  "watch",
			usage: "watch [--cron EXPR] [--now]  project and sync on a schedule",
			flags: func(fs *pflag.FlagSet, v *viper.Viper) {
				fs.String("cron", "", "five-field cron expression")
				fs.Bool("now", false, "also run once at start")
				bind(fs, v, "cron", "schedule.cron")
			},
			run: runWatch,
		},
	}
	m := make(map[string]*command, len(list))
	for _, c := range list {
		m[c.name] = c
	}
	return m
}

// required returns the named string flag or an error when it is empty.
func required(fs *pflag.FlagSet, name string) (string, error) {
	v, err := fs.GetString(name)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return v, nil
}

func (a *app) extractDocuments(ctx context.Context) ([]journal.Document, []extract.Failure, error) {
	paths, err := extract.Glob(a.cfg.Data.RawDir, a.cfg.Data.Pattern)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no documents match %s", filepath.Join(a.cfg.Data.RawDir, a.cfg.Data.Pattern))
	}
	a.log.Info("extracting documents", "count", len(paths), "workers", a.cfg.Extract.Workers)
	b := &extract.Batch{
		Extractor: extract.Default(a.cfg.Extract.PDFToText),
		Workers:   a.cfg.Extract.Workers,
		Log:       a.log,
		OnProgress: func(done, total int) {
			a.log.Debug("extraction progress", "done", done, "total", total)
		},
	}
	return b.Run(ctx, paths)
}

func runExtract(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	docs, failures, err := a.extractDocuments(ctx)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := extract.WriteDump(&buf, docs); err != nil {
		return err
	}
	if err := atomicfile.WriteFile(a.cfg.Data.ExtractedText, buf.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "extracted %d documents (%d failed) -> %s\n", len(docs), len(failures), a.cfg.Data.ExtractedText)
	for _, f := range failures {
		fmt.Fprintf(a.out, "  failed: %s\n", f)
	}
	return nil
}

func runIngest(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	var (
		docs     []journal.Document
		failures []extract.Failure
		err      error
	)
	if onTheFly, _ := fs.GetBool("extract"); onTheFly {
		docs, failures, err = a.extractDocuments(ctx)
	} else {
		docs, err = extract.ReadDump(a.cfg.Data.ExtractedText)
	}
	if err != nil {
		return err
	}

	parsed := journal.NewParser(a.cfg.Parse.DefaultYear).ParseAll(docs)
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	ig := ingest.NewIngester(conn)
	ig.Log = a.log
	rep, err := ig.Rebuild(ctx, parsed)
	if err != nil {
		return err
	}
	for _, f := range failures {
		rep.ExtractFailures = append(rep.ExtractFailures, f.String())
	}
	rep.LogSummary(a.log)
	fmt.Fprintf(a.out, "ingested %d journals for %d students (%d empty, %d pages skipped, %d warnings)\n",
		rep.Inserted, rep.Students, rep.Empty, rep.SkippedPages, len(rep.Warnings))
	return nil
}

func runAppend(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	snap, err := snapshot.Load(a.cfg.Snapshot.Path)
	if err != nil {
		return err
	}
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	ig := ingest.NewIngester(conn)
	ig.Log = a.log
	rep, err := ig.Append(ctx, snap)
	if err != nil {
		return err
	}
	rep.LogSummary(a.log)
	fmt.Fprintf(a.out, "appended %d journals (%d already stored, %d empty)\n", rep.Inserted, rep.Skipped, rep.Empty)
	return nil
}

// project writes the snapshot file from the store.
func (a *app) project(ctx context.Context, conn *sqlx.DB) (*snapshot.Snapshot, error) {
	p := snapshot.NewProjector(conn)
	p.ProgramWeeks = a.cfg.Snapshot.ProgramWeeks
	p.KeywordLimit = a.cfg.Snapshot.Keywords
	p.Log = a.log
	if p.KeywordLimit > 0 {
		an, err := textstats.NewAnalyzer()
		if err != nil {
			return nil, err
		}
		p.Keywords = an
	}
	snap, err := p.Project(ctx)
	if err != nil {
		return nil, err
	}
	if err := snapshot.Save(a.cfg.Snapshot.Path, snap); err != nil {
		return nil, err
	}
	a.log.Info("snapshot written", "path", a.cfg.Snapshot.Path, "students", len(snap.Students))
	return snap, nil
}

func runProject(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	snap, err := a.project(ctx, conn)
	if err != nil {
		return err
	}
	journals := 0
	for _, s := range snap.Students {
		journals += len(s.Journals)
	}
	fmt.Fprintf(a.out, "projected %d students, %d journals -> %s\n", len(snap.Students), journals, a.cfg.Snapshot.Path)
	return nil
}

func runSample(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	out := a.cfg.Annotation.Path
	if force, _ := fs.GetBool("force"); !force {
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("%s exists and may hold judgments; pass --force to replace it", out)
		}
	}
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	s := annotation.NewSampler()
	s.Size = a.cfg.Sample.Size
	s.Seed = a.cfg.Sample.Seed
	s.MinContentLength = a.cfg.Sample.MinContentLength
	s.EarlyWeeks = a.cfg.Sample.EarlyWeeks
	s.DBFile = filepath.Base(a.cfg.DB.Path)
	s.RunID = a.runID
	s.Log = a.log
	ds, err := s.SampleDB(conn)
	if err != nil {
		return err
	}
	if err := annotation.Save(out, ds); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sampled %d entries -> %s\n", len(ds.Entries), out)
	return nil
}

// sync folds the latest judged export and the snapshot into the annotation
// dataset. Student aliases from the store let entries recorded under a
// merged-away name match the kept student.
func (a *app) sync(conn *sqlx.DB) (*annotation.SyncResult, error) {
	aliases, err := identity.NewResolver(conn).Aliases()
	if err != nil {
		return nil, err
	}
	s := annotation.NewSyncer(a.cfg.Sync.Student)
	s.DefaultStartDate = a.cfg.Sync.DefaultStartDate
	s.Aliases = aliases
	s.Log = a.log
	return s.SyncFiles(a.cfg.Snapshot.Path, a.cfg.Annotation.Path, a.cfg.Annotation.JudgedGlob)
}

func runSync(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := a.sync(conn)
	if err != nil {
		return err
	}
	if !res.Written {
		fmt.Fprintln(a.out, "annotation dataset already in sync")
		return nil
	}
	fmt.Fprintf(a.out, "added %d entries, folded %d judgments, imported %d entries from %s -> %s\n",
		res.Added, res.Judged, res.Imported, exportName(res.Export), a.cfg.Annotation.Path)
	return nil
}

func exportName(path string) string {
	if path == "" {
		return "no judged export"
	}
	return filepath.Base(path)
}

func runReport(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	input, _ := fs.GetString("input")
	if input == "" {
		src, ok, err := annotation.SourcePath(a.cfg.Annotation.Path, a.cfg.Annotation.JudgedGlob)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no annotation dataset found (%s or %s)", a.cfg.Annotation.JudgedGlob, a.cfg.Annotation.Path)
		}
		input = src
	}
	ds, err := annotation.Load(input)
	if err != nil {
		return err
	}
	a.log.Info("dataset loaded", "path", input, "entries", len(ds.Entries))

	r := annotation.Analyze(ds, a.cfg.Sample.EarlyWeeks)
	if err := r.WriteText(a.out); err != nil {
		return err
	}
	if p := a.cfg.Report.CSV; p != "" {
		if err := annotation.ExportCSV(p, ds); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "CSV: %s\n", p)
	}
	if p := a.cfg.Report.XLSX; p != "" {
		if err := annotation.ExportXLSX(p, ds); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "XLSX: %s\n", p)
	}
	return nil
}

func runAnalyze(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	student, err := required(fs, "student")
	if err != nil {
		return err
	}
	date, err := required(fs, "date")
	if err != nil {
		return err
	}
	client, err := llm.NewOpenAI(llm.Config{
		APIKey:      a.cfg.LLM.APIKey,
		BaseURL:     a.cfg.LLM.BaseURL,
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		Timeout:     a.cfg.LLM.Timeout,
	}, a.log)
	if err != nil {
		return err
	}
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := llm.NewBridge(conn, client, a.log).Analyze(ctx, student, date)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, res.Body)
	return nil
}

func runAliasAdd(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	if fs.NArg() != 1 {
		return errors.New("alias add takes exactly one ALIAS argument")
	}
	alias := fs.Arg(0)
	student, err := required(fs, "student")
	if err != nil {
		return err
	}
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	err = db.WithTx(ctx, conn, func(tx *sqlx.Tx) error {
		r := identity.NewResolver(tx)
		s, err := r.Lookup(student)
		if err != nil {
			return err
		}
		return r.AddAlias(alias, s.ID)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%q now resolves to %q\n", identity.Canonicalize(alias), identity.Canonicalize(student))
	return nil
}

func runMerge(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	keep, err := required(fs, "keep")
	if err != nil {
		return err
	}
	drop, err := required(fs, "drop")
	if err != nil {
		return err
	}
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	var keepID int64
	err = db.WithTx(ctx, conn, func(tx *sqlx.Tx) error {
		var err error
		keepID, err = identity.NewResolver(tx).Merge(keep, drop)
		return err
	})
	if err != nil {
		return err
	}
	a.log.Info("students merged", "keep", keep, "drop", drop, "keep_id", keepID)
	fmt.Fprintf(a.out, "merged %q into %q (id %d)\n", drop, keep, keepID)
	return nil
}

func runTriggerAdd(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	student, err := required(fs, "student")
	if err != nil {
		return err
	}
	label, err := required(fs, "label")
	if err != nil {
		return err
	}
	desc, err := required(fs, "description")
	if err != nil {
		return err
	}
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	s, err := identity.NewResolver(conn).Lookup(student)
	if err != nil {
		return err
	}
	id, err := db.InsertGrowthTrigger(conn, s.ID, label, desc)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "growth trigger %d recorded for %s\n", id, s.Name)
	return nil
}

func runInsightAdd(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	student, err := required(fs, "student")
	if err != nil {
		return err
	}
	date, err := required(fs, "date")
	if err != nil {
		return err
	}
	typ, err := required(fs, "type")
	if err != nil {
		return err
	}
	snippet, _ := fs.GetString("snippet")
	reason, _ := fs.GetString("reason")

	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	s, err := identity.NewResolver(conn).Lookup(student)
	if err != nil {
		return err
	}
	j, err := db.GetJournal(conn, s.ID, date)
	if err != nil {
		return err
	}
	id, err := db.InsertInsight(conn, &db.Insight{JournalID: j.ID, Type: typ, Snippet: snippet, Reason: reason})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "insight %d attached to %s %s\n", id, s.Name, date)
	return nil
}

func runStatus(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	rows, err := db.ListStudentSummaries(conn)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTART\tJOURNALS\tWEEKS")
	total := 0
	for _, r := range rows {
		start, weeks := "-", "-"
		if r.StartDate.Valid {
			start = r.StartDate.String
		}
		if r.MinWeek.Valid {
			weeks = fmt.Sprintf("%d-%d", r.MinWeek.Int64, r.MaxWeek.Int64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", r.ID, r.Name, start, r.Journals, weeks)
		total += r.Journals
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d students, %d journals\n", len(rows), total)
	return nil
}

func runWatch(ctx context.Context, a *app, fs *pflag.FlagSet) error {
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()

	task := func(ctx context.Context) error {
		if _, err := a.project(ctx, conn); err != nil {
			return fmt.Errorf("project: %w", err)
		}
		res, err := a.sync(conn)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		a.log.Info("sync finished", "added", res.Added, "judged", res.Judged, "imported", res.Imported, "written", res.Written)
		return nil
	}

	if now, _ := fs.GetBool("now"); now {
		if err := task(ctx); err != nil {
			return err
		}
	}

	s := scheduler.New(time.Local, a.log)
	if err := s.Cron("project-sync", a.cfg.Schedule.Cron, task); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "watching on %q, stop with Ctrl-C\n", a.cfg.Schedule.Cron)
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
