package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/yomogi-work/kizuki-log-sync/pkg/journal"
	"github.com/yomogi-work/kizuki-log-sync/pkg/logger"
)

// Failure records a document that could not be extracted.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %v", filepath.Base(f.Path), f.Err)
}

// Batch extracts many documents concurrently and returns them in input order.
// A failing document is recorded and skipped; it never aborts the batch.
type Batch struct {
	Extractor Extractor
	Workers   int
	Log       *logger.Logger
	// OnProgress is called with the number of finished documents, in order.
	OnProgress func(done, total int)
}

type extracted struct {
	index int
	doc   journal.Document
	err   error
}

// Run extracts paths. The returned error is non-nil only when ctx ends
// before every document finished.
func (b *Batch) Run(ctx context.Context, paths []string) ([]journal.Document, []Failure, error) {
	log := logger.OrNop(b.Log)
	total := len(paths)
	if total == 0 {
		return nil, nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wp := NewWorkerPool(b.Workers, b.Workers*2)
	wp.Start(ctx)

	resultCh := make(chan extracted, total)
	go func() {
		defer wp.Close()
		for i, path := range paths {
			idx, p := i, path
			err := wp.SubmitCtx(ctx, func(ctx context.Context) error {
				doc, err := b.Extractor.Extract(ctx, p)
				resultCh <- extracted{index: idx, doc: doc, err: err}
				return err
			})
			if err != nil {
				return
			}
		}
	}()

	var (
		docs     []journal.Document
		failures []Failure
		buffer   = make(map[int]extracted)
		nextIdx  int
	)
	for nextIdx < total {
		select {
		case <-ctx.Done():
			return docs, failures, ctx.Err()
		case res := <-resultCh:
			buffer[res.index] = res
		}
		for {
			item, ok := buffer[nextIdx]
			if !ok {
				break
			}
			delete(buffer, nextIdx)
			if item.err != nil {
				log.Warn("extraction failed", "path", paths[nextIdx], "error", item.err)
				failures = append(failures, Failure{Path: paths[nextIdx], Err: item.err})
			} else {
				if item.doc.Name == "" {
					item.doc.Name = filepath.Base(paths[nextIdx])
				}
				docs = append(docs, item.doc)
			}
			nextIdx++
			if b.OnProgress != nil {
				b.OnProgress(nextIdx, total)
			}
		}
	}
	return docs, failures, nil
}

// Glob returns the files in dir matching pattern, sorted by name.
func Glob(dir, pattern string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(paths)
	return paths, nil
}
