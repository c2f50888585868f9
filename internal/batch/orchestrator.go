// Package batch runs recognition, extraction, and validation over a set of
// documents and composes the results into the audit workbook.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a3tai/formaudit/internal/logger"
	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/recognition"
	"github.com/a3tai/formaudit/internal/schema"
	"github.com/a3tai/formaudit/internal/validate"
	"github.com/a3tai/formaudit/internal/workbook"
)

// Recognizer produces page regions for a document.
type Recognizer interface {
	Recognize(ctx context.Context, doc recognition.Document) ([]recognition.PageResult, error)
}

// Extractor maps a page's regions onto a record.
type Extractor interface {
	Extract(document string, pageIndex int, regions []model.RecognizedRegion, s *schema.Schema) model.Record
}

// Options configures an Orchestrator.
type Options struct {
	// Workers bounds concurrent documents; zero uses GOMAXPROCS.
	Workers int
	// WorkbookPath, when set, is the workbook appended to and saved.
	WorkbookPath string
	NewBatchID   func() string
}

// Result reports what a batch produced. It is returned even when Run fails.
type Result struct {
	BatchID      string             `json:"batch_id"`
	Documents    int                `json:"documents"`
	Succeeded    int                `json:"succeeded"`
	Records      []model.Record     `json:"records"`
	Diagnostics  []model.Diagnostic `json:"diagnostics"`
	Failures     []DocumentFailure  `json:"failures"`
	PageFailures []PageFailure      `json:"page_failures"`
	Canceled     bool               `json:"canceled"`
	Duration     time.Duration      `json:"duration"`
	// Workbook is nil unless composition ran.
	Workbook     *workbook.Workbook `json:"-"`
	WorkbookPath string             `json:"workbook_path,omitempty"`
}

// Orchestrator is safe for concurrent use; each Run is independent.
type Orchestrator struct {
	recognizer Recognizer
	extractor  Extractor
	composer   *workbook.Composer
	opts       Options
}

// New creates an Orchestrator.
func New(recognizer Recognizer, extractor Extractor, composer *workbook.Composer, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.NewBatchID == nil {
		opts.NewBatchID = uuid.NewString
	}
	return &Orchestrator{recognizer: recognizer, extractor: extractor, composer: composer, opts: opts}
}

type docResult struct {
	started      bool
	records      []model.Record
	diags        []model.Diagnostic
	pageFailures []PageFailure
	failure      *DocumentFailure
}

// Run processes docs and composes every record into one workbook append.
// Documents are processed concurrently but their records keep input order.
//
// A document that cannot be read or recognized is recorded in
// Result.Failures and the batch continues. Run returns ErrBatchFailed when
// no document yielded a recognized page. When ctx is canceled, documents
// already being processed finish, the rest are reported as canceled, and no
// workbook is composed or written. Schema and write failures are returned
// as is.
func (o *Orchestrator) Run(ctx context.Context, docs []recognition.Document, s *schema.Schema) (*Result, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	if want := o.composer.Schema().Version(); s.Version() != want {
		return nil, &workbook.SchemaMismatchError{Expected: want, Got: s.Version()}
	}

	start := time.Now()
	res := &Result{BatchID: o.opts.NewBatchID(), Documents: len(docs)}
	defer func() { res.Duration = time.Since(start) }()
	ctx = logger.WithBatch(ctx, res.BatchID)
	log := logger.WithContext(ctx)
	log.Info("batch started", "documents", len(docs), "workers", o.opts.Workers, "schema", s.Version())

	results := o.dispatch(ctx, docs, s, log)

	for i, r := range results {
		if !r.started {
			r.failure = &DocumentFailure{Index: i, Document: docs[i].Label(), Kind: KindCanceled,
				Reason: "batch canceled before the document started", Err: ctx.Err()}
		}
		if r.failure != nil {
			res.Failures = append(res.Failures, *r.failure)
			continue
		}
		res.Succeeded++
		res.Records = append(res.Records, r.records...)
		res.Diagnostics = append(res.Diagnostics, r.diags...)
		res.PageFailures = append(res.PageFailures, r.pageFailures...)
	}
	if err := ctx.Err(); err != nil {
		res.Canceled = true
		log.Warn("batch canceled", "completed", res.Succeeded, "failed", len(res.Failures))
		return res, fmt.Errorf("batch %s canceled: %w", res.BatchID, err)
	}
	if res.Succeeded == 0 {
		log.Error("batch failed", "failed", len(res.Failures))
		return res, fmt.Errorf("%w: none of %d documents yielded a recognized page", ErrBatchFailed, len(docs))
	}

	if err := o.compose(res); err != nil {
		log.Error("workbook composition failed", "error", err)
		return res, err
	}
	log.Info("batch finished",
		"succeeded", res.Succeeded,
		"failed", len(res.Failures),
		"records", len(res.Records),
		"page_failures", len(res.PageFailures),
		"duration", time.Since(start))
	return res, nil
}

// dispatch feeds document indexes to a bounded pool and waits for it. Each
// worker writes only the result slot of the document it owns.
func (o *Orchestrator) dispatch(ctx context.Context, docs []recognition.Document, s *schema.Schema, log *slog.Logger) []docResult {
	results := make([]docResult, len(docs))
	jobs := make(chan int)

	workers := min(o.opts.Workers, len(docs))
	// In-flight documents run to completion once started.
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = o.process(work, i, docs[i], s, log)
			}
		}()
	}

	for i := range docs {
		if ctx.Err() != nil {
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

func (o *Orchestrator) process(ctx context.Context, index int, doc recognition.Document, s *schema.Schema, log *slog.Logger) (r docResult) {
	r.started = true
	name := doc.Label()
	log = log.With("document", name)
	defer func() {
		if p := recover(); p != nil {
			f := newFailure(index, name, fmt.Errorf("panic: %v", p))
			r = docResult{started: true, failure: &f}
			log.Error("document processing panicked", "panic", p)
		}
	}()

	logger.Debug(ctx, "document started", "document", name, "index", index)
	pages, err := o.recognizer.Recognize(ctx, doc)
	if err != nil {
		f := newFailure(index, name, err)
		log.Warn("document failed", "kind", f.Kind.String(), "reason", f.Reason)
		return docResult{started: true, failure: &f}
	}

	for _, p := range pages {
		if p.Err != nil {
			r.pageFailures = append(r.pageFailures, PageFailure{Document: name, Page: p.Index, Reason: p.Err.Error()})
			continue
		}
		rec := o.extractor.Extract(name, p.Index, p.Regions, s)
		r.records = append(r.records, rec)
		r.diags = append(r.diags, validate.Validate(rec, s)...)
	}
	logger.Debug(ctx, "document finished", "document", name, "records", len(r.records), "page_failures", len(r.pageFailures))
	return r
}

func (o *Orchestrator) compose(res *Result) error {
	var prev *workbook.Workbook
	if o.opts.WorkbookPath != "" {
		var err error
		if prev, err = workbook.LoadIfExists(o.opts.WorkbookPath, o.composer.Schema()); err != nil {
			return fmt.Errorf("load previous workbook: %w", err)
		}
	}
	wb, err := o.composer.Compose(res.Records, res.Diagnostics, prev, workbook.Batch{
		ID:        res.BatchID,
		Documents: res.Documents,
		Failures:  len(res.Failures),
	})
	if err != nil {
		return err
	}
	res.Workbook = wb
	if o.opts.WorkbookPath == "" {
		return nil
	}
	if err := o.composer.Save(wb, o.opts.WorkbookPath); err != nil {
		return err
	}
	res.WorkbookPath = o.opts.WorkbookPath
	return nil
}
