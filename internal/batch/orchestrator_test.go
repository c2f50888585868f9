package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/formaudit/internal/extract"
	"github.com/a3tai/formaudit/internal/logger"
	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/recognition"
	"github.com/a3tai/formaudit/internal/schema"
	"github.com/a3tai/formaudit/internal/workbook"
)

var evaluated = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return evaluated }

// lineEngine reports a fixed hazard form for every page.
type lineEngine struct{}

func (lineEngine) Name() string { return "lines" }

func (lineEngine) Recognize(_ context.Context, page recognition.PageImage) ([]recognition.TextLine, error) {
	return []recognition.TextLine{
		{Text: "Report Number: SMS-2025-100", Bounds: image.Rect(10, 5, 90, 10), Confidence: 0.93},
		{Text: "Date of Report: 18/12/2025", Bounds: image.Rect(100, 5, 190, 10), Confidence: 0.91},
		{Text: "Location of Hazard: Galley", Bounds: image.Rect(10, 20, 90, 25), Confidence: 0.88},
	}, nil
}

// wholeLineEngine reports one box per text line, with side-by-side fields
// sharing a box.
type wholeLineEngine struct{}

func (wholeLineEngine) Name() string { return "whole-lines" }

func (wholeLineEngine) Recognize(_ context.Context, page recognition.PageImage) ([]recognition.TextLine, error) {
	return []recognition.TextLine{
		{Text: "Report Number: SMS-2025-300   Date of Report: 05/12/2025", Bounds: image.Rect(10, 5, 190, 10), Confidence: 0.9},
		{Text: "Location of Hazard: Cabin   Initial Risk Level: High", Bounds: image.Rect(10, 20, 190, 25), Confidence: 0.9},
		{Text: "Severity: Major   Likelihood: Occasional", Bounds: image.Rect(10, 35, 190, 40), Confidence: 0.9},
	}, nil
}

func pngDoc(t *testing.T, name string) recognition.Document {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 200, 100))))
	return recognition.Document{Name: name, Data: buf.Bytes()}
}

// fakeRecognizer returns one page per document unless told otherwise.
type fakeRecognizer struct {
	delay   func(name string) time.Duration
	pages   map[string][]recognition.PageResult
	errs    map[string]error
	panicOn string
}

func (f *fakeRecognizer) Recognize(_ context.Context, doc recognition.Document) ([]recognition.PageResult, error) {
	if f.delay != nil {
		time.Sleep(f.delay(doc.Name))
	}
	if doc.Name == f.panicOn {
		panic("decoder exploded")
	}
	if err := f.errs[doc.Name]; err != nil {
		return nil, err
	}
	if pages, ok := f.pages[doc.Name]; ok {
		return pages, nil
	}
	return []recognition.PageResult{{
		Regions: []model.RecognizedRegion{{
			Text:       "Report Number: " + doc.Name,
			Bounds:     model.Box{X: 0.05, Y: 0.05, Width: 0.4, Height: 0.03},
			Confidence: 0.9,
		}},
	}}, nil
}

func namedDocs(n int) []recognition.Document {
	docs := make([]recognition.Document, n)
	for i := range docs {
		docs[i] = recognition.Document{Name: fmt.Sprintf("doc-%02d", i+1)}
	}
	return docs
}

func newOrchestrator(r Recognizer, opts Options) *Orchestrator {
	s := schema.Default()
	return New(r, extract.New(extract.Options{}), workbook.NewComposer(s, clock), opts)
}

func TestRunPartialFailure(t *testing.T) {
	s := schema.Default()
	path := filepath.Join(t.TempDir(), "audit_workbook.xlsx")
	adapter := recognition.NewAdapter(lineEngine{}, recognition.DefaultOptions())
	o := newOrchestrator(adapter, Options{Workers: 3, WorkbookPath: path})

	docs := make([]recognition.Document, 10)
	for i := range docs {
		docs[i] = pngDoc(t, fmt.Sprintf("scan-%02d.png", i+1))
	}
	docs[3] = recognition.Document{Name: "scan-04.docx", Data: []byte("PK\x03\x04 not a scan")}

	res, err := o.Run(context.Background(), docs, s)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Documents)
	assert.Equal(t, 9, res.Succeeded)
	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, 3, f.Index)
	assert.Equal(t, "scan-04.docx", f.Document)
	assert.Equal(t, KindUnsupportedFormat, f.Kind)
	var unsupported *recognition.UnsupportedFormatError
	assert.ErrorAs(t, f, &unsupported)

	require.NotNil(t, res.Workbook)
	assert.Len(t, res.Workbook.Rows, 9)
	assert.Equal(t, path, res.WorkbookPath)

	loaded, err := workbook.Load(path, s)
	require.NoError(t, err)
	assert.Len(t, loaded.Rows, 9)
	require.Len(t, loaded.Evidence, 1)
	assert.Equal(t, 1, loaded.Evidence[0].Failures)
	assert.Equal(t, 9, loaded.Evidence[0].Records)
	assert.Equal(t, "Galley", loaded.Rows[0].Value("Location of Hazard"))
	assert.Equal(t, "2025-12-18", loaded.Rows[0].Value("Date of Report"))
}

func TestRunWholeLineRecognition(t *testing.T) {
	s := schema.Default()
	adapter := recognition.NewAdapter(wholeLineEngine{}, recognition.DefaultOptions())
	o := newOrchestrator(adapter, Options{Workers: 1})

	res, err := o.Run(context.Background(), []recognition.Document{pngDoc(t, "lines.png")}, s)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	for field, want := range map[string]string{
		"Report Number":         "SMS-2025-300",
		"Date of Report":        "2025-12-05",
		"Location of Hazard":    "Cabin",
		"Initial Risk Level":    "High",
		"Severity (Initial)":    "Major",
		"Probability (Initial)": "Occasional",
	} {
		v := rec.Fields[field]
		assert.Equal(t, model.Resolved, v.Status, field)
		assert.Equal(t, want, v.Normalized, field)
	}
	for _, d := range res.Diagnostics {
		assert.NotEqual(t, "Date of Report", d.Field, d.String())
		assert.NotEqual(t, "Probability (Initial)", d.Field, d.String())
	}
}

func TestRunLogsDocumentsWithBatchID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logger.New(&logger.Config{Level: "debug", Format: "json", Output: &buf}))
	defer slog.SetDefault(prev)

	o := newOrchestrator(&fakeRecognizer{}, Options{Workers: 2, NewBatchID: func() string { return "batch-42" }})
	_, err := o.Run(context.Background(), namedDocs(2), schema.Default())
	require.NoError(t, err)

	var started, finished int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, `"msg":"document `) {
			continue
		}
		assert.Contains(t, line, `"batch_id":"batch-42"`)
		assert.Contains(t, line, `"document":"doc-0`)
		switch {
		case strings.Contains(line, `"msg":"document started"`):
			started++
		case strings.Contains(line, `"msg":"document finished"`):
			finished++
		}
	}
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, finished)
}

func TestRunAppendsAcrossBatches(t *testing.T) {
	s := schema.Default()
	path := filepath.Join(t.TempDir(), "audit_workbook.xlsx")
	o := newOrchestrator(&fakeRecognizer{}, Options{Workers: 2, WorkbookPath: path})

	first, err := o.Run(context.Background(), namedDocs(3), s)
	require.NoError(t, err)
	second, err := o.Run(context.Background(), namedDocs(2), s)
	require.NoError(t, err)
	assert.NotEqual(t, first.BatchID, second.BatchID)

	wb, err := workbook.Load(path, s)
	require.NoError(t, err)
	require.Len(t, wb.Rows, 5)
	for i, r := range wb.Rows[:3] {
		assert.Equal(t, first.Records[i].ID, r.RecordID)
		assert.Equal(t, first.BatchID, r.BatchID)
	}
	assert.Equal(t, second.BatchID, wb.Rows[4].BatchID)
	require.Len(t, wb.Evidence, 2)
	assert.Equal(t, first.BatchID, wb.Evidence[0].BatchID)
}

func TestRunKeepsInputOrder(t *testing.T) {
	docs := namedDocs(8)
	r := &fakeRecognizer{delay: func(name string) time.Duration {
		var n int
		fmt.Sscanf(name, "doc-%d", &n)
		return time.Duration(9-n) * 3 * time.Millisecond
	}}
	o := newOrchestrator(r, Options{Workers: 4})

	res, err := o.Run(context.Background(), docs, schema.Default())
	require.NoError(t, err)
	require.Len(t, res.Records, len(docs))
	for i, rec := range res.Records {
		assert.Equal(t, docs[i].Name, rec.Document)
	}
	require.NotNil(t, res.Workbook)
	for i, row := range res.Workbook.Rows {
		assert.Equal(t, docs[i].Name, row.Document)
	}
}

func TestRunPageFailures(t *testing.T) {
	region := model.RecognizedRegion{Text: "Report Number: A-1", Bounds: model.Box{X: 0.1, Y: 0.1, Width: 0.3, Height: 0.03}, Confidence: 0.9}
	r := &fakeRecognizer{pages: map[string][]recognition.PageResult{
		"doc-01": {
			{Index: 0, Regions: []model.RecognizedRegion{region}},
			{Index: 1, Err: &recognition.RecognitionFailure{Document: "doc-01", Page: 1, Err: errors.New("blank scan")}},
			{Index: 2, Regions: []model.RecognizedRegion{region}},
		},
	}}
	o := newOrchestrator(r, Options{})

	res, err := o.Run(context.Background(), namedDocs(1), schema.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 0, res.Records[0].PageIndex)
	assert.Equal(t, 2, res.Records[1].PageIndex)
	require.Len(t, res.PageFailures, 1)
	assert.Equal(t, 1, res.PageFailures[0].Page)
	assert.Contains(t, res.PageFailures[0].Reason, "blank scan")
}

func TestRunDiagnosticsDoNotBlockRecords(t *testing.T) {
	o := newOrchestrator(&fakeRecognizer{}, Options{})
	res, err := o.Run(context.Background(), namedDocs(1), schema.Default())
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	date := res.Records[0].Fields["Date of Report"]
	assert.Equal(t, model.Missing, date.Status)

	var found bool
	for _, d := range res.Diagnostics {
		if d.Field == "Date of Report" && d.Severity == model.SeverityError {
			found = true
		}
	}
	assert.True(t, found, "missing required field must be reported")
	assert.Contains(t, res.Workbook.Rows[0].Validation, "Date of Report")
}

func TestRunAllDocumentsFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit_workbook.xlsx")
	r := &fakeRecognizer{errs: map[string]error{
		"doc-01": &recognition.UnsupportedFormatError{Document: "doc-01", Reason: "unrecognized file signature"},
		"doc-02": &recognition.RecognitionFailure{Document: "doc-02", Page: recognition.DocumentPage, Err: errors.New("all 2 pages failed")},
	}}
	o := newOrchestrator(r, Options{WorkbookPath: path})

	res, err := o.Run(context.Background(), namedDocs(2), schema.Default())
	require.ErrorIs(t, err, ErrBatchFailed)
	require.NotNil(t, res)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, KindUnsupportedFormat, res.Failures[0].Kind)
	assert.Equal(t, KindRecognitionFailure, res.Failures[1].Kind)
	assert.Nil(t, res.Workbook)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

// gatedRecognizer blocks the first document until released.
type gatedRecognizer struct {
	fakeRecognizer
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedRecognizer) Recognize(ctx context.Context, doc recognition.Document) ([]recognition.PageResult, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.fakeRecognizer.Recognize(ctx, doc)
}

func TestRunCanceledBetweenDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit_workbook.xlsx")
	g := &gatedRecognizer{started: make(chan struct{}), release: make(chan struct{})}
	o := newOrchestrator(g, Options{Workers: 1, WorkbookPath: path})

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.Run(ctx, namedDocs(3), schema.Default())
		done <- outcome{res, err}
	}()

	<-g.started
	cancel()
	close(g.release)
	out := <-done

	require.ErrorIs(t, out.err, context.Canceled)
	res := out.res
	require.NotNil(t, res)
	assert.True(t, res.Canceled)
	assert.Equal(t, 1, res.Succeeded, "the in-flight document completes")
	require.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.Equal(t, KindCanceled, f.Kind)
	}
	assert.Nil(t, res.Workbook)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunRecoversPanics(t *testing.T) {
	o := newOrchestrator(&fakeRecognizer{panicOn: "doc-02"}, Options{Workers: 2})
	res, err := o.Run(context.Background(), namedDocs(3), schema.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, KindInternal, res.Failures[0].Kind)
	assert.Contains(t, res.Failures[0].Reason, "decoder exploded")
}

func TestRunRejectsInput(t *testing.T) {
	o := newOrchestrator(&fakeRecognizer{}, Options{})

	_, err := o.Run(context.Background(), nil, schema.Default())
	assert.ErrorIs(t, err, ErrNoDocuments)

	other, err := schema.Parse([]byte(`
name: other
revision: 1
fields:
  - name: Ref
    kind: text
    labels: [Ref]
`))
	require.NoError(t, err)
	_, err = o.Run(context.Background(), namedDocs(1), other)
	var mismatch *workbook.SchemaMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestRunRejectsStaleWorkbook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit_workbook.xlsx")

	other, err := schema.Parse([]byte(`
name: other
revision: 1
fields:
  - name: Ref
    kind: text
    labels: [Ref]
`))
	require.NoError(t, err)
	stale := workbook.NewComposer(other, clock)
	wb, err := stale.Compose(nil, nil, nil, workbook.Batch{ID: "old"})
	require.NoError(t, err)
	require.NoError(t, stale.Save(wb, path))

	o := newOrchestrator(&fakeRecognizer{}, Options{WorkbookPath: path})
	res, err := o.Run(context.Background(), namedDocs(1), schema.Default())
	var mismatch *workbook.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Nil(t, res.Workbook)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"unsupported", &recognition.UnsupportedFormatError{Document: "a", Reason: "x"}, KindUnsupportedFormat},
		{"wrapped recognition", fmt.Errorf("read: %w", &recognition.RecognitionFailure{Page: recognition.DocumentPage, Err: errors.New("x")}), KindRecognitionFailure},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", context.DeadlineExceeded, KindCanceled},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "unsupported_format", KindUnsupportedFormat.String())
	assert.Equal(t, "recognition_failure", KindRecognitionFailure.String())
	assert.Equal(t, "canceled", KindCanceled.String())
	assert.Equal(t, "internal", KindInternal.String())

	assert.False(t, KindUnsupportedFormat.Recoverable())
	assert.True(t, KindRecognitionFailure.Recoverable())
	assert.True(t, KindCanceled.Recoverable())
	assert.False(t, KindInternal.Recoverable())

	text, err := KindCanceled.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "canceled", string(text))
}
