// Package recognition turns input documents into recognized text regions.
// Raster images go straight to the OCR engine; PDFs use their text layer when
// one exists and fall back to OCR over the embedded page scans.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/a3tai/formaudit/internal/model"
)

// Engine recognizes text lines on a single page image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, page PageImage) ([]TextLine, error)
}

// PageImage is one page handed to an Engine, always PNG encoded.
type PageImage struct {
	Index     int
	PNG       []byte
	Bounds    image.Rectangle
	DPI       int
	Languages []string
}

// TextLine is a line of text found by an Engine, in pixel coordinates.
// Confidence is in [0,1].
type TextLine struct {
	Text       string
	Bounds     image.Rectangle
	Confidence float64
}

// Document is one input file. Data, when set, is used instead of reading
// Path.
type Document struct {
	Name string
	Path string
	Data []byte
}

// Label returns the name used in results and errors.
func (d Document) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return filepath.Base(d.Path)
}

// Source records where a page's regions came from.
type Source string

const (
	SourceOCR       Source = "ocr"
	SourceTextLayer Source = "text-layer"
)

// PageResult is the outcome for one page. Err is a *RecognitionFailure when
// the page could not be recognized; Regions is then empty.
type PageResult struct {
	Index   int
	Regions []model.RecognizedRegion
	Source  Source
	Err     error
}

// Options configures an Adapter.
type Options struct {
	DPI       int
	Languages []string
	// MaxFileSize rejects larger documents; zero disables the check.
	MaxFileSize int64
	// MinTextRegions is how many text-layer regions a PDF page needs before
	// its text layer is used instead of OCR.
	MinTextRegions int
	Logger         *slog.Logger
}

// DefaultOptions returns the adapter defaults.
func DefaultOptions() Options {
	return Options{
		DPI:            300,
		Languages:      []string{"eng"},
		MaxFileSize:    100 * 1024 * 1024,
		MinTextRegions: 3,
	}
}

// Adapter wraps an Engine. It holds no per-document state and is safe for
// concurrent use.
type Adapter struct {
	engine Engine
	opts   Options
	log    *slog.Logger
}

// NewAdapter creates an Adapter. engine may be nil when only text-layer PDFs
// are expected; scanned pages then fail recognition.
func NewAdapter(engine Engine, opts Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{engine: engine, opts: opts, log: log}
}

// Recognize returns one result per page, in page order. Pages fail
// independently: a page the engine cannot process is reported in its
// PageResult and the remaining pages are still recognized. The returned
// error is an *UnsupportedFormatError when the document cannot be decoded,
// a *RecognitionFailure with Page set to DocumentPage when no page could be
// recognized, or the context error.
func (a *Adapter) Recognize(ctx context.Context, doc Document) ([]PageResult, error) {
	name := doc.Label()
	data, err := a.read(doc)
	if err != nil {
		return nil, err
	}

	format, err := DetectFormat(data)
	if err != nil {
		return nil, &UnsupportedFormatError{Document: name, Reason: err.Error()}
	}

	var results []PageResult
	switch {
	case format == FormatPDF:
		results, err = a.recognizePDF(ctx, name, data)
	case format.IsImage():
		png, bounds, decodeErr := toPNG(data)
		if decodeErr != nil {
			return nil, &UnsupportedFormatError{Document: name, Reason: decodeErr.Error()}
		}
		results = []PageResult{a.recognizeImage(ctx, name, 0, png, bounds)}
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			a.log.Warn("page recognition failed", "document", name, "page", r.Index+1, "error", r.Err)
		}
	}
	if failed == len(results) {
		cause := errors.New("document has no pages")
		if len(results) > 0 {
			cause = fmt.Errorf("all %d pages failed: %w", len(results), results[0].Err)
		}
		return results, &RecognitionFailure{Document: name, Page: DocumentPage, Err: cause}
	}
	return results, nil
}

func (a *Adapter) read(doc Document) ([]byte, error) {
	name := doc.Label()
	data := doc.Data
	if data == nil {
		if a.opts.MaxFileSize > 0 {
			if info, err := os.Stat(doc.Path); err == nil && info.Size() > a.opts.MaxFileSize {
				return nil, &UnsupportedFormatError{Document: name,
					Reason: fmt.Sprintf("file size %d exceeds limit %d", info.Size(), a.opts.MaxFileSize)}
			}
		}
		var err error
		if data, err = os.ReadFile(doc.Path); err != nil {
			return nil, &RecognitionFailure{Document: name, Page: DocumentPage, Err: err}
		}
	}
	if a.opts.MaxFileSize > 0 && int64(len(data)) > a.opts.MaxFileSize {
		return nil, &UnsupportedFormatError{Document: name,
			Reason: fmt.Sprintf("file size %d exceeds limit %d", len(data), a.opts.MaxFileSize)}
	}
	return data, nil
}

func (a *Adapter) recognizeImage(ctx context.Context, name string, index int, png []byte, bounds image.Rectangle) PageResult {
	res := PageResult{Index: index, Source: SourceOCR}
	if a.engine == nil {
		res.Err = &RecognitionFailure{Document: name, Page: index, Err: errors.New("no OCR engine configured")}
		return res
	}
	lines, err := a.engine.Recognize(ctx, PageImage{
		Index:     index,
		PNG:       png,
		Bounds:    bounds,
		DPI:       a.opts.DPI,
		Languages: a.opts.Languages,
	})
	if err != nil {
		res.Err = &RecognitionFailure{Document: name, Page: index, Err: fmt.Errorf("%s: %w", a.engine.Name(), err)}
		return res
	}
	res.Regions = toRegions(lines, bounds, index)
	return res
}

// toRegions converts engine lines to page-relative regions.
func toRegions(lines []TextLine, bounds image.Rectangle, index int) []model.RecognizedRegion {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	if w <= 0 || h <= 0 {
		return nil
	}
	out := make([]model.RecognizedRegion, 0, len(lines))
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		r := l.Bounds.Intersect(bounds)
		out = append(out, model.RecognizedRegion{
			Text: text,
			Bounds: model.Box{
				X:      float64(r.Min.X-bounds.Min.X) / w,
				Y:      float64(r.Min.Y-bounds.Min.Y) / h,
				Width:  float64(r.Dx()) / w,
				Height: float64(r.Dy()) / h,
			},
			Confidence: clamp01(l.Confidence),
			PageIndex:  index,
		})
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
