package recognition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/a3tai/formaudit/internal/model"
)

// Letter size in points, used when a page has no usable media box.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

func (a *Adapter) recognizePDF(ctx context.Context, name string, data []byte) ([]PageResult, error) {
	pages, err := pdfPageCount(data)
	if err != nil {
		return nil, &UnsupportedFormatError{Document: name, Reason: err.Error()}
	}

	text, err := textLayer(data)
	if err != nil {
		a.log.Debug("text layer unavailable", "document", name, "error", err)
	}

	var scans map[int]scan
	results := make([]PageResult, pages)
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if regions := text[i]; len(regions) > 0 && len(regions) >= a.opts.MinTextRegions {
			results[i] = PageResult{Index: i, Regions: regions, Source: SourceTextLayer}
			continue
		}
		if scans == nil {
			if scans, err = pageScans(data); err != nil {
				a.log.Debug("image extraction failed", "document", name, "error", err)
				scans = map[int]scan{}
			}
		}
		s, ok := scans[i]
		if !ok {
			results[i] = PageResult{Index: i, Source: SourceOCR, Err: &RecognitionFailure{
				Document: name, Page: i, Err: errors.New("page has neither a text layer nor a scanned image"),
			}}
			continue
		}
		png, bounds, err := toPNG(s.data)
		if err != nil {
			results[i] = PageResult{Index: i, Source: SourceOCR, Err: &RecognitionFailure{
				Document: name, Page: i, Err: fmt.Errorf("decode page scan: %w", err),
			}}
			continue
		}
		results[i] = a.recognizeImage(ctx, name, i, png, bounds)
	}
	return results, nil
}

func pdfPageCount(data []byte) (int, error) {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("failed to ensure page count: %w", err)
	}
	return ctx.PageCount, nil
}

type scan struct {
	data []byte
	area int
}

// pageScans returns the largest embedded image of every page, keyed by
// zero-based page index.
func pageScans(data []byte) (map[int]scan, error) {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed

	out := map[int]scan{}
	err := api.ExtractImages(bytes.NewReader(data), nil, func(img pdfmodel.Image, _ bool, _ int) error {
		area := img.Width * img.Height
		idx := img.PageNr - 1
		if prev, ok := out[idx]; ok && prev.area >= area {
			return nil
		}
		b, err := io.ReadAll(img)
		if err != nil {
			return fmt.Errorf("read image %s on page %d: %w", img.Name, img.PageNr, err)
		}
		out[idx] = scan{data: b, area: area}
		return nil
	}, conf)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// textLayer returns the text regions of every page that has an extractable
// text layer, keyed by zero-based page index.
func textLayer(data []byte) (out map[int][]model.RecognizedRegion, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("read text layer: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open text layer: %w", err)
	}
	out = map[int][]model.RecognizedRegion{}
	for i := 1; i <= r.NumPage(); i++ {
		if regions := pageText(r.Page(i), i-1); len(regions) > 0 {
			out[i-1] = regions
		}
	}
	return out, nil
}

// pageText groups the glyph runs of one page into line segments. Malformed
// content streams make the reader panic; such pages have no text layer.
func pageText(p pdf.Page, index int) (regions []model.RecognizedRegion) {
	defer func() {
		if r := recover(); r != nil {
			regions = nil
		}
	}()
	if p.V.IsNull() {
		return nil
	}
	w, h := pageSize(p)
	return groupText(p.Content().Text, w, h, index)
}

// pageSize reads the MediaBox, which pages may inherit from their parents.
func pageSize(p pdf.Page) (float64, float64) {
	var box pdf.Value
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		if r := v.Key("MediaBox"); !r.IsNull() {
			box = r
			break
		}
	}
	if box.Len() == 4 {
		w := box.Index(2).Float64() - box.Index(0).Float64()
		h := box.Index(3).Float64() - box.Index(1).Float64()
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return defaultPageWidth, defaultPageHeight
}

type textSegment struct {
	text       strings.Builder
	x0, x1     float64
	top, size  float64
	lastRight  float64
	pendingGap bool
}

// groupText merges glyph runs sharing a baseline into segments, starting a
// new segment wherever the horizontal gap exceeds a column break.
func groupText(texts []pdf.Text, pageW, pageH float64, index int) []model.RecognizedRegion {
	runs := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if t.S != "" {
			runs = append(runs, t)
		}
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Y > runs[j].Y })

	var out []model.RecognizedRegion
	for start := 0; start < len(runs); {
		end := start + 1
		for end < len(runs) && runs[start].Y-runs[end].Y <= lineTolerance(runs[start], runs[end]) {
			end++
		}
		line := runs[start:end]
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
		out = append(out, segmentLine(line, pageW, pageH, index)...)
		start = end
	}
	return out
}

func segmentLine(line []pdf.Text, pageW, pageH float64, index int) []model.RecognizedRegion {
	var out []model.RecognizedRegion
	var seg *textSegment
	flush := func() {
		if seg == nil {
			return
		}
		if text := strings.TrimSpace(seg.text.String()); text != "" {
			out = append(out, model.RecognizedRegion{
				Text: text,
				Bounds: model.Box{
					X:      seg.x0 / pageW,
					Y:      seg.top / pageH,
					Width:  (seg.x1 - seg.x0) / pageW,
					Height: seg.size / pageH,
				},
				Confidence: 1,
				PageIndex:  index,
			})
		}
		seg = nil
	}

	for _, t := range line {
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		if seg != nil && t.X-seg.lastRight > size*1.5 {
			flush()
		}
		if strings.TrimSpace(t.S) == "" {
			if seg != nil {
				seg.pendingGap = true
				seg.lastRight = math.Max(seg.lastRight, t.X+t.W)
			}
			continue
		}
		if seg == nil {
			seg = &textSegment{x0: t.X, top: pageH - t.Y - size, size: size}
		} else if seg.pendingGap || t.X-seg.lastRight > size*0.2 {
			seg.text.WriteByte(' ')
		}
		seg.text.WriteString(t.S)
		seg.pendingGap = false
		seg.lastRight = t.X + t.W
		seg.x1 = math.Max(seg.x1, seg.lastRight)
		seg.size = math.Max(seg.size, size)
	}
	flush()
	return out
}

func lineTolerance(a, b pdf.Text) float64 {
	return math.Max(math.Max(a.FontSize, b.FontSize)*0.3, 1)
}
