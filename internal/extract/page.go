package extract

import (
	"sort"
	"strings"

	"github.com/a3tai/formaudit/internal/model"
)

// Line is a run of regions that share a baseline, ordered left to right.
type Line struct {
	Regions []model.RecognizedRegion
	Bounds  model.Box
}

// Text joins the line's region texts with single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Regions))
	for _, r := range l.Regions {
		parts = append(parts, strings.TrimSpace(r.Text))
	}
	return strings.Join(parts, " ")
}

// RegionRef addresses a region inside a Page.
type RegionRef struct {
	Line   int
	Region int
}

// Page is the layout view of one page's recognized regions.
type Page struct {
	Index int
	Lines []Line

	// claims maps each region that reads like a label to the best label
	// score any schema field achieved on it and the fields achieving it.
	claims map[RegionRef]claim
}

type claim struct {
	score  float64
	fields []string
}

// NewPage groups regions into lines. Regions whose vertical centers fall
// within half the smaller region height of a line's center join that line.
func NewPage(index int, regions []model.RecognizedRegion) *Page {
	sorted := make([]model.RecognizedRegion, 0, len(regions))
	for _, r := range regions {
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Bounds, sorted[j].Bounds
		if a.CenterY() != b.CenterY() {
			return a.CenterY() < b.CenterY()
		}
		return a.X < b.X
	})

	var lines []Line
	for _, r := range sorted {
		placed := false
		for i := len(lines) - 1; i >= 0 && i >= len(lines)-2; i-- {
			l := &lines[i]
			tol := minPositive(l.Bounds.Height, r.Bounds.Height) / 2
			if abs(l.Bounds.CenterY()-r.Bounds.CenterY()) <= tol {
				l.Regions = append(l.Regions, r)
				l.Bounds = l.Bounds.Union(r.Bounds)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, Line{Regions: []model.RecognizedRegion{r}, Bounds: r.Bounds})
		}
	}
	for i := range lines {
		rs := lines[i].Regions
		sort.SliceStable(rs, func(a, b int) bool { return rs[a].Bounds.X < rs[b].Bounds.X })
	}
	return &Page{Index: index, Lines: lines, claims: map[RegionRef]claim{}}
}

// Region returns the region at ref.
func (p *Page) Region(ref RegionRef) model.RecognizedRegion {
	return p.Lines[ref.Line].Regions[ref.Region]
}

// Each calls fn for every region on the page in reading order.
func (p *Page) Each(fn func(ref RegionRef, r model.RecognizedRegion)) {
	for li, l := range p.Lines {
		for ri, r := range l.Regions {
			fn(RegionRef{Line: li, Region: ri}, r)
		}
	}
}

// claim records that field matched the region at ref as a label with score.
func (p *Page) claim(ref RegionRef, field string, score float64) {
	c, ok := p.claims[ref]
	switch {
	case !ok || score > c.score+scoreEpsilon:
		p.claims[ref] = claim{score: score, fields: []string{field}}
	case abs(score-c.score) <= scoreEpsilon:
		c.fields = append(c.fields, field)
		p.claims[ref] = c
	}
}

// Claimed reports whether any field reads the region at ref as its label.
func (p *Page) Claimed(ref RegionRef) bool {
	_, ok := p.claims[ref]
	return ok
}

// Owns reports whether field is among the best label matches for ref. A
// region no field claimed is owned by nobody.
func (p *Page) Owns(ref RegionRef, field string) bool {
	c, ok := p.claims[ref]
	if !ok {
		return false
	}
	for _, f := range c.fields {
		if f == field {
			return true
		}
	}
	return false
}

// ValueAfter collects the value text that follows a label: first the rest of
// the label region itself, then the unclaimed regions to its right on the
// same line, then the first line below that sits under the label. It returns
// the value regions used, in order, with rest prepended as a synthetic region.
func (p *Page) ValueAfter(ref RegionRef, rest string, maxLines int) []model.RecognizedRegion {
	label := p.Region(ref)
	var out []model.RecognizedRegion
	if strings.TrimSpace(rest) != "" {
		out = append(out, model.RecognizedRegion{
			Text:       rest,
			Bounds:     label.Bounds,
			Confidence: label.Confidence,
			PageIndex:  label.PageIndex,
		})
		if maxLines <= 1 {
			return out
		}
	}

	line := p.Lines[ref.Line]
	for ri := ref.Region + 1; ri < len(line.Regions); ri++ {
		if p.Claimed(RegionRef{Line: ref.Line, Region: ri}) {
			break
		}
		out = append(out, line.Regions[ri])
	}
	if len(out) > 0 && maxLines <= 1 {
		return out
	}

	taken := 0
	gapLimit := label.Bounds.Height * 2.5
	prevBottom := line.Bounds.Bottom()
	for li := ref.Line + 1; li < len(p.Lines) && taken < maxLines; li++ {
		below := p.Lines[li]
		if below.Bounds.Y-prevBottom > gapLimit {
			break
		}
		var picked []model.RecognizedRegion
		stop := false
		for ri, r := range below.Regions {
			if r.Bounds.HorizontalOverlap(label.Bounds.Union(lineTail(line, ref))) <= 0 {
				continue
			}
			if p.Claimed(RegionRef{Line: li, Region: ri}) {
				stop = true
				break
			}
			picked = append(picked, r)
		}
		if stop || len(picked) == 0 {
			break
		}
		out = append(out, picked...)
		taken++
		prevBottom = below.Bounds.Bottom()
	}
	return out
}

// lineTail returns the box spanned by the label and everything to its right.
func lineTail(l Line, ref RegionRef) model.Box {
	box := l.Regions[ref.Region].Bounds
	for _, r := range l.Regions[ref.Region+1:] {
		box = box.Union(r.Bounds)
	}
	return box
}

const scoreEpsilon = 1e-9

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minPositive(a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
