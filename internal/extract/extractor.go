package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
)

// Options configures an Extractor.
type Options struct {
	Matchers MatcherOptions
	// NewID generates record ids; defaults to random UUIDs.
	NewID func() string
	// MatcherFor overrides strategy selection, mainly for tests.
	MatcherFor func(schema.Field, MatcherOptions) Matcher
}

// Extractor maps a page's recognized regions onto the canonical schema.
// It is safe for concurrent use.
type Extractor struct {
	opts Options
}

// New creates an Extractor. Zero-valued options fall back to defaults.
func New(opts Options) *Extractor {
	if opts.Matchers == (MatcherOptions{}) {
		opts.Matchers = DefaultMatcherOptions()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MatcherFor == nil {
		opts.MatcherFor = MatcherFor
	}
	return &Extractor{opts: opts}
}

// Extract builds a Record for one page. It never fails: fields that cannot
// be found are recorded as missing so the record always carries one entry
// per schema field.
func (e *Extractor) Extract(document string, pageIndex int, regions []model.RecognizedRegion, s *schema.Schema) model.Record {
	page := NewPage(pageIndex, splitLabels(regions, s, e.opts.Matchers.MinLabelSimilarity))
	e.claimLabels(page, s)

	rec := model.Record{
		ID:            e.opts.NewID(),
		Document:      document,
		PageIndex:     pageIndex,
		SchemaVersion: s.Version(),
		Fields:        make(map[string]model.FieldValue, len(s.Fields)),
	}
	for _, f := range s.Fields {
		rec.Fields[f.Name] = e.extractField(page, s, f)
	}
	return rec
}

// claimLabels records, for every region, which fields read it as a label.
// A field only reads values next to labels it owns, so "Residual Severity"
// is never taken as the label of "Severity".
func (e *Extractor) claimLabels(page *Page, s *schema.Schema) {
	min := e.opts.Matchers.MinLabelSimilarity
	page.Each(func(ref RegionRef, r model.RecognizedRegion) {
		for _, f := range s.Fields {
			if hit, ok := matchLabel(r.Text, f.Labels, min); ok {
				page.claim(ref, f.Name, hit.Score())
			}
		}
	})
}

func (e *Extractor) candidates(page *Page, f schema.Field) []Candidate {
	all := e.opts.MatcherFor(f, e.opts.Matchers).Match(page, f)
	out := all[:0]
	for _, c := range all {
		if c.LabelScore > 0 && !page.Owns(c.Label, f.Name) {
			continue
		}
		if c.Text() == "" {
			continue
		}
		out = append(out, c)
	}
	// Best label first, then highest OCR confidence, then nearest anchor.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if abs(a.LabelScore-b.LabelScore) > scoreEpsilon {
			return a.LabelScore > b.LabelScore
		}
		if abs(a.Confidence()-b.Confidence()) > scoreEpsilon {
			return a.Confidence() > b.Confidence()
		}
		return a.Distance < b.Distance
	})
	return out
}

func (e *Extractor) extractField(page *Page, s *schema.Schema, f schema.Field) model.FieldValue {
	cands := e.candidates(page, f)
	th := s.ThresholdsFor(f)
	if f.Multi {
		return e.extractMulti(s, f, cands, th)
	}

	var best *Candidate
	for i := range cands {
		if cands[i].Confidence() >= th.Missing {
			best = &cands[i]
			break
		}
	}
	if best == nil {
		return missingValue(cands)
	}

	raw := cleanText(best.Text())
	normalized, _ := normalizeValue(s, f, raw)
	conf := best.Confidence()
	return model.FieldValue{
		Raw:        raw,
		Normalized: normalized,
		Confidence: conf,
		Status:     resolution(conf, th),
	}
}

// extractMulti resolves checkbox groups and list fields by keeping every
// value part that clears the missing threshold.
func (e *Extractor) extractMulti(s *schema.Schema, f schema.Field, cands []Candidate, th schema.Thresholds) model.FieldValue {
	var parts []model.RecognizedRegion
	for _, c := range cands {
		for _, p := range c.Parts {
			if p.Confidence >= th.Missing {
				parts = append(parts, p)
			}
		}
	}
	tokens := splitChoices(parts)
	if len(tokens) == 0 {
		return missingValue(cands)
	}

	seen := map[string]bool{}
	var raws, values []string
	lowest := 1.0
	for _, t := range tokens {
		v, _ := normalizeValue(s, f, t.text)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		raws = append(raws, t.text)
		values = append(values, v)
		if t.confidence < lowest {
			lowest = t.confidence
		}
	}
	if len(values) == 0 {
		return missingValue(cands)
	}
	return model.FieldValue{
		Raw:        strings.Join(raws, model.MultiValueSeparator),
		Normalized: strings.Join(values, model.MultiValueSeparator),
		Confidence: lowest,
		Status:     resolution(lowest, th),
	}
}

func missingValue(cands []Candidate) model.FieldValue {
	v := model.FieldValue{Status: model.Missing}
	if len(cands) > 0 {
		v.Raw = cleanText(cands[0].Text())
		v.Confidence = cands[0].Confidence()
	}
	return v
}

func resolution(conf float64, th schema.Thresholds) model.Resolution {
	if conf < th.LowConfidence {
		return model.LowConfidence
	}
	return model.Resolved
}

var (
	checkedMark   = regexp.MustCompile(`^(\[[xX✓✔]\]|\([xX✓✔]\)|[☒☑✓✔■]|[xX]\s)`)
	uncheckedMark = regexp.MustCompile(`^(\[\s*\]|\(\s*\)|[☐□])`)
	markSplit     = regexp.MustCompile(`(\[[xX✓✔ ]?\]|\([xX✓✔ ]?\)|[☒☑☐□✓✔■])`)
	choiceSplit   = regexp.MustCompile(`[,;|\n]+`)
)

type choice struct {
	text       string
	confidence float64
	checked    bool
}

// splitChoices breaks value parts into individual choices. When any choice
// carries a check mark, unmarked choices are treated as unticked boxes.
func splitChoices(parts []model.RecognizedRegion) []choice {
	var all []choice
	anyChecked := false
	for _, p := range parts {
		text := markSplit.ReplaceAllString(p.Text, "\n$1")
		for _, seg := range strings.Split(text, "\n") {
			seg = strings.TrimSpace(seg)
			if seg == "" || uncheckedMark.MatchString(seg) {
				continue
			}
			checked := false
			if loc := checkedMark.FindStringIndex(seg); loc != nil {
				checked = true
				anyChecked = true
				seg = seg[loc[1]:]
			}
			for _, tok := range choiceSplit.Split(seg, -1) {
				if tok = cleanText(tok); tok != "" {
					all = append(all, choice{text: tok, confidence: p.Confidence, checked: checked})
				}
			}
		}
	}
	if !anyChecked {
		return all
	}
	out := all[:0]
	for _, c := range all {
		if c.checked {
			out = append(out, c)
		}
	}
	return out
}
