package extract

import (
	"strings"

	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
)

// Candidate is one possible value for a field found on a page.
type Candidate struct {
	// Label is the region the value was read relative to.
	Label RegionRef
	// LabelScore is how well the label region matched; zero when the label
	// was located by layout alone.
	LabelScore float64
	// Parts are the value regions in reading order.
	Parts []model.RecognizedRegion
	// Distance is the distance from the label to the field's anchor, or zero
	// for fields without an anchor.
	Distance float64
}

// Text joins the candidate's value parts.
func (c Candidate) Text() string {
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " ")
}

// Confidence is the weakest OCR confidence among the value parts.
func (c Candidate) Confidence() float64 {
	if len(c.Parts) == 0 {
		return 0
	}
	lowest := c.Parts[0].Confidence
	for _, p := range c.Parts[1:] {
		if p.Confidence < lowest {
			lowest = p.Confidence
		}
	}
	return lowest
}

// Matcher locates value candidates for a single field on a page. Matchers
// only read the page; ranking and resolution happen in the Extractor.
type Matcher interface {
	Match(page *Page, field schema.Field) []Candidate
}

// MatcherOptions tunes the built-in matchers.
type MatcherOptions struct {
	// MinLabelSimilarity is the lowest fuzzy similarity accepted for a label.
	MinLabelSimilarity float64
	// AnchorRadius bounds how far, in page units, a label may sit from its
	// anchor before the anchor matcher ignores it.
	AnchorRadius float64
	// MultiValueLines is how many lines below a label a multi-value field
	// may span.
	MultiValueLines int
}

// DefaultMatcherOptions returns the matcher defaults.
func DefaultMatcherOptions() MatcherOptions {
	return MatcherOptions{
		MinLabelSimilarity: 0.8,
		AnchorRadius:       0.12,
		MultiValueLines:    4,
	}
}

func (o MatcherOptions) valueLines(f schema.Field) int {
	if f.Multi {
		return o.MultiValueLines
	}
	return 1
}

// SynonymMatcher finds a field by fuzzy-matching its label synonyms at the
// start of any region on the page. It suits handwritten and free-layout
// forms where labels move around.
type SynonymMatcher struct {
	Options MatcherOptions
}

// Match implements Matcher.
func (m SynonymMatcher) Match(page *Page, field schema.Field) []Candidate {
	var out []Candidate
	page.Each(func(ref RegionRef, r model.RecognizedRegion) {
		hit, ok := matchLabel(r.Text, field.Labels, m.Options.MinLabelSimilarity)
		if !ok {
			return
		}
		parts := page.ValueAfter(ref, hit.Rest, m.Options.valueLines(field))
		if len(parts) == 0 {
			return
		}
		c := Candidate{Label: ref, LabelScore: hit.Score(), Parts: parts}
		if field.Anchor != nil {
			c.Distance = r.Bounds.Distance(*field.Anchor)
		}
		out = append(out, c)
	})
	return out
}

// AnchorMatcher finds a field on fixed-layout forms by looking for its label
// near the expected anchor position. A region inside the anchor radius that
// does not read as any label is still accepted as the label position, so a
// smudged label does not lose the value next to it.
type AnchorMatcher struct {
	Options MatcherOptions
}

// Match implements Matcher.
func (m AnchorMatcher) Match(page *Page, field schema.Field) []Candidate {
	if field.Anchor == nil {
		return nil
	}
	anchor := *field.Anchor
	var out []Candidate
	page.Each(func(ref RegionRef, r model.RecognizedRegion) {
		dist := r.Bounds.Distance(anchor)
		if dist > m.Options.AnchorRadius {
			return
		}
		var c Candidate
		if hit, ok := matchLabel(r.Text, field.Labels, m.Options.MinLabelSimilarity); ok {
			c = Candidate{Label: ref, LabelScore: hit.Score(), Distance: dist,
				Parts: page.ValueAfter(ref, hit.Rest, m.Options.valueLines(field))}
		} else {
			if page.Claimed(ref) {
				return
			}
			c = Candidate{Label: ref, Distance: dist,
				Parts: page.ValueAfter(ref, "", m.Options.valueLines(field))}
		}
		if len(c.Parts) > 0 {
			out = append(out, c)
		}
	})
	return out
}

// MatcherFor returns the strategy configured for the field.
func MatcherFor(field schema.Field, opts MatcherOptions) Matcher {
	if field.Strategy() == schema.StrategyAnchor {
		return AnchorMatcher{Options: opts}
	}
	return SynonymMatcher{Options: opts}
}
