package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
)

// splitLabels cuts regions holding several "label: value" pairs, as a
// whole-line OCR box does for side-by-side fields, into one region per pair.
// A cut is made where a schema label followed by a colon starts on a word
// boundary after the value of an earlier colon.
func splitLabels(regions []model.RecognizedRegion, s *schema.Schema, minSimilarity float64) []model.RecognizedRegion {
	out := make([]model.RecognizedRegion, 0, len(regions))
	for _, r := range regions {
		cuts := labelCuts(r.Text, s, minSimilarity)
		if len(cuts) == 0 {
			out = append(out, r)
			continue
		}
		out = append(out, cutRegion(r, cuts)...)
	}
	return out
}

// labelCuts returns the byte offsets at which embedded labels start.
func labelCuts(text string, s *schema.Schema, minSimilarity float64) []int {
	first := strings.IndexByte(text, ':')
	if first < 0 {
		return nil
	}
	var cuts []int
	for p := first + 1; p < len(text); p++ {
		if !wordStart(text, p) {
			continue
		}
		colon := strings.LastIndexByte(text[:p], ':')
		if strings.TrimFunc(text[colon+1:p], isSeparator) == "" {
			continue
		}
		if end, ok := colonLabelAt(text[p:], s, minSimilarity); ok {
			cuts = append(cuts, p)
			p += end - 1
		}
	}
	return cuts
}

// colonLabelAt reports the end of the best schema label starting text, when
// that label is followed by a colon.
func colonLabelAt(text string, s *schema.Schema, minSimilarity float64) (int, bool) {
	var best LabelMatch
	found := false
	for _, f := range s.Fields {
		hit, ok := matchLabel(text, f.Labels, minSimilarity)
		if !ok || !strings.HasPrefix(strings.TrimLeft(text[hit.End:], " \t"), ":") {
			continue
		}
		if !found || hit.Score() > best.Score() {
			best, found = hit, true
		}
	}
	return best.End, found
}

// cutRegion splits r at cuts, sharing its width out by rune count.
func cutRegion(r model.RecognizedRegion, cuts []int) []model.RecognizedRegion {
	total := float64(utf8.RuneCountInString(r.Text))
	edges := make([]int, 0, len(cuts)+2)
	edges = append(edges, 0)
	edges = append(edges, cuts...)
	edges = append(edges, len(r.Text))

	out := make([]model.RecognizedRegion, 0, len(cuts)+1)
	for i := 0; i+1 < len(edges); i++ {
		piece := r.Text[edges[i]:edges[i+1]]
		text := strings.TrimSpace(piece)
		if text == "" {
			continue
		}
		start := float64(utf8.RuneCountInString(r.Text[:edges[i]]))
		part := r
		part.Text = text
		part.Bounds.X = r.Bounds.X + r.Bounds.Width*start/total
		part.Bounds.Width = r.Bounds.Width * float64(utf8.RuneCountInString(piece)) / total
		out = append(out, part)
	}
	return out
}

func wordStart(text string, p int) bool {
	if p == 0 || !utf8.RuneStart(text[p]) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[p:])
	prev, _ := utf8.DecodeLastRuneInString(text[:p])
	return (unicode.IsLetter(r) || unicode.IsDigit(r)) && unicode.IsSpace(prev)
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(":-–—#.|_=", r)
}
