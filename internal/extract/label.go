package extract

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// normalized is a lowercased, punctuation-folded view of a string that
// remembers where each normalized rune came from in the original.
type normalized struct {
	runes []rune
	// ends[i] is the byte offset in the original just past normalized rune i.
	ends []int
}

// normalizeText folds s to lowercase letters, digits, '#', '&' and '/' with
// every other run of characters collapsed to a single space.
func normalizeText(s string) normalized {
	var n normalized
	pendingSpace := false
	for i, r := range s {
		end := i + len(string(r))
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#' || r == '&' || r == '/':
			if pendingSpace && len(n.runes) > 0 {
				n.runes = append(n.runes, ' ')
				n.ends = append(n.ends, i)
			}
			pendingSpace = false
			n.runes = append(n.runes, unicode.ToLower(r))
			n.ends = append(n.ends, end)
		default:
			pendingSpace = true
		}
	}
	return n
}

func (n normalized) String() string { return string(n.runes) }

// similarity returns 1 - levenshtein(a,b)/max(len(a),len(b)).
func similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// LabelMatch is a successful label hit on a piece of text.
type LabelMatch struct {
	Label      string
	Similarity float64
	// Rest is the original text after the label and its separators.
	Rest string
	// End is the byte offset in the original text just past the label.
	End int
}

// Score orders label matches: closer matches first, longer labels breaking
// ties so "Residual Risk Level" beats "Residual Risk".
func (m LabelMatch) Score() float64 {
	return m.Similarity + float64(len([]rune(m.Label)))/1000
}

// matchLabel fuzzy-matches each label against the start of text. The prefix
// must end on a word boundary and reach minSimilarity; the best scoring
// label wins.
func matchLabel(text string, labels []string, minSimilarity float64) (LabelMatch, bool) {
	norm := normalizeText(text)
	var best LabelMatch
	found := false
	for _, label := range labels {
		ln := normalizeText(label).String()
		if ln == "" {
			continue
		}
		for _, size := range prefixSizes(len([]rune(ln)), len(norm.runes)) {
			if size < len(norm.runes) && norm.runes[size] != ' ' {
				continue
			}
			sim := similarity(string(norm.runes[:size]), ln)
			if sim < minSimilarity {
				continue
			}
			end := norm.ends[size-1]
			m := LabelMatch{Label: label, Similarity: sim, Rest: trimSeparators(text[end:]), End: end}
			if !found || m.Score() > best.Score() {
				best = m
				found = true
			}
		}
	}
	return best, found
}

// prefixSizes lists candidate prefix lengths around the label length so an
// OCR-dropped or -inserted character still lines up with a word boundary.
func prefixSizes(labelLen, textLen int) []int {
	var sizes []int
	for _, d := range []int{0, -1, 1, -2, 2} {
		size := labelLen + d
		if size > 0 && size <= textLen {
			sizes = append(sizes, size)
		}
	}
	return sizes
}

func trimSeparators(s string) string {
	return strings.TrimFunc(s, isSeparator)
}
