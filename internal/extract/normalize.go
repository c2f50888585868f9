package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/a3tai/formaudit/internal/schema"
)

// DateLayout is the canonical layout for normalized dates.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	"02-01-2006", "2-1-2006",
	"02/01/2006", "2/1/2006",
	"2006-01-02", "2006/01/02",
	"02.01.2006", "2.1.2006",
	"02 Jan 2006", "2 Jan 2006",
	"02 January 2006", "2 January 2006",
	"Jan 2, 2006", "January 2, 2006",
	"02-Jan-2006", "2-Jan-2006",
}

var (
	dayFirstDate  = regexp.MustCompile(`\b(\d{1,2})[-/. ](\d{1,2})[-/. ](\d{2,4})\b`)
	yearFirstDate = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	numberPattern = regexp.MustCompile(`-?\d{1,3}(?:,\d{3})+\b(?:\.\d+)?|-?\d+(?:[.,]\d+)?`)
	thousands     = regexp.MustCompile(`^-?\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// NormalizeDate parses the common day-first form dates and returns the ISO
// form. The second return is false when nothing date-like was found.
func NormalizeDate(text string) (string, bool) {
	t, ok := ParseFormDate(text)
	if !ok {
		return "", false
	}
	return t.Format(DateLayout), true
}

// ParseFormDate parses a date as written on a form.
func ParseFormDate(text string) (time.Time, bool) {
	s := strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if m := yearFirstDate.FindStringSubmatch(s); m != nil {
		if t, ok := buildDate(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	if m := dayFirstDate.FindStringSubmatch(s); m != nil {
		year := m[3]
		switch len(year) {
		case 2:
			year = "20" + year
		case 3:
			return time.Time{}, false
		}
		if t, ok := buildDate(year, m[2], m[1]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func buildDate(y, m, d string) (time.Time, bool) {
	yi, err1 := strconv.Atoi(y)
	mi, err2 := strconv.Atoi(m)
	di, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil || mi < 1 || mi > 12 || di < 1 || di > 31 {
		return time.Time{}, false
	}
	t := time.Date(yi, time.Month(mi), di, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31-02 into March; reject those.
	if t.Day() != di || int(t.Month()) != mi {
		return time.Time{}, false
	}
	return t, true
}

// NormalizeNumber extracts the first number in text. A comma followed by
// exactly three digits groups thousands; any other comma is a decimal point.
func NormalizeNumber(text string) (string, bool) {
	m := numberPattern.FindString(text)
	if m == "" {
		return "", false
	}
	if thousands.MatchString(m) {
		m = strings.ReplaceAll(m, ",", "")
	} else {
		m = strings.ReplaceAll(m, ",", ".")
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}

// NormalizeEnum maps free text onto one of the allowed values: an exact
// case-insensitive match first, then a declared value synonym contained in
// the text, then an allowed value contained in the text as whole words.
// Unmatched text is returned cleaned but otherwise verbatim so validation
// can flag it and suggest the nearest member.
func NormalizeEnum(text string, values []string, synonyms map[string]string) (string, bool) {
	clean := cleanText(text)
	if clean == "" {
		return "", false
	}
	norm := " " + normalizeText(clean).String() + " "

	for _, v := range values {
		if strings.EqualFold(clean, v) || normalizeText(v).String() == strings.TrimSpace(norm) {
			return v, true
		}
	}

	keys := make([]string, 0, len(synonyms))
	for k := range synonyms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if strings.Contains(norm, " "+normalizeText(k).String()+" ") {
			return synonyms[k], true
		}
	}

	byLength := append([]string(nil), values...)
	sort.SliceStable(byLength, func(i, j int) bool { return len(byLength[i]) > len(byLength[j]) })
	for _, v := range byLength {
		if strings.Contains(norm, " "+normalizeText(v).String()+" ") {
			return v, true
		}
	}
	return clean, false
}

// cleanText collapses whitespace and trims separators.
func cleanText(s string) string {
	return trimSeparators(spaceRun.ReplaceAllString(s, " "))
}

// normalizeValue converts raw text according to the field kind. The boolean
// reports whether the text could be mapped onto the kind's canonical form.
func normalizeValue(s *schema.Schema, f schema.Field, raw string) (string, bool) {
	switch f.Kind {
	case schema.KindDate:
		return NormalizeDate(raw)
	case schema.KindNumeric:
		return NormalizeNumber(raw)
	case schema.KindEnum:
		return NormalizeEnum(raw, s.EnumValues(f), f.ValueSynonyms)
	default:
		clean := cleanText(raw)
		return clean, clean != ""
	}
}
