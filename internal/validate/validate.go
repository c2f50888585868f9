// Package validate applies schema rules to extracted records. It reports
// problems as diagnostics and never changes the record it inspects.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
)

// DateLayout is the layout normalized date values are expected in.
const DateLayout = "2006-01-02"

// Validate checks rec against s and returns diagnostics in schema field
// order.
func Validate(rec model.Record, s *schema.Schema) []model.Diagnostic {
	var diags []model.Diagnostic
	add := func(field string, sev model.Severity, suggestion, format string, args ...any) {
		diags = append(diags, model.Diagnostic{
			RecordID:   rec.ID,
			Field:      field,
			Severity:   sev,
			Message:    fmt.Sprintf(format, args...),
			Suggestion: suggestion,
		})
	}

	for _, f := range s.Fields {
		v, ok := rec.Fields[f.Name]
		if !ok || v.Status == model.Missing {
			if f.Required {
				add(f.Name, model.SeverityError, "", "required field is missing")
			}
			continue
		}
		if v.Status == model.LowConfidence {
			add(f.Name, model.SeverityWarning, "", "low recognition confidence %.2f", v.Confidence)
		}

		switch f.Kind {
		case schema.KindEnum:
			allowed := s.EnumValues(f)
			for _, value := range values(f, v) {
				if !contains(allowed, value) {
					add(f.Name, model.SeverityError, Nearest(value, allowed),
						"%q is not an allowed value", value)
				}
			}
		case schema.KindDate:
			if _, err := time.Parse(DateLayout, v.Normalized); err != nil {
				add(f.Name, model.SeverityError, "", "cannot parse date from %q", v.Raw)
			}
		case schema.KindNumeric:
			n, err := strconv.ParseFloat(v.Normalized, 64)
			if err != nil {
				add(f.Name, model.SeverityError, "", "cannot parse number from %q", v.Raw)
				continue
			}
			if f.Range != nil && (n < f.Range.Min || n > f.Range.Max) {
				add(f.Name, model.SeverityWarning, "", "%s is outside the plausible range %s..%s",
					v.Normalized, formatFloat(f.Range.Min), formatFloat(f.Range.Max))
			}
		}
	}
	return diags
}

// All validates every record and concatenates the diagnostics in record
// order.
func All(records []model.Record, s *schema.Schema) []model.Diagnostic {
	var out []model.Diagnostic
	for _, r := range records {
		out = append(out, Validate(r, s)...)
	}
	return out
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []model.Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == model.SeverityError {
			return true
		}
	}
	return false
}

// Nearest returns the option closest to value by case-insensitive edit
// distance. Ties keep the earlier option; an empty option set yields "".
func Nearest(value string, options []string) string {
	needle := strings.ToLower(strings.TrimSpace(value))
	best, bestDist := "", -1
	for _, o := range options {
		d := levenshtein.ComputeDistance(needle, strings.ToLower(o))
		if bestDist < 0 || d < bestDist {
			best, bestDist = o, d
		}
	}
	return best
}

func values(f schema.Field, v model.FieldValue) []string {
	if !f.Multi {
		return []string{v.Value()}
	}
	return v.Values()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
