package model

import (
	"sort"
	"strings"
)

// Resolution describes how confidently a field was recovered from a page.
type Resolution string

const (
	Resolved      Resolution = "resolved"
	LowConfidence Resolution = "low-confidence"
	Missing       Resolution = "missing"
)

// FieldValue carries both the text as recognized and its normalized form.
// Normalized is empty when the raw text could not be normalized for the
// field's kind; Raw is kept so auditors can see what was scanned.
type FieldValue struct {
	Raw        string     `json:"raw"`
	Normalized string     `json:"normalized"`
	Confidence float64    `json:"confidence"`
	Status     Resolution `json:"status"`
}

// Value returns the normalized value, falling back to the raw text.
func (v FieldValue) Value() string {
	if v.Normalized != "" {
		return v.Normalized
	}
	return v.Raw
}

// MultiValueSeparator joins the values of a multi-value field.
const MultiValueSeparator = "; "

// Values splits a multi-value field into its parts.
func (v FieldValue) Values() []string {
	var out []string
	for _, part := range strings.Split(v.Value(), MultiValueSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Record is one extracted form instance. Fields holds exactly one entry per
// schema field, including missing ones.
type Record struct {
	ID            string                `json:"id"`
	Document      string                `json:"document"`
	PageIndex     int                   `json:"page_index"`
	SchemaVersion string                `json:"schema_version"`
	Fields        map[string]FieldValue `json:"fields"`
}

// Field returns the value for name and whether the record carries it.
func (r Record) Field(name string) (FieldValue, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// FieldNames returns the record's field names in lexical order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unresolved returns the names of fields that are missing or low-confidence,
// in the order given.
func (r Record) Unresolved(order []string) []string {
	var out []string
	for _, name := range order {
		if v, ok := r.Fields[name]; ok && v.Status != Resolved {
			out = append(out, name)
		}
	}
	return out
}
