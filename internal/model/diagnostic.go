package model

import "fmt"

// Severity grades a validation diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic reports a schema rule a record does not satisfy. Diagnostics
// never change the record they describe.
type Diagnostic struct {
	RecordID   string   `json:"record_id"`
	Field      string   `json:"field"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s: %s", d.Severity, d.Field, d.Message)
}

// DiagnosticsFor filters diags down to those for the given record.
func DiagnosticsFor(diags []Diagnostic, recordID string) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.RecordID == recordID {
			out = append(out, d)
		}
	}
	return out
}
