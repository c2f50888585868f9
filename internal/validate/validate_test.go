package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
)

const testSchema = `
name: validate-test
revision: 1
fields:
  - name: Reference
    kind: text
    required: true
    labels: [Reference]
  - name: Risk
    kind: enum
    values: [Low Risk, Medium Risk, High Risk]
    labels: [Risk]
  - name: Areas
    kind: enum
    multi: true
    values: [Ramp, Galley, Cabin]
    labels: [Areas]
  - name: Reported
    kind: date
    labels: [Reported]
  - name: Delay
    kind: numeric
    labels: [Delay]
    range: {min: 0, max: 1440}
`

func loadSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	return s
}

func resolved(v string) model.FieldValue {
	return model.FieldValue{Raw: v, Normalized: v, Confidence: 0.95, Status: model.Resolved}
}

func validRecord() model.Record {
	return model.Record{
		ID: "r1",
		Fields: map[string]model.FieldValue{
			"Reference": resolved("SMS-1"),
			"Risk":      resolved("Low Risk"),
			"Areas":     resolved("Ramp; Cabin"),
			"Reported":  resolved("2025-12-18"),
			"Delay":     resolved("45"),
		},
	}
}

func TestValidate_Clean(t *testing.T) {
	assert.Empty(t, Validate(validRecord(), loadSchema(t)))
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		value      model.FieldValue
		severity   model.Severity
		suggestion string
	}{
		{"required missing", "Reference", model.FieldValue{Status: model.Missing}, model.SeverityError, ""},
		{"low confidence", "Reference", model.FieldValue{Raw: "SMS-1", Normalized: "SMS-1", Confidence: 0.4, Status: model.LowConfidence}, model.SeverityWarning, ""},
		{"enum not allowed", "Risk", resolved("Lo Risk"), model.SeverityError, "Low Risk"},
		{"multi enum member not allowed", "Areas", resolved("Ramp; Galey"), model.SeverityError, "Galley"},
		{"date unparsable", "Reported", model.FieldValue{Raw: "18/13/2025", Confidence: 0.9, Status: model.Resolved}, model.SeverityError, ""},
		{"number unparsable", "Delay", model.FieldValue{Raw: "n/a", Confidence: 0.9, Status: model.Resolved}, model.SeverityError, ""},
		{"number out of range", "Delay", resolved("2000"), model.SeverityWarning, ""},
	}
	s := loadSchema(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			rec.Fields[tt.field] = tt.value

			diags := Validate(rec, s)
			require.Len(t, diags, 1)
			d := diags[0]
			assert.Equal(t, "r1", d.RecordID)
			assert.Equal(t, tt.field, d.Field)
			assert.Equal(t, tt.severity, d.Severity)
			assert.Equal(t, tt.suggestion, d.Suggestion)
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestValidate_OptionalMissingIsQuiet(t *testing.T) {
	rec := validRecord()
	rec.Fields["Risk"] = model.FieldValue{Status: model.Missing}
	delete(rec.Fields, "Delay")
	assert.Empty(t, Validate(rec, loadSchema(t)))
}

func TestValidate_DoesNotMutate(t *testing.T) {
	rec := validRecord()
	rec.Fields["Risk"] = resolved("Lo Risk")
	before := map[string]model.FieldValue{}
	for k, v := range rec.Fields {
		before[k] = v
	}

	diags := Validate(rec, loadSchema(t))

	assert.True(t, HasErrors(diags))
	assert.Equal(t, before, rec.Fields)
}

func TestAll(t *testing.T) {
	a := validRecord()
	b := validRecord()
	b.ID = "r2"
	b.Fields["Reference"] = model.FieldValue{Status: model.Missing}

	diags := All([]model.Record{a, b}, loadSchema(t))
	require.Len(t, diags, 1)
	assert.Equal(t, "r2", diags[0].RecordID)
}

func TestNearest(t *testing.T) {
	opts := []string{"Low Risk", "Medium Risk", "High Risk"}
	assert.Equal(t, "Low Risk", Nearest("Lo Risk", opts))
	assert.Equal(t, "High Risk", Nearest("HIGH RISC", opts))
	assert.Equal(t, "", Nearest("anything", nil))
}
