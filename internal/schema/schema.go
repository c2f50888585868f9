package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/a3tai/formaudit/internal/model"
)

// Kind is the expected value type of a form field.
type Kind string

const (
	KindText    Kind = "text"
	KindDate    Kind = "date"
	KindEnum    Kind = "enum"
	KindNumeric Kind = "numeric"
)

// Strategy selects how a field's label is located on a page.
type Strategy string

const (
	// StrategyAnchor searches near a fixed label position on the page.
	StrategyAnchor Strategy = "anchor"
	// StrategySynonym fuzzy-matches label synonyms anywhere on the page.
	StrategySynonym Strategy = "synonym"
)

// Role binds a canonical meaning to a field name so downstream consumers
// (CAP tracker, dashboard) do not hard-code form labels.
type Role string

const (
	RoleReference     Role = "reference"
	RoleReportDate    Role = "report_date"
	RoleRiskLevel     Role = "risk_level"
	RoleSeverity      Role = "severity"
	RoleProbability   Role = "probability"
	RoleLocation      Role = "location"
	RoleHazardType    Role = "hazard_type"
	RoleDepartment    Role = "department"
	RoleWetLease      Role = "wet_lease"
	RoleCapRequired   Role = "cap_required"
	RoleCapDue        Role = "cap_due"
	RoleCapStatus     Role = "cap_status"
	RoleCapOwner      Role = "cap_owner"
	RoleCapAction     Role = "cap_action"
	RoleCapClosedWhen Role = "cap_closed_when"
)

// Thresholds are the confidence cut-offs for field resolution. A candidate
// below Missing is discarded; one below LowConfidence is kept but flagged.
type Thresholds struct {
	Missing       float64 `yaml:"missing" json:"missing"`
	LowConfidence float64 `yaml:"low_confidence" json:"low_confidence"`
}

// Validate checks that the thresholds are ordered and within [0,1].
func (t Thresholds) Validate() error {
	if t.Missing < 0 || t.Missing > 1 || t.LowConfidence < 0 || t.LowConfidence > 1 {
		return fmt.Errorf("thresholds must be within [0,1], got missing=%.2f low_confidence=%.2f",
			t.Missing, t.LowConfidence)
	}
	if t.Missing > t.LowConfidence {
		return fmt.Errorf("missing threshold %.2f exceeds low-confidence threshold %.2f",
			t.Missing, t.LowConfidence)
	}
	return nil
}

// DefaultThresholds holds the per-kind defaults used when neither the field
// nor the schema overrides them. Dates and numbers are easier to misread
// than free text, so they require more confidence.
var DefaultThresholds = map[Kind]Thresholds{
	KindText:    {Missing: 0.30, LowConfidence: 0.60},
	KindDate:    {Missing: 0.40, LowConfidence: 0.70},
	KindEnum:    {Missing: 0.30, LowConfidence: 0.60},
	KindNumeric: {Missing: 0.40, LowConfidence: 0.70},
}

// Range is the plausible interval for a numeric field.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// List is a named controlled vocabulary.
type List struct {
	Name   string   `yaml:"name" json:"name"`
	Values []string `yaml:"values" json:"values"`
}

// Field defines one canonical form field.
type Field struct {
	Name     string   `yaml:"name" json:"name"`
	Kind     Kind     `yaml:"kind" json:"kind"`
	Required bool     `yaml:"required" json:"required"`
	Multi    bool     `yaml:"multi" json:"multi"`
	Labels   []string `yaml:"labels" json:"labels"`
	// List names a shared vocabulary; Values declares one inline.
	List          string            `yaml:"list" json:"list,omitempty"`
	Values        []string          `yaml:"values" json:"values,omitempty"`
	ValueSynonyms map[string]string `yaml:"value_synonyms" json:"value_synonyms,omitempty"`
	// Anchor is the expected label position on fixed-layout forms.
	Anchor     *model.Box  `yaml:"anchor" json:"anchor,omitempty"`
	Range      *Range      `yaml:"range" json:"range,omitempty"`
	Thresholds *Thresholds `yaml:"thresholds" json:"thresholds,omitempty"`
}

// Strategy returns the label-matching strategy for the field.
func (f Field) Strategy() Strategy {
	if f.Anchor != nil {
		return StrategyAnchor
	}
	return StrategySynonym
}

// Schema is the versioned canonical form definition. A Schema is built once
// and never mutated; every pipeline stage receives it explicitly so records
// carry the version they were produced against.
type Schema struct {
	Name       string              `yaml:"name" json:"name"`
	Revision   int                 `yaml:"revision" json:"revision"`
	Lists      []List              `yaml:"lists" json:"lists"`
	Fields     []Field             `yaml:"fields" json:"fields"`
	Roles      map[Role]string     `yaml:"roles" json:"roles"`
	Thresholds map[Kind]Thresholds `yaml:"thresholds" json:"thresholds,omitempty"`

	version string
	index   map[string]int
	lists   map[string][]string
}

// Version identifies the schema by name, revision, and a content fingerprint,
// so two schemas that differ in any definition never share a version.
func (s *Schema) Version() string {
	return s.version
}

// FieldNames returns the field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field definition by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// RoleField returns the field bound to role, if any.
func (s *Schema) RoleField(role Role) (Field, bool) {
	name, ok := s.Roles[role]
	if !ok {
		return Field{}, false
	}
	return s.Field(name)
}

// EnumValues returns the allowed values for an enumerated field.
func (s *Schema) EnumValues(f Field) []string {
	if f.List != "" {
		return s.lists[f.List]
	}
	return f.Values
}

// ThresholdsFor resolves the thresholds that apply to a field.
func (s *Schema) ThresholdsFor(f Field) Thresholds {
	if f.Thresholds != nil {
		return *f.Thresholds
	}
	if t, ok := s.Thresholds[f.Kind]; ok {
		return t
	}
	return DefaultThresholds[f.Kind]
}

// VocabularyLists returns every controlled vocabulary in deterministic order:
// the declared lists first, then inline enum sets named after their field.
func (s *Schema) VocabularyLists() []List {
	out := make([]List, 0, len(s.Lists))
	out = append(out, s.Lists...)
	for _, f := range s.Fields {
		if f.Kind == KindEnum && f.List == "" && len(f.Values) > 0 {
			out = append(out, List{Name: f.Name, Values: f.Values})
		}
	}
	return out
}

// ListNameFor returns the vocabulary list backing an enum field.
func (s *Schema) ListNameFor(f Field) string {
	if f.List != "" {
		return f.List
	}
	return f.Name
}

// WithThresholds returns a copy of the schema with per-kind threshold
// overrides applied. The receiver is left untouched.
func (s *Schema) WithThresholds(overrides map[Kind]Thresholds) (*Schema, error) {
	if len(overrides) == 0 {
		return s, nil
	}
	cp := *s
	cp.Thresholds = make(map[Kind]Thresholds, len(s.Thresholds)+len(overrides))
	for k, v := range s.Thresholds {
		cp.Thresholds[k] = v
	}
	for k, v := range overrides {
		cp.Thresholds[k] = v
	}
	if err := cp.init(); err != nil {
		return nil, err
	}
	return &cp, nil
}

// init validates the schema and computes derived lookups and the version.
func (s *Schema) init() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("schema name cannot be empty")
	}
	if len(s.Fields) == 0 {
		return errors.New("schema must define at least one field")
	}

	s.lists = make(map[string][]string, len(s.Lists))
	for _, l := range s.Lists {
		if l.Name == "" || len(l.Values) == 0 {
			return fmt.Errorf("list %q must have a name and at least one value", l.Name)
		}
		if _, dup := s.lists[l.Name]; dup {
			return fmt.Errorf("duplicate list %q", l.Name)
		}
		s.lists[l.Name] = l.Values
	}

	s.index = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		if err := s.checkField(f); err != nil {
			return err
		}
		if _, dup := s.index[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		s.index[f.Name] = i
	}

	for role, name := range s.Roles {
		if _, ok := s.index[name]; !ok {
			return fmt.Errorf("role %s references unknown field %q", role, name)
		}
	}
	for kind, t := range s.Thresholds {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("thresholds for %s: %w", kind, err)
		}
	}

	fp, err := s.fingerprint()
	if err != nil {
		return err
	}
	s.version = fmt.Sprintf("%s@%d#%s", s.Name, s.Revision, fp)
	return nil
}

func (s *Schema) checkField(f Field) error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("field name cannot be empty")
	}
	switch f.Kind {
	case KindText, KindDate, KindNumeric:
	case KindEnum:
		if f.List == "" && len(f.Values) == 0 {
			return fmt.Errorf("enum field %q needs a list or values", f.Name)
		}
		if f.List != "" {
			if _, ok := s.lists[f.List]; !ok {
				return fmt.Errorf("field %q references unknown list %q", f.Name, f.List)
			}
		}
	default:
		return fmt.Errorf("field %q has unknown kind %q", f.Name, f.Kind)
	}
	if len(f.Labels) == 0 {
		return fmt.Errorf("field %q needs at least one label", f.Name)
	}
	if f.Anchor != nil && (f.Anchor.X < 0 || f.Anchor.Y < 0 || f.Anchor.Right() > 1 || f.Anchor.Bottom() > 1) {
		return fmt.Errorf("field %q anchor lies outside the page", f.Name)
	}
	if f.Range != nil && f.Range.Min > f.Range.Max {
		return fmt.Errorf("field %q range min exceeds max", f.Name)
	}
	if f.Thresholds != nil {
		if err := f.Thresholds.Validate(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

func (s *Schema) fingerprint() (string, error) {
	// encoding/json sorts map keys, which keeps the digest stable.
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("fingerprint schema: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12], nil
}
