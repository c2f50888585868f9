// Package workbook composes extracted records into the five-sheet audit
// workbook. The in-memory Workbook holds only the append-only inputs (raw
// rows and the evidence log); every other sheet is derived from them when the
// file is rendered.
package workbook

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
)

// Sheet names, in workbook order.
const (
	SheetRawData   = "Raw Data"
	SheetLists     = "Standardized Lists"
	SheetCAP       = "CAP Tracker"
	SheetDashboard = "Monthly Dashboard"
	SheetEvidence  = "Audit Evidence Log"
)

// Sheets lists the workbook sheets in order.
var Sheets = []string{SheetRawData, SheetLists, SheetCAP, SheetDashboard, SheetEvidence}

// ErrDuplicateRecord is returned when a record id is already present in the
// Raw Data sheet.
var ErrDuplicateRecord = errors.New("record already present in raw data")

// SchemaMismatchError reports records or a previous workbook that were
// produced against a different schema than the one loaded now.
type SchemaMismatchError struct {
	// RecordID is empty when the previous workbook itself mismatches.
	RecordID string
	Expected string
	Got      string
	Missing  []string
	Extra    []string
}

func (e *SchemaMismatchError) Error() string {
	var b strings.Builder
	if e.RecordID != "" {
		fmt.Fprintf(&b, "record %s", e.RecordID)
	} else {
		b.WriteString("workbook")
	}
	fmt.Fprintf(&b, " does not match schema %s (got %s)", e.Expected, e.Got)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing fields: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, "; unexpected fields: %s", strings.Join(e.Extra, ", "))
	}
	return b.String()
}

// WorkbookWriteError reports a workbook that could not be persisted.
type WorkbookWriteError struct {
	Path string
	Err  error
}

func (e *WorkbookWriteError) Error() string {
	return fmt.Sprintf("write workbook %s: %v", e.Path, e.Err)
}

func (e *WorkbookWriteError) Unwrap() error { return e.Err }

// Row is one Raw Data row. Page is 1-based.
type Row struct {
	RecordID      string
	BatchID       string
	Document      string
	Page          int
	SchemaVersion string
	Values        map[string]string
	Unresolved    string
	Validation    string
}

// Value returns the cell for field.
func (r Row) Value(field string) string {
	return r.Values[field]
}

// EvidenceEntry is one Audit Evidence Log line, written once per batch.
type EvidenceEntry struct {
	Timestamp     time.Time
	BatchID       string
	SchemaVersion string
	Documents     int
	Records       int
	Failures      int
	Errors        int
	Warnings      int
}

// Workbook is the audit workbook's persistent content.
type Workbook struct {
	SchemaVersion string
	Rows          []Row
	Evidence      []EvidenceEntry
}

// Batch describes the run being appended.
type Batch struct {
	ID        string
	Documents int
	Failures  int
}

// Composer builds workbooks for one schema. The clock supplies batch
// timestamps and the CAP evaluation date used when saving.
type Composer struct {
	schema *schema.Schema
	now    func() time.Time
}

// NewComposer returns a Composer. A nil clock uses time.Now.
func NewComposer(s *schema.Schema, now func() time.Time) *Composer {
	if now == nil {
		now = time.Now
	}
	return &Composer{schema: s, now: now}
}

// Schema returns the schema the composer was built for.
func (c *Composer) Schema() *schema.Schema { return c.schema }

// Compose appends records to prev (nil for a new workbook) and returns the
// resulting workbook. prev is not modified. Records are appended in the
// order given, and exactly one evidence entry is added for the batch.
func (c *Composer) Compose(records []model.Record, diags []model.Diagnostic, prev *Workbook, batch Batch) (*Workbook, error) {
	version := c.schema.Version()
	if prev != nil && prev.SchemaVersion != version {
		return nil, &SchemaMismatchError{Expected: version, Got: prev.SchemaVersion}
	}
	for _, r := range records {
		if err := c.checkRecord(r); err != nil {
			return nil, err
		}
	}

	wb := &Workbook{SchemaVersion: version}
	seen := map[string]bool{}
	if prev != nil {
		wb.Rows = append(make([]Row, 0, len(prev.Rows)+len(records)), prev.Rows...)
		wb.Evidence = append(wb.Evidence, prev.Evidence...)
		for _, r := range prev.Rows {
			seen[r.RecordID] = true
		}
	}

	byRecord := map[string][]model.Diagnostic{}
	entry := EvidenceEntry{
		Timestamp:     c.now().UTC(),
		BatchID:       batch.ID,
		SchemaVersion: version,
		Documents:     batch.Documents,
		Records:       len(records),
		Failures:      batch.Failures,
	}
	for _, d := range diags {
		byRecord[d.RecordID] = append(byRecord[d.RecordID], d)
		switch d.Severity {
		case model.SeverityError:
			entry.Errors++
		case model.SeverityWarning:
			entry.Warnings++
		}
	}

	for _, r := range records {
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, r.ID)
		}
		seen[r.ID] = true
		wb.Rows = append(wb.Rows, c.rowFor(r, batch.ID, byRecord[r.ID]))
	}
	wb.Evidence = append(wb.Evidence, entry)
	return wb, nil
}

func (c *Composer) checkRecord(r model.Record) error {
	version := c.schema.Version()
	var missing, extra []string
	for _, name := range c.schema.FieldNames() {
		if _, ok := r.Fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range r.Fields {
		if _, ok := c.schema.Field(name); !ok {
			extra = append(extra, name)
		}
	}
	if r.SchemaVersion == version && len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return &SchemaMismatchError{
		RecordID: r.ID,
		Expected: version,
		Got:      r.SchemaVersion,
		Missing:  missing,
		Extra:    extra,
	}
}

func (c *Composer) rowFor(r model.Record, batchID string, diags []model.Diagnostic) Row {
	row := Row{
		RecordID:      r.ID,
		BatchID:       batchID,
		Document:      r.Document,
		Page:          r.PageIndex + 1,
		SchemaVersion: r.SchemaVersion,
		Values:        make(map[string]string, len(r.Fields)),
	}
	order := c.schema.FieldNames()
	for _, name := range order {
		row.Values[name] = r.Fields[name].Value()
	}

	var unresolved []string
	for _, name := range r.Unresolved(order) {
		unresolved = append(unresolved, fmt.Sprintf("%s (%s)", name, r.Fields[name].Status))
	}
	row.Unresolved = strings.Join(unresolved, "; ")

	notes := make([]string, 0, len(diags))
	for _, d := range diags {
		note := d.String()
		if d.Suggestion != "" {
			note += fmt.Sprintf(" (did you mean %q?)", d.Suggestion)
		}
		notes = append(notes, note)
	}
	row.Validation = strings.Join(notes, "; ")
	return row
}
