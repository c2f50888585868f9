package workbook

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/a3tai/formaudit/internal/schema"
)

// Save renders wb with the CAP tracker evaluated at the composer's clock and
// writes it to path. The file is written next to path and renamed into place,
// so a failed save never leaves a truncated workbook behind. Failures are
// returned as *WorkbookWriteError and are not retried.
func (c *Composer) Save(wb *Workbook, path string) error {
	return c.SaveAt(wb, path, c.now())
}

// SaveAt is Save with an explicit evaluation date.
func (c *Composer) SaveAt(wb *Workbook, path string, at time.Time) error {
	f, err := Render(wb, c.schema, at)
	if err != nil {
		return &WorkbookWriteError{Path: path, Err: err}
	}
	defer f.Close()
	if err := writeAtomic(f, path); err != nil {
		return &WorkbookWriteError{Path: path, Err: err}
	}
	return nil
}

func writeAtomic(f *excelize.File, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".formaudit-*.xlsx")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if err := f.Write(tmp); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// Load reads the persistent content of a workbook written by Save. The Raw
// Data header and every row's schema version must match s, otherwise a
// *SchemaMismatchError is returned. A missing file yields an error matching
// fs.ErrNotExist.
func Load(path string, s *schema.Schema) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	raw, err := f.GetRows(SheetRawData)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", SheetRawData, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("workbook %s has an empty %s sheet", path, SheetRawData)
	}
	if err := checkHeader(raw[0], s); err != nil {
		return nil, err
	}

	wb := &Workbook{SchemaVersion: s.Version()}
	fields := s.FieldNames()
	for i, cells := range raw[1:] {
		row, err := parseRow(cells, fields)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", SheetRawData, i+2, err)
		}
		if row.SchemaVersion != wb.SchemaVersion {
			return nil, &SchemaMismatchError{RecordID: row.RecordID, Expected: wb.SchemaVersion, Got: row.SchemaVersion}
		}
		wb.Rows = append(wb.Rows, row)
	}

	log, err := f.GetRows(SheetEvidence)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", SheetEvidence, err)
	}
	for i, cells := range log {
		if i == 0 {
			continue
		}
		e, err := parseEvidence(cells)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", SheetEvidence, i+1, err)
		}
		wb.Evidence = append(wb.Evidence, e)
	}
	return wb, nil
}

// LoadIfExists is Load that returns a nil workbook when path does not exist.
func LoadIfExists(path string, s *schema.Schema) (*Workbook, error) {
	wb, err := Load(path, s)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return wb, err
}

func checkHeader(header []string, s *schema.Schema) error {
	want := RawHeader(s)
	got := map[string]bool{}
	for _, h := range header {
		got[h] = true
	}
	wanted := map[string]bool{}
	for _, h := range want {
		wanted[h] = true
	}

	mismatch := &SchemaMismatchError{Expected: s.Version(), Got: "header"}
	for _, h := range want {
		if !got[h] {
			mismatch.Missing = append(mismatch.Missing, h)
		}
	}
	for _, h := range header {
		if !wanted[h] {
			mismatch.Extra = append(mismatch.Extra, h)
		}
	}
	if len(mismatch.Missing) > 0 || len(mismatch.Extra) > 0 {
		return mismatch
	}
	for i := range want {
		if header[i] != want[i] {
			mismatch.Got = fmt.Sprintf("column %d is %q, want %q", i+1, header[i], want[i])
			return mismatch
		}
	}
	return nil
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

func parseRow(cells, fields []string) (Row, error) {
	page, err := strconv.Atoi(cell(cells, 3))
	if err != nil {
		return Row{}, fmt.Errorf("page %q: %w", cell(cells, 3), err)
	}
	row := Row{
		RecordID:      cell(cells, 0),
		BatchID:       cell(cells, 1),
		Document:      cell(cells, 2),
		Page:          page,
		SchemaVersion: cell(cells, 4),
		Values:        make(map[string]string, len(fields)),
	}
	base := len(rawLeading)
	for i, name := range fields {
		row.Values[name] = cell(cells, base+i)
	}
	row.Unresolved = cell(cells, base+len(fields))
	row.Validation = cell(cells, base+len(fields)+1)
	return row, nil
}

func parseEvidence(cells []string) (EvidenceEntry, error) {
	ts, err := time.Parse(time.RFC3339, cell(cells, 0))
	if err != nil {
		return EvidenceEntry{}, fmt.Errorf("timestamp: %w", err)
	}
	e := EvidenceEntry{Timestamp: ts, BatchID: cell(cells, 1), SchemaVersion: cell(cells, 2)}
	counts := []*int{&e.Documents, &e.Records, &e.Failures, &e.Errors, &e.Warnings}
	for i, dst := range counts {
		v := cell(cells, 3+i)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return EvidenceEntry{}, fmt.Errorf("column %s: %w", evidenceHeader[3+i], err)
		}
		*dst = n
	}
	return e, nil
}
