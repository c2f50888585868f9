package workbook

import (
	"fmt"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
)

// Raw Data columns around the schema fields.
var (
	rawLeading  = []string{"Record ID", "Batch ID", "Source Document", "Page", "Schema Version"}
	rawTrailing = []string{"Unresolved Fields", "Validation"}
)

var (
	capHeader      = []string{"Record ID", "Reference", "Action", "Owner", "Due Date", "Recorded Status", "Status", "Days Overdue", "Evaluated On"}
	evidenceHeader = []string{"Timestamp", "Batch ID", "Schema Version", "Documents", "Records", "Failures", "Errors", "Warnings"}
	summaryHeader  = []string{"Month", "Reports", "High Risk", "High Risk %", "CAPs Raised", "CAPs Closed", "Closure %"}
)

const (
	maxColumnWidth = 50
	chartRowStride = 16
)

// RawHeader returns the Raw Data header row for s.
func RawHeader(s *schema.Schema) []string {
	h := append([]string{}, rawLeading...)
	h = append(h, s.FieldNames()...)
	return append(h, rawTrailing...)
}

// RawCells returns a row's Raw Data cells in RawHeader order.
func RawCells(row Row, s *schema.Schema) []any {
	values := []any{row.RecordID, row.BatchID, row.Document, row.Page, row.SchemaVersion}
	for _, name := range s.FieldNames() {
		values = append(values, row.Value(name))
	}
	return append(values, row.Unresolved, row.Validation)
}

type styles struct {
	header  int
	title   int
	overdue int
	wrap    int
}

type renderer struct {
	f      *excelize.File
	s      *schema.Schema
	st     styles
	lists  map[string]string
	widths map[string][]int
}

// Render lays the workbook out as a spreadsheet with the CAP tracker
// evaluated at at. Raw Data and the evidence log are written exactly as
// stored; the other sheets are recomputed.
func Render(wb *Workbook, s *schema.Schema, at time.Time) (*excelize.File, error) {
	f := excelize.NewFile()
	r := &renderer{f: f, s: s, lists: map[string]string{}, widths: map[string][]int{}}
	if err := r.setup(); err != nil {
		_ = f.Close()
		return nil, err
	}

	steps := []func() error{
		r.writeLists,
		func() error { return r.writeRawData(wb.Rows) },
		func() error { return r.writeCAP(wb.Rows, at) },
		func() error { return r.writeDashboard(Aggregate(wb.Rows, s)) },
		func() error { return r.writeEvidence(wb.Evidence) },
		r.applyWidths,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

func (r *renderer) setup() error {
	if err := r.f.SetSheetName("Sheet1", SheetRawData); err != nil {
		return err
	}
	for _, name := range Sheets[1:] {
		if _, err := r.f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	var err error
	if r.st.header, err = r.f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1F4E78"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	}); err != nil {
		return err
	}
	if r.st.title, err = r.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14, Color: "1F4E78"},
	}); err != nil {
		return err
	}
	if r.st.overdue, err = r.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "9C0006"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFC7CE"}},
	}); err != nil {
		return err
	}
	r.st.wrap, err = r.f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
	return err
}

// writeRow writes values starting at column A of row and tracks widths.
func (r *renderer) writeRow(sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := r.f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	w := r.widths[sheet]
	for i, v := range values {
		n := len([]rune(fmt.Sprint(v))) + 2
		for len(w) <= i {
			w = append(w, 0)
		}
		if n > w[i] {
			w[i] = n
		}
	}
	r.widths[sheet] = w
	return nil
}

func (r *renderer) writeHeader(sheet string, row int, header []string) error {
	values := make([]any, len(header))
	for i, h := range header {
		values[i] = h
	}
	if err := r.writeRow(sheet, row, values); err != nil {
		return err
	}
	return r.styleRange(sheet, 1, row, len(header), row, r.st.header)
}

func (r *renderer) styleRange(sheet string, c1, r1, c2, r2, style int) error {
	from, err := excelize.CoordinatesToCellName(c1, r1)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(c2, r2)
	if err != nil {
		return err
	}
	return r.f.SetCellStyle(sheet, from, to, style)
}

func (r *renderer) applyWidths() error {
	for _, sheet := range Sheets {
		for i, w := range r.widths[sheet] {
			col, err := excelize.ColumnNumberToName(i + 1)
			if err != nil {
				return err
			}
			if err := r.f.SetColWidth(sheet, col, col, float64(min(w, maxColumnWidth))); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *renderer) freezeHeader(sheet string) error {
	return r.f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func (r *renderer) protect(sheet string) error {
	return r.f.ProtectSheet(sheet, &excelize.SheetProtectionOptions{
		SelectLockedCells:   true,
		SelectUnlockedCells: true,
	})
}

// columnRef returns an absolute, sheet-qualified range for one column.
func columnRef(sheet string, col, fromRow, toRow int) string {
	name, _ := excelize.ColumnNumberToName(col)
	return fmt.Sprintf("'%s'!$%s$%d:$%s$%d", sheet, name, fromRow, name, toRow)
}

func cellRef(sheet string, col, row int) string {
	name, _ := excelize.ColumnNumberToName(col)
	return fmt.Sprintf("'%s'!$%s$%d", sheet, name, row)
}

// writeLists writes one column per vocabulary and records the range each
// dropdown refers to.
func (r *renderer) writeLists() error {
	for i, l := range StandardLists(r.s) {
		col := i + 1
		values := make([]any, 0, len(l.Values)+1)
		values = append(values, l.Name)
		for _, v := range l.Values {
			values = append(values, v)
		}
		cell, err := excelize.CoordinatesToCellName(col, 1)
		if err != nil {
			return err
		}
		if err := r.f.SetSheetCol(SheetLists, cell, &values); err != nil {
			return fmt.Errorf("write list %s: %w", l.Name, err)
		}
		if err := r.styleRange(SheetLists, col, 1, col, 1, r.st.header); err != nil {
			return err
		}
		w := r.widths[SheetLists]
		for len(w) < col {
			w = append(w, 0)
		}
		for _, v := range values {
			w[col-1] = max(w[col-1], len([]rune(v.(string)))+2)
		}
		r.widths[SheetLists] = w
		r.lists[l.Name] = columnRef(SheetLists, col, 2, len(l.Values)+1)
	}
	return nil
}

// addDropdown binds column col of sheet, rows 2..lastRow, to a vocabulary.
func (r *renderer) addDropdown(sheet string, col, lastRow int, list string) error {
	source, ok := r.lists[list]
	if !ok {
		return nil
	}
	from, _ := excelize.CoordinatesToCellName(col, 2)
	to, _ := excelize.CoordinatesToCellName(col, max(lastRow, 2))
	dv := excelize.NewDataValidation(true)
	dv.SetSqref(from + ":" + to)
	dv.SetSqrefDropList(source)
	dv.SetError(excelize.DataValidationErrorStyleStop, "Invalid value", "Choose a value from "+list+".")
	if err := r.f.AddDataValidation(sheet, dv); err != nil {
		return fmt.Errorf("add dropdown for %s: %w", list, err)
	}
	return nil
}

func (r *renderer) writeRawData(rows []Row) error {
	header := RawHeader(r.s)
	if err := r.writeHeader(SheetRawData, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := r.writeRow(SheetRawData, i+2, RawCells(row, r.s)); err != nil {
			return err
		}
	}

	last := len(rows) + 1
	for i, f := range r.s.Fields {
		if f.Kind != schema.KindEnum || f.Multi {
			continue
		}
		if err := r.addDropdown(SheetRawData, len(rawLeading)+i+1, last, r.s.ListNameFor(f)); err != nil {
			return err
		}
	}
	if len(rows) > 0 {
		if err := r.styleRange(SheetRawData, len(header)-1, 2, len(header), last, r.st.wrap); err != nil {
			return err
		}
	}
	if err := r.freezeHeader(SheetRawData); err != nil {
		return err
	}
	return r.protect(SheetRawData)
}

func (r *renderer) writeCAP(rows []Row, at time.Time) error {
	if err := r.writeHeader(SheetCAP, 1, capHeader); err != nil {
		return err
	}
	evaluated := at.Format(DateLayout)
	entries := CapTracker(rows, r.s, at)
	for i, e := range entries {
		due := ""
		if e.Due != nil {
			due = e.Due.Format(DateLayout)
		}
		recorded := model.CapOpen
		if e.Status == model.CapClosed {
			recorded = model.CapClosed
		}
		row := i + 2
		values := []any{e.RecordID, e.Reference, e.Description, e.Owner, due,
			string(recorded), string(e.Status), e.DaysOverdue, evaluated}
		if err := r.writeRow(SheetCAP, row, values); err != nil {
			return err
		}
		if e.Status == model.CapOverdue {
			if err := r.styleRange(SheetCAP, 7, row, 8, row, r.st.overdue); err != nil {
				return err
			}
		}
	}
	if f, ok := r.s.RoleField(schema.RoleCapStatus); ok && f.Kind == schema.KindEnum {
		if err := r.addDropdown(SheetCAP, 6, len(entries)+1, r.s.ListNameFor(f)); err != nil {
			return err
		}
	}
	return r.freezeHeader(SheetCAP)
}

func (r *renderer) writeDashboard(d Dashboard) error {
	sheet := SheetDashboard
	if err := r.writeRow(sheet, 1, []any{"Monthly Dashboard"}); err != nil {
		return err
	}
	if err := r.styleRange(sheet, 1, 1, 1, 1, r.st.title); err != nil {
		return err
	}

	row := 3
	if err := r.writeHeader(sheet, row, summaryHeader); err != nil {
		return err
	}
	summaryFirst := row + 1
	for _, m := range d.Summary {
		row++
		values := []any{m.Month, m.Reports, m.HighRisk, round1(m.HighRiskRate()),
			m.CapsRaised, m.CapsClosed, round1(m.ClosureRate())}
		if err := r.writeRow(sheet, row, values); err != nil {
			return err
		}
	}
	summaryLast := row

	chartCol := max(len(summaryHeader), len(d.Months)+2) + 2
	chartCell := func(i int) string {
		c, _ := excelize.CoordinatesToCellName(chartCol, 3+i*chartRowStride)
		return c
	}
	charts := 0
	if len(d.Summary) > 0 {
		chart := &excelize.Chart{
			Type:  excelize.Col,
			Title: []excelize.RichTextRun{{Text: "Reports and High Risk per Month"}},
			Series: []excelize.ChartSeries{
				{Name: cellRef(sheet, 2, 3), Categories: columnRef(sheet, 1, summaryFirst, summaryLast), Values: columnRef(sheet, 2, summaryFirst, summaryLast)},
				{Name: cellRef(sheet, 3, 3), Categories: columnRef(sheet, 1, summaryFirst, summaryLast), Values: columnRef(sheet, 3, summaryFirst, summaryLast)},
			},
			Legend: excelize.ChartLegend{Position: "bottom"},
		}
		if err := r.f.AddChart(sheet, chartCell(charts), chart); err != nil {
			return fmt.Errorf("add summary chart: %w", err)
		}
		charts++
	}

	for _, b := range d.Blocks {
		row += 2
		header := append([]string{b.Field}, d.Months...)
		header = append(header, "Total")
		if err := r.writeHeader(sheet, row, header); err != nil {
			return err
		}
		headerRow := row
		for c, cat := range b.Categories {
			row++
			values := []any{cat}
			for _, n := range b.Counts[c] {
				values = append(values, n)
			}
			values = append(values, b.Total(c))
			if err := r.writeRow(sheet, row, values); err != nil {
				return err
			}
		}
		if len(b.Categories) == 0 || len(d.Months) == 0 {
			continue
		}
		chart := &excelize.Chart{
			Type:   excelize.Col,
			Title:  []excelize.RichTextRun{{Text: b.Field + " by Month"}},
			Legend: excelize.ChartLegend{Position: "bottom"},
		}
		for m := range d.Months {
			chart.Series = append(chart.Series, excelize.ChartSeries{
				Name:       cellRef(sheet, m+2, headerRow),
				Categories: columnRef(sheet, 1, headerRow+1, row),
				Values:     columnRef(sheet, m+2, headerRow+1, row),
			})
		}
		if err := r.f.AddChart(sheet, chartCell(charts), chart); err != nil {
			return fmt.Errorf("add chart for %s: %w", b.Field, err)
		}
		charts++
	}
	return nil
}

func (r *renderer) writeEvidence(entries []EvidenceEntry) error {
	if err := r.writeHeader(SheetEvidence, 1, evidenceHeader); err != nil {
		return err
	}
	for i, e := range entries {
		values := []any{e.Timestamp.UTC().Format(time.RFC3339), e.BatchID, e.SchemaVersion,
			e.Documents, e.Records, e.Failures, e.Errors, e.Warnings}
		if err := r.writeRow(SheetEvidence, i+2, values); err != nil {
			return err
		}
	}
	if err := r.freezeHeader(SheetEvidence); err != nil {
		return err
	}
	return r.protect(SheetEvidence)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
