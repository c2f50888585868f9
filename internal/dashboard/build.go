package dashboard

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/a3tai/formaudit/internal/schema"
	"github.com/a3tai/formaudit/internal/workbook"
)

// ErrInvalidPeriod is returned for a month outside 1-12 or a non-positive year.
var ErrInvalidPeriod = errors.New("invalid dashboard period")

// Artifacts lists the files Build produced.
type Artifacts struct {
	Dir    string   `json:"dir"`
	Excel  string   `json:"excel"`
	PDF    string   `json:"pdf"`
	HTML   string   `json:"html"`
	Charts []string `json:"charts"`
	Report Report   `json:"report"`
}

// Build loads the workbook at wbPath and writes the dashboard for
// month/year into outDir.
func Build(wbPath string, s *schema.Schema, month time.Month, year int, at time.Time, outDir string) (*Artifacts, error) {
	if month < time.January || month > time.December || year <= 0 {
		return nil, fmt.Errorf("%w: %d/%d", ErrInvalidPeriod, month, year)
	}
	wb, err := workbook.Load(wbPath, s)
	if err != nil {
		return nil, err
	}
	return Write(Compute(wb, s, year, month, at), s, outDir)
}

type chartImage struct {
	key   string
	title string
	png   []byte
}

// Write renders rep into outDir.
func Write(rep Report, s *schema.Schema, outDir string) (*Artifacts, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dashboard directory: %w", err)
	}
	stem := fmt.Sprintf("dashboard_%d_%d", int(rep.Month), rep.Year)
	art := &Artifacts{
		Dir:    outDir,
		Excel:  filepath.Join(outDir, stem+".xlsx"),
		PDF:    filepath.Join(outDir, stem+".pdf"),
		HTML:   filepath.Join(outDir, "preview.html"),
		Report: rep,
	}

	images, err := renderCharts(rep)
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		path := filepath.Join(outDir, img.key+".png")
		if err := os.WriteFile(path, img.png, 0o644); err != nil {
			return nil, fmt.Errorf("write chart %s: %w", img.key, err)
		}
		art.Charts = append(art.Charts, path)
	}

	if err := writeExcel(art.Excel, rep, s, images); err != nil {
		return nil, err
	}
	if err := writePDF(art.PDF, rep, images); err != nil {
		return nil, err
	}
	if err := writeHTML(art.HTML, rep, images); err != nil {
		return nil, err
	}
	return art, nil
}

func renderCharts(rep Report) ([]chartImage, error) {
	var out []chartImage
	for _, series := range rep.Charts {
		data, err := renderBars(series)
		if err != nil {
			return nil, err
		}
		out = append(out, chartImage{key: series.Key, title: series.Title, png: data})
	}
	if rep.HeatMap != nil {
		data, err := renderHeatMap(rep.HeatMap)
		if err != nil {
			return nil, err
		}
		out = append(out, chartImage{key: "risk_matrix", title: "Risk Matrix", png: data})
	}
	return out, nil
}

func writeExcel(path string, rep Report, s *schema.Schema, images []chartImage) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	const summary, raw, charts = "Summary", "Raw Data", "Charts"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return err
	}
	for _, name := range []string{raw, charts} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := f.SetCellValue(summary, "A1", rep.Title()); err != nil {
		return err
	}
	row := 3
	for _, l := range kpiLines(rep) {
		if err := setRow(f, summary, row, []any{l.label, l.value}); err != nil {
			return err
		}
		row++
	}
	row++
	if h := rep.HeatMap; h != nil {
		if row, err = writeHeatMap(f, summary, row, h, bold); err != nil {
			return err
		}
		row++
	}
	if err := setRow(f, summary, row, []any{"Overdue CAP", "Owner", "Due Date", "Days Overdue"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(summary, cell(1, row), cell(4, row), bold); err != nil {
		return err
	}
	for _, c := range rep.Overdue {
		row++
		due := ""
		if c.Due != nil {
			due = c.Due.Format(workbook.DateLayout)
		}
		if err := setRow(f, summary, row, []any{c.Reference, c.Owner, due, c.DaysOverdue}); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(summary, "A", "A", 32); err != nil {
		return err
	}

	if err := setRow(f, raw, 1, toAny(workbook.RawHeader(s))); err != nil {
		return err
	}
	for i, r := range rep.Rows {
		if err := setRow(f, raw, i+2, workbook.RawCells(r, s)); err != nil {
			return err
		}
	}

	for i, img := range images {
		err := f.AddPictureFromBytes(charts, cell(1, 1+i*24), &excelize.Picture{
			Extension: ".png",
			File:      img.png,
			Format:    &excelize.GraphicOptions{AltText: img.title, ScaleX: 0.8, ScaleY: 0.8},
		})
		if err != nil {
			return fmt.Errorf("insert chart %s: %w", img.key, err)
		}
	}
	return f.SaveAs(path)
}

func writeHeatMap(f *excelize.File, sheet string, row int, h *HeatMap, bold int) (int, error) {
	fills := map[Band]int{}
	for band, ink := range bandInks {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{fmt.Sprintf("%02X%02X%02X", ink.R, ink.G, ink.B)}},
			Alignment: &excelize.Alignment{Horizontal: "center"},
		})
		if err != nil {
			return row, err
		}
		fills[band] = id
	}

	header := append([]any{"Severity \\ Probability"}, toAny(h.Probabilities)...)
	if err := setRow(f, sheet, row, header); err != nil {
		return row, err
	}
	if err := f.SetCellStyle(sheet, cell(1, row), cell(len(header), row), bold); err != nil {
		return row, err
	}
	for si, sev := range h.Severities {
		row++
		values := []any{sev}
		for _, n := range h.Counts[si] {
			values = append(values, n)
		}
		if err := setRow(f, sheet, row, values); err != nil {
			return row, err
		}
		for pi := range h.Probabilities {
			c := cell(pi+2, row)
			if err := f.SetCellStyle(sheet, c, c, fills[h.Band(si, pi)]); err != nil {
				return row, err
			}
		}
	}
	return row + 1, nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	return f.SetSheetRow(sheet, cell(1, row), &values)
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// writePDF places the KPI card and every chart on its own page.
func writePDF(path string, rep Report, images []chartImage) error {
	card, err := renderSummary(rep)
	if err != nil {
		return err
	}
	pages := []io.Reader{bytes.NewReader(card)}
	for _, img := range images {
		pages = append(pages, bytes.NewReader(img.png))
	}

	var buf bytes.Buffer
	conf := pdfmodel.NewDefaultConfiguration()
	if err := api.ImportImages(nil, &buf, pages, pdfcpu.DefaultImportConfig(), conf); err != nil {
		return fmt.Errorf("build dashboard pdf: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write dashboard pdf: %w", err)
	}
	return nil
}

const previewStyle = `body{font-family:sans-serif;max-width:860px;margin:2em auto;color:#222}
table{border-collapse:collapse;margin:1em 0}td,th{border:1px solid #ccc;padding:4px 10px}
th{background:#1f4e78;color:#fff}img{max-width:800px}`

func writeHTML(path string, rep Report, images []chartImage) error {
	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n", mdEscape(rep.Title()))
	md.WriteString("| KPI | Value |\n|---|---:|\n")
	for _, l := range kpiLines(rep) {
		fmt.Fprintf(&md, "| %s | %s |\n", mdEscape(l.label), l.value)
	}
	for _, img := range images {
		fmt.Fprintf(&md, "\n## %s\n\n![%s](%s.png)\n", mdEscape(img.title), mdEscape(img.title), img.key)
	}
	if len(rep.Overdue) > 0 {
		md.WriteString("\n## Overdue CAPs\n\n| Reference | Owner | Due Date | Days Overdue |\n|---|---|---|---:|\n")
		for _, c := range rep.Overdue {
			due := ""
			if c.Due != nil {
				due = c.Due.Format(workbook.DateLayout)
			}
			fmt.Fprintf(&md, "| %s | %s | %s | %s |\n", mdEscape(c.Reference), mdEscape(c.Owner), due, strconv.Itoa(c.DaysOverdue))
		}
	}
	fmt.Fprintf(&md, "\n_CAP status evaluated on %s._\n", rep.EvaluatedAt.Format(workbook.DateLayout))

	var body bytes.Buffer
	gm := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := gm.Convert([]byte(md.String()), &body); err != nil {
		return fmt.Errorf("render preview: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title><style>%s</style></head><body>\n",
		html.EscapeString(rep.Title()), previewStyle)
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	if err := os.WriteFile(path, page.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return nil
}

// mdEscape makes form text safe inside markdown table cells and headings.
func mdEscape(s string) string {
	var b strings.Builder
	for _, r := range strings.Join(strings.Fields(s), " ") {
		if strings.ContainsRune("\\`*_{}[]()<>#+-!|~", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
