// Package dashboard builds the monthly dashboard artifact set from an audit
// workbook: a spreadsheet, a PDF of the charts, and an HTML preview.
package dashboard

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
	"github.com/a3tai/formaudit/internal/workbook"
)

// KPIs are the headline figures for one month.
type KPIs struct {
	Total           int     `json:"total"`
	HighRisk        int     `json:"high_risk"`
	CapsPending     int     `json:"caps_pending"`
	CapsOverdue     int     `json:"caps_overdue"`
	WetLeasePercent float64 `json:"wet_lease_percent"`
}

// Series is one bar chart.
type Series struct {
	Key    string   `json:"key"`
	Title  string   `json:"title"`
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// Max returns the largest value, at least 1.
func (s Series) Max() int {
	m := 1
	for _, v := range s.Values {
		m = max(m, v)
	}
	return m
}

// HeatMap counts reports by severity and probability.
type HeatMap struct {
	Severities    []string `json:"severities"`
	Probabilities []string `json:"probabilities"`
	// Counts[s][p] counts reports with severity s and probability p.
	Counts [][]int `json:"counts"`
}

// Band classifies a matrix cell. Vocabularies list the worst level first.
func (h HeatMap) Band(s, p int) Band {
	score := (len(h.Severities) - s) * (len(h.Probabilities) - p)
	top := len(h.Severities) * len(h.Probabilities)
	switch {
	case score*5 >= top*3:
		return BandHigh
	case score*5 >= top:
		return BandMedium
	default:
		return BandLow
	}
}

// Band is a risk matrix colour band.
type Band int

const (
	BandLow Band = iota
	BandMedium
	BandHigh
)

// Report is everything a dashboard shows for one month.
type Report struct {
	Year        int              `json:"year"`
	Month       time.Month       `json:"month"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
	KPIs        KPIs             `json:"kpis"`
	Charts      []Series         `json:"charts"`
	HeatMap     *HeatMap         `json:"heat_map,omitempty"`
	Overdue     []model.CapEntry `json:"overdue"`
	Rows        []workbook.Row   `json:"-"`
}

// Title is the human-readable month heading.
func (r Report) Title() string {
	return fmt.Sprintf("SMS Dashboard %s %d", r.Month, r.Year)
}

// Compute derives the report for year/month from wb, with CAP status
// evaluated at at.
func Compute(wb *workbook.Workbook, s *schema.Schema, year int, month time.Month, at time.Time) Report {
	rows := workbook.RowsInMonth(wb.Rows, s, year, month)
	caps := workbook.CapTracker(rows, s, at)
	rep := Report{Year: year, Month: month, EvaluatedAt: at, Rows: rows}

	rep.KPIs.Total = len(rows)
	wetLease := 0
	for _, r := range rows {
		if workbook.IsHighRisk(workbook.RoleValue(r, s, schema.RoleRiskLevel)) {
			rep.KPIs.HighRisk++
		}
		if strings.EqualFold(workbook.RoleValue(r, s, schema.RoleWetLease), "yes") {
			wetLease++
		}
	}
	if len(rows) > 0 {
		rep.KPIs.WetLeasePercent = math.Round(1000*float64(wetLease)/float64(len(rows))) / 10
	}

	capCounts := map[model.CapStatus]int{}
	for _, c := range caps {
		capCounts[c.Status]++
		if c.Status != model.CapClosed {
			rep.KPIs.CapsPending++
		}
		if c.Status == model.CapOverdue {
			rep.KPIs.CapsOverdue++
			rep.Overdue = append(rep.Overdue, c)
		}
	}
	sort.SliceStable(rep.Overdue, func(i, j int) bool { return rep.Overdue[i].DaysOverdue > rep.Overdue[j].DaysOverdue })

	agg := workbook.Aggregate(rows, s)
	for _, c := range []struct {
		key   string
		title string
		role  schema.Role
	}{
		{"hazards_by_location", "Hazards by Location", schema.RoleLocation},
		{"hazards_by_type", "Hazards by Type", schema.RoleHazardType},
		{"risk_level", "Risk Level Distribution", schema.RoleRiskLevel},
	} {
		if series, ok := blockSeries(agg, s, c.role); ok {
			series.Key, series.Title = c.key, c.title
			rep.Charts = append(rep.Charts, series)
		}
	}
	rep.Charts = append(rep.Charts, Series{
		Key:    "cap_effectiveness",
		Title:  "CAP Effectiveness",
		Labels: []string{string(model.CapClosed), string(model.CapOpen), string(model.CapOverdue)},
		Values: []int{capCounts[model.CapClosed], capCounts[model.CapOpen], capCounts[model.CapOverdue]},
	})

	rep.HeatMap = heatMap(rows, s)
	return rep
}

func blockSeries(agg workbook.Dashboard, s *schema.Schema, role schema.Role) (Series, bool) {
	f, ok := s.RoleField(role)
	if !ok {
		return Series{}, false
	}
	for _, b := range agg.Blocks {
		if b.Field != f.Name {
			continue
		}
		series := Series{Labels: b.Categories, Values: make([]int, len(b.Categories))}
		for i := range b.Categories {
			series.Values[i] = b.Total(i)
		}
		return series, true
	}
	return Series{}, false
}

func heatMap(rows []workbook.Row, s *schema.Schema) *HeatMap {
	sev, okS := s.RoleField(schema.RoleSeverity)
	prob, okP := s.RoleField(schema.RoleProbability)
	if !okS || !okP || sev.Kind != schema.KindEnum || prob.Kind != schema.KindEnum {
		return nil
	}
	h := &HeatMap{Severities: s.EnumValues(sev), Probabilities: s.EnumValues(prob)}
	h.Counts = make([][]int, len(h.Severities))
	for i := range h.Counts {
		h.Counts[i] = make([]int, len(h.Probabilities))
	}
	for _, r := range rows {
		si := indexOf(h.Severities, r.Value(sev.Name))
		pi := indexOf(h.Probabilities, r.Value(prob.Name))
		if si >= 0 && pi >= 0 {
			h.Counts[si][pi]++
		}
	}
	return h
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == strings.TrimSpace(v) {
			return i
		}
	}
	return -1
}
