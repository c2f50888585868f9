package workbook

import (
	"sort"
	"strings"
	"time"

	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
)

// DateLayout is the layout of normalized date cells.
const DateLayout = "2006-01-02"

// UndatedMonth buckets rows without a parseable report date.
const UndatedMonth = "Undated"

// StandardLists returns the controlled vocabularies in sheet column order.
func StandardLists(s *schema.Schema) []schema.List {
	return s.VocabularyLists()
}

// RoleValue returns the cell bound to role, or "" when the schema does not
// bind the role.
func RoleValue(r Row, s *schema.Schema, role schema.Role) string {
	f, ok := s.RoleField(role)
	if !ok {
		return ""
	}
	return strings.TrimSpace(r.Value(f.Name))
}

// ParseDate parses a normalized date cell.
func ParseDate(v string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(v))
	return t, err == nil
}

// IsCAP reports whether the row carries a corrective action. An explicit
// CAP Required answer decides; without one, a due date or action description
// marks the row as a CAP.
func IsCAP(r Row, s *schema.Schema) bool {
	if v := RoleValue(r, s, schema.RoleCapRequired); v != "" {
		return affirmative(v)
	}
	return RoleValue(r, s, schema.RoleCapDue) != "" || RoleValue(r, s, schema.RoleCapAction) != ""
}

// capClosed reports the recorded state of a CAP. The CAP status field wins;
// without it a CAP counts as closed once its closing report is attached.
func capClosed(r Row, s *schema.Schema) bool {
	if v := RoleValue(r, s, schema.RoleCapStatus); v != "" {
		return strings.EqualFold(v, string(model.CapClosed))
	}
	return affirmative(RoleValue(r, s, schema.RoleCapClosedWhen))
}

// CapTracker derives the CAP entries from raw rows, with status evaluated at
// at. It reads rows only; calling it for different dates yields different
// statuses from the same rows.
func CapTracker(rows []Row, s *schema.Schema, at time.Time) []model.CapEntry {
	var out []model.CapEntry
	for _, r := range rows {
		if !IsCAP(r, s) {
			continue
		}
		e := model.CapEntry{
			RecordID:    r.RecordID,
			Reference:   RoleValue(r, s, schema.RoleReference),
			Owner:       RoleValue(r, s, schema.RoleCapOwner),
			Description: RoleValue(r, s, schema.RoleCapAction),
		}
		if due, ok := ParseDate(RoleValue(r, s, schema.RoleCapDue)); ok {
			e.Due = &due
		}
		e.Status, e.DaysOverdue = model.CapStatusAt(e.Due, capClosed(r, s), at)
		out = append(out, e)
	}
	return out
}

// MonthOf returns the "yyyy-mm" bucket of a row's report date.
func MonthOf(r Row, s *schema.Schema) string {
	if t, ok := ParseDate(RoleValue(r, s, schema.RoleReportDate)); ok {
		return t.Format("2006-01")
	}
	return UndatedMonth
}

// RowsInMonth filters rows reported in the given month.
func RowsInMonth(rows []Row, s *schema.Schema, year int, month time.Month) []Row {
	key := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
	var out []Row
	for _, r := range rows {
		if MonthOf(r, s) == key {
			out = append(out, r)
		}
	}
	return out
}

// MonthSummary holds per-month totals.
type MonthSummary struct {
	Month      string
	Reports    int
	HighRisk   int
	CapsRaised int
	CapsClosed int
}

// HighRiskRate is the share of reports rated high risk, in percent.
func (m MonthSummary) HighRiskRate() float64 { return percent(m.HighRisk, m.Reports) }

// ClosureRate is the share of raised CAPs that are closed, in percent.
func (m MonthSummary) ClosureRate() float64 { return percent(m.CapsClosed, m.CapsRaised) }

// Block counts one categorical field per month.
type Block struct {
	Field      string
	Categories []string
	// Counts[c][m] is the count for category c in month m.
	Counts [][]int
}

// Total returns the count of category c over all months.
func (b Block) Total(c int) int {
	n := 0
	for _, v := range b.Counts[c] {
		n += v
	}
	return n
}

// Dashboard is the aggregate view behind the Monthly Dashboard sheet. It
// depends on the rows alone, never on the evaluation date.
type Dashboard struct {
	Months  []string
	Summary []MonthSummary
	Blocks  []Block
}

// dashboardRoles are the categorical roles charted per month.
var dashboardRoles = []schema.Role{
	schema.RoleLocation,
	schema.RoleHazardType,
	schema.RoleRiskLevel,
	schema.RoleSeverity,
	schema.RoleDepartment,
}

// Aggregate computes monthly counts and rates from raw rows.
func Aggregate(rows []Row, s *schema.Schema) Dashboard {
	monthSet := map[string]bool{}
	for _, r := range rows {
		monthSet[MonthOf(r, s)] = true
	}
	months := make([]string, 0, len(monthSet))
	for m := range monthSet {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool {
		if (months[i] == UndatedMonth) != (months[j] == UndatedMonth) {
			return months[j] == UndatedMonth
		}
		return months[i] < months[j]
	})
	monthIdx := make(map[string]int, len(months))
	for i, m := range months {
		monthIdx[m] = i
	}

	d := Dashboard{Months: months, Summary: make([]MonthSummary, len(months))}
	for i, m := range months {
		d.Summary[i].Month = m
	}
	for _, r := range rows {
		ms := &d.Summary[monthIdx[MonthOf(r, s)]]
		ms.Reports++
		if IsHighRisk(RoleValue(r, s, schema.RoleRiskLevel)) {
			ms.HighRisk++
		}
		if IsCAP(r, s) {
			ms.CapsRaised++
			if capClosed(r, s) {
				ms.CapsClosed++
			}
		}
	}

	for _, role := range dashboardRoles {
		f, ok := s.RoleField(role)
		if !ok {
			continue
		}
		d.Blocks = append(d.Blocks, countBlock(rows, s, f, monthIdx, len(months)))
	}
	return d
}

func countBlock(rows []Row, s *schema.Schema, f schema.Field, monthIdx map[string]int, months int) Block {
	var cats []string
	if f.Kind == schema.KindEnum {
		cats = append(cats, s.EnumValues(f)...)
	}
	index := make(map[string]int, len(cats))
	for i, c := range cats {
		index[c] = i
	}

	counts := make(map[string][]int)
	var extra []string
	for _, r := range rows {
		values := []string{strings.TrimSpace(r.Value(f.Name))}
		if f.Multi {
			values = model.FieldValue{Normalized: r.Value(f.Name)}.Values()
		}
		for _, v := range values {
			if v == "" {
				continue
			}
			if _, known := index[v]; !known && f.Kind == schema.KindEnum {
				v = otherCategory
			}
			if counts[v] == nil {
				counts[v] = make([]int, months)
				if _, known := index[v]; !known {
					extra = append(extra, v)
				}
			}
			counts[v][monthIdx[MonthOf(r, s)]]++
		}
	}
	sort.Strings(extra)
	cats = append(cats, extra...)

	b := Block{Field: f.Name, Categories: cats, Counts: make([][]int, len(cats))}
	for i, c := range cats {
		if counts[c] == nil {
			counts[c] = make([]int, months)
		}
		b.Counts[i] = counts[c]
	}
	return b
}

const otherCategory = "Unlisted"

// IsHighRisk reports whether a risk level value denotes high risk.
func IsHighRisk(v string) bool {
	return strings.Contains(strings.ToLower(v), "high")
}

func affirmative(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true":
		return true
	}
	return false
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}
