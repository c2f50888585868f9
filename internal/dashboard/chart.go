package dashboard

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	chartWidth  = 720
	chartHeight = 420
	plotLeft    = 60
	plotRight   = chartWidth - 20
	plotTop     = 50
	plotBottom  = chartHeight - 60
	glyphWidth  = 7
	lineHeight  = 13
)

var (
	white    = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	ink      = color.RGBA{0x22, 0x22, 0x22, 0xFF}
	gridInk  = color.RGBA{0xDD, 0xDD, 0xDD, 0xFF}
	barInk   = color.RGBA{0x1F, 0x4E, 0x79, 0xFF}
	bandInks = map[Band]color.RGBA{
		BandLow:    {0x63, 0xBE, 0x7B, 0xFF},
		BandMedium: {0xFF, 0xC0, 0x00, 0xFF},
		BandHigh:   {0xE0, 0x4B, 0x4B, 0xFF},
	}
)

type canvas struct {
	img *image.RGBA
}

func newCanvas(w, h int) *canvas {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)
	return &canvas{img: img}
}

func (c *canvas) fill(r image.Rectangle, col color.Color) {
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Src)
}

// text draws s with its baseline at y. Text wider than maxWidth is cut.
func (c *canvas) text(x, y int, s string, maxWidth int) {
	if maxWidth > 0 {
		s = fit(s, maxWidth)
	}
	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(ink),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// centered draws s centred on cx.
func (c *canvas) centered(cx, y int, s string, maxWidth int) {
	s = fit(s, maxWidth)
	c.text(cx-len([]rune(s))*glyphWidth/2, y, s, 0)
}

func (c *canvas) png() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(s string, maxWidth int) string {
	r := []rune(s)
	n := maxWidth / glyphWidth
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n <= 2 {
		return string(r[:n])
	}
	return string(r[:n-2]) + ".."
}

// renderBars draws a vertical bar chart.
func renderBars(s Series) ([]byte, error) {
	c := newCanvas(chartWidth, chartHeight)
	c.centered(chartWidth/2, 28, s.Title, chartWidth)

	top := s.Max()
	plotH := plotBottom - plotTop
	for _, v := range gridSteps(top) {
		y := plotBottom - v*plotH/top
		c.fill(image.Rect(plotLeft, y, plotRight, y+1), gridInk)
		c.text(plotLeft-8-len(strconv.Itoa(v))*glyphWidth, y+4, strconv.Itoa(v), 0)
	}
	c.fill(image.Rect(plotLeft, plotBottom, plotRight, plotBottom+1), ink)

	if len(s.Values) == 0 {
		c.centered(chartWidth/2, chartHeight/2, "No data", chartWidth)
		return c.png()
	}
	slot := (plotRight - plotLeft) / len(s.Values)
	barW := max(slot*3/5, 1)
	for i, v := range s.Values {
		x := plotLeft + i*slot + (slot-barW)/2
		h := v * plotH / top
		c.fill(image.Rect(x, plotBottom-h, x+barW, plotBottom), barInk)
		cx := plotLeft + i*slot + slot/2
		if v > 0 {
			c.centered(cx, plotBottom-h-4, strconv.Itoa(v), slot)
		}
		c.centered(cx, plotBottom+18, s.Labels[i], slot-4)
	}
	return c.png()
}

// gridSteps returns up to five evenly spaced axis values in (0, top].
func gridSteps(top int) []int {
	step := max((top+4)/5, 1)
	var out []int
	for v := step; v <= top; v += step {
		out = append(out, v)
	}
	return out
}

// renderHeatMap draws the severity by probability matrix.
func renderHeatMap(h *HeatMap) ([]byte, error) {
	const left, top = 140, 70
	cols, rows := len(h.Probabilities), len(h.Severities)
	cellW := (chartWidth - left - 20) / max(cols, 1)
	cellH := (chartHeight - top - 30) / max(rows, 1)

	c := newCanvas(chartWidth, chartHeight)
	c.centered(chartWidth/2, 28, "Risk Matrix (Severity x Probability)", chartWidth)
	for p, name := range h.Probabilities {
		c.centered(left+p*cellW+cellW/2, top-10, name, cellW-4)
	}
	for s, name := range h.Severities {
		y := top + s*cellH
		c.text(10, y+cellH/2+4, name, left-20)
		for p := range h.Probabilities {
			x := left + p*cellW
			c.fill(image.Rect(x, y, x+cellW, y+cellH), bandInks[h.Band(s, p)])
			c.fill(image.Rect(x, y, x+cellW, y+1), white)
			c.fill(image.Rect(x, y, x+1, y+cellH), white)
			c.centered(x+cellW/2, y+cellH/2+4, strconv.Itoa(h.Counts[s][p]), cellW)
		}
	}
	return c.png()
}

// renderSummary draws the KPI card used as the first PDF page.
func renderSummary(rep Report) ([]byte, error) {
	c := newCanvas(chartWidth, chartHeight)
	c.centered(chartWidth/2, 40, rep.Title(), chartWidth)
	lines := kpiLines(rep)
	for i, l := range lines {
		y := 100 + i*2*lineHeight
		c.text(80, y, l.label, 360)
		c.text(460, y, l.value, 200)
	}
	c.text(80, chartHeight-30, "CAP status evaluated on "+rep.EvaluatedAt.Format("2006-01-02"), chartWidth-160)
	return c.png()
}

type kpiLine struct {
	label string
	value string
}

func kpiLines(rep Report) []kpiLine {
	k := rep.KPIs
	return []kpiLine{
		{"Total Hazards Reported", strconv.Itoa(k.Total)},
		{"High-Risk Hazards", strconv.Itoa(k.HighRisk)},
		{"CAPs Pending", strconv.Itoa(k.CapsPending)},
		{"CAPs Overdue", strconv.Itoa(k.CapsOverdue)},
		{"Wet Lease Involvement (%)", strconv.FormatFloat(k.WetLeasePercent, 'f', 1, 64)},
	}
}
