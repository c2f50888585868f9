package model

import "math"

// Box is a rectangle in page-relative units: the page spans [0,1] on both
// axes with the origin in the upper-left corner.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterX returns the horizontal center of the box
func (b Box) CenterX() float64 { return b.X + b.Width/2 }

// CenterY returns the vertical center of the box
func (b Box) CenterY() float64 { return b.Y + b.Height/2 }

// Right returns the right edge of the box
func (b Box) Right() float64 { return b.X + b.Width }

// Bottom returns the bottom edge of the box
func (b Box) Bottom() float64 { return b.Y + b.Height }

// IsEmpty reports whether the box has non-positive dimensions.
func (b Box) IsEmpty() bool { return b.Width <= 0 || b.Height <= 0 }

// Distance returns the euclidean distance between the centers of two boxes.
func (b Box) Distance(o Box) float64 {
	return math.Hypot(b.CenterX()-o.CenterX(), b.CenterY()-o.CenterY())
}

// HorizontalOverlap returns the width shared by the two boxes on the x axis.
func (b Box) HorizontalOverlap(o Box) float64 {
	return math.Max(0, math.Min(b.Right(), o.Right())-math.Max(b.X, o.X))
}

// Union returns the smallest box containing both boxes.
func (b Box) Union(o Box) Box {
	if b.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return b
	}
	minX := math.Min(b.X, o.X)
	minY := math.Min(b.Y, o.Y)
	maxX := math.Max(b.Right(), o.Right())
	maxY := math.Max(b.Bottom(), o.Bottom())
	return Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// RecognizedRegion is one piece of text produced by a single OCR pass over a
// page. Regions are values and are never mutated after recognition.
type RecognizedRegion struct {
	Text       string  `json:"text"`
	Bounds     Box     `json:"bounds"`
	Confidence float64 `json:"confidence"`
	PageIndex  int     `json:"page_index"`
}
