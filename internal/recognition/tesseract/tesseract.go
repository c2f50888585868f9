// Package tesseract provides the Tesseract OCR engine. It links against
// libtesseract through cgo and is only imported by the binaries.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/a3tai/formaudit/internal/recognition"
)

// Engine implements recognition.Engine with a fresh gosseract client per
// page, so one Engine can serve concurrent workers.
type Engine struct {
	clientFactory func() *gosseract.Client
	// Variables are passed to Tesseract as-is, for example
	// "tessedit_char_blacklist".
	Variables map[string]string
}

// New constructs a Tesseract-backed engine.
func New() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Recognize returns the text lines Tesseract finds on the page.
func (e *Engine) Recognize(ctx context.Context, page recognition.PageImage) ([]recognition.TextLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(page.PNG); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(page.Languages) > 0 {
		if err := c.SetLanguage(page.Languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if page.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(page.DPI)); err != nil {
			return nil, fmt.Errorf("set dpi: %w", err)
		}
	}
	for k, v := range e.Variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}
	lines := make([]recognition.TextLine, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, recognition.TextLine{
			Text:       text,
			Bounds:     b.Box,
			Confidence: b.Confidence / 100.0,
		})
	}
	return lines, nil
}
