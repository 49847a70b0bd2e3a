// Package render draws certificate artifacts as PNG images.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"vaxledger/internal/certificate/models"
	dErrors "vaxledger/pkg/domain-errors"
)

const (
	width  = 1200
	height = 850
	margin = 60
)

type template struct {
	title  string
	accent color.NRGBA
}

var templates = map[string]template{
	"progress-v1":         {title: "Immunization Progress Report", accent: color.NRGBA{R: 0x2b, G: 0x6c, B: 0xb0, A: 0xff}},
	"school_readiness-v1": {title: "School Readiness Immunization Certificate", accent: color.NRGBA{R: 0x2f, G: 0x85, B: 0x5a, A: 0xff}},
	"completion-v1":       {title: "Immunization Completion Certificate", accent: color.NRGBA{R: 0x9b, G: 0x2c, B: 0x2c, A: 0xff}},
}

// TemplateFor returns the current template id for a certificate type.
func TemplateFor(typ models.Type) string {
	return string(typ) + "-v1"
}

// Renderer is stateless apart from the parsed fonts. Output is a pure
// function of the template and fields.
type Renderer struct {
	regular *truetype.Font
	bold    *truetype.Font
}

func New() (*Renderer, error) {
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &Renderer{regular: regular, bold: bold}, nil
}

func (r *Renderer) face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{Size: size})
}

// Render draws the template populated with fields and encodes it as PNG.
func (r *Renderer) Render(ctx context.Context, templateID string, f models.Fields) ([]byte, error) {
	tpl, ok := templates[templateID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInternal, "unknown certificate template: "+templateID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()

	dc.SetColor(tpl.accent)
	dc.SetLineWidth(12)
	dc.DrawRectangle(margin/2, margin/2, width-margin, height-margin)
	dc.Stroke()
	dc.DrawRectangle(margin/2, margin/2, width-margin, 110)
	dc.Fill()

	dc.SetColor(color.White)
	dc.SetFontFace(r.face(r.bold, 40))
	dc.DrawStringAnchored(tpl.title, width/2, margin/2+55, 0.5, 0.5)

	dc.SetColor(color.NRGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff})
	dc.SetFontFace(r.face(r.bold, 52))
	dc.DrawStringAnchored(f.ChildName, width/2, 250, 0.5, 0.5)

	dc.SetFontFace(r.face(r.regular, 26))
	lines := []string{
		"Child ID: " + f.ChildID,
		fmt.Sprintf("Date of birth: %s    Age: %s", f.BirthDate.Format("2 January 2006"), formatAge(f.AgeMonths)),
		fmt.Sprintf("Required doses completed: %d of %d (%d%%)", f.CompletedCount, f.TotalRequired, f.CompletionRate),
	}
	if len(f.Missing) > 0 {
		lines = append(lines, "Outstanding: "+truncate(strings.Join(f.Missing, ", "), 80))
	}
	y := 340.0
	for _, line := range lines {
		dc.DrawStringAnchored(line, width/2, y, 0.5, 0.5)
		y += 50
	}

	dc.SetFontFace(r.face(r.regular, 20))
	dc.SetColor(color.NRGBA{R: 0x55, G: 0x55, B: 0x55, A: 0xff})
	dc.DrawString("Issued "+f.IssuedOn.Format("2006-01-02"), margin, height-margin-10)
	if f.CertificateID != "" {
		dc.DrawStringAnchored("Certificate "+f.CertificateID, width-margin, height-margin-10, 1, 0)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode certificate png: %w", err)
	}
	return buf.Bytes(), nil
}

func formatAge(months int) string {
	years, rest := months/12, months%12
	switch {
	case years == 0:
		return fmt.Sprintf("%d months", rest)
	case rest == 0:
		return fmt.Sprintf("%d years", years)
	default:
		return fmt.Sprintf("%d years %d months", years, rest)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
