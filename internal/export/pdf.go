package export

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"RoomBoard/internal/state"

	"github.com/jung-kurt/gofpdf"
)

// Page layout in millimetres, A4 landscape.
const (
	pageW  = 297.0
	pageH  = 210.0
	margin = 10.0
)

// background matches the dark canvas the browser client paints.
var background = rgb{0x1a, 0x1a, 0x1a}

type rgb struct{ r, g, b int }

// PDF renders a reconstructed canvas onto a single page and writes it to w.
// The drawing is scaled to fit the page while keeping its aspect ratio.
func PDF(w io.Writer, title string, points []state.DrawPoint) error {
	p := gofpdf.New("L", "mm", "A4", "")
	p.SetTitle(title, true)
	p.SetAutoPageBreak(false, 0)
	p.AddPage()

	p.SetFillColor(background.r, background.g, background.b)
	p.Rect(0, 0, pageW, pageH, "F")
	p.SetLineCapStyle("round")
	p.SetLineJoinStyle("round")

	fit := fitPage(points)
	for _, dp := range points {
		drawPoint(p, fit, dp)
	}

	p.SetFont("Helvetica", "", 8)
	p.SetTextColor(150, 150, 150)
	p.Text(margin, pageH-margin/2, fmt.Sprintf("%s  (%d points)", title, len(points)))

	if err := p.Output(w); err != nil {
		return fmt.Errorf("writing pdf: %w", err)
	}
	return nil
}

// transform maps canvas pixels to page millimetres.
type transform struct {
	scale    float64
	offX     float64
	offY     float64
	minX     float64
	minY     float64
	minWidth float64
}

func (t transform) at(x, y float64) (float64, float64) {
	return t.offX + (x-t.minX)*t.scale, t.offY + (y-t.minY)*t.scale
}

func (t transform) width(size float64) float64 {
	return math.Max(size*t.scale, t.minWidth)
}

func fitPage(points []state.DrawPoint) transform {
	t := transform{scale: 1, offX: margin, offY: margin, minWidth: 0.2}
	if len(points) == 0 {
		return t
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, dp := range points {
		pad := dp.Size / 2
		minX = math.Min(minX, dp.X-pad)
		minY = math.Min(minY, dp.Y-pad)
		maxX = math.Max(maxX, dp.X+pad)
		maxY = math.Max(maxY, dp.Y+pad)
	}
	w, h := math.Max(maxX-minX, 1), math.Max(maxY-minY, 1)
	availW, availH := pageW-2*margin, pageH-2*margin
	t.scale = math.Min(availW/w, availH/h)
	t.minX, t.minY = minX, minY
	t.offX = margin + (availW-w*t.scale)/2
	t.offY = margin + (availH-h*t.scale)/2
	return t
}

func drawPoint(p *gofpdf.Fpdf, t transform, dp state.DrawPoint) {
	c := parseColor(dp.Color)
	if dp.Brush == state.BrushEraser {
		c = background
	}
	x, y := t.at(dp.X, dp.Y)
	width := t.width(dp.Size)

	if !dp.IsConnected || dp.LastPoint == nil || !dp.Brush.Continuous() {
		stamp(p, dp.Brush, c, x, y, width)
		return
	}

	x0, y0 := t.at(dp.LastPoint.X, dp.LastPoint.Y)
	switch dp.Brush {
	case state.BrushNeon:
		// Wide translucent pass for the glow, then the core line.
		p.SetAlpha(0.35, "Normal")
		line(p, c, x0, y0, x, y, width*2.5)
		p.SetAlpha(1, "Normal")
		line(p, c, x0, y0, x, y, width)
	case state.BrushSpray:
		spray(p, c, x0, y0, x, y, width)
	default:
		line(p, c, x0, y0, x, y, width)
	}
}

func line(p *gofpdf.Fpdf, c rgb, x0, y0, x1, y1, width float64) {
	p.SetDrawColor(c.r, c.g, c.b)
	p.SetLineWidth(width)
	p.Line(x0, y0, x1, y1)
}

func stamp(p *gofpdf.Fpdf, brush state.Brush, c rgb, x, y, width float64) {
	p.SetFillColor(c.r, c.g, c.b)
	switch brush {
	case state.BrushSquare:
		p.Rect(x-width/2, y-width/2, width, width, "F")
	case state.BrushSpray:
		spray(p, c, x, y, x, y, width)
	default:
		p.Circle(x, y, width/2, "F")
	}
}

// spray scatters dots around the segment. The pattern is derived from the
// coordinates so the same canvas always renders the same way.
func spray(p *gofpdf.Fpdf, c rgb, x0, y0, x1, y1, width float64) {
	p.SetFillColor(c.r, c.g, c.b)
	dot := math.Max(width/10, 0.1)
	seed := uint32(math.Float64bits(x1*31+y1*17) >> 20)
	for i := 0; i < 12; i++ {
		seed = seed*1664525 + 1013904223
		f := float64(seed%1000) / 1000
		seed = seed*1664525 + 1013904223
		angle := float64(seed%628) / 100
		seed = seed*1664525 + 1013904223
		r := float64(seed%1000) / 1000 * width
		cx := x0 + (x1-x0)*f + math.Cos(angle)*r
		cy := y0 + (y1-y0)*f + math.Sin(angle)*r
		p.Circle(cx, cy, dot, "F")
	}
}

// parseColor reads #rgb, #rrggbb and rgb(r, g, b). Anything else renders
// white so it stays visible on the dark page.
func parseColor(s string) rgb {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case strings.HasPrefix(s, "#") && len(s) == 4:
		r, errR := strconv.ParseUint(s[1:2], 16, 8)
		g, errG := strconv.ParseUint(s[2:3], 16, 8)
		b, errB := strconv.ParseUint(s[3:4], 16, 8)
		if errR == nil && errG == nil && errB == nil {
			return rgb{int(r * 17), int(g * 17), int(b * 17)}
		}
	case strings.HasPrefix(s, "#") && len(s) == 7:
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err == nil {
			return rgb{int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)}
		}
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		parts := strings.Split(s[4:len(s)-1], ",")
		if len(parts) == 3 {
			var out [3]int
			ok := true
			for i, part := range parts {
				n, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil || n < 0 || n > 255 {
					ok = false
					break
				}
				out[i] = n
			}
			if ok {
				return rgb{out[0], out[1], out[2]}
			}
		}
	}
	return rgb{255, 255, 255}
}
