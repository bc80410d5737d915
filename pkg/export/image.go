package export

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"

	"git.sr.ht/~sbinet/gg"
	svg "github.com/ajstarks/svgo"
	"golang.org/x/image/font/basicfont"
)

// PictureOptions controls SVG and PNG export.
type PictureOptions struct {
	Path   string // output path; format inferred from extension when Format empty
	Format string // "svg" or "png" (case-insensitive)
}

const (
	pictureMargin = 24
	headerHeight  = 56
	rowHeight     = 20
	indentWidth   = 18
	charWidth     = 7 // basicfont.Face7x13
	maxNameChars  = 60
	maxDetailChar = 24
)

var (
	colorBackdrop = color.RGBA{0xf9, 0xfa, 0xfb, 0xff}
	colorHeaderBG = color.RGBA{0xf3, 0xf4, 0xf6, 0xff}
	colorStroke   = color.RGBA{0x22, 0x22, 0x22, 0xff}
	colorGuide    = color.RGBA{0xb0, 0xb8, 0xc8, 0xff}
	colorBranch   = color.RGBA{0x6b, 0x47, 0xd9, 0xff}
	colorText     = color.RGBA{0x11, 0x11, 0x11, 0xff}
	colorSubtle   = color.RGBA{0x66, 0x66, 0x66, 0xff}
	colorStripe   = color.RGBA{0xee, 0xf0, 0xf4, 0xff}
)

// pictureLayout places every row on a fixed grid.
type pictureLayout struct {
	Width, Height int
	DetailX       int
	Rows          []pictureRow
}

type pictureRow struct {
	X, Y     int // indicator position
	ParentX  int // x of the parent's guide, -1 for top level
	ParentY  int
	Name     string
	Detail   string
	Expanded bool
	Leaf     bool
}

func layoutSnapshot(s Snapshot) pictureLayout {
	maxLevel := max(s.Summary().MaxDepth, 1)
	nameX := pictureMargin + maxLevel*indentWidth + 16
	l := pictureLayout{DetailX: nameX + maxNameChars*charWidth + 16}
	l.Width = l.DetailX + pictureMargin
	if s.Secondary != "" {
		l.Width += maxDetailChar * charWidth
	}

	// parentAt[level] is the index of the latest row at that level.
	parentAt := map[int]int{}
	for i, r := range s.Rows {
		pr := pictureRow{
			X:        pictureMargin + max(r.Level-1, 0)*indentWidth,
			Y:        pictureMargin + headerHeight + i*rowHeight + rowHeight/2,
			ParentX:  -1,
			Name:     truncate(r.Column1, maxNameChars),
			Detail:   truncate(r.Column2, maxDetailChar),
			Expanded: r.Expanded,
			Leaf:     !r.Expandable,
		}
		if p, ok := parentAt[r.Level-1]; ok && r.Level > 1 {
			pr.ParentX = l.Rows[p].X + 4
			pr.ParentY = l.Rows[p].Y
		}
		parentAt[r.Level] = i
		l.Rows = append(l.Rows, pr)
	}
	l.Height = pictureMargin*2 + headerHeight + max(len(s.Rows), 1)*rowHeight
	return l
}

// SavePicture renders the snapshot as SVG or PNG.
func SavePicture(s Snapshot, opts PictureOptions) error {
	format := strings.ToLower(strings.TrimPrefix(opts.Format, "."))
	if format == "" {
		switch strings.ToLower(filepath.Ext(opts.Path)) {
		case ".png":
			format = "png"
		default:
			format = "svg"
		}
	}
	if format != "svg" && format != "png" {
		return fmt.Errorf("unsupported format %q (want svg or png)", format)
	}
	if opts.Path == "" {
		return fmt.Errorf("output path is required")
	}

	layout := layoutSnapshot(s)
	if format == "png" {
		return renderPNG(s, layout, opts.Path)
	}
	file, err := os.Create(opts.Path)
	if err != nil {
		return err
	}
	if err := WriteSVG(file, s); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func renderPNG(s Snapshot, layout pictureLayout, path string) error {
	dc := gg.NewContext(layout.Width, layout.Height)
	dc.SetColor(colorBackdrop)
	dc.Clear()

	dc.SetColor(colorHeaderBG)
	dc.DrawRoundedRectangle(12, 12, float64(layout.Width)-24, headerHeight, 10)
	dc.Fill()

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(colorText)
	dc.DrawStringAnchored(headerTitle(s), pictureMargin, 32, 0, 0.5)
	dc.SetColor(colorSubtle)
	dc.DrawStringAnchored(headerLine(s), pictureMargin, 52, 0, 0.5)

	for i, r := range layout.Rows {
		if i%2 == 1 {
			dc.SetColor(colorStripe)
			dc.DrawRectangle(12, float64(r.Y-rowHeight/2), float64(layout.Width-24), rowHeight)
			dc.Fill()
		}
		if r.ParentX >= 0 {
			dc.SetColor(colorGuide)
			dc.SetLineWidth(1)
			dc.DrawLine(float64(r.ParentX), float64(r.ParentY+6), float64(r.ParentX), float64(r.Y))
			dc.DrawLine(float64(r.ParentX), float64(r.Y), float64(r.X), float64(r.Y))
			dc.Stroke()
		}
		drawIndicator(dc, r)
		dc.SetColor(colorText)
		dc.DrawStringAnchored(r.Name, float64(r.X+14), float64(r.Y), 0, 0.35)
		if s.Secondary != "" && r.Detail != "" {
			dc.SetColor(colorSubtle)
			dc.DrawStringAnchored(r.Detail, float64(layout.DetailX), float64(r.Y), 0, 0.35)
		}
	}
	return dc.SavePNG(path)
}

func drawIndicator(dc *gg.Context, r pictureRow) {
	x, y := float64(r.X), float64(r.Y)
	switch {
	case r.Leaf:
		dc.SetColor(colorSubtle)
		dc.DrawCircle(x+4, y, 2.5)
		dc.Fill()
	case r.Expanded:
		dc.SetColor(colorBranch)
		dc.NewSubPath()
		dc.MoveTo(x, y-3)
		dc.LineTo(x+8, y-3)
		dc.LineTo(x+4, y+4)
		dc.ClosePath()
		dc.Fill()
	default:
		dc.SetColor(colorBranch)
		dc.NewSubPath()
		dc.MoveTo(x, y-4)
		dc.LineTo(x+7, y)
		dc.LineTo(x, y+4)
		dc.ClosePath()
		dc.Fill()
	}
}

// WriteSVG renders the snapshot as SVG to w.
func WriteSVG(w io.Writer, s Snapshot) error {
	layout := layoutSnapshot(s)
	canvas := svg.New(w)
	canvas.Start(layout.Width, layout.Height)
	canvas.Rect(0, 0, layout.Width, layout.Height, fmt.Sprintf("fill:%s", css(colorBackdrop)))
	canvas.Roundrect(12, 12, layout.Width-24, headerHeight, 10, 10, fmt.Sprintf("fill:%s", css(colorHeaderBG)))
	canvas.Text(pictureMargin, 36, headerTitle(s), fmt.Sprintf("fill:%s;font-size:16px;font-family:monospace;font-weight:bold", css(colorText)))
	canvas.Text(pictureMargin, 56, headerLine(s), fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace", css(colorSubtle)))

	for i, r := range layout.Rows {
		if i%2 == 1 {
			canvas.Rect(12, r.Y-rowHeight/2, layout.Width-24, rowHeight, fmt.Sprintf("fill:%s", css(colorStripe)))
		}
		if r.ParentX >= 0 {
			canvas.Polyline([]int{r.ParentX, r.ParentX, r.X}, []int{r.ParentY + 6, r.Y, r.Y},
				fmt.Sprintf("fill:none;stroke:%s;stroke-width:1", css(colorGuide)))
		}
		switch {
		case r.Leaf:
			canvas.Circle(r.X+4, r.Y, 3, fmt.Sprintf("fill:%s", css(colorSubtle)))
		case r.Expanded:
			canvas.Polygon([]int{r.X, r.X + 8, r.X + 4}, []int{r.Y - 3, r.Y - 3, r.Y + 4}, fmt.Sprintf("fill:%s", css(colorBranch)))
		default:
			canvas.Polygon([]int{r.X, r.X + 7, r.X}, []int{r.Y - 4, r.Y, r.Y + 4}, fmt.Sprintf("fill:%s", css(colorBranch)))
		}
		canvas.Text(r.X+14, r.Y+4, r.Name, fmt.Sprintf("fill:%s;font-size:13px;font-family:monospace", css(colorText)))
		if s.Secondary != "" && r.Detail != "" {
			canvas.Text(layout.DetailX, r.Y+4, r.Detail, fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace", css(colorSubtle)))
		}
	}
	canvas.Line(12, layout.Height-12, layout.Width-12, layout.Height-12, fmt.Sprintf("stroke:%s;stroke-width:0.5", css(colorStroke)))
	canvas.End()
	return nil
}

func headerTitle(s Snapshot) string {
	if s.Title != "" {
		return s.Title
	}
	return s.Primary
}

func headerLine(s Snapshot) string {
	sum := s.Summary()
	return fmt.Sprintf("rows: %d  top level: %d  expanded: %d  depth: %d", sum.Rows, sum.TopLevel, sum.Expanded, sum.MaxDepth)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func css(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
