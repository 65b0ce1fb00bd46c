// Package overlay draws detection feedback onto camera frames.
package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Feedback colors.
var (
	Green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Red    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// LineWidth is the default box outline thickness.
const LineWidth = 2

// drawHLine draws a horizontal line clipped to the image.
func drawHLine(dst draw.Image, x1, x2, y int, c color.Color) {
	b := dst.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	for x := x1; x <= x2; x++ {
		if x >= b.Min.X && x < b.Max.X {
			dst.Set(x, y, c)
		}
	}
}

// drawVLine draws a vertical line clipped to the image.
func drawVLine(dst draw.Image, y1, y2, x int, c color.Color) {
	b := dst.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	for y := y1; y <= y2; y++ {
		if y >= b.Min.Y && y < b.Max.Y {
			dst.Set(x, y, c)
		}
	}
}

// Box outlines r on dst.
func Box(dst draw.Image, r image.Rectangle, c color.Color, lineWidth int) {
	x1, y1 := r.Min.X, r.Min.Y
	x2, y2 := r.Max.X-1, r.Max.Y-1
	for w := 0; w < lineWidth; w++ {
		drawHLine(dst, x1, x2, y1+w, c)
		drawHLine(dst, x1, x2, y2-w, c)
		drawVLine(dst, y1, y2, x1+w, c)
		drawVLine(dst, y1, y2, x2-w, c)
	}
}

// Text draws s with its baseline starting at (x, y).
func Text(dst draw.Image, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// Label outlines r and writes s just above it, or inside the box when r
// touches the top edge.
func Label(dst draw.Image, r image.Rectangle, s string, c color.Color) {
	Box(dst, r, c, LineWidth)

	y := r.Min.Y - 4
	if y-basicfont.Face7x13.Ascent < dst.Bounds().Min.Y {
		y = r.Min.Y + basicfont.Face7x13.Ascent + LineWidth + 2
	}
	Text(dst, r.Min.X, y, s, c)
}
