package snapshot

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/sightline.report/internal/vision/detect"
)

const (
	outlineWidth = 2
	labelPadding = 2
)

var classColors = map[string]color.RGBA{
	"person":     {R: 230, G: 25, B: 75, A: 255},
	"car":        {R: 0, G: 130, B: 200, A: 255},
	"truck":      {R: 245, G: 130, B: 48, A: 255},
	"bus":        {R: 255, G: 225, B: 25, A: 255},
	"motorcycle": {R: 145, G: 30, B: 180, A: 255},
	"bicycle":    {R: 60, G: 180, B: 75, A: 255},
	"cat":        {R: 240, G: 50, B: 230, A: 255},
	"dog":        {R: 170, G: 110, B: 40, A: 255},
}

// palette colors classes without a fixed entry.
var palette = []color.RGBA{
	{R: 70, G: 240, B: 240, A: 255},
	{R: 210, G: 245, B: 60, A: 255},
	{R: 250, G: 190, B: 212, A: 255},
	{R: 0, G: 128, B: 128, A: 255},
	{R: 220, G: 190, B: 255, A: 255},
	{R: 128, G: 0, B: 0, A: 255},
	{R: 170, G: 255, B: 195, A: 255},
	{R: 128, G: 128, B: 0, A: 255},
}

// ClassColor returns the outline color for class. Unknown classes hash into
// a fixed palette so a class keeps its color across frames.
func ClassColor(class string) color.RGBA {
	if c, ok := classColors[class]; ok {
		return c
	}
	h := fnv.New32a()
	h.Write([]byte(class))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Label renders the caption drawn above a detection.
func Label(d detect.Detection) string {
	return fmt.Sprintf("%s %d%%", d.Class, int(math.Round(d.Confidence*100)))
}

// Annotate returns an RGBA copy of img with every detection outlined and
// labelled. img is not modified.
func Annotate(img image.Image, dets []detect.Detection) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	for _, d := range dets {
		rect := d.Box.Rect().Intersect(bounds)
		if rect.Empty() {
			continue
		}
		c := ClassColor(d.Class)
		drawOutline(out, rect, c)
		drawLabel(out, face, rect, Label(d), c)
	}
	return out
}

func drawOutline(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	src := image.NewUniform(c)
	w := outlineWidth
	if r.Dx() < 2*w || r.Dy() < 2*w {
		draw.Draw(dst, r, src, image.Point{}, draw.Src)
		return
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w),
		image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y),
		image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

// drawLabel fills a background strip in the class color and writes text on
// it. The strip sits above the box, or inside its top edge when the box
// touches the top of the frame.
func drawLabel(dst *image.RGBA, face font.Face, box image.Rectangle, text string, c color.RGBA) {
	metrics := face.Metrics()
	height := (metrics.Ascent + metrics.Descent).Ceil() + 2*labelPadding
	width := font.MeasureString(face, text).Ceil() + 2*labelPadding

	top := box.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = box.Min.Y
	}
	strip := image.Rect(box.Min.X, top, box.Min.X+width, top+height).Intersect(dst.Bounds())
	if strip.Empty() {
		return
	}
	draw.Draw(dst, strip, image.NewUniform(c), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor(c)),
		Face: face,
		Dot:  fixed.P(strip.Min.X+labelPadding, top+labelPadding+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
}

// textColor picks black or white for contrast against bg.
func textColor(bg color.RGBA) color.Color {
	luma := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if luma > 150 {
		return color.Black
	}
	return color.White
}
