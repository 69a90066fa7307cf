package scenes

import (
	"image"
	"image/color"
	"math"
)

// ColorSampler returns the mean color of rect within img.
type ColorSampler interface {
	SampleColor(img image.Image, rect image.Rectangle) color.RGBA
}

// ImageSampler averages pixels directly from an image.Image.
type ImageSampler struct{}

// SampleColor returns the mean RGBA of rect. An empty rect yields the zero
// color.
func (ImageSampler) SampleColor(img image.Image, rect image.Rectangle) color.RGBA {
	if img == nil {
		return color.RGBA{}
	}
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return color.RGBA{}
	}

	var r, g, b, a uint64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			cr, cg, cb, ca := img.At(x, y).RGBA()
			r += uint64(cr >> 8)
			g += uint64(cg >> 8)
			b += uint64(cb >> 8)
			a += uint64(ca >> 8)
		}
	}
	n := uint64(rect.Dx() * rect.Dy())
	return color.RGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: uint8(a / n)}
}

// Orientation returns the principal axis angle of rect in degrees from the
// second order central moments of its luminance. Black, empty and
// rotationally symmetric regions yield 0.
func Orientation(img image.Image, rect image.Rectangle) float64 {
	if img == nil {
		return 0
	}
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return 0
	}

	var m00, m10, m01 float64
	lum := make([]float64, 0, rect.Dx()*rect.Dy())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			v := float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
			lum = append(lum, v)
			m00 += v
			m10 += float64(x) * v
			m01 += float64(y) * v
		}
	}
	if m00 == 0 {
		return 0
	}
	cx, cy := m10/m00, m01/m00

	var mu20, mu02, mu11 float64
	i := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			v := lum[i]
			i++
			dx, dy := float64(x)-cx, float64(y)-cy
			mu20 += dx * dx * v
			mu02 += dy * dy * v
			mu11 += dx * dy * v
		}
	}
	if mu11 == 0 && mu20 == mu02 {
		return 0
	}
	return 0.5 * math.Atan2(2*mu11, mu20-mu02) * 180 / math.Pi
}
