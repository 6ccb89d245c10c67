package frame

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/disintegration/imaging"
)

// Region selects the part of a frame handed to a decoder
type Region int

const (
	RegionFull Region = iota
	RegionCenter80
	RegionCenter60
	RegionTopLeft
	RegionTopRight
	RegionBottomLeft
	RegionBottomRight
)

// Regions lists every region, cheapest and likeliest first.
var Regions = []Region{
	RegionFull,
	RegionCenter80,
	RegionCenter60,
	RegionTopLeft,
	RegionTopRight,
	RegionBottomLeft,
	RegionBottomRight,
}

func (r Region) String() string {
	switch r {
	case RegionFull:
		return "full"
	case RegionCenter80:
		return "center80"
	case RegionCenter60:
		return "center60"
	case RegionTopLeft:
		return "top-left"
	case RegionTopRight:
		return "top-right"
	case RegionBottomLeft:
		return "bottom-left"
	case RegionBottomRight:
		return "bottom-right"
	default:
		return "unknown"
	}
}

// Bounds returns the rectangle of b covered by the region.
func (r Region) Bounds(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()

	centered := func(percent int) image.Rectangle {
		cw, ch := w*percent/100, h*percent/100
		x := b.Min.X + (w-cw)/2
		y := b.Min.Y + (h-ch)/2
		return image.Rect(x, y, x+cw, y+ch)
	}

	cw, ch := w*70/100, h*70/100
	switch r {
	case RegionCenter80:
		return centered(80)
	case RegionCenter60:
		return centered(60)
	case RegionTopLeft:
		return image.Rect(b.Min.X, b.Min.Y, b.Min.X+cw, b.Min.Y+ch)
	case RegionTopRight:
		return image.Rect(b.Max.X-cw, b.Min.Y, b.Max.X, b.Min.Y+ch)
	case RegionBottomLeft:
		return image.Rect(b.Min.X, b.Max.Y-ch, b.Min.X+cw, b.Max.Y)
	case RegionBottomRight:
		return image.Rect(b.Max.X-cw, b.Max.Y-ch, b.Max.X, b.Max.Y)
	default:
		return b
	}
}

// Contrast selects the per-channel transform applied after cropping
type Contrast int

const (
	ContrastNormal Contrast = iota
	ContrastEnhanced
)

// Contrasts lists both modes, normal first.
var Contrasts = []Contrast{ContrastNormal, ContrastEnhanced}

func (c Contrast) String() string {
	if c == ContrastEnhanced {
		return "enhanced"
	}
	return "normal"
}

// Rotation is a clockwise rotation in degrees
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Rotations lists the four orientations, upright first.
var Rotations = []Rotation{Rotate0, Rotate90, Rotate180, Rotate270}

const contrastFactor = 1.3

var enhanceTable = buildEnhanceTable()

func buildEnhanceTable() [256]uint8 {
	var t [256]uint8
	for v := 0; v < 256; v++ {
		out := math.Round(float64(v)*contrastFactor + 128*(1-contrastFactor))
		t[v] = uint8(math.Max(0, math.Min(255, out)))
	}
	return t
}

// Enhance applies the enhanced-contrast transform to a single channel value.
func Enhance(v uint8) uint8 {
	return enhanceTable[v]
}

// Sample crops img to region and applies the contrast mode. The input is
// never modified.
func Sample(img image.Image, region Region, contrast Contrast) image.Image {
	cropped := imaging.Crop(img, region.Bounds(img.Bounds()))
	if contrast != ContrastEnhanced {
		return cropped
	}
	return adjust.Apply(cropped, func(c color.RGBA) color.RGBA {
		return color.RGBA{
			R: enhanceTable[c.R],
			G: enhanceTable[c.G],
			B: enhanceTable[c.B],
			A: c.A,
		}
	})
}

// Rotate returns img turned clockwise by r.
func Rotate(img image.Image, r Rotation) image.Image {
	switch r {
	case Rotate90:
		return imaging.Rotate270(img)
	case Rotate180:
		return imaging.Rotate180(img)
	case Rotate270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
