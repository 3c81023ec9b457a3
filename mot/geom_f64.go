package mot

import (
	"image"
	"math"
)

// Box is an axis-aligned bounding box in normalized image coordinates [0, 1].
type Box struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

func NewBox(xmin, ymin, xmax, ymax float64) Box {
	return Box{
		XMin: xmin,
		YMin: ymin,
		XMax: xmax,
		YMax: ymax,
	}
}

// NewBoxFrom normalizes pixel rectangle against the bounds of the frame it was detected on
func NewBoxFrom(rect image.Rectangle, frame image.Rectangle) Box {
	w := float64(frame.Dx())
	h := float64(frame.Dy())
	if w <= 0 || h <= 0 {
		return Box{}
	}
	return Box{
		XMin: float64(rect.Min.X-frame.Min.X) / w,
		YMin: float64(rect.Min.Y-frame.Min.Y) / h,
		XMax: float64(rect.Max.X-frame.Min.X) / w,
		YMax: float64(rect.Max.Y-frame.Min.Y) / h,
	}
}

// Width returns horizontal extent of the box
func (b Box) Width() float64 {
	return b.XMax - b.XMin
}

// Height returns vertical extent of the box
func (b Box) Height() float64 {
	return b.YMax - b.YMin
}

// Area returns box area. Inverted boxes have zero area
func (b Box) Area() float64 {
	return maxFloat64(0, b.Width()) * maxFloat64(0, b.Height())
}

// Center returns geometric center of the box
func (b Box) Center() Point {
	return NewPoint((b.XMin+b.XMax)/2.0, (b.YMin+b.YMax)/2.0)
}

// Valid reports whether all coordinates are finite and the box is not inverted
func (b Box) Valid() bool {
	for _, v := range [4]float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.XMax >= b.XMin && b.YMax >= b.YMin
}

// Clamp limits every coordinate to [0, 1]
func (b Box) Clamp() Box {
	return Box{
		XMin: clamp01(b.XMin),
		YMin: clamp01(b.YMin),
		XMax: clamp01(b.XMax),
		YMax: clamp01(b.YMax),
	}
}

// Array returns box as [xmin, ymin, xmax, ymax]
func (b Box) Array() [4]float64 {
	return [4]float64{b.XMin, b.YMin, b.XMax, b.YMax}
}

// Rectangle is an on-screen rectangle in pixels (CSS-like left/top/width/height).
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

func NewRectFrom(rect image.Rectangle) Rectangle {
	return Rectangle{
		X:      float64(rect.Min.X),
		Y:      float64(rect.Min.Y),
		Width:  float64(rect.Dx()),
		Height: float64(rect.Dy()),
	}
}

type Point struct {
	X float64
	Y float64
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

func clamp01(v float64) float64 {
	return minFloat64(1, maxFloat64(0, v))
}
