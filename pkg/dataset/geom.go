package dataset

import (
	"github.com/chewxy/math32"
)

// Box is a bounding box in normalized image coordinates.
// X,Y is the top-left corner. All values are in the range [0,1] once clipped.
type Box struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// BoxFromPixels converts an absolute pixel rectangle (x1,y1)-(x2,y2) into a normalized Box
func BoxFromPixels(x1, y1, x2, y2 float32, imageWidth, imageHeight int) Box {
	w := float32(imageWidth)
	h := float32(imageHeight)
	return Box{
		X:      x1 / w,
		Y:      y1 / h,
		Width:  (x2 - x1) / w,
		Height: (y2 - y1) / h,
	}
}

// BoxFromCenter builds a Box from a normalized center point and size (the YOLO convention)
func BoxFromCenter(cx, cy, width, height float32) Box {
	return Box{
		X:      cx - width/2,
		Y:      cy - height/2,
		Width:  width,
		Height: height,
	}
}

func (b Box) Area() float32 {
	return b.Width * b.Height
}

// Center returns the normalized center of the box
func (b Box) Center() (cx, cy float32) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

func (b Box) Intersection(o Box) Box {
	x1 := math32.Max(b.X, o.X)
	y1 := math32.Max(b.Y, o.Y)
	x2 := math32.Min(b.X+b.Width, o.X+o.Width)
	y2 := math32.Min(b.Y+b.Height, o.Y+o.Height)
	return Box{
		X:      x1,
		Y:      y1,
		Width:  math32.Max(0, x2-x1),
		Height: math32.Max(0, y2-y1),
	}
}

// Clip returns the part of the box that lies inside the unit square
func (b Box) Clip() Box {
	return b.Intersection(Box{X: 0, Y: 0, Width: 1, Height: 1})
}

// Valid returns true if the box has a positive area inside the image
func (b Box) Valid() bool {
	c := b.Clip()
	return c.Width > 0 && c.Height > 0 && !math32.IsNaN(c.Area())
}
