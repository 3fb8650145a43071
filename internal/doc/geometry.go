package doc

import "math"

// Point is a position in page space. Pages use PDF-style coordinates:
// the origin is the bottom-left corner of the page and Y grows upward.
type Point struct {
	X, Y float64
}

// BBox is an axis-aligned rectangle in page space, anchored at its
// bottom-left corner.
type BBox struct {
	X      float64 // left edge
	Y      float64 // bottom edge
	Width  float64
	Height float64
}

// NewBBox builds a box from its bottom-left corner and dimensions.
func NewBBox(x, y, width, height float64) BBox {
	return BBox{X: x, Y: y, Width: width, Height: height}
}

// NewBBoxFromCorners builds the box spanning two opposite corners.
func NewBBoxFromCorners(p1, p2 Point) BBox {
	return BBox{
		X:      math.Min(p1.X, p2.X),
		Y:      math.Min(p1.Y, p2.Y),
		Width:  math.Abs(p2.X - p1.X),
		Height: math.Abs(p2.Y - p1.Y),
	}
}

// Left returns the left edge X coordinate.
func (b BBox) Left() float64 { return b.X }

// Right returns the right edge X coordinate.
func (b BBox) Right() float64 { return b.X + b.Width }

// Bottom returns the bottom edge Y coordinate.
func (b BBox) Bottom() float64 { return b.Y }

// Top returns the top edge Y coordinate.
func (b BBox) Top() float64 { return b.Y + b.Height }

// Union returns the smallest box containing both boxes.
func (b BBox) Union(other BBox) BBox {
	x := math.Min(b.Left(), other.Left())
	y := math.Min(b.Bottom(), other.Bottom())
	right := math.Max(b.Right(), other.Right())
	top := math.Max(b.Top(), other.Top())
	return BBox{X: x, Y: y, Width: right - x, Height: top - y}
}

// Intersects reports whether the two boxes overlap.
func (b BBox) Intersects(other BBox) bool {
	return !(b.Right() < other.Left() ||
		b.Left() > other.Right() ||
		b.Top() < other.Bottom() ||
		b.Bottom() > other.Top())
}

// Expand grows the box by margin on all four sides.
func (b BBox) Expand(margin float64) BBox {
	return BBox{
		X:      b.X - margin,
		Y:      b.Y - margin,
		Width:  b.Width + 2*margin,
		Height: b.Height + 2*margin,
	}
}

// Clamp restricts the box to the page rectangle (0,0)-(width,height).
func (b BBox) Clamp(width, height float64) BBox {
	left := math.Max(b.Left(), 0)
	bottom := math.Max(b.Bottom(), 0)
	right := math.Min(b.Right(), width)
	top := math.Min(b.Top(), height)
	if right < left {
		right = left
	}
	if top < bottom {
		top = bottom
	}
	return BBox{X: left, Y: bottom, Width: right - left, Height: top - bottom}
}

// IsValid reports whether the box has positive dimensions.
func (b BBox) IsValid() bool {
	return b.Width > 0 && b.Height > 0
}

// Matrix is a 2D affine transformation in PDF order:
// [a b c d e f] maps (x, y) to (a*x+c*y+e, b*x+d*y+f).
type Matrix [6]float64

// Identity returns the identity matrix.
func Identity() Matrix {
	return Matrix{1, 0, 0, 1, 0, 0}
}

// Translate returns a translation matrix.
func Translate(tx, ty float64) Matrix {
	return Matrix{1, 0, 0, 1, tx, ty}
}

// Transform applies the matrix to a point.
func (m Matrix) Transform(p Point) Point {
	return Point{
		X: m[0]*p.X + m[2]*p.Y + m[4],
		Y: m[1]*p.X + m[3]*p.Y + m[5],
	}
}

// Multiply returns m * other, applying m first.
func (m Matrix) Multiply(other Matrix) Matrix {
	return Matrix{
		m[0]*other[0] + m[1]*other[2],
		m[0]*other[1] + m[1]*other[3],
		m[2]*other[0] + m[3]*other[2],
		m[2]*other[1] + m[3]*other[3],
		m[4]*other[0] + m[5]*other[2] + other[4],
		m[4]*other[1] + m[5]*other[3] + other[5],
	}
}

// ScaleX returns the magnitude of the matrix's X basis vector, the
// factor by which horizontal distances are scaled.
func (m Matrix) ScaleX() float64 {
	return math.Hypot(m[0], m[1])
}

// ScaleY returns the magnitude of the matrix's Y basis vector, the
// factor by which vertical distances are scaled.
func (m Matrix) ScaleY() float64 {
	return math.Hypot(m[2], m[3])
}
