package geometry

import (
	"math"
)

// Quad is a convex quadrilateral ordered as top-left, top-right,
// bottom-right, bottom-left.
type Quad [4]Point2D

// OrderQuad orders four arbitrary corner points into Quad order.
// The top-left corner has the smallest x+y sum, the bottom-right the
// largest; the top-right has the smallest y-x difference, the
// bottom-left the largest.
func OrderQuad(pts [4]Point2D) Quad {
	var q Quad

	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)

	for _, p := range pts {
		sum := p.X + p.Y
		diff := p.Y - p.X
		if sum < minSum {
			minSum = sum
			q[0] = p // top-left
		}
		if sum > maxSum {
			maxSum = sum
			q[2] = p // bottom-right
		}
		if diff < minDiff {
			minDiff = diff
			q[1] = p // top-right
		}
		if diff > maxDiff {
			maxDiff = diff
			q[3] = p // bottom-left
		}
	}

	return q
}

// Width returns the longer of the quad's top and bottom edges.
func (q Quad) Width() float64 {
	top := q[0].Distance(q[1])
	bottom := q[3].Distance(q[2])
	return math.Max(top, bottom)
}

// Height returns the longer of the quad's left and right edges.
func (q Quad) Height() float64 {
	left := q[0].Distance(q[3])
	right := q[1].Distance(q[2])
	return math.Max(left, right)
}

// Area returns the quad area via the shoelace formula.
func (q Quad) Area() float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		sum += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(sum) / 2
}
