package mot

// IoU calculates Intersection over Union between two normalized boxes.
// Intersection sides are clamped to zero, so disjoint boxes give 0.
// Degenerate pair (zero union) gives 0 as well.
func IoU(b1, b2 Box) float64 {
	xA := maxFloat64(b1.XMin, b2.XMin)
	yA := maxFloat64(b1.YMin, b2.YMin)
	xB := minFloat64(b1.XMax, b2.XMax)
	yB := minFloat64(b1.YMax, b2.YMax)

	interArea := maxFloat64(0, xB-xA) * maxFloat64(0, yB-yA)
	union := b1.Area() + b2.Area() - interArea
	if union <= 0 {
		return 0.0
	}
	return interArea / union
}

func maxFloat64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
