package detector

import "sort"

// nms performs per-class Non-Maximum Suppression on detection boxes.
// Boxes of different classes never suppress each other.
func nms(boxes []BoundingBox, iouThreshold float64) []BoundingBox {
	if len(boxes) == 0 {
		return boxes
	}

	sorted := make([]BoundingBox, len(boxes))
	copy(sorted, boxes)
	// Sort by score (descending)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	keep := make([]bool, len(sorted))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(sorted); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if !keep[j] || sorted[i].Class != sorted[j].Class {
				continue
			}
			if iou(sorted[i], sorted[j]) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]BoundingBox, 0, len(sorted))
	for i, b := range sorted {
		if keep[i] {
			result = append(result, b)
		}
	}

	return result
}

// iou calculates Intersection over Union of two bounding boxes
func iou(a, b BoundingBox) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x1 >= x2 || y1 >= y2 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}
