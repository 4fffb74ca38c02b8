package clustering

// Silhouette computes the mean silhouette coefficient over all clustered
// points, ignoring noise. Values fall in [-1, 1]; higher means tighter,
// better separated clusters. With fewer than two clusters the coefficient
// is undefined and 0 is returned. Singleton clusters contribute 0 per the
// usual convention.
func Silhouette(points [][]float32, labels []int) float64 {
	groups := Groups(labels)
	populated := 0
	for _, group := range groups {
		if len(group) > 0 {
			populated++
		}
	}
	if populated < 2 {
		return 0
	}

	var total float64
	var counted int
	for i, label := range labels {
		if label == Noise {
			continue
		}

		own := groups[label]
		if len(own) == 1 {
			counted++
			continue
		}

		a := meanDistance(points, i, own)

		b := -1.0
		for other, group := range groups {
			if other == label || len(group) == 0 {
				continue
			}
			d := meanDistance(points, i, group)
			if b < 0 || d < b {
				b = d
			}
		}

		denominator := a
		if b > denominator {
			denominator = b
		}
		if denominator > 0 {
			total += (b - a) / denominator
		}
		counted++
	}

	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

func meanDistance(points [][]float32, i int, group []int) float64 {
	var sum float64
	var n int
	for _, j := range group {
		if j == i {
			continue
		}
		sum += distance(points[i], points[j])
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
