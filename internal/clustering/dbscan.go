// Package clustering partitions headline embedding vectors into dense groups
// using DBSCAN, and picks one representative member per group. Everything in
// this package is deterministic for a fixed input order: callers pass vectors
// sorted by ascending entry id, expansion visits indices in ascending order,
// and a border point reachable from two clusters joins the cluster whose
// expansion reaches it first.
package clustering

import "math"

// Noise marks a point assigned to no cluster.
const Noise = -1

// Cluster runs DBSCAN over points with the Euclidean metric.
//
// A point is a core point when at least minPoints other points lie within
// eps (distance compared inclusively). Clusters are the transitive closure
// of core points within eps of each other, plus any non-core point within
// eps of a core point (a border point). Points reachable from no core point
// are noise. With fewer than minPoints total points every point is noise.
//
// The returned slice holds one cluster id per point (Noise for noise);
// cluster ids are dense and start at 0 in order of discovery.
func Cluster(points [][]float32, eps float64, minPoints int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n < minPoints || n == 0 {
		return labels
	}

	visited := make([]bool, n)
	nextCluster := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minPoints {
			continue
		}

		cluster := nextCluster
		nextCluster++
		labels[i] = cluster

		// Seed-set expansion; the queue preserves discovery order so
		// border assignment stays reproducible.
		queue := append([]int(nil), neighbors...)
		for head := 0; head < len(queue); head++ {
			j := queue[head]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if visited[j] {
				continue
			}
			visited[j] = true

			jNeighbors := regionQuery(points, j, eps)
			if len(jNeighbors) >= minPoints {
				queue = append(queue, jNeighbors...)
			}
		}
	}

	return labels
}

// Groups converts per-point labels into clusters of point indices, ordered
// by cluster id with ascending indices inside each cluster.
func Groups(labels []int) [][]int {
	count := 0
	for _, label := range labels {
		if label >= count {
			count = label + 1
		}
	}

	groups := make([][]int, count)
	for i, label := range labels {
		if label == Noise {
			continue
		}
		groups[label] = append(groups[label], i)
	}
	return groups
}

// Centroid is the coordinate-wise arithmetic mean of the given vectors.
func Centroid(vectors [][]float32) []float64 {
	if len(vectors) == 0 {
		return nil
	}

	centroid := make([]float64, len(vectors[0]))
	for _, vector := range vectors {
		for d, value := range vector {
			centroid[d] += float64(value)
		}
	}
	for d := range centroid {
		centroid[d] /= float64(len(vectors))
	}
	return centroid
}

func regionQuery(points [][]float32, i int, eps float64) []int {
	neighbors := make([]int, 0, 8)
	for j := range points {
		if j == i {
			continue
		}
		if distance(points[i], points[j]) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

func distance(a, b []float32) float64 {
	var sum float64
	for d := range a {
		delta := float64(a[d]) - float64(b[d])
		sum += delta * delta
	}
	return math.Sqrt(sum)
}

func distanceToCentroid(vector []float32, centroid []float64) float64 {
	var sum float64
	for d := range vector {
		delta := float64(vector[d]) - centroid[d]
		sum += delta * delta
	}
	return math.Sqrt(sum)
}
