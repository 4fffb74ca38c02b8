package clustering

import "time"

// Member is one clustered entry with the metadata needed for deterministic
// representative selection.
type Member struct {
	EntryID     int64
	Href        string
	PublishedAt time.Time
	Vector      []float32
}

// Representative returns the index of the member closest to the cluster
// centroid. When two members sit at exactly the same distance, the earlier
// published one wins; a remaining tie goes to the lexicographically smallest
// href. The order is total, so any non-empty cluster has a single winner.
func Representative(members []Member) int {
	vectors := make([][]float32, len(members))
	for i, member := range members {
		vectors[i] = member.Vector
	}
	centroid := Centroid(vectors)

	best := 0
	bestDistance := distanceToCentroid(members[0].Vector, centroid)
	for i := 1; i < len(members); i++ {
		d := distanceToCentroid(members[i].Vector, centroid)
		switch {
		case d < bestDistance:
			best, bestDistance = i, d
		case d == bestDistance && beats(members[i], members[best]):
			best = i
		}
	}
	return best
}

func beats(candidate, incumbent Member) bool {
	if !candidate.PublishedAt.Equal(incumbent.PublishedAt) {
		return candidate.PublishedAt.Before(incumbent.PublishedAt)
	}
	return candidate.Href < incumbent.Href
}
