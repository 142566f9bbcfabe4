package relevance

import (
	"math/rand/v2"
)

// kmeans partitions points into k non-empty groups and returns the label of
// each point plus the final centroids. Identical inputs and seed always give
// identical output. Point order is the tie-breaker everywhere.
func kmeans(points [][]float64, k int, seed uint64, maxIter int) ([]int, [][]float64) {
	n := len(points)
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}
	if maxIter <= 0 {
		maxIter = 100
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	centroids := seedCentroids(points, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := assign(points, centroids, labels)
		repairEmpty(points, centroids, labels, k)
		centroids = recompute(points, labels, k, len(points[0]))
		if !changed && iter > 0 {
			break
		}
	}

	// Final assignment against the settled centroids, then make sure no group
	// went empty along the way.
	assign(points, centroids, labels)
	if repairEmpty(points, centroids, labels, k) {
		centroids = recompute(points, labels, k, len(points[0]))
	}
	return labels, centroids
}

// seedCentroids implements k-means++ seeding. When every remaining point
// coincides with a chosen centroid the lowest unchosen index is used.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	chosen := make([]bool, n)
	centroids := make([][]float64, 0, k)

	first := rng.IntN(n)
	chosen[first] = true
	centroids = append(centroids, clone(points[first]))

	dist := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			if chosen[i] {
				dist[i] = 0
				continue
			}
			best := squaredDistance(p, centroids[0])
			for _, c := range centroids[1:] {
				if d := squaredDistance(p, c); d < best {
					best = d
				}
			}
			dist[i] = best
			total += best
		}

		next := -1
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i := range points {
				if chosen[i] || dist[i] == 0 {
					continue
				}
				acc += dist[i]
				next = i
				if acc >= target {
					break
				}
			}
		}
		if next < 0 {
			for i := range points {
				if !chosen[i] {
					next = i
					break
				}
			}
		}

		chosen[next] = true
		centroids = append(centroids, clone(points[next]))
	}
	return centroids
}

// assign labels each point with its nearest centroid, lowest centroid index on
// ties, and reports whether any label changed.
func assign(points, centroids [][]float64, labels []int) bool {
	changed := false
	for i, p := range points {
		best, bestDist := 0, squaredDistance(p, centroids[0])
		for c := 1; c < len(centroids); c++ {
			if d := squaredDistance(p, centroids[c]); d < bestDist {
				best, bestDist = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// repairEmpty moves, for every empty group, the point farthest from its own
// centroid out of a group that has more than one member. Returns true when a
// label was moved.
func repairEmpty(points, centroids [][]float64, labels []int, k int) bool {
	moved := false
	for {
		sizes := make([]int, k)
		for _, l := range labels {
			sizes[l]++
		}

		empty := -1
		for c, size := range sizes {
			if size == 0 {
				empty = c
				break
			}
		}
		if empty < 0 {
			return moved
		}

		donor, donorDist := -1, -1.0
		for i, p := range points {
			if sizes[labels[i]] < 2 {
				continue
			}
			if d := squaredDistance(p, centroids[labels[i]]); d > donorDist {
				donor, donorDist = i, d
			}
		}
		if donor < 0 {
			return moved
		}

		labels[donor] = empty
		centroids[empty] = clone(points[donor])
		moved = true
	}
}

func recompute(points [][]float64, labels []int, k, dim int) [][]float64 {
	centroids := make([][]float64, k)
	counts := make([]int, k)
	for c := range centroids {
		centroids[c] = make([]float64, dim)
	}
	for i, p := range points {
		c := labels[i]
		counts[c]++
		for j, x := range p {
			centroids[c][j] += x
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for j := range centroids[c] {
			centroids[c][j] /= float64(counts[c])
		}
	}
	return centroids
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
