package wiki

import (
	"math"
	"sort"
)

// kmeansMaxIterations bounds Lloyd iterations. Chunk embeddings settle
// well before this on every corpus size the pipeline produces.
const kmeansMaxIterations = 25

// kmeans clusters unit vectors with Lloyd's algorithm. Seeding is
// deterministic: initial centroids are the vectors at evenly spaced
// positions in the input order, which the store keeps stable, so the
// same corpus always clusters the same way. Returns the cluster
// assignment per vector and the final centroids.
func kmeans(vectors [][]float32, k int) ([]int, [][]float32) {
	if len(vectors) == 0 || k <= 0 {
		return nil, nil
	}
	if k > len(vectors) {
		k = len(vectors)
	}

	centroids := make([][]float32, k)
	for i := range centroids {
		seed := vectors[(i*len(vectors))/k]
		centroids[i] = append([]float32(nil), seed...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for vi, v := range vectors {
			best, bestSim := 0, float64(math.Inf(-1))
			for ci, c := range centroids {
				if sim := dot(v, c); sim > bestSim {
					best, bestSim = ci, sim
				}
			}
			if assignments[vi] != best {
				assignments[vi] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, len(vectors[0]))
		}
		for vi, v := range vectors {
			ci := assignments[vi]
			counts[ci]++
			for d, x := range v {
				sums[ci][d] += float64(x)
			}
		}
		for ci := range centroids {
			if counts[ci] == 0 {
				// Empty cluster keeps its previous centroid.
				continue
			}
			mean := make([]float32, len(sums[ci]))
			for d, s := range sums[ci] {
				mean[d] = float32(s / float64(counts[ci]))
			}
			centroids[ci] = normalize(mean)
		}
	}
	return assignments, centroids
}

// nearestToCentroid returns the indexes of the count members closest to
// the centroid, best first. members holds indexes into vectors.
func nearestToCentroid(vectors [][]float32, centroid []float32, members []int, count int) []int {
	type scored struct {
		index int
		sim   float64
	}
	ranked := make([]scored, 0, len(members))
	for _, m := range members {
		ranked = append(ranked, scored{m, dot(vectors[m], centroid)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if len(ranked) > count {
		ranked = ranked[:count]
	}
	out := make([]int, len(ranked))
	for i, s := range ranked {
		out[i] = s.index
	}
	return out
}

// dot is the cosine similarity of two unit vectors. Mismatched lengths
// score zero, matching the retrieval engine's behavior.
func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize scales a vector to unit length. Zero vectors come back
// unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
