package palette

import (
	"fmt"
	"math"
	"math/rand"

	"cover-palette/pkg/utils"
)

// Point is one colour in RGB space
type Point [3]float64

// Options tune a k-means run
type Options struct {
	K             int
	Seed          int64
	MaxIterations int
	Tolerance     float64 // Stop once no centre moves more than this (squared distance)
}

// Clustering is the outcome of KMeans over a set of points
type Clustering struct {
	Centers    []Point // len K
	Labels     []int   // One per input point, each in [0, K)
	Counts     []int   // Points per centre, sums to len(Labels)
	Iterations int
}

// KMeans partitions points into opt.K clusters minimising within-cluster squared distance.
//
// Seeding is k-means++ from opt.Seed, so equal inputs give equal outputs. Identical points
// are clustered once with their multiplicity as weight. A point equidistant from several
// centres joins the lowest index. A centre left empty during iteration is moved to the
// point farthest from its own centre. When there are fewer distinct points than K the
// surplus centres duplicate existing ones and end up empty.
func KMeans(points []Point, opt Options) (Clustering, error) {
	if opt.K < 1 {
		return Clustering{}, fmt.Errorf("%w: k-means needs at least one cluster, got %d", utils.ErrConfigValidation, opt.K)
	}
	if len(points) == 0 {
		return Clustering{}, ErrEmptyImage
	}
	if opt.MaxIterations < 1 {
		opt.MaxIterations = 1
	}

	uniq, weights, index := dedupe(points)
	rng := rand.New(rand.NewSource(opt.Seed))
	centers := seedPlusPlus(uniq, weights, opt.K, rng)

	labels := make([]int, len(uniq))
	dist := make([]float64, len(uniq))
	iterations := 0
	for iterations < opt.MaxIterations {
		iterations++
		assign(uniq, centers, labels, dist)
		next := update(uniq, weights, labels, dist, centers)

		shift := 0.0
		for j := range centers {
			shift = math.Max(shift, sqDist(centers[j], next[j]))
		}
		centers = next
		if shift <= opt.Tolerance {
			break
		}
	}

	// Final labels always agree with the returned centres
	assign(uniq, centers, labels, dist)

	out := Clustering{
		Centers:    centers,
		Labels:     make([]int, len(points)),
		Counts:     make([]int, opt.K),
		Iterations: iterations,
	}
	for i, u := range index {
		out.Labels[i] = labels[u]
		out.Counts[labels[u]]++
	}
	return out, nil
}

// dedupe collapses repeated points. index maps each input point to its unique slot;
// unique points keep first-occurrence order.
func dedupe(points []Point) (uniq []Point, weights []float64, index []int) {
	slot := make(map[Point]int)
	index = make([]int, len(points))
	for i, p := range points {
		s, ok := slot[p]
		if !ok {
			s = len(uniq)
			slot[p] = s
			uniq = append(uniq, p)
			weights = append(weights, 0)
		}
		weights[s]++
		index[i] = s
	}
	return uniq, weights, index
}

// seedPlusPlus picks k initial centres, each new one with probability proportional to
// weight times squared distance from the nearest centre chosen so far.
func seedPlusPlus(points []Point, weights []float64, k int, rng *rand.Rand) []Point {
	centers := make([]Point, 0, k)
	centers = append(centers, points[weightedPick(weights, rng)])

	nearest := make([]float64, len(points))
	for i, p := range points {
		nearest[i] = sqDist(p, centers[0])
	}
	score := make([]float64, len(points))
	for len(centers) < k {
		total := 0.0
		for i := range points {
			score[i] = weights[i] * nearest[i]
			total += score[i]
		}
		var c Point
		if total == 0 {
			// Every point coincides with a centre already
			c = centers[0]
		} else {
			c = points[pick(score, total, rng)]
		}
		centers = append(centers, c)
		for i, p := range points {
			if d := sqDist(p, c); d < nearest[i] {
				nearest[i] = d
			}
		}
	}
	return centers
}

func weightedPick(weights []float64, rng *rand.Rand) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return pick(weights, total, rng)
}

// pick draws index i with probability score[i]/total
func pick(score []float64, total float64, rng *rand.Rand) int {
	r := rng.Float64() * total
	acc := 0.0
	last := 0
	for i, s := range score {
		if s <= 0 {
			continue
		}
		acc += s
		last = i
		if r < acc {
			return i
		}
	}
	return last
}

// assign labels each point with its nearest centre, ties to the lower index
func assign(points, centers []Point, labels []int, dist []float64) {
	for i, p := range points {
		best, bestD := 0, sqDist(p, centers[0])
		for j := 1; j < len(centers); j++ {
			if d := sqDist(p, centers[j]); d < bestD {
				best, bestD = j, d
			}
		}
		labels[i] = best
		dist[i] = bestD
	}
}

// update returns the weighted mean of each cluster. Empty clusters take the point
// farthest from its centre; with no such point left they keep their old position.
func update(points []Point, weights []float64, labels []int, dist []float64, old []Point) []Point {
	k := len(old)
	sums := make([]Point, k)
	mass := make([]float64, k)
	for i, p := range points {
		l := labels[i]
		w := weights[i]
		sums[l][0] += p[0] * w
		sums[l][1] += p[1] * w
		sums[l][2] += p[2] * w
		mass[l] += w
	}

	next := make([]Point, k)
	var taken map[int]bool
	for j := range next {
		if mass[j] > 0 {
			next[j] = Point{sums[j][0] / mass[j], sums[j][1] / mass[j], sums[j][2] / mass[j]}
			continue
		}
		if taken == nil {
			taken = make(map[int]bool)
		}
		far, farD := -1, 0.0
		for i, d := range dist {
			if d > farD && !taken[i] {
				far, farD = i, d
			}
		}
		if far < 0 {
			next[j] = old[j]
			continue
		}
		taken[far] = true
		next[j] = points[far]
	}
	return next
}

func sqDist(a, b Point) float64 {
	d0, d1, d2 := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return d0*d0 + d1*d1 + d2*d2
}
