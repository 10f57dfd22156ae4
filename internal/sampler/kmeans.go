package sampler

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/muesli/clusters"
	"gonum.org/v1/gonum/floats"

	"github.com/keagan/framesampler/internal/features"
)

var (
	// ErrNoFeatures is returned when there is nothing to cluster
	ErrNoFeatures = errors.New("no feature vectors to cluster")
	// ErrTooFewFrames is returned when k exceeds the number of decoded frames
	ErrTooFewFrames = errors.New("more clusters than decoded frames")
)

// KMeans is a seeded mini-batch k-means. Given the same seed and input it always
// produces the same partition.
type KMeans struct {
	K         int
	BatchSize int
	// MaxIter bounds the number of mini-batch steps, each drawing BatchSize
	// samples. It does not count full passes over the data: with 1000 frames and
	// a batch of 256, MaxIter 100 is roughly 25 epochs. Defaults to 100.
	MaxIter          int
	Tolerance        float64
	MaxNoImprovement int
	Seed             uint64
}

// Fit partitions data into exactly K clusters. The observations of every cluster
// are the members assigned to it, in input order.
func (km KMeans) Fit(data []features.Feature) (clusters.Clusters, error) {
	n := len(data)
	if n == 0 {
		return nil, ErrNoFeatures
	}
	if km.K <= 0 {
		return nil, fmt.Errorf("cluster count must be positive, got %d", km.K)
	}
	if km.K > n {
		return nil, fmt.Errorf("%w: k=%d, frames=%d", ErrTooFewFrames, km.K, n)
	}

	rng := rand.New(rand.NewPCG(km.Seed, km.Seed^0x9e3779b97f4a7c15))

	centers := km.initCenters(data, rng)
	km.miniBatch(data, centers, rng)

	cc := make(clusters.Clusters, km.K)
	for i, c := range centers {
		cc[i].Center = c
	}
	assign(cc, data)
	reseedEmpty(cc, data)

	return cc, nil
}

func (km KMeans) batchSize(n int) int {
	b := km.BatchSize
	if b <= 0 {
		b = 1024
	}
	return min(b, n)
}

// initCenters runs k-means++ seeding over a random subsample of the data.
func (km KMeans) initCenters(data []features.Feature, rng *rand.Rand) []clusters.Coordinates {
	n := len(data)
	initSize := min(n, max(3*km.batchSize(n), 3*km.K))
	sample := rng.Perm(n)[:initSize]

	first := rng.IntN(initSize)
	centers := []clusters.Coordinates{clone(data[sample[first]].Vector)}
	chosen := map[int]bool{first: true}

	d2 := make([]float64, initSize)
	for i, s := range sample {
		d2[i] = data[s].Distance(centers[0])
	}

	for len(centers) < km.K {
		pick := -1
		if total := floats.Sum(d2); total > 0 {
			r := rng.Float64() * total
			for i, d := range d2 {
				if d <= 0 {
					continue
				}
				pick = i
				if r -= d; r < 0 {
					break
				}
			}
		}
		if pick < 0 {
			// every remaining point coincides with a centre; take the next unused one
			for i := range sample {
				if !chosen[i] {
					pick = i
					break
				}
			}
		}

		chosen[pick] = true
		c := clone(data[sample[pick]].Vector)
		centers = append(centers, c)
		for i, s := range sample {
			d2[i] = math.Min(d2[i], data[s].Distance(c))
		}
	}

	return centers
}

// miniBatch refines centers in place with per-centre learning rates 1/count and
// returns the number of steps taken.
func (km KMeans) miniBatch(data []features.Feature, centers []clusters.Coordinates, rng *rand.Rand) int {
	n := len(data)
	batch := km.batchSize(n)
	maxIter := km.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}

	counts := make([]float64, len(centers))
	labels := make([]int, batch)
	idx := make([]int, batch)
	prev := make([]clusters.Coordinates, len(centers))
	for i := range prev {
		prev[i] = make(clusters.Coordinates, len(centers[i]))
	}

	alpha := math.Min(1, float64(2*batch)/float64(n+1))
	var ewa float64
	best := math.Inf(1)
	noImprovement := 0

	for iter := 0; iter < maxIter; iter++ {
		for j := range idx {
			if batch == n {
				idx[j] = j
			} else {
				idx[j] = rng.IntN(n)
			}
		}

		var inertia float64
		for j, i := range idx {
			c, d := nearest(centers, data[i].Vector)
			labels[j] = c
			inertia += d
		}
		inertia /= float64(batch)

		for i := range centers {
			copy(prev[i], centers[i])
		}
		for j, i := range idx {
			c := labels[j]
			counts[c]++
			eta := 1 / counts[c]
			floats.Scale(1-eta, centers[c])
			floats.AddScaled(centers[c], eta, data[i].Vector)
		}

		var shift float64
		for i := range centers {
			d := floats.Distance(prev[i], centers[i], 2)
			shift += d * d
		}
		if km.Tolerance > 0 && shift <= km.Tolerance {
			return iter + 1
		}

		if iter == 0 {
			ewa = inertia
		} else {
			ewa = ewa*(1-alpha) + inertia*alpha
		}
		if ewa < best {
			best = ewa
			noImprovement = 0
		} else {
			noImprovement++
			if km.MaxNoImprovement > 0 && noImprovement >= km.MaxNoImprovement {
				return iter + 1
			}
		}
	}
	return maxIter
}

// assign labels every observation with its nearest centre, preserving input order
func assign(cc clusters.Clusters, data []features.Feature) {
	cc.Reset()
	for _, f := range data {
		i := cc.Nearest(f)
		cc[i].Append(f)
	}
}

// reseedEmpty moves the centre of each empty cluster onto the member of the
// largest cluster that lies farthest from its own centre, then relabels.
func reseedEmpty(cc clusters.Clusters, data []features.Feature) {
	for round := 0; round < len(cc); round++ {
		empty := -1
		largest := -1
		for i := range cc {
			if len(cc[i].Observations) == 0 && empty < 0 {
				empty = i
			}
			if largest < 0 || len(cc[i].Observations) > len(cc[largest].Observations) {
				largest = i
			}
		}
		if empty < 0 || len(cc[largest].Observations) < 2 {
			return
		}

		far := cc[largest].Observations[0]
		farDist := -1.0
		for _, o := range cc[largest].Observations {
			if d := o.Distance(cc[largest].Center); d > farDist {
				far, farDist = o, d
			}
		}
		cc[empty].Center = clone(far.Coordinates())
		assign(cc, data)
	}
}

func nearest(centers []clusters.Coordinates, v clusters.Coordinates) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centers {
		d := floats.Distance(v, c, 2)
		if d*d < bestDist {
			best, bestDist = i, d*d
		}
	}
	return best, bestDist
}

func clone(c clusters.Coordinates) clusters.Coordinates {
	return append(clusters.Coordinates(nil), c...)
}
