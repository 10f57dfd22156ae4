// Package sampler picks a fixed budget of representative frame indices by
// clustering frame features and sampling each cluster evenly over its members.
package sampler

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/keagan/framesampler/internal/features"
)

// ErrUndersizedPartition is returned under PolicyError when a cluster has fewer
// members than its share of the budget.
var ErrUndersizedPartition = errors.New("partition smaller than its quota")

// Policy decides what happens when a partition cannot fill its quota
type Policy string

const (
	// PolicyError fails the selection
	PolicyError Policy = "error"
	// PolicyShrink keeps the distinct picks and returns fewer than budget indices
	PolicyShrink Policy = "shrink"
	// PolicyPad fills the shortfall with evenly spaced unused frames
	PolicyPad Policy = "pad"
)

// Partition describes one cluster's contribution to a selection
type Partition struct {
	ID     int
	Size   int
	Picked []int
}

// Selection is the outcome of Select
type Selection struct {
	// Indices is the selected frame set: ascending and duplicate free.
	Indices    []int
	Partitions []Partition
	// Padded lists indices added to make up for undersized partitions.
	Padded []int
}

// Sampler selects representative frames
type Sampler struct {
	logger zerolog.Logger
	kmeans KMeans
	policy Policy
}

// New creates a sampler
func New(logger zerolog.Logger, km KMeans, policy Policy) *Sampler {
	if policy == "" {
		policy = PolicyPad
	}
	return &Sampler{
		logger: logger.With().Str("component", "sampler").Logger(),
		kmeans: km,
		policy: policy,
	}
}

// Select fits the clustering over feats and picks budget/k frames per cluster.
// budget must be a positive multiple of k; callers validate that up front.
func (s *Sampler) Select(feats []features.Feature, budget int) (*Selection, error) {
	k := s.kmeans.K
	if budget <= 0 || k <= 0 || budget%k != 0 {
		return nil, fmt.Errorf("budget %d is not a positive multiple of %d clusters", budget, k)
	}

	s.logger.Info().
		Int("frames", len(feats)).
		Int("k", k).
		Uint64("seed", s.kmeans.Seed).
		Msg("fitting clusters")

	cc, err := s.kmeans.Fit(feats)
	if err != nil {
		return nil, fmt.Errorf("cluster fit failed: %w", err)
	}

	members := make([][]int, len(cc))
	for i, c := range cc {
		members[i] = make([]int, 0, len(c.Observations))
		for _, o := range c.Observations {
			members[i] = append(members[i], o.(features.Feature).Index)
		}
	}

	universe := lo.Map(feats, func(f features.Feature, _ int) int { return f.Index })
	return s.pick(members, universe, budget)
}

// pick samples each partition's members, unions the picks and applies the
// undersize policy. universe is every frame index in decode order.
func (s *Sampler) pick(members [][]int, universe []int, budget int) (*Selection, error) {
	perCluster := budget / len(members)
	sel := &Selection{Partitions: make([]Partition, 0, len(members))}

	var all []int
	for id, m := range members {
		positions := EvenlySpaced(len(m), perCluster)
		picked := lo.Uniq(lo.Map(positions, func(p int, _ int) int { return m[p] }))

		if len(m) < perCluster {
			if s.policy == PolicyError {
				return nil, fmt.Errorf("%w: partition %d has %d members, quota is %d",
					ErrUndersizedPartition, id, len(m), perCluster)
			}
			s.logger.Warn().
				Int("partition", id).
				Int("members", len(m)).
				Int("quota", perCluster).
				Str("policy", string(s.policy)).
				Msg("partition smaller than its quota")
		}

		s.logger.Debug().
			Int("partition", id).
			Int("members", len(m)).
			Ints("picked", picked).
			Msg("partition sampled")

		sel.Partitions = append(sel.Partitions, Partition{ID: id, Size: len(m), Picked: picked})
		all = append(all, picked...)
	}

	sel.Indices = lo.Uniq(all)
	slices.Sort(sel.Indices)

	if s.policy == PolicyPad && len(sel.Indices) < budget {
		sel.Padded = padIndices(sel.Indices, universe, budget-len(sel.Indices))
		sel.Indices = append(sel.Indices, sel.Padded...)
		slices.Sort(sel.Indices)
	}

	if len(sel.Indices) < budget {
		s.logger.Warn().
			Int("selected", len(sel.Indices)).
			Int("budget", budget).
			Msg("selection smaller than budget")
	}

	s.logger.Info().
		Int("selected", len(sel.Indices)).
		Int("padded", len(sel.Padded)).
		Msg("frame selection complete")

	return sel, nil
}

// EvenlySpaced returns count positions spread over [0, n). With count >= 2 the
// first and last positions are included; a single position is the midpoint.
// When n < count positions repeat.
func EvenlySpaced(n, count int) []int {
	if n <= 0 || count <= 0 {
		return nil
	}
	if count == 1 {
		return []int{(n - 1) / 2}
	}

	out := make([]int, count)
	for i := range out {
		out[i] = i * (n - 1) / (count - 1)
	}
	return out
}

// padIndices picks up to need indices from universe that are not in taken,
// spread evenly over the unused ones.
func padIndices(taken, universe []int, need int) []int {
	unused := lo.Without(universe, taken...)
	need = min(need, len(unused))
	return lo.Map(EvenlySpaced(len(unused), need), func(p int, _ int) int { return unused[p] })
}
