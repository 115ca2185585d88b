package economy

import (
	"sort"
	"sync"
	"time"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// WeightedInput is one peer's contribution to a consensus round.
type WeightedInput struct {
	Value  uint64
	Weight float64
}

// WeightedMedian returns the smallest value whose cumulative weight,
// ascending by value, reaches half the total weight. With equal weights
// and two values this picks the lower.
func WeightedMedian(inputs []WeightedInput) (uint64, bool) {
	if len(inputs) == 0 {
		return 0, false
	}
	sorted := make([]WeightedInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	total := 0.0
	for _, in := range sorted {
		total += in.Weight
	}
	if total <= 0 {
		return 0, false
	}
	cumulative := 0.0
	for _, in := range sorted {
		cumulative += in.Weight
		if cumulative >= total/2 {
			return in.Value, true
		}
	}
	return sorted[len(sorted)-1].Value, true
}

// priceBook holds live proposals and the current consensus price.
type priceBook struct {
	mu        sync.RWMutex
	proposals map[string]*api.PriceProposal // keyed by coordinator id
	price     uint64
	updatedAt int64
}

func newPriceBook() *priceBook {
	return &priceBook{
		proposals: make(map[string]*api.PriceProposal),
		price:     params.Coordinator().DefaultPriceMilliSats,
	}
}

// Propose records one coordinator's proposal, replacing its previous one.
func (b *priceBook) Propose(p *api.PriceProposal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.SubmittedAtMs == 0 {
		p.SubmittedAtMs = timeutils.NowUnixMilli()
	}
	b.proposals[p.CoordinatorID] = p
}

// Current returns the consensus price, its update time and the live
// proposal count.
func (b *priceBook) Current() (uint64, int64, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.price, b.updatedAt, len(b.proposals)
}

// RunConsensus prunes expired proposals, computes the weighted median of
// the rest and installs it as the current price. Weights come from the
// caller (peer reputation scores).
func (b *priceBook) RunConsensus(ttl time.Duration, weightOf func(coordinatorID string) float64) (uint64, int, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := timeutils.NowUnixMilli() - ttl.Milliseconds()
	inputs := make([]WeightedInput, 0, len(b.proposals))
	totalWeight := 0.0
	for id, p := range b.proposals {
		if p.SubmittedAtMs < cutoff {
			delete(b.proposals, id)
			continue
		}
		weight := p.Weight
		if weightOf != nil {
			weight = weightOf(id)
		}
		if weight <= 0 {
			continue
		}
		inputs = append(inputs, WeightedInput{Value: p.ValueMilliSats, Weight: weight})
		totalWeight += weight
	}
	if median, ok := WeightedMedian(inputs); ok {
		b.price = median
		b.updatedAt = timeutils.NowUnixMilli()
	}
	return b.price, len(inputs), totalWeight
}
