package auth

import (
	"sync"

	"github.com/kevinms/leakybucket-go"

	"github.com/enclavecode/swarm/shared/params"
)

// Limiter enforces the per-source sliding request window with a leaky
// bucket per source id.
type Limiter struct {
	mu        sync.Mutex
	collector *leakybucket.Collector
}

// NewLimiter builds the limiter from the configured window and maximum.
func NewLimiter() *Limiter {
	cfg := params.Coordinator()
	leakRate := float64(cfg.AuthRateMax) / cfg.AuthRateWindow.Seconds()
	return &Limiter{
		collector: leakybucket.NewCollector(leakRate, cfg.AuthRateMax, true /* deleteEmptyBuckets */),
	}
}

// Allow consumes one slot for the source and reports whether it was
// within the window.
func (l *Limiter) Allow(sourceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.collector.Remaining(sourceID) <= 0 {
		return false
	}
	return l.collector.Add(sourceID, 1) > 0
}

// Remaining reports the slots left for a source, for surfacing in 429
// responses.
func (l *Limiter) Remaining(sourceID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.collector.Remaining(sourceID)
}
