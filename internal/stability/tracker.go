// Package stability tracks a rolling price window per resource class and
// derives volatility and a 0-100 stability index from it.
package stability

import (
	"math"
	"sync"
	"time"

	"github.com/atmx/balance-engine/internal/keyed"
	"github.com/atmx/balance-engine/internal/model"
)

const (
	// WindowSize is the number of recent prices kept per class.
	WindowSize = 20
	seedPrice  = 1.0
	seedCount  = 3
)

// series is the mutable window for one class, guarded by its own lock.
type series struct {
	mu     sync.Mutex
	prices []float64 // oldest first, len <= WindowSize
	stats  model.Stability
	since  time.Time
}

// Tracker holds one series per resource class. Series are process-wide,
// shared across regions.
type Tracker struct {
	series *keyed.Store[*series]
	now    func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{series: keyed.New[*series](), now: time.Now}
}

func (t *Tracker) newSeries() *series {
	s := &series{prices: make([]float64, 0, WindowSize), since: t.now()}
	for i := 0; i < seedCount; i++ {
		s.prices = append(s.prices, seedPrice)
	}
	s.recompute()
	return s
}

// Append pushes price into the class window, evicting the oldest entry when
// full, and returns the recomputed stability.
func (t *Tracker) Append(classID string, price float64) model.Stability {
	s := t.series.GetOrCreate(classID, t.newSeries)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prices) == WindowSize {
		copy(s.prices, s.prices[1:])
		s.prices = s.prices[:WindowSize-1]
	}
	s.prices = append(s.prices, price)
	s.recompute()
	return s.stats
}

// Get returns the stability of classID, or NeutralStability if it was never
// priced.
func (t *Tracker) Get(classID string) model.Stability {
	s, ok := t.series.Get(classID)
	if !ok {
		return model.NeutralStability
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Record returns the full record for classID.
func (t *Tracker) Record(classID string) (model.PriceStabilityRecord, bool) {
	s, ok := t.series.Get(classID)
	if !ok {
		return model.PriceStabilityRecord{}, false
	}
	return s.record(classID), true
}

// Records returns every tracked record ordered by class id.
func (t *Tracker) Records() []model.PriceStabilityRecord {
	ids := t.series.Keys()
	out := make([]model.PriceStabilityRecord, 0, len(ids))
	for _, id := range ids {
		if s, ok := t.series.Get(id); ok {
			out = append(out, s.record(id))
		}
	}
	return out
}

// Restore installs a persisted record. The window is truncated to the most
// recent WindowSize prices and the derived fields are recomputed.
func (t *Tracker) Restore(rec model.PriceStabilityRecord) {
	prices := rec.RecentPrices
	if len(prices) > WindowSize {
		prices = prices[len(prices)-WindowSize:]
	}
	s := &series{prices: make([]float64, len(prices), WindowSize), since: rec.TrackingSince}
	copy(s.prices, prices)
	if len(s.prices) == 0 {
		for i := 0; i < seedCount; i++ {
			s.prices = append(s.prices, seedPrice)
		}
	}
	s.recompute()
	t.series.Put(rec.ResourceClassID, s)
}

// Len returns the number of tracked classes.
func (t *Tracker) Len() int { return t.series.Len() }

func (s *series) record(id string) model.PriceStabilityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	prices := make([]float64, len(s.prices))
	copy(prices, s.prices)
	return model.PriceStabilityRecord{
		ResourceClassID: id,
		RecentPrices:    prices,
		AveragePrice:    s.stats.AveragePrice,
		Volatility:      s.stats.Volatility,
		StabilityIndex:  s.stats.StabilityIndex,
		TrackingSince:   s.since,
	}
}

// recompute derives mean, population stddev and the clamped index.
func (s *series) recompute() {
	n := float64(len(s.prices))
	sum := 0.0
	for _, p := range s.prices {
		sum += p
	}
	mean := sum / n
	variance := 0.0
	for _, p := range s.prices {
		d := p - mean
		variance += d * d
	}
	vol := math.Sqrt(variance / n)
	s.stats = model.Stability{
		AveragePrice:   mean,
		Volatility:     vol,
		StabilityIndex: Index(vol),
	}
}

// Index maps a volatility onto the 0-100 stability scale.
func Index(volatility float64) float64 {
	return math.Max(0, math.Min(100, 100-volatility*100))
}
