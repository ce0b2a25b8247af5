// Package market runs one supply/demand ledger and price table per region.
//
// Ledgers are flow counters: a pricing pass reads and clears them, so each
// window reflects only the transactions since the previous pass. Each region
// has its own lock; pricing copies the ledger under it and computes outside.
package market

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/atmx/balance-engine/internal/catalog"
	"github.com/atmx/balance-engine/internal/keyed"
	"github.com/atmx/balance-engine/internal/metrics"
	"github.com/atmx/balance-engine/internal/model"
	"github.com/atmx/balance-engine/internal/pass"
	"github.com/atmx/balance-engine/internal/stability"
)

// UnboundedRatio stands in for demand/supply when nothing was supplied.
const UnboundedRatio = 1e9

// Config holds the pricing constants.
type Config struct {
	Sensitivity         float64 `toml:"sensitivity"`          // price response to ratio-1
	CorrectionThreshold float64 `toml:"correction_threshold"` // relative deviation that triggers damping
	CorrectionRate      float64 `toml:"correction_rate"`      // share of the gap closed per pass
}

// DefaultConfig returns the standard pricing constants.
func DefaultConfig() Config {
	return Config{Sensitivity: 0.3, CorrectionThreshold: 1.0, CorrectionRate: 0.05}
}

type region struct {
	mu         sync.RWMutex
	prices     map[string]float64
	supply     map[string]int64
	demand     map[string]int64
	lastUpdate time.Time
}

func newRegion() *region {
	return &region{
		prices: make(map[string]float64),
		supply: make(map[string]int64),
		demand: make(map[string]int64),
	}
}

// Market owns every regional market.
type Market struct {
	cfg     Config
	catalog catalog.Lookup
	tracker *stability.Tracker
	regions *keyed.Store[*region]
	guard   *pass.Guard
	now     func() time.Time
}

// New creates a market that records every computed price in tracker.
func New(cfg Config, cat catalog.Lookup, tracker *stability.Tracker) *Market {
	return &Market{
		cfg:     cfg,
		catalog: cat,
		tracker: tracker,
		regions: keyed.New[*region](),
		guard:   pass.NewGuard("market"),
		now:     time.Now,
	}
}

func (m *Market) region(id string) *region {
	return m.regions.GetOrCreate(id, newRegion)
}

// ReportTransaction adds amount to the region's supply or demand ledger.
// Non-positive amounts are ignored.
func (m *Market) ReportTransaction(regionID, classID string, amount int64, isSupply bool) {
	if amount <= 0 {
		return
	}
	r := m.region(regionID)
	r.mu.Lock()
	if isSupply {
		r.supply[classID] += amount
	} else {
		r.demand[classID] += amount
	}
	r.mu.Unlock()

	side := "demand"
	if isSupply {
		side = "supply"
	}
	metrics.TransactionsTotal.WithLabelValues(side).Inc()
}

// PriceFor computes the price of a class from one window's supply and demand.
func (m *Market) PriceFor(classID string, supply, demand int64) float64 {
	ratio := UnboundedRatio
	if supply > 0 {
		ratio = float64(demand) / float64(supply)
	}
	base, scarcity := m.catalog.Pricing(classID)
	return base * (1.0 + (ratio-1.0)*m.cfg.Sensitivity) * scarcity
}

// RecomputePrices reprices every class traded in the region since the last
// pass, clears the ledgers, and appends each new price to the stability
// tracker. It returns the new prices.
func (m *Market) RecomputePrices(regionID string) map[string]float64 {
	r, ok := m.regions.Get(regionID)
	if !ok {
		return map[string]float64{}
	}

	r.mu.Lock()
	supply, demand := r.supply, r.demand
	r.supply = make(map[string]int64)
	r.demand = make(map[string]int64)
	r.mu.Unlock()

	classes := make(map[string]struct{}, len(supply)+len(demand))
	for id, n := range supply {
		if n > 0 {
			classes[id] = struct{}{}
		}
	}
	for id, n := range demand {
		if n > 0 {
			classes[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(classes))
	for id := range classes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	updated := make(map[string]float64, len(ids))
	for _, id := range ids {
		updated[id] = m.PriceFor(id, supply[id], demand[id])
	}

	r.mu.Lock()
	for id, p := range updated {
		r.prices[id] = p
	}
	r.lastUpdate = m.now()
	r.mu.Unlock()

	for _, id := range ids {
		m.tracker.Append(id, updated[id])
		metrics.RegionPrice.WithLabelValues(regionID, id).Set(updated[id])
	}
	return updated
}

// RecomputeAll reprices every known region.
func (m *Market) RecomputeAll() int {
	n := 0
	for _, id := range m.regions.Keys() {
		n += len(m.RecomputePrices(id))
	}
	return n
}

// GetPrice returns the current price. A class never priced in a known region
// is seeded at baseValue*scarcity and that seed is stored. Unknown regions get
// the same seed but are not created: only transactions and restores add
// regions.
func (m *Market) GetPrice(regionID, classID string) float64 {
	r, ok := m.regions.Get(regionID)
	if !ok {
		base, scarcity := m.catalog.Pricing(classID)
		return base * scarcity
	}
	r.mu.RLock()
	p, ok := r.prices[classID]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.prices[classID]; ok {
		return p
	}
	base, scarcity := m.catalog.Pricing(classID)
	p = base * scarcity
	r.prices[classID] = p
	return p
}

// GetStability returns the stability of a class across all regions.
func (m *Market) GetStability(classID string) model.Stability {
	return m.tracker.Get(classID)
}

// ApplyCorrections damps prices that deviate from the cross-region average
// of their class by more than CorrectionThreshold. Averages are taken over
// the regions that price the class. It returns the number of prices changed.
func (m *Market) ApplyCorrections() int {
	ids := m.regions.Keys()
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, id := range ids {
		r, ok := m.regions.Get(id)
		if !ok {
			continue
		}
		r.mu.RLock()
		for class, p := range r.prices {
			sums[class] += p
			counts[class]++
		}
		r.mu.RUnlock()
	}

	changed := 0
	for _, id := range ids {
		r, ok := m.regions.Get(id)
		if !ok {
			continue
		}
		r.mu.Lock()
		for class, p := range r.prices {
			n := counts[class]
			if n == 0 {
				continue // seeded after the averages were taken
			}
			avg := sums[class] / float64(n)
			if avg <= 0 {
				continue
			}
			if math.Abs(p-avg)/avg > m.cfg.CorrectionThreshold {
				r.prices[class] = p*(1-m.cfg.CorrectionRate) + avg*m.cfg.CorrectionRate
				changed++
			}
		}
		r.mu.Unlock()
	}
	metrics.MarketCorrections.Add(float64(changed))
	return changed
}

// PassResult summarises one market pass.
type PassResult struct {
	Repriced  int
	Corrected int
}

// RunPass reprices every region and then applies cross-region damping.
func (m *Market) RunPass(ctx context.Context) (PassResult, error) {
	var res PassResult
	err := m.guard.Run(ctx, func(context.Context) error {
		res.Repriced = m.RecomputeAll()
		res.Corrected = m.ApplyCorrections()
		return nil
	})
	return res, err
}

// Region returns a copy of one region's state.
func (m *Market) Region(regionID string) (model.RegionalMarket, bool) {
	r, ok := m.regions.Get(regionID)
	if !ok {
		return model.RegionalMarket{}, false
	}
	return r.snapshot(regionID), true
}

// Regions returns copies of every region ordered by id.
func (m *Market) Regions() []model.RegionalMarket {
	ids := m.regions.Keys()
	out := make([]model.RegionalMarket, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.regions.Get(id); ok {
			out = append(out, r.snapshot(id))
		}
	}
	return out
}

// Restore installs a persisted region, replacing any in-memory state.
func (m *Market) Restore(rm model.RegionalMarket) {
	r := newRegion()
	for k, v := range rm.Prices {
		r.prices[k] = v
	}
	for k, v := range rm.Supply {
		r.supply[k] = v
	}
	for k, v := range rm.Demand {
		r.demand[k] = v
	}
	r.lastUpdate = rm.LastUpdate
	m.regions.Put(rm.RegionID, r)
}

// Remove drops a region and its metrics series.
func (m *Market) Remove(regionID string) {
	r, ok := m.regions.Get(regionID)
	if !ok {
		return
	}
	m.regions.Delete(regionID)
	r.mu.RLock()
	for class := range r.prices {
		metrics.RegionPrice.DeleteLabelValues(regionID, class)
	}
	r.mu.RUnlock()
}

// Len returns the number of regions.
func (m *Market) Len() int { return m.regions.Len() }

func (r *region) snapshot(id string) model.RegionalMarket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := model.RegionalMarket{
		RegionID:   id,
		Prices:     make(map[string]float64, len(r.prices)),
		Supply:     make(map[string]int64, len(r.supply)),
		Demand:     make(map[string]int64, len(r.demand)),
		LastUpdate: r.lastUpdate,
	}
	for k, v := range r.prices {
		out.Prices[k] = v
	}
	for k, v := range r.supply {
		out.Supply[k] = v
	}
	for k, v := range r.demand {
		out.Demand[k] = v
	}
	return out
}
