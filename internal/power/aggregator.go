// Package power turns per-faction resource usage into a scalar accumulated
// power score.
//
// Each used class contributes powerLevel * (ln(count+1) + 1). The logarithm
// keeps high-volume farming of one cheap class from dominating the score.
package power

import (
	"math"
	"sort"
	"time"

	"github.com/atmx/balance-engine/internal/catalog"
	"github.com/atmx/balance-engine/internal/keyed"
	"github.com/atmx/balance-engine/internal/model"
)

// Aggregator owns every FactionUsageRecord. Records are replaced, never
// mutated, so readers can hold them without locking.
type Aggregator struct {
	catalog catalog.Lookup
	records *keyed.Store[model.FactionUsageRecord]
	now     func() time.Time
}

// NewAggregator creates an aggregator backed by cat.
func NewAggregator(cat catalog.Lookup) *Aggregator {
	return &Aggregator{
		catalog: cat,
		records: keyed.New[model.FactionUsageRecord](),
		now:     time.Now,
	}
}

// Compute is the accumulated power of a usage map. Classes missing from the
// catalog, and classes with a zero count, contribute nothing.
func Compute(cat catalog.Lookup, usage map[string]int64) float64 {
	ids := make([]string, 0, len(usage))
	for id := range usage {
		ids = append(ids, id)
	}
	// Fixed summation order keeps the result bit-identical across calls.
	sort.Strings(ids)

	total := 0.0
	for _, id := range ids {
		n := usage[id]
		if n <= 0 {
			continue
		}
		def, ok := cat.Get(id)
		if !ok {
			continue
		}
		total += def.PowerLevel * (math.Log(float64(n)+1) + 1)
	}
	return total
}

// RecordUsage adds delta to the faction's count for classID and recomputes its
// power. Negative deltas are clamped so counts never go below zero; a count
// that reaches zero is dropped.
func (a *Aggregator) RecordUsage(factionID, classID string, delta int64) model.FactionUsageRecord {
	rec := a.records.Update(factionID, func(old model.FactionUsageRecord, loaded bool) model.FactionUsageRecord {
		var next model.FactionUsageRecord
		if loaded {
			next = old.Clone()
		} else {
			next = model.FactionUsageRecord{FactionID: factionID, UsageCount: make(map[string]int64)}
		}
		n := next.UsageCount[classID] + delta
		if n > 0 {
			next.UsageCount[classID] = n
		} else {
			delete(next.UsageCount, classID)
		}
		next.AccumulatedPower = Compute(a.catalog, next.UsageCount)
		next.LastUpdated = a.now()
		return next
	})
	return rec.Clone()
}

// GetPower returns the faction's accumulated power, or 0 if it was never seen.
func (a *Aggregator) GetPower(factionID string) float64 {
	rec, ok := a.records.Get(factionID)
	if !ok {
		return 0
	}
	return rec.AccumulatedPower
}

// Record returns a copy of the faction's usage record.
func (a *Aggregator) Record(factionID string) (model.FactionUsageRecord, bool) {
	rec, ok := a.records.Get(factionID)
	if !ok {
		return model.FactionUsageRecord{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns the power of every tracked faction at one instant. Later
// RecordUsage calls do not affect the returned map.
func (a *Aggregator) Snapshot() map[string]float64 {
	out := make(map[string]float64, a.records.Len())
	a.records.Range(func(id string, rec model.FactionUsageRecord) bool {
		out[id] = rec.AccumulatedPower
		return true
	})
	return out
}

// Records returns copies of all records ordered by faction id.
func (a *Aggregator) Records() []model.FactionUsageRecord {
	ids := a.records.Keys()
	out := make([]model.FactionUsageRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := a.records.Get(id); ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// FactionIDs lists tracked factions in sorted order.
func (a *Aggregator) FactionIDs() []string { return a.records.Keys() }

// Restore installs a persisted record. Power is recomputed from the counts
// and the current catalog rather than trusted from the input.
func (a *Aggregator) Restore(rec model.FactionUsageRecord) {
	rec = rec.Clone()
	for id, n := range rec.UsageCount {
		if n <= 0 {
			delete(rec.UsageCount, id)
		}
	}
	rec.AccumulatedPower = Compute(a.catalog, rec.UsageCount)
	a.records.Put(rec.FactionID, rec)
}

// Refresh recomputes every record against the catalog and returns the
// resulting power snapshot.
func (a *Aggregator) Refresh() map[string]float64 {
	for _, id := range a.records.Keys() {
		a.records.Modify(id, func(old model.FactionUsageRecord) model.FactionUsageRecord {
			p := Compute(a.catalog, old.UsageCount)
			if p == old.AccumulatedPower {
				return old
			}
			next := old.Clone()
			next.AccumulatedPower = p
			return next
		})
	}
	return a.Snapshot()
}

// Remove drops the faction's record.
func (a *Aggregator) Remove(factionID string) {
	a.records.Delete(factionID)
}

// Len returns the number of tracked factions.
func (a *Aggregator) Len() int { return a.records.Len() }
