package power

import (
	"math"
	"sort"

	"github.com/atmx/balance-engine/internal/catalog"
	"github.com/atmx/balance-engine/internal/model"
)

const (
	// usageSaturation is the count at which a class reaches full weight.
	usageSaturation = 10.0
	maxUsageFactor  = 2.0
	minDefensive    = 0.001

	// ImbalanceThreshold is the |ratio-1| above which offence and defence are
	// considered out of balance.
	ImbalanceThreshold = 1.0
)

// Warfare compares offensive against defensive strength for one usage map.
// Each flagged class multiplies its side by 1 + (powerLevel-1)*min(n/10, 2).
func Warfare(cat catalog.Lookup, factionID string, usage map[string]int64) model.WarfareBalance {
	ids := make([]string, 0, len(usage))
	for id := range usage {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	off, def := 1.0, 1.0
	for _, id := range ids {
		n := usage[id]
		if n <= 0 {
			continue
		}
		d, ok := cat.Get(id)
		if !ok || (!d.Offensive && !d.Defensive) {
			continue
		}
		f := 1 + (d.PowerLevel-1)*math.Min(float64(n)/usageSaturation, maxUsageFactor)
		if d.Offensive {
			off *= f
		}
		if d.Defensive {
			def *= f
		}
	}
	return model.WarfareBalance{
		FactionID: factionID,
		Offensive: off,
		Defensive: def,
		Total:     off + def,
		Ratio:     off / math.Max(def, minDefensive),
	}
}

// Imbalanced reports whether w is outside the tolerated offence/defence band.
func Imbalanced(w model.WarfareBalance) bool {
	return math.Abs(w.Ratio-1) > ImbalanceThreshold
}

// Warfare returns the warfare balance of a tracked faction. Unknown factions
// get the neutral balance.
func (a *Aggregator) Warfare(factionID string) model.WarfareBalance {
	rec, _ := a.records.Get(factionID)
	w := Warfare(a.catalog, factionID, rec.UsageCount)
	w.CalculatedAt = a.now()
	return w
}
