// Package balance compares each faction's power against the population and
// derives the balanced score used for compliance and income correction.
//
// Population statistics are replaced wholesale by each power pass. Between
// passes, Classify and BalancedScore read live aggregator power against the
// last published statistics.
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/atmx/balance-engine/internal/catalog"
	"github.com/atmx/balance-engine/internal/metrics"
	"github.com/atmx/balance-engine/internal/model"
	"github.com/atmx/balance-engine/internal/pass"
	"github.com/atmx/balance-engine/internal/power"
)

// ErrPassInProgress is returned by RunPass while a previous pass is running.
var ErrPassInProgress = pass.ErrInProgress

// Config holds the tunable constants of the corrector.
type Config struct {
	SigmaMultiplier    float64 `toml:"sigma_multiplier"`    // threshold width in stddevs
	SoftCapMultiple    float64 `toml:"soft_cap_multiple"`   // cap starts at this multiple of the mean
	SoftCapSlope       float64 `toml:"soft_cap_slope"`      // slope of power above the cap
	ComplianceMultiple float64 `toml:"compliance_multiple"` // compliant while score <= mean * this
	ConflictMultiplier float64 `toml:"conflict_multiplier"`
	SynergyMultiplier  float64 `toml:"synergy_multiplier"`
}

// DefaultConfig returns the standard balancing constants.
func DefaultConfig() Config {
	return Config{
		SigmaMultiplier:    1.5,
		SoftCapMultiple:    2.0,
		SoftCapSlope:       0.5,
		ComplianceMultiple: 2.5,
		ConflictMultiplier: 0.85,
		SynergyMultiplier:  1.05,
	}
}

// PowerSource is the read side of the power aggregator.
type PowerSource interface {
	GetPower(factionID string) float64
	Record(factionID string) (model.FactionUsageRecord, bool)
	Refresh() map[string]float64
	Warfare(factionID string) model.WarfareBalance
}

var _ PowerSource = (*power.Aggregator)(nil)

// Corrector owns the process-wide PopulationStats.
type Corrector struct {
	cfg     Config
	catalog catalog.Lookup
	power   PowerSource
	stats   atomic.Pointer[model.PopulationStats]
	guard   *pass.Guard
	now     func() time.Time
}

// NewCorrector creates a corrector. Until the first pass, statistics are those
// of an empty population.
func NewCorrector(cfg Config, cat catalog.Lookup, src PowerSource) *Corrector {
	c := &Corrector{
		cfg:     cfg,
		catalog: cat,
		power:   src,
		guard:   pass.NewGuard("power"),
		now:     time.Now,
	}
	empty := PopulationStatsOf(nil)
	c.stats.Store(&empty)
	return c
}

// PopulationStatsOf computes mean and population stddev. An empty input gives
// mean 1.0 and stddev 0.
func PopulationStatsOf(powers []float64) model.PopulationStats {
	if len(powers) == 0 {
		return model.PopulationStats{Count: 0, Mean: 1.0, StdDev: 0}
	}
	sum := 0.0
	for _, p := range powers {
		sum += p
	}
	mean := sum / float64(len(powers))
	variance := 0.0
	for _, p := range powers {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(powers))
	return model.PopulationStats{Count: len(powers), Mean: mean, StdDev: math.Sqrt(variance)}
}

// RecomputePopulationStats replaces the published statistics.
func (c *Corrector) RecomputePopulationStats(powers []float64) model.PopulationStats {
	s := PopulationStatsOf(powers)
	s.ComputedAt = c.now()
	c.stats.Store(&s)
	metrics.TrackedFactions.Set(float64(s.Count))
	metrics.PopulationMean.Set(s.Mean)
	metrics.PopulationStdDev.Set(s.StdDev)
	return s
}

// Stats returns the current statistics.
func (c *Corrector) Stats() model.PopulationStats { return *c.stats.Load() }

// Thresholds returns the low and high classification thresholds for s.
func (c *Corrector) Thresholds(s model.PopulationStats) (low, high float64) {
	w := c.cfg.SigmaMultiplier * s.StdDev
	return s.Mean - w, s.Mean + w
}

// ClassifyPower classifies p against s.
func (c *Corrector) ClassifyPower(p float64, s model.PopulationStats) model.Classification {
	low, high := c.Thresholds(s)
	switch {
	case p > high:
		return model.Overpowered
	case p < low && s.StdDev > 0:
		return model.Underpowered
	}
	return model.Normal
}

// Classify classifies a faction's current power.
func (c *Corrector) Classify(factionID string) model.Classification {
	return c.ClassifyPower(c.power.GetPower(factionID), c.Stats())
}

// SoftCap applies diminishing returns above SoftCapMultiple*mean.
func (c *Corrector) SoftCap(raw, mean float64) float64 {
	limit := c.cfg.SoftCapMultiple * mean
	if raw > limit {
		return limit + (raw-limit)*c.cfg.SoftCapSlope
	}
	return raw
}

// Compliant reports whether score is within ComplianceMultiple*mean. The
// boundary itself is compliant.
func (c *Corrector) Compliant(score, mean float64) bool {
	return score <= mean*c.cfg.ComplianceMultiple
}

// PairFactor is the product of conflict and synergy multipliers over every
// unordered pair of used classes.
func (c *Corrector) PairFactor(usage map[string]int64) float64 {
	ids := usedClasses(usage)
	f := 1.0
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			switch c.catalog.Relation(ids[i], ids[j]) {
			case catalog.RelationConflict:
				f *= c.cfg.ConflictMultiplier
			case catalog.RelationSynergy:
				f *= c.cfg.SynergyMultiplier
			}
		}
	}
	return f
}

// BalancedScore is the faction's soft-capped power times its pair factor.
// Factions without a record score 0.
func (c *Corrector) BalancedScore(factionID string) float64 {
	rec, ok := c.power.Record(factionID)
	if !ok {
		return 0
	}
	return c.SoftCap(rec.AccumulatedPower, c.Stats().Mean) * c.PairFactor(rec.UsageCount)
}

// IsCompliant reports whether the faction's balanced score is within bounds.
func (c *Corrector) IsCompliant(factionID string) bool {
	return c.Compliant(c.BalancedScore(factionID), c.Stats().Mean)
}

// Recommendations suggests usage changes: one entry per conflicting pair in
// use, then one per synergy partner the faction does not use yet.
func (c *Corrector) Recommendations(factionID string) []string {
	rec, ok := c.power.Record(factionID)
	if !ok {
		return []string{}
	}
	ids := usedClasses(rec.UsageCount)
	used := make(map[string]bool, len(ids))
	for _, id := range ids {
		used[id] = true
	}

	out := []string{}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if c.catalog.Relation(ids[i], ids[j]) == catalog.RelationConflict {
				out = append(out, fmt.Sprintf("%s conflicts with %s; drop one to remove the %.0f%% penalty",
					ids[i], ids[j], (1-c.cfg.ConflictMultiplier)*100))
			}
		}
	}

	suggested := make(map[string]string)
	for _, id := range ids {
		for _, partner := range c.catalog.Synergies(id) {
			if used[partner] {
				continue
			}
			if _, seen := suggested[partner]; !seen {
				suggested[partner] = id
			}
		}
	}
	partners := make([]string, 0, len(suggested))
	for p := range suggested {
		partners = append(partners, p)
	}
	sort.Strings(partners)
	for _, p := range partners {
		out = append(out, fmt.Sprintf("use %s alongside %s for a %.0f%% synergy bonus",
			p, suggested[p], (c.cfg.SynergyMultiplier-1)*100))
	}
	return out
}

// PassResult summarises one power pass.
type PassResult struct {
	Stats           model.PopulationStats
	Classifications map[string]model.Classification
	Scores          map[string]float64
}

// RunPass refreshes power, publishes new statistics and classifies every
// faction in the snapshot. Usage recorded during the pass is picked up by
// the next one.
func (c *Corrector) RunPass(ctx context.Context) (PassResult, error) {
	var res PassResult
	err := c.guard.Run(ctx, func(ctx context.Context) error {
		res = c.runPass(ctx)
		return nil
	})
	return res, err
}

func (c *Corrector) runPass(ctx context.Context) PassResult {
	snap := c.power.Refresh()
	ids := make([]string, 0, len(snap))
	powers := make([]float64, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		powers = append(powers, snap[id])
	}
	stats := c.RecomputePopulationStats(powers)

	res := PassResult{
		Stats:           stats,
		Classifications: make(map[string]model.Classification, len(ids)),
		Scores:          make(map[string]float64, len(ids)),
	}
	counts := map[model.Classification]int{model.Normal: 0, model.Overpowered: 0, model.Underpowered: 0}
	for _, id := range ids {
		cls := c.ClassifyPower(snap[id], stats)
		res.Classifications[id] = cls
		res.Scores[id] = c.BalancedScore(id)
		counts[cls]++
		if cls != model.Normal {
			slog.Info("power outlier",
				"pass_id", pass.ID(ctx),
				"faction", id,
				"classification", string(cls),
				"power", snap[id],
				"mean", stats.Mean,
				"stddev", stats.StdDev,
			)
		}
		if w := c.power.Warfare(id); power.Imbalanced(w) {
			slog.Info("warfare imbalance",
				"pass_id", pass.ID(ctx),
				"faction", id,
				"offensive", w.Offensive,
				"defensive", w.Defensive,
				"ratio", w.Ratio,
			)
		}
	}
	for cls, n := range counts {
		metrics.FactionsByClassification.WithLabelValues(string(cls)).Set(float64(n))
	}
	return res
}

func usedClasses(usage map[string]int64) []string {
	ids := make([]string, 0, len(usage))
	for id, n := range usage {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
