// Package economy owns per-faction EconomicStatistics and the periodic
// income correction pass.
//
// A pass runs Refresh → Evaluate → Correct for every faction and publishes
// the resulting income multiplier. Only an Overpowered or Underpowered
// verdict moves the multiplier; a balanced faction keeps its current value.
package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/atmx/balance-engine/internal/balance"
	"github.com/atmx/balance-engine/internal/keyed"
	"github.com/atmx/balance-engine/internal/metrics"
	"github.com/atmx/balance-engine/internal/model"
	"github.com/atmx/balance-engine/internal/notify"
	"github.com/atmx/balance-engine/internal/pass"
)

const notifyTimeout = 10 * time.Second

// ErrNoTreasury is returned by a FactionRegistry for factions it holds no
// treasury for. The pass keeps the faction's previous trade volume.
var ErrNoTreasury = errors.New("economy: no treasury for faction")

// FactionRegistry is the read-only view of the world's factions.
type FactionRegistry interface {
	ListFactionIDs(ctx context.Context) ([]string, error)
	GetTreasury(ctx context.Context, factionID string) (float64, error)
}

// UsageSource exposes faction usage records.
type UsageSource interface {
	Record(factionID string) (model.FactionUsageRecord, bool)
	FactionIDs() []string
}

// Scorer provides balanced scores and keeps population statistics current.
type Scorer interface {
	BalancedScore(factionID string) float64
	RunPass(ctx context.Context) (balance.PassResult, error)
}

// PriceSource values holdings at regional prices.
type PriceSource interface {
	GetPrice(regionID, classID string) float64
}

// Config holds the income correction constants.
type Config struct {
	ExpectedValuePerScore float64 `toml:"expected_value_per_score"` // K in expected = score * K
	OverFactor            float64 `toml:"over_factor"`
	UnderFactor           float64 `toml:"under_factor"`
	OverMultiplier        float64 `toml:"over_multiplier"`
	UnderMultiplier       float64 `toml:"under_multiplier"`
	Floor                 float64 `toml:"floor"`
	Ceiling               float64 `toml:"ceiling"`
	TradeVolumeShare      float64 `toml:"trade_volume_share"`
}

// DefaultConfig returns the standard correction constants.
func DefaultConfig() Config {
	return Config{
		ExpectedValuePerScore: 25,
		OverFactor:            2.0,
		UnderFactor:           0.5,
		OverMultiplier:        0.8,
		UnderMultiplier:       1.2,
		Floor:                 0.2,
		Ceiling:               5.0,
		TradeVolumeShare:      0.05,
	}
}

// Verdict is the outcome of the Evaluate step.
type Verdict string

const (
	Balanced     Verdict = "balanced"
	Overpowered  Verdict = "overpowered"
	Underpowered Verdict = "underpowered"
)

// Evaluation records what one pass decided for one faction.
type Evaluation struct {
	FactionID        string  `json:"faction_id"`
	BalancedScore    float64 `json:"balanced_score"`
	ExpectedValue    float64 `json:"expected_value"`
	TotalValue       float64 `json:"total_resource_value"`
	Verdict          Verdict `json:"verdict"`
	IncomeMultiplier float64 `json:"income_multiplier"`
}

// Balancer is the sole writer of IncomeMultiplier.
type Balancer struct {
	cfg      Config
	usage    UsageSource
	scorer   Scorer
	prices   PriceSource
	registry FactionRegistry
	sink     notify.Sink

	stats    *keyed.Store[model.EconomicStatistics]
	guard    *pass.Guard
	inflight sync.WaitGroup
	now      func() time.Time
}

// NewBalancer wires a balancer. sink may be nil.
func NewBalancer(cfg Config, usage UsageSource, scorer Scorer, prices PriceSource, registry FactionRegistry, sink notify.Sink) *Balancer {
	if sink == nil {
		sink = notify.Discard{}
	}
	return &Balancer{
		cfg:      cfg,
		usage:    usage,
		scorer:   scorer,
		prices:   prices,
		registry: registry,
		sink:     sink,
		stats:    keyed.New[model.EconomicStatistics](),
		guard:    pass.NewGuard("economy"),
		now:      time.Now,
	}
}

// Statistics returns a read-only copy of the faction's statistics. Unknown
// factions get the zero state with multiplier 1.0.
func (b *Balancer) Statistics(factionID string) model.EconomicStatistics {
	s, ok := b.stats.Get(factionID)
	if !ok {
		return model.NewEconomicStatistics(factionID)
	}
	return s
}

// IncomeMultiplier is the published correction factor for a faction.
func (b *Balancer) IncomeMultiplier(factionID string) float64 {
	return b.Statistics(factionID).IncomeMultiplier
}

// ReportIndustry applies industry deltas. Fields never go below zero.
func (b *Balancer) ReportIndustry(r model.IndustryReport) model.EconomicStatistics {
	return b.stats.Update(r.FactionID, func(old model.EconomicStatistics, loaded bool) model.EconomicStatistics {
		if !loaded {
			old = model.NewEconomicStatistics(r.FactionID)
		}
		old.Factories = math.Max(0, old.Factories+r.Factories)
		old.EnergyConsumption = math.Max(0, old.EnergyConsumption+r.EnergyConsumption)
		old.ProductionOutput = math.Max(0, old.ProductionOutput+r.ProductionOutput)
		return old
	})
}

// ResourceValue values the faction's used classes at prices in its own
// region.
func (b *Balancer) ResourceValue(factionID string) float64 {
	rec, ok := b.usage.Record(factionID)
	if !ok {
		return 0
	}
	ids := make([]string, 0, len(rec.UsageCount))
	for id := range rec.UsageCount {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	total := 0.0
	for _, id := range ids {
		if n := rec.UsageCount[id]; n > 0 {
			total += float64(n) * b.prices.GetPrice(factionID, id)
		}
	}
	return total
}

// Evaluate compares a total value against the value expected for a score.
func (b *Balancer) Evaluate(total, score float64) (Verdict, float64) {
	expected := score * b.cfg.ExpectedValuePerScore
	switch {
	case total > expected*b.cfg.OverFactor:
		return Overpowered, expected
	case total < expected*b.cfg.UnderFactor:
		return Underpowered, expected
	}
	return Balanced, expected
}

func (b *Balancer) clamp(m float64) float64 {
	return math.Min(b.cfg.Ceiling, math.Max(b.cfg.Floor, m))
}

// RunPass runs one balancing pass over every faction.
func (b *Balancer) RunPass(ctx context.Context) ([]Evaluation, error) {
	var out []Evaluation
	err := b.guard.Run(ctx, func(ctx context.Context) error {
		out = b.runPass(ctx)
		return nil
	})
	return out, err
}

func (b *Balancer) runPass(ctx context.Context) []Evaluation {
	// Refresh. A concurrent power pass is publishing fresh statistics
	// already; use those.
	if _, err := b.scorer.RunPass(ctx); err != nil && !errors.Is(err, pass.ErrInProgress) {
		slog.Warn("population refresh failed", "pass_id", pass.ID(ctx), "err", err)
	}

	ids := b.factionIDs(ctx)
	out := make([]Evaluation, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.balanceFaction(ctx, id))
	}
	return out
}

func (b *Balancer) factionIDs(ctx context.Context) []string {
	seen := make(map[string]struct{})
	for _, id := range b.usage.FactionIDs() {
		seen[id] = struct{}{}
	}
	if b.registry != nil {
		ids, err := b.registry.ListFactionIDs(ctx)
		if err != nil {
			slog.Warn("faction registry unavailable", "pass_id", pass.ID(ctx), "err", err)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (b *Balancer) treasury(ctx context.Context, factionID string) (float64, bool) {
	if b.registry == nil {
		return 0, false
	}
	t, err := b.registry.GetTreasury(ctx, factionID)
	if errors.Is(err, ErrNoTreasury) {
		return 0, false
	}
	if err != nil {
		slog.Warn("treasury lookup failed", "faction", factionID, "err", err)
		return 0, false
	}
	return t, true
}

func (b *Balancer) balanceFaction(ctx context.Context, id string) Evaluation {
	score := b.scorer.BalancedScore(id)
	total := b.ResourceValue(id)
	treasury, haveTreasury := b.treasury(ctx, id)
	verdict, expected := b.Evaluate(total, score)

	var before float64
	after := b.stats.Update(id, func(old model.EconomicStatistics, loaded bool) model.EconomicStatistics {
		if !loaded {
			old = model.NewEconomicStatistics(id)
		}
		before = old.IncomeMultiplier
		old.TotalResourceValue = total
		if haveTreasury {
			old.TradeVolume = treasury * b.cfg.TradeVolumeShare
		}
		m := old.IncomeMultiplier
		switch verdict {
		case Overpowered:
			m = b.clamp(m * b.cfg.OverMultiplier)
		case Underpowered:
			m = b.clamp(m * b.cfg.UnderMultiplier)
		}
		old.IncomeMultiplier = m
		old.LastCalculated = b.now()
		return old
	})

	ev := Evaluation{
		FactionID:        id,
		BalancedScore:    score,
		ExpectedValue:    expected,
		TotalValue:       total,
		Verdict:          verdict,
		IncomeMultiplier: after.IncomeMultiplier,
	}
	if verdict == Balanced {
		return ev
	}

	slog.Info("income corrected",
		"pass_id", pass.ID(ctx),
		"faction", id,
		"verdict", string(verdict),
		"score", score,
		"expected", expected,
		"total_value", total,
		"multiplier_before", before,
		"multiplier", after.IncomeMultiplier,
	)
	switch verdict {
	case Overpowered:
		metrics.IncomeCorrections.WithLabelValues("overpowered").Inc()
		b.notify(ctx, id, fmt.Sprintf("Your faction is outpacing the world economy; income multiplier is now %.2f.", after.IncomeMultiplier))
	case Underpowered:
		metrics.IncomeCorrections.WithLabelValues("underpowered").Inc()
		b.notify(ctx, id, fmt.Sprintf("Underpowered incentive: income multiplier raised to %.2f.", after.IncomeMultiplier))
	}
	return ev
}

// notify delivers in the background. The correction has already been applied,
// so a failed delivery is only logged.
func (b *Balancer) notify(ctx context.Context, factionID, message string) {
	passID := pass.ID(ctx)
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := b.sink.NotifyFaction(ctx, factionID, message); err != nil {
			slog.Warn("faction notification failed", "pass_id", passID, "faction", factionID, "err", err)
		}
	}()
}

// WaitNotifications blocks until every notification sent so far has been
// attempted.
func (b *Balancer) WaitNotifications() { b.inflight.Wait() }

// Records returns every faction's statistics ordered by id.
func (b *Balancer) Records() []model.EconomicStatistics {
	ids := b.stats.Keys()
	out := make([]model.EconomicStatistics, 0, len(ids))
	for _, id := range ids {
		if s, ok := b.stats.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Restore installs persisted statistics. The multiplier is clamped into
// [Floor, Ceiling].
func (b *Balancer) Restore(s model.EconomicStatistics) {
	s.IncomeMultiplier = b.clamp(s.IncomeMultiplier)
	b.stats.Put(s.FactionID, s)
}

// Remove drops the faction's statistics.
func (b *Balancer) Remove(factionID string) { b.stats.Delete(factionID) }
