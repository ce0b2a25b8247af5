// Package engine wires the power aggregator, balance corrector, regional
// markets and economic balancer into the single surface the outside world
// uses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/atmx/balance-engine/internal/balance"
	"github.com/atmx/balance-engine/internal/catalog"
	"github.com/atmx/balance-engine/internal/economy"
	"github.com/atmx/balance-engine/internal/market"
	"github.com/atmx/balance-engine/internal/model"
	"github.com/atmx/balance-engine/internal/notify"
	"github.com/atmx/balance-engine/internal/pass"
	"github.com/atmx/balance-engine/internal/power"
	"github.com/atmx/balance-engine/internal/snapshot"
	"github.com/atmx/balance-engine/internal/stability"
	"github.com/atmx/balance-engine/internal/store"
)

var (
	// ErrInvalidArgument is returned for malformed ids and amounts.
	ErrInvalidArgument = errors.New("engine: invalid argument")
	// ErrReadOnlyRegistry is returned by SetTreasury when treasuries come from
	// an external system.
	ErrReadOnlyRegistry = errors.New("engine: faction registry is read-only")
)

// TreasuryWriter is a FactionRegistry the engine may feed directly.
type TreasuryWriter interface {
	Set(factionID string, treasury float64)
	Remove(factionID string)
}

const (
	topTradedLimit     = 20
	mostExpensiveLimit = 10
)

// Options configures an Engine. Zero-valued component configs are replaced by
// their defaults.
type Options struct {
	Balance balance.Config
	Market  market.Config
	Economy economy.Config

	Catalog  catalog.Lookup
	Registry economy.FactionRegistry // may be nil
	Sink     notify.Sink             // may be nil
	Store    store.Store             // nil disables persistence
	Codec    *snapshot.Codec
}

// Engine is safe for concurrent use.
type Engine struct {
	catalog   catalog.Lookup
	power     *power.Aggregator
	corrector *balance.Corrector
	tracker   *stability.Tracker
	market    *market.Market
	balancer  *economy.Balancer
	registry  economy.FactionRegistry

	store       store.Store
	codec       *snapshot.Codec
	persistence *pass.Guard
}

// New builds an engine.
func New(o Options) *Engine {
	if o.Catalog == nil {
		o.Catalog = catalog.Default()
	}
	if o.Balance == (balance.Config{}) {
		o.Balance = balance.DefaultConfig()
	}
	if o.Market == (market.Config{}) {
		o.Market = market.DefaultConfig()
	}
	if o.Economy == (economy.Config{}) {
		o.Economy = economy.DefaultConfig()
	}

	agg := power.NewAggregator(o.Catalog)
	corrector := balance.NewCorrector(o.Balance, o.Catalog, agg)
	tracker := stability.NewTracker()
	mkt := market.New(o.Market, o.Catalog, tracker)
	return &Engine{
		catalog:     o.Catalog,
		power:       agg,
		corrector:   corrector,
		tracker:     tracker,
		market:      mkt,
		balancer:    economy.NewBalancer(o.Economy, agg, corrector, mkt, o.Registry, o.Sink),
		registry:    o.Registry,
		store:       o.Store,
		codec:       o.Codec,
		persistence: pass.NewGuard("persist"),
	}
}

func validFaction(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty faction id", ErrInvalidArgument)
	}
	return nil
}

func validClass(id string) error {
	if _, err := catalog.ParseClassID(id); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

// --- Power ---

// RecordUsage adds delta uses of classID to the faction.
func (e *Engine) RecordUsage(factionID, classID string, delta int64) (model.FactionUsageRecord, error) {
	if err := validFaction(factionID); err != nil {
		return model.FactionUsageRecord{}, err
	}
	if err := validClass(classID); err != nil {
		return model.FactionUsageRecord{}, err
	}
	return e.power.RecordUsage(factionID, classID, delta), nil
}

func (e *Engine) GetPower(factionID string) float64 { return e.power.GetPower(factionID) }

// Usage returns the faction's usage record.
func (e *Engine) Usage(factionID string) (model.FactionUsageRecord, bool) {
	return e.power.Record(factionID)
}

func (e *Engine) Warfare(factionID string) model.WarfareBalance { return e.power.Warfare(factionID) }

// --- Balance ---

func (e *Engine) Classify(factionID string) model.Classification {
	return e.corrector.Classify(factionID)
}

func (e *Engine) BalancedScore(factionID string) float64 {
	return e.corrector.BalancedScore(factionID)
}

func (e *Engine) IsCompliant(factionID string) bool { return e.corrector.IsCompliant(factionID) }

func (e *Engine) Recommendations(factionID string) []string {
	return e.corrector.Recommendations(factionID)
}

// Population returns the statistics published by the last power pass.
func (e *Engine) Population() model.PopulationStats { return e.corrector.Stats() }

// --- Market ---

// ReportTransaction records amount units of classID supplied to or demanded
// from the region. Non-positive amounts are rejected.
func (e *Engine) ReportTransaction(regionID, classID string, amount int64, isSupply bool) error {
	if regionID == "" {
		return fmt.Errorf("%w: empty region id", ErrInvalidArgument)
	}
	if err := validClass(classID); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	e.market.ReportTransaction(regionID, classID, amount, isSupply)
	return nil
}

func (e *Engine) GetPrice(regionID, classID string) float64 {
	return e.market.GetPrice(regionID, classID)
}

func (e *Engine) GetStability(classID string) model.Stability {
	return e.market.GetStability(classID)
}

// Region returns a copy of one region's market.
func (e *Engine) Region(regionID string) (model.RegionalMarket, bool) {
	return e.market.Region(regionID)
}

// --- Economy ---

// GetEconomicStatistics returns a read-only snapshot of the faction's
// economy.
func (e *Engine) GetEconomicStatistics(factionID string) model.EconomicStatistics {
	return e.balancer.Statistics(factionID)
}

func (e *Engine) IncomeMultiplier(factionID string) float64 {
	return e.balancer.IncomeMultiplier(factionID)
}

func (e *Engine) ReportIndustry(r model.IndustryReport) (model.EconomicStatistics, error) {
	if err := validFaction(r.FactionID); err != nil {
		return model.EconomicStatistics{}, err
	}
	return e.balancer.ReportIndustry(r), nil
}

// SetTreasury records a faction's treasury for the next economy pass. It
// fails with ErrReadOnlyRegistry unless the registry is a TreasuryWriter.
func (e *Engine) SetTreasury(factionID string, treasury float64) error {
	if err := validFaction(factionID); err != nil {
		return err
	}
	if treasury < 0 || math.IsNaN(treasury) || math.IsInf(treasury, 0) {
		return fmt.Errorf("%w: treasury must be a non-negative number", ErrInvalidArgument)
	}
	w, ok := e.registry.(TreasuryWriter)
	if !ok {
		return ErrReadOnlyRegistry
	}
	w.Set(factionID, treasury)
	return nil
}

// WaitNotifications blocks until queued faction notifications are attempted.
func (e *Engine) WaitNotifications() { e.balancer.WaitNotifications() }

// RemoveFaction forgets everything held about the faction: its usage, its
// economic statistics, its region's market and any treasury fed through
// SetTreasury.
func (e *Engine) RemoveFaction(ctx context.Context, factionID string) error {
	if err := validFaction(factionID); err != nil {
		return err
	}
	if w, ok := e.registry.(TreasuryWriter); ok {
		w.Remove(factionID)
	}
	e.power.Remove(factionID)
	e.balancer.Remove(factionID)
	e.market.Remove(factionID)
	return e.forget(ctx, factionID)
}

// --- Passes ---

func (e *Engine) RunPowerPass(ctx context.Context) (balance.PassResult, error) {
	return e.corrector.RunPass(ctx)
}

func (e *Engine) RunMarketPass(ctx context.Context) (market.PassResult, error) {
	return e.market.RunPass(ctx)
}

func (e *Engine) RunEconomyPass(ctx context.Context) ([]economy.Evaluation, error) {
	return e.balancer.RunPass(ctx)
}

// --- Global statistics ---

// GlobalStats is a world-wide summary.
type GlobalStats struct {
	TrackedFactions    int                            `json:"tracked_factions"`
	TotalResourceValue float64                        `json:"total_resource_value"`
	Population         model.PopulationStats          `json:"population"`
	TopTraded          []market.ClassVolume           `json:"top_traded"`
	MostExpensive      map[string][]market.ClassPrice `json:"most_expensive"`
}

// GlobalStats summarises every faction and region.
func (e *Engine) GlobalStats() GlobalStats {
	out := GlobalStats{
		TrackedFactions: e.power.Len(),
		Population:      e.corrector.Stats(),
		TopTraded:       e.market.TopTraded(topTradedLimit),
		MostExpensive:   make(map[string][]market.ClassPrice),
	}
	for _, s := range e.balancer.Records() {
		out.TotalResourceValue += s.TotalResourceValue
	}
	for _, rm := range e.market.Regions() {
		out.MostExpensive[rm.RegionID] = e.market.MostExpensive(rm.RegionID, mostExpensiveLimit)
	}
	return out
}
