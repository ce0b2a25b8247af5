// Package model defines the core domain types shared across the balance engine.
// Power, prices and statistics are float64 scalars; money published to the
// outside (treasury-derived figures) is rounded through shopspring/decimal.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category classifies a resource class.
type Category string

const (
	CategoryResource  Category = "resource"
	CategoryMunition  Category = "munition"
	CategoryComponent Category = "component"
	CategoryWeapon    Category = "weapon"
	CategoryMisc      Category = "misc"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryResource, CategoryMunition, CategoryComponent, CategoryWeapon, CategoryMisc:
		return true
	}
	return false
}

// ResourceClassDefinition is an immutable catalog entry keyed by resource-class id.
type ResourceClassDefinition struct {
	ID                string   `json:"id" yaml:"id"`
	BaseValue         float64  `json:"base_value" yaml:"base_value"`             // relative to the reference commodity
	ScarcityFactor    float64  `json:"scarcity_factor" yaml:"scarcity_factor"`   // 1.0 common … 5.0 legendary
	Category          Category `json:"category" yaml:"category"`
	PowerLevel        float64  `json:"power_level" yaml:"power_level"`
	VanillaEquivalent string   `json:"vanilla_equivalent,omitempty" yaml:"vanilla_equivalent"`
	Offensive         bool     `json:"offensive,omitempty" yaml:"offensive"`
	Defensive         bool     `json:"defensive,omitempty" yaml:"defensive"`
}

// SeedPrice is the price a region starts from before any transaction.
func (d ResourceClassDefinition) SeedPrice() float64 {
	return d.BaseValue * d.ScarcityFactor
}

// FactionUsageRecord tracks how much a faction has used each resource class.
// AccumulatedPower is derived from UsageCount and the catalog; it is never
// written by anything other than the power aggregator.
type FactionUsageRecord struct {
	FactionID        string           `json:"faction_id"`
	UsageCount       map[string]int64 `json:"usage_count"`
	AccumulatedPower float64          `json:"accumulated_power"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// Clone returns a deep copy so readers never share the usage map with writers.
func (r FactionUsageRecord) Clone() FactionUsageRecord {
	usage := make(map[string]int64, len(r.UsageCount))
	for k, v := range r.UsageCount {
		usage[k] = v
	}
	r.UsageCount = usage
	return r
}

// PopulationStats summarises accumulated power across all tracked factions.
// A value is replaced wholesale on every balancing pass.
type PopulationStats struct {
	Count      int       `json:"count"`
	Mean       float64   `json:"mean"`
	StdDev     float64   `json:"stddev"`
	ComputedAt time.Time `json:"computed_at"`
}

// Classification is the outcome of comparing a faction against the population.
type Classification string

const (
	Normal       Classification = "normal"
	Overpowered  Classification = "overpowered"
	Underpowered Classification = "underpowered"
)

// RegionalMarket is the serialisable state of one region's market.
type RegionalMarket struct {
	RegionID   string             `json:"region_id"`
	Prices     map[string]float64 `json:"prices"`
	Supply     map[string]int64   `json:"supply"`
	Demand     map[string]int64   `json:"demand"`
	LastUpdate time.Time          `json:"last_update"`
}

// PriceStabilityRecord is the rolling price window of one resource class.
type PriceStabilityRecord struct {
	ResourceClassID string    `json:"resource_class_id"`
	RecentPrices    []float64 `json:"recent_prices"` // oldest first
	AveragePrice    float64   `json:"average_price"`
	Volatility      float64   `json:"volatility"`
	StabilityIndex  float64   `json:"stability_index"`
	TrackingSince   time.Time `json:"tracking_since"`
}

// Stability is the read-only view of a PriceStabilityRecord.
type Stability struct {
	AveragePrice   float64 `json:"average_price"`
	Volatility     float64 `json:"volatility"`
	StabilityIndex float64 `json:"stability_index"`
}

// NeutralStability is reported for classes that were never priced.
var NeutralStability = Stability{AveragePrice: 1.0, Volatility: 0.0, StabilityIndex: 100.0}

// EconomicStatistics is the per-faction economic state. IncomeMultiplier is
// owned by the economic balancer and read by the external treasury system.
type EconomicStatistics struct {
	FactionID          string    `json:"faction_id"`
	TotalResourceValue float64   `json:"total_resource_value"`
	TradeVolume        float64   `json:"trade_volume"`
	Factories          float64   `json:"factories"`
	EnergyConsumption  float64   `json:"energy_consumption"`
	ProductionOutput   float64   `json:"production_output"`
	IncomeMultiplier   float64   `json:"income_multiplier"`
	LastCalculated     time.Time `json:"last_calculated"`
}

// NewEconomicStatistics returns the zero state of a faction's economy.
func NewEconomicStatistics(factionID string) EconomicStatistics {
	return EconomicStatistics{FactionID: factionID, IncomeMultiplier: 1.0}
}

// StatisticsView is the published form of EconomicStatistics with money and
// multipliers rounded for display.
type StatisticsView struct {
	FactionID          string          `json:"faction_id"`
	TotalResourceValue decimal.Decimal `json:"total_resource_value"`
	TradeVolume        decimal.Decimal `json:"trade_volume"`
	Factories          decimal.Decimal `json:"factories"`
	EnergyConsumption  decimal.Decimal `json:"energy_consumption"`
	ProductionOutput   decimal.Decimal `json:"production_output"`
	IncomeMultiplier   decimal.Decimal `json:"income_multiplier"`
	LastCalculated     time.Time       `json:"last_calculated"`
}

// View rounds s for publication.
func (s EconomicStatistics) View() StatisticsView {
	r := func(f float64) decimal.Decimal { return decimal.NewFromFloat(f).Round(4) }
	return StatisticsView{
		FactionID:          s.FactionID,
		TotalResourceValue: r(s.TotalResourceValue),
		TradeVolume:        r(s.TradeVolume),
		Factories:          r(s.Factories),
		EnergyConsumption:  r(s.EnergyConsumption),
		ProductionOutput:   r(s.ProductionOutput),
		IncomeMultiplier:   r(s.IncomeMultiplier),
		LastCalculated:     s.LastCalculated,
	}
}

// IndustryReport is a delta submitted by the industry collector.
type IndustryReport struct {
	FactionID         string  `json:"faction_id"`
	Factories         float64 `json:"factories"`
	EnergyConsumption float64 `json:"energy_consumption"`
	ProductionOutput  float64 `json:"production_output"`
}

// WarfareBalance compares a faction's offensive and defensive strength.
type WarfareBalance struct {
	FactionID    string    `json:"faction_id"`
	Offensive    float64   `json:"offensive"`
	Defensive    float64   `json:"defensive"`
	Total        float64   `json:"total"`
	Ratio        float64   `json:"ratio"`
	CalculatedAt time.Time `json:"calculated_at"`
}
