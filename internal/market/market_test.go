package market

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/balance-engine/internal/catalog"
	"github.com/atmx/balance-engine/internal/stability"
)

const testCatalog = `
classes:
  - id: ie:steel_ingot
    base_value: 2
    scarcity_factor: 1.5
  - id: tacz:ammo
    base_value: 1
  - id: gamma:core
    base_value: 20
    scarcity_factor: 4
`

func newMarket(t *testing.T) (*Market, *stability.Tracker) {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	tr := stability.NewTracker()
	return New(DefaultConfig(), cat, tr), tr
}

func TestRecomputePrices_DemandExceedsSupply(t *testing.T) {
	m, tr := newMarket(t)
	m.ReportTransaction("red", "ie:steel_ingot", 10, true)
	m.ReportTransaction("red", "ie:steel_ingot", 40, false)

	prices := m.RecomputePrices("red")
	// ratio 4 → multiplier 1.9 → 2 * 1.9 * 1.5
	assert.InDelta(t, 5.7, prices["ie:steel_ingot"], 1e-12)
	assert.InDelta(t, 5.7, m.GetPrice("red", "ie:steel_ingot"), 1e-12)

	rec, ok := tr.Record("ie:steel_ingot")
	require.True(t, ok)
	assert.InDelta(t, 5.7, rec.RecentPrices[len(rec.RecentPrices)-1], 1e-12)
}

func TestRecomputePrices_ClearsLedger(t *testing.T) {
	m, _ := newMarket(t)
	m.ReportTransaction("red", "tacz:ammo", 5, true)
	m.RecomputePrices("red")

	r, ok := m.Region("red")
	require.True(t, ok)
	assert.Empty(t, r.Supply)
	assert.Empty(t, r.Demand)
	assert.False(t, r.LastUpdate.IsZero())

	// An empty window leaves prices untouched.
	before := m.GetPrice("red", "tacz:ammo")
	assert.Empty(t, m.RecomputePrices("red"))
	assert.Equal(t, before, m.GetPrice("red", "tacz:ammo"))
}

func TestRecomputePrices_NoSupplyUsesSentinel(t *testing.T) {
	m, _ := newMarket(t)
	m.ReportTransaction("red", "tacz:ammo", 1, false)
	p := m.RecomputePrices("red")["tacz:ammo"]
	assert.InDelta(t, 1.0+(UnboundedRatio-1)*0.3, p, 1e-3)

	m.ReportTransaction("red", "tacz:ammo", 3, true)
	assert.InDelta(t, 0.7, m.RecomputePrices("red")["tacz:ammo"], 1e-12)
}

func TestReportTransaction_IgnoresNonPositive(t *testing.T) {
	m, _ := newMarket(t)
	m.ReportTransaction("red", "tacz:ammo", 0, true)
	m.ReportTransaction("red", "tacz:ammo", -4, false)
	assert.Empty(t, m.RecomputePrices("red"))
}

func TestGetPrice_SeedIsStable(t *testing.T) {
	m, _ := newMarket(t)
	m.ReportTransaction("red", "tacz:ammo", 1, true)
	first := m.GetPrice("red", "gamma:core")
	assert.Equal(t, 80.0, first)
	assert.Equal(t, first, m.GetPrice("red", "gamma:core"))

	// Unknown classes seed from the vanilla fallback at scarcity 1.
	assert.Equal(t, 10.0, m.GetPrice("red", "newmod:big_crystal"))

	r, _ := m.Region("red")
	assert.Len(t, r.Prices, 2)
}

func TestGetPrice_UnknownRegionIsNotCreated(t *testing.T) {
	m, _ := newMarket(t)
	m.ReportTransaction("a", "tacz:ammo", 1, true)
	m.ReportTransaction("a", "tacz:ammo", 31, false)
	m.RecomputePrices("a")

	assert.Equal(t, 1.0, m.GetPrice("ghost", "tacz:ammo"))
	assert.Equal(t, 1.0, m.GetPrice("ghost", "tacz:ammo"))
	_, ok := m.Region("ghost")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())

	// A lone region has nothing to deviate from.
	assert.Equal(t, 0, m.ApplyCorrections())
	assert.InDelta(t, 10.0, m.GetPrice("a", "tacz:ammo"), 1e-12)
}

func TestApplyCorrections_DampsOutliers(t *testing.T) {
	m, _ := newMarket(t)
	for _, region := range []string{"a", "b", "c"} {
		m.ReportTransaction(region, "gamma:core", 1, true)
		m.GetPrice(region, "tacz:ammo") // 1.0 everywhere
	}
	m.ReportTransaction("a", "tacz:ammo", 1, true)
	m.ReportTransaction("a", "tacz:ammo", 31, false)
	// ratio 31 → 1 + 30*0.3 = 10
	require.InDelta(t, 10.0, m.RecomputePrices("a")["tacz:ammo"], 1e-12)

	assert.Equal(t, 1, m.ApplyCorrections())
	// avg (10+1+1)/3 = 4; 10*0.95 + 4*0.05
	assert.InDelta(t, 9.7, m.GetPrice("a", "tacz:ammo"), 1e-12)
	assert.Equal(t, 1.0, m.GetPrice("b", "tacz:ammo"), "deviation of 75% is tolerated")
}

func TestRunPass(t *testing.T) {
	m, _ := newMarket(t)
	m.ReportTransaction("a", "tacz:ammo", 2, true)
	m.ReportTransaction("b", "ie:steel_ingot", 2, false)

	res, err := m.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Repriced)
	assert.Equal(t, 0, res.Corrected)
}

func TestConcurrentTransactionsAndPricing(t *testing.T) {
	m, _ := newMarket(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m.ReportTransaction("red", "tacz:ammo", 1, j%2 == 0)
				m.GetPrice("red", "tacz:ammo")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				m.RecomputePrices("red")
			}
		}()
	}
	wg.Wait()
	assert.Greater(t, m.GetPrice("red", "tacz:ammo"), 0.0)
}

func TestTopTradedAndMostExpensive(t *testing.T) {
	m, _ := newMarket(t)
	m.ReportTransaction("a", "tacz:ammo", 5, true)
	m.ReportTransaction("b", "tacz:ammo", 5, false)
	m.ReportTransaction("a", "ie:steel_ingot", 7, true)
	m.ReportTransaction("b", "gamma:core", 1, false)

	assert.Equal(t, []ClassVolume{
		{ClassID: "tacz:ammo", Volume: 10},
		{ClassID: "ie:steel_ingot", Volume: 7},
	}, m.TopTraded(2))

	m.GetPrice("a", "tacz:ammo")
	m.GetPrice("a", "gamma:core")
	m.GetPrice("a", "ie:steel_ingot")
	top := m.MostExpensive("a", 2)
	require.Len(t, top, 2)
	assert.Equal(t, "gamma:core", top[0].ClassID)
	assert.Equal(t, "ie:steel_ingot", top[1].ClassID)
	assert.Empty(t, m.MostExpensive("nowhere", 5))
}

func TestRestoreAndRemove(t *testing.T) {
	m, _ := newMarket(t)
	m.ReportTransaction("red", "tacz:ammo", 5, true)
	m.GetPrice("red", "gamma:core")
	snap, _ := m.Region("red")

	other, _ := newMarket(t)
	other.Restore(snap)
	got, ok := other.Region("red")
	require.True(t, ok)
	assert.Equal(t, snap, got)

	other.Remove("red")
	_, ok = other.Region("red")
	assert.False(t, ok)
	assert.Equal(t, 0, other.Len())
}
