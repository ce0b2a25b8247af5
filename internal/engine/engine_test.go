package engine

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/balance-engine/internal/catalog"
	"github.com/atmx/balance-engine/internal/config"
	"github.com/atmx/balance-engine/internal/economy"
	"github.com/atmx/balance-engine/internal/model"
	"github.com/atmx/balance-engine/internal/registry"
	"github.com/atmx/balance-engine/internal/snapshot"
	"github.com/atmx/balance-engine/internal/store"
)

const testCatalog = `
classes:
  - id: tacz:rifle
    base_value: 5
    power_level: 1.2
    offensive: true
  - id: capsawims:plate
    base_value: 3
    scarcity_factor: 2
    power_level: 2
    defensive: true
  - id: ie:steel_ingot
    base_value: 2
    scarcity_factor: 1.5
relations:
  synergies:
    - ["tacz", "capsawims"]
`

type testEnv struct {
	engine   *Engine
	store    *store.MemoryStore
	registry *registry.Memory
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	codec, err := snapshot.NewCodec(true)
	require.NoError(t, err)
	t.Cleanup(codec.Close)

	ms := store.NewMemoryStore()
	reg := registry.NewMemory()
	e := New(Options{Catalog: cat, Registry: reg, Store: ms, Codec: codec})
	return testEnv{engine: e, store: ms, registry: reg}
}

func (env testEnv) reload(t *testing.T) *Engine {
	t.Helper()
	fresh := New(Options{Catalog: env.engine.catalog, Registry: env.registry, Store: env.store, Codec: env.engine.codec})
	require.NoError(t, fresh.Load(context.Background()))
	return fresh
}

func TestRecordUsage_Validates(t *testing.T) {
	e := newTestEnv(t).engine

	_, err := e.RecordUsage("", "tacz:rifle", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.RecordUsage("red", "not a class", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, catalog.ErrInvalidClassID)

	rec, err := e.RecordUsage("red", "tacz:rifle", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.UsageCount["tacz:rifle"])
	assert.Equal(t, rec.AccumulatedPower, e.GetPower("red"))
	assert.Greater(t, e.GetPower("red"), 0.0)
}

func TestReportTransaction_Validates(t *testing.T) {
	e := newTestEnv(t).engine
	assert.ErrorIs(t, e.ReportTransaction("", "tacz:rifle", 1, true), ErrInvalidArgument)
	assert.ErrorIs(t, e.ReportTransaction("north", "bad", 1, true), ErrInvalidArgument)
	assert.ErrorIs(t, e.ReportTransaction("north", "tacz:rifle", 0, true), ErrInvalidArgument)
	assert.NoError(t, e.ReportTransaction("north", "tacz:rifle", 5, false))
}

func TestPasses_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()
	env.registry.Set("red", 1000)
	env.registry.Set("blue", 10)

	_, err := e.RecordUsage("red", "tacz:rifle", 5)
	require.NoError(t, err)
	_, err = e.RecordUsage("red", "capsawims:plate", 5)
	require.NoError(t, err)
	_, err = e.RecordUsage("blue", "ie:steel_ingot", 1)
	require.NoError(t, err)

	require.NoError(t, e.ReportTransaction("red", "ie:steel_ingot", 10, true))
	require.NoError(t, e.ReportTransaction("red", "ie:steel_ingot", 40, false))

	res, err := e.RunPowerPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Count)
	assert.Equal(t, res.Stats, e.Population())

	mres, err := e.RunMarketPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mres.Repriced)
	assert.InDelta(t, 2*1.9*1.5, e.GetPrice("red", "ie:steel_ingot"), 1e-12)
	assert.Less(t, e.GetStability("ie:steel_ingot").StabilityIndex, 100.0)

	evs, err := e.RunEconomyPass(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, 50.0, e.GetEconomicStatistics("red").TradeVolume)
	assert.Greater(t, e.GetEconomicStatistics("red").TotalResourceValue, 0.0)
	e.WaitNotifications()

	assert.True(t, e.IsCompliant("blue"))
	assert.Equal(t, model.Normal, e.Classify("blue"))
	assert.Equal(t, e.BalancedScore("blue"), evs[0].BalancedScore)
	assert.Equal(t, "blue", evs[0].FactionID)
	w := e.Warfare("red")
	assert.Greater(t, w.Offensive, 1.0)
	assert.Greater(t, w.Defensive, 1.0)
	assert.Empty(t, e.Recommendations("red"), "red already uses both synergy partners")
}

func TestGlobalStats(t *testing.T) {
	e := newTestEnv(t).engine
	require.NoError(t, e.ReportTransaction("north", "tacz:rifle", 7, true))
	require.NoError(t, e.ReportTransaction("south", "tacz:rifle", 3, false))
	require.NoError(t, e.ReportTransaction("south", "ie:steel_ingot", 2, false))
	e.GetPrice("north", "capsawims:plate")
	_, err := e.RecordUsage("red", "tacz:rifle", 1)
	require.NoError(t, err)

	gs := e.GlobalStats()
	assert.Equal(t, 1, gs.TrackedFactions)
	require.Len(t, gs.TopTraded, 2)
	assert.Equal(t, "tacz:rifle", gs.TopTraded[0].ClassID)
	assert.Equal(t, int64(10), gs.TopTraded[0].Volume)
	require.Contains(t, gs.MostExpensive, "north")
	assert.Equal(t, "capsawims:plate", gs.MostExpensive["north"][0].ClassID)
	assert.Empty(t, gs.MostExpensive["south"], "nothing priced in south yet")
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	_, err := e.RecordUsage("red", "tacz:rifle", 4)
	require.NoError(t, err)
	_, err = e.ReportIndustry(model.IndustryReport{FactionID: "red", Factories: 2})
	require.NoError(t, err)
	require.NoError(t, e.ReportTransaction("red", "tacz:rifle", 2, true))
	require.NoError(t, e.ReportTransaction("red", "tacz:rifle", 6, false))
	_, err = e.RunMarketPass(ctx)
	require.NoError(t, err)
	require.NoError(t, e.ReportTransaction("red", "tacz:rifle", 9, true)) // open window

	require.NoError(t, e.Save(ctx))
	keys, err := env.store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"econ/red", "market/red", "stability/tacz:rifle", "usage/red"}, keys)

	fresh := env.reload(t)
	rec, ok := fresh.Usage("red")
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"tacz:rifle": 4}, rec.UsageCount)
	assert.Equal(t, e.GetPower("red"), fresh.GetPower("red"))
	assert.Equal(t, 2.0, fresh.GetEconomicStatistics("red").Factories)
	assert.Equal(t, e.GetPrice("red", "tacz:rifle"), fresh.GetPrice("red", "tacz:rifle"))
	assert.Equal(t, e.GetStability("tacz:rifle"), fresh.GetStability("tacz:rifle"))

	region, ok := fresh.Region("red")
	require.True(t, ok)
	assert.Equal(t, int64(9), region.Supply["tacz:rifle"])
}

func TestSave_PrunesRemovedRecords(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	_, err := e.RecordUsage("red", "tacz:rifle", 1)
	require.NoError(t, err)
	_, err = e.RecordUsage("blue", "tacz:rifle", 1)
	require.NoError(t, err)
	require.NoError(t, e.Save(ctx))

	e.power.Remove("blue")
	require.NoError(t, e.Save(ctx))
	keys, err := env.store.Keys(ctx, usagePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"usage/red"}, keys)
}

func TestRemoveFaction(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	_, err := e.RecordUsage("red", "tacz:rifle", 2)
	require.NoError(t, err)
	_, err = e.ReportIndustry(model.IndustryReport{FactionID: "red", Factories: 1})
	require.NoError(t, err)
	require.NoError(t, e.ReportTransaction("red", "tacz:rifle", 1, true))
	require.NoError(t, e.SetTreasury("red", 10))
	require.NoError(t, e.Save(ctx))

	require.NoError(t, e.RemoveFaction(ctx, "red"))
	assert.Equal(t, 0.0, e.GetPower("red"))
	assert.Equal(t, model.NewEconomicStatistics("red"), e.GetEconomicStatistics("red"))
	_, ok := e.Region("red")
	assert.False(t, ok)
	_, err = env.registry.GetTreasury(ctx, "red")
	assert.ErrorIs(t, err, registry.ErrUnknownFaction)

	keys, err := env.store.Keys(ctx, "")
	require.NoError(t, err)
	for _, k := range keys {
		assert.False(t, strings.HasSuffix(k, "/red"), k)
	}
	assert.ErrorIs(t, e.RemoveFaction(ctx, ""), ErrInvalidArgument)
}

func TestLoad_SkipsCorruptRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.engine.RecordUsage("red", "tacz:rifle", 2)
	require.NoError(t, err)
	require.NoError(t, env.engine.Save(ctx))
	require.NoError(t, env.store.Save(ctx, "usage/broken", []byte("j{not json")))

	fresh := New(Options{Catalog: env.engine.catalog, Store: env.store, Codec: env.engine.codec})
	err = fresh.Load(ctx)
	assert.Error(t, err)
	assert.Greater(t, fresh.GetPower("red"), 0.0, "valid records still load")
}

func TestPersistence_Disabled(t *testing.T) {
	e := New(Options{})
	assert.ErrorIs(t, e.Save(context.Background()), ErrNoStore)
	assert.ErrorIs(t, e.Load(context.Background()), ErrNoStore)
	assert.NoError(t, e.RemoveFaction(context.Background(), "red"))

	jobs := e.Jobs(config.Default().Passes)
	require.Len(t, jobs, 4)
	for _, j := range jobs {
		if j.Name == "persist" {
			assert.False(t, j.Enabled, "no store attached")
		} else {
			assert.True(t, j.Enabled, j.Name)
		}
	}
}

func TestJobs_RunPasses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, j := range env.engine.Jobs(config.Default().Passes) {
		assert.True(t, j.Enabled, j.Name)
		assert.NoError(t, j.Run(ctx), j.Name)
	}
}

func TestGetPrice_DoesNotCreateRegion(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	assert.Equal(t, 5.0, e.GetPrice("nowhere", "tacz:rifle"))
	_, ok := e.Region("nowhere")
	assert.False(t, ok)

	require.NoError(t, e.Save(ctx))
	keys, err := env.store.Keys(ctx, marketPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSetTreasury(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine

	assert.ErrorIs(t, e.SetTreasury("", 1), ErrInvalidArgument)
	assert.ErrorIs(t, e.SetTreasury("red", -1), ErrInvalidArgument)
	require.NoError(t, e.SetTreasury("red", 400))

	_, err := e.RunEconomyPass(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, e.GetEconomicStatistics("red").TradeVolume, 1e-9)

	readOnly := New(Options{Registry: readOnlyRegistry{}})
	assert.ErrorIs(t, readOnly.SetTreasury("red", 1), ErrReadOnlyRegistry)
}

type readOnlyRegistry struct{}

func (readOnlyRegistry) ListFactionIDs(context.Context) ([]string, error) { return nil, nil }

func (readOnlyRegistry) GetTreasury(context.Context, string) (float64, error) { return 0, nil }

// Factions seen only through usage have no treasury in the in-memory registry.
// The pass must run without reporting lookup failures.
func TestEconomyPass_MemoryRegistryWithoutTreasuries(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	env := newTestEnv(t)
	e := env.engine
	_, err := e.RecordUsage("red", "tacz:rifle", 3)
	require.NoError(t, err)
	_, err = e.RecordUsage("blue", "ie:steel_ingot", 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.RunEconomyPass(context.Background())
		require.NoError(t, err)
	}
	e.WaitNotifications()

	assert.NotContains(t, logs.String(), "treasury")
	assert.NotContains(t, logs.String(), "level=WARN")
	assert.Equal(t, 0.0, e.GetEconomicStatistics("red").TradeVolume)
}

// slowSink holds every notification for delay.
type slowSink struct{ delay time.Duration }

func (s slowSink) NotifyFaction(ctx context.Context, _, _ string) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ctxStore fails writes once the caller's context is done, like the SQL
// stores do.
type ctxStore struct{ *store.MemoryStore }

func (s ctxStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Save(ctx, key, data)
}

func TestFlush_SaveOutlivesSlowNotifications(t *testing.T) {
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	codec, err := snapshot.NewCodec(false)
	require.NoError(t, err)
	t.Cleanup(codec.Close)

	// A huge K makes every faction underpowered, so each pass notifies.
	econ := economy.DefaultConfig()
	econ.ExpectedValuePerScore = 1e6
	st := ctxStore{store.NewMemoryStore()}
	e := New(Options{Catalog: cat, Economy: econ, Store: st, Codec: codec, Sink: slowSink{delay: 150 * time.Millisecond}})

	_, err = e.RecordUsage("red", "tacz:rifle", 2)
	require.NoError(t, err)
	evs, err := e.RunEconomyPass(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, economy.Underpowered, evs[0].Verdict)

	start := time.Now()
	require.NoError(t, e.Flush(50*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "flush waits for the notification")

	keys, err := st.Keys(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, keys, "econ/red")
	assert.Contains(t, keys, "usage/red")
}
