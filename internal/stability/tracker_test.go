package stability

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/balance-engine/internal/model"
)

func TestGet_NeverObservedIsNeutral(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, model.NeutralStability, tr.Get("tacz:ammo"))
	_, ok := tr.Record("tacz:ammo")
	assert.False(t, ok)
}

func TestAppend_SeedsWindow(t *testing.T) {
	tr := NewTracker()
	st := tr.Append("tacz:ammo", 1.0)
	assert.Equal(t, 1.0, st.AveragePrice)
	assert.Equal(t, 0.0, st.Volatility)
	assert.Equal(t, 100.0, st.StabilityIndex)

	rec, ok := tr.Record("tacz:ammo")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1, 1, 1}, rec.RecentPrices)
}

func TestAppend_OutlierDropsIndexToFloor(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 5; i++ {
		assert.Equal(t, 100.0, tr.Append("x:y", 1).StabilityIndex)
	}
	st := tr.Append("x:y", 10)
	// window: 3 seeds + five 1s + 10 → mean 2, variance 8
	assert.InDelta(t, 2.0, st.AveragePrice, 1e-12)
	assert.InDelta(t, math.Sqrt(8), st.Volatility, 1e-12)
	assert.Equal(t, 0.0, st.StabilityIndex)
	assert.GreaterOrEqual(t, st.StabilityIndex, 0.0)
}

func TestAppend_WindowBound(t *testing.T) {
	tr := NewTracker()
	for i := 1; i <= 57; i++ {
		tr.Append("x:y", float64(i))
		rec, _ := tr.Record("x:y")
		assert.LessOrEqual(t, len(rec.RecentPrices), WindowSize)
		if i > WindowSize {
			assert.Len(t, rec.RecentPrices, WindowSize)
		}
	}
	rec, _ := tr.Record("x:y")
	assert.Equal(t, 38.0, rec.RecentPrices[0])
	assert.Equal(t, 57.0, rec.RecentPrices[WindowSize-1])
}

func TestIndex_Clamped(t *testing.T) {
	assert.Equal(t, 100.0, Index(0))
	assert.InDelta(t, 75.0, Index(0.25), 1e-12)
	assert.Equal(t, 0.0, Index(3))
}

func TestAppend_ConcurrentClasses(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Append("x:shared", float64(j%5))
				tr.Append("x:own", 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 2, tr.Len())
	rec, _ := tr.Record("x:shared")
	assert.Len(t, rec.RecentPrices, WindowSize)
}

func TestRestore(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	long := make([]float64, 30)
	for i := range long {
		long[i] = float64(i)
	}
	tr := NewTracker()
	tr.Restore(model.PriceStabilityRecord{ResourceClassID: "x:y", RecentPrices: long, TrackingSince: since, StabilityIndex: -5})

	rec, ok := tr.Record("x:y")
	require.True(t, ok)
	assert.Len(t, rec.RecentPrices, WindowSize)
	assert.Equal(t, 10.0, rec.RecentPrices[0])
	assert.Equal(t, since, rec.TrackingSince)
	assert.GreaterOrEqual(t, rec.StabilityIndex, 0.0)
	assert.InDelta(t, 19.5, rec.AveragePrice, 1e-12)

	tr.Restore(model.PriceStabilityRecord{ResourceClassID: "x:empty"})
	assert.Equal(t, model.NeutralStability, tr.Get("x:empty"))
}
