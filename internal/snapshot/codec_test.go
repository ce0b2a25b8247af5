package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/balance-engine/internal/model"
)

func sampleMarket() model.RegionalMarket {
	return model.RegionalMarket{
		RegionID:   "north",
		Prices:     map[string]float64{"tacz:gun_frame": 12.5, "minecraft:iron_ingot": 2},
		Supply:     map[string]int64{"tacz:gun_frame": 4},
		Demand:     map[string]int64{"tacz:gun_frame": 9},
		LastUpdate: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		c, err := NewCodec(compress)
		require.NoError(t, err)

		data, err := c.Marshal(sampleMarket())
		require.NoError(t, err)
		if compress {
			assert.Equal(t, formatZstd, data[0])
		} else {
			assert.Equal(t, formatJSON, data[0])
		}

		var got model.RegionalMarket
		require.NoError(t, c.Unmarshal(data, &got))
		assert.Equal(t, sampleMarket(), got)
		c.Close()
	}
}

func TestCodec_ReadsEitherFormat(t *testing.T) {
	plain, err := NewCodec(false)
	require.NoError(t, err)
	defer plain.Close()
	packed, err := NewCodec(true)
	require.NoError(t, err)
	defer packed.Close()

	rec := model.PriceStabilityRecord{ResourceClassID: "x:y", RecentPrices: []float64{1, 1, 1, 2.5}, StabilityIndex: 42}
	data, err := packed.Marshal(rec)
	require.NoError(t, err)

	var got model.PriceStabilityRecord
	require.NoError(t, plain.Unmarshal(data, &got))
	assert.Equal(t, rec, got)
}

func TestCodec_RejectsBadInput(t *testing.T) {
	c, err := NewCodec(false)
	require.NoError(t, err)
	defer c.Close()

	var v model.RegionalMarket
	assert.ErrorIs(t, c.Unmarshal(nil, &v), ErrEmpty)
	assert.ErrorIs(t, c.Unmarshal([]byte("?{}"), &v), ErrUnknownFormat)
	assert.Error(t, c.Unmarshal([]byte("z-not-zstd"), &v))
	assert.Error(t, c.Unmarshal([]byte("j{broken"), &v))
}
