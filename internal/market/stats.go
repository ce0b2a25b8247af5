package market

import "sort"

// ClassVolume is the traded volume (supply+demand) of one class in the
// current window.
type ClassVolume struct {
	ClassID string `json:"class_id"`
	Volume  int64  `json:"volume"`
}

// ClassPrice is a class with its regional price.
type ClassPrice struct {
	ClassID string  `json:"class_id"`
	Price   float64 `json:"price"`
}

// TopTraded returns up to n classes with the highest supply+demand across
// all regions in the current window, highest first.
func (m *Market) TopTraded(n int) []ClassVolume {
	volume := make(map[string]int64)
	m.regions.Range(func(_ string, r *region) bool {
		r.mu.RLock()
		for id, v := range r.supply {
			volume[id] += v
		}
		for id, v := range r.demand {
			volume[id] += v
		}
		r.mu.RUnlock()
		return true
	})

	out := make([]ClassVolume, 0, len(volume))
	for id, v := range volume {
		if v > 0 {
			out = append(out, ClassVolume{ClassID: id, Volume: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		return out[i].ClassID < out[j].ClassID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// MostExpensive returns up to n of the region's priced classes, most
// expensive first.
func (m *Market) MostExpensive(regionID string, n int) []ClassPrice {
	r, ok := m.regions.Get(regionID)
	if !ok {
		return []ClassPrice{}
	}
	r.mu.RLock()
	out := make([]ClassPrice, 0, len(r.prices))
	for id, p := range r.prices {
		out = append(out, ClassPrice{ClassID: id, Price: p})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price > out[j].Price
		}
		return out[i].ClassID < out[j].ClassID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
