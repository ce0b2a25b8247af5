package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atmx/balance-engine/internal/metrics"
	"github.com/atmx/balance-engine/internal/model"
	"github.com/atmx/balance-engine/internal/store"
)

// Record key prefixes. Each record is stored whole under prefix+id.
const (
	usagePrefix     = "usage/"
	econPrefix      = "econ/"
	marketPrefix    = "market/"
	stabilityPrefix = "stability/"
)

// ErrNoStore is returned by Save and Load when persistence is disabled.
var ErrNoStore = errors.New("engine: persistence not configured")

type saveBatch struct {
	prefix  string
	records map[string]any
}

// Flush waits for in-flight notifications and then saves. The save gets its
// own timeout, started once the notifications are done, so a slow sink cannot
// use up the time the store writes need.
func (e *Engine) Flush(timeout time.Duration) error {
	e.WaitNotifications()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.Save(ctx)
}

// Save writes every record to the store and deletes stored records that no
// longer exist in memory. A failing record is logged and skipped; the rest
// are still written.
func (e *Engine) Save(ctx context.Context) error {
	if e.store == nil || e.codec == nil {
		return ErrNoStore
	}
	var saved, failed int
	err := e.persistence.Run(ctx, func(ctx context.Context) error {
		saved, failed = e.save(ctx)
		if failed > 0 {
			return fmt.Errorf("save: %d of %d records failed", failed, saved+failed)
		}
		return nil
	})
	if err == nil {
		slog.Info("engine state saved", "records", saved)
	}
	return err
}

func (e *Engine) save(ctx context.Context) (saved, failed int) {
	batches := []saveBatch{
		{usagePrefix, map[string]any{}},
		{econPrefix, map[string]any{}},
		{marketPrefix, map[string]any{}},
		{stabilityPrefix, map[string]any{}},
	}
	for _, r := range e.power.Records() {
		batches[0].records[r.FactionID] = r
	}
	for _, s := range e.balancer.Records() {
		batches[1].records[s.FactionID] = s
	}
	for _, rm := range e.market.Regions() {
		batches[2].records[rm.RegionID] = rm
	}
	for _, st := range e.tracker.Records() {
		batches[3].records[st.ResourceClassID] = st
	}

	for _, b := range batches {
		for id, rec := range b.records {
			key := b.prefix + id
			data, err := e.codec.Marshal(rec)
			if err == nil {
				err = e.store.Save(ctx, key, data)
			}
			if err != nil {
				failed++
				metrics.PersistenceErrors.WithLabelValues("save").Inc()
				slog.Error("record save failed", "key", key, "err", err)
				continue
			}
			saved++
		}
		e.prune(ctx, b)
	}
	return saved, failed
}

// prune deletes stored keys under the batch prefix that were not just saved.
func (e *Engine) prune(ctx context.Context, b saveBatch) {
	keys, err := e.store.Keys(ctx, b.prefix)
	if err != nil {
		metrics.PersistenceErrors.WithLabelValues("list").Inc()
		slog.Error("record listing failed", "prefix", b.prefix, "err", err)
		return
	}
	for _, key := range keys {
		if _, ok := b.records[strings.TrimPrefix(key, b.prefix)]; ok {
			continue
		}
		if err := e.store.Delete(ctx, key); err != nil {
			metrics.PersistenceErrors.WithLabelValues("delete").Inc()
			slog.Error("stale record delete failed", "key", key, "err", err)
		}
	}
}

// forget deletes a faction's records from the store, if one is attached.
func (e *Engine) forget(ctx context.Context, factionID string) error {
	if e.store == nil {
		return nil
	}
	var errs []error
	for _, prefix := range []string{usagePrefix, econPrefix, marketPrefix} {
		if err := e.store.Delete(ctx, prefix+factionID); err != nil {
			metrics.PersistenceErrors.WithLabelValues("delete").Inc()
			slog.Error("record delete failed", "key", prefix+factionID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load restores every stored record into memory. Records that cannot be read
// or decoded are logged and skipped.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil || e.codec == nil {
		return ErrNoStore
	}
	loaded, failed := 0, 0
	restore := func(prefix string, decode func(data []byte) error) {
		keys, err := e.store.Keys(ctx, prefix)
		if err != nil {
			failed++
			metrics.PersistenceErrors.WithLabelValues("list").Inc()
			slog.Error("record listing failed", "prefix", prefix, "err", err)
			return
		}
		for _, key := range keys {
			data, err := e.store.Load(ctx, key)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err == nil {
				err = decode(data)
			}
			if err != nil {
				failed++
				metrics.PersistenceErrors.WithLabelValues("load").Inc()
				slog.Error("record load failed", "key", key, "err", err)
				continue
			}
			loaded++
		}
	}

	restore(stabilityPrefix, func(data []byte) error {
		var rec model.PriceStabilityRecord
		if err := e.codec.Unmarshal(data, &rec); err != nil {
			return err
		}
		e.tracker.Restore(rec)
		return nil
	})
	restore(marketPrefix, func(data []byte) error {
		var rm model.RegionalMarket
		if err := e.codec.Unmarshal(data, &rm); err != nil {
			return err
		}
		e.market.Restore(rm)
		return nil
	})
	restore(usagePrefix, func(data []byte) error {
		var rec model.FactionUsageRecord
		if err := e.codec.Unmarshal(data, &rec); err != nil {
			return err
		}
		e.power.Restore(rec)
		return nil
	})
	restore(econPrefix, func(data []byte) error {
		var s model.EconomicStatistics
		if err := e.codec.Unmarshal(data, &s); err != nil {
			return err
		}
		e.balancer.Restore(s)
		return nil
	})

	slog.Info("engine state loaded", "records", loaded, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("load: %d records failed", failed)
	}
	return nil
}
