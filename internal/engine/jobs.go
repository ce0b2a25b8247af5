package engine

import (
	"context"
	"errors"

	"github.com/atmx/balance-engine/internal/config"
	"github.com/atmx/balance-engine/internal/scheduler"
)

// Jobs returns the periodic passes configured by p. The persist job is only
// enabled when a store is attached.
func (e *Engine) Jobs(p config.PassesConfig) []scheduler.Job {
	persist := p.Persist.Enabled && e.store != nil && e.codec != nil
	return []scheduler.Job{
		{
			Name:     "power",
			Interval: p.Power.Interval.Duration,
			Enabled:  p.Power.Enabled,
			Run: func(ctx context.Context) error {
				_, err := e.RunPowerPass(ctx)
				return err
			},
		},
		{
			Name:     "market",
			Interval: p.Market.Interval.Duration,
			Enabled:  p.Market.Enabled,
			Run: func(ctx context.Context) error {
				_, err := e.RunMarketPass(ctx)
				return err
			},
		},
		{
			Name:     "economy",
			Interval: p.Economy.Interval.Duration,
			Enabled:  p.Economy.Enabled,
			Run: func(ctx context.Context) error {
				_, err := e.RunEconomyPass(ctx)
				return err
			},
		},
		{
			Name:     "persist",
			Interval: p.Persist.Interval.Duration,
			Enabled:  persist,
			Run: func(ctx context.Context) error {
				if err := e.Save(ctx); err != nil && !errors.Is(err, ErrNoStore) {
					return err
				}
				return nil
			},
		},
	}
}
