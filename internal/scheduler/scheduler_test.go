package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/balance-engine/internal/pass"
)

func counting(n *atomic.Int32, err error) func(context.Context) error {
	return func(context.Context) error {
		n.Add(1)
		return err
	}
}

func TestRun_TicksEnabledJobsOnly(t *testing.T) {
	var fast, failing, skipped, off atomic.Int32
	s := New(
		Job{Name: "fast", Interval: 5 * time.Millisecond, Enabled: true, Run: counting(&fast, nil)},
		Job{Name: "failing", Interval: 5 * time.Millisecond, Enabled: true, Run: counting(&failing, errors.New("boom"))},
		Job{Name: "busy", Interval: 5 * time.Millisecond, Enabled: true, Run: counting(&skipped, pass.ErrInProgress)},
		Job{Name: "off", Interval: 5 * time.Millisecond, Enabled: false, Run: counting(&off, nil)},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return fast.Load() >= 3 && failing.Load() >= 3 && skipped.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "failing jobs keep their schedule")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(0), off.Load())
	assert.Len(t, s.Jobs(), 4)
}

func TestRun_NoJobsReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, New().Run(ctx))
}

func TestRun_JobSeesCancellation(t *testing.T) {
	started := make(chan struct{})
	var once atomic.Bool
	s := New(Job{Name: "slow", Interval: time.Millisecond, Enabled: true, Run: func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-started
	cancel()
	assert.NoError(t, <-done)
}
