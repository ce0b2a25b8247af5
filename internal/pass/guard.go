// Package pass runs periodic balancing passes one at a time per component.
// A pass started while the previous run of the same component is still
// executing is skipped, not queued.
package pass

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/atmx/balance-engine/internal/metrics"
	"github.com/atmx/balance-engine/internal/tracing"
)

// ErrInProgress is returned when a pass is triggered while the previous run
// of the same component has not finished.
var ErrInProgress = errors.New("pass: previous run still in progress")

type idKey struct{}

// Guard is a per-component reentrancy guard. The zero value is ready to use.
type Guard struct {
	name    string
	running atomic.Bool
}

// NewGuard creates a guard whose passes are reported under name.
func NewGuard(name string) *Guard {
	return &Guard{name: name}
}

// Name is the pass name used in logs, spans and metrics.
func (g *Guard) Name() string { return g.name }

// Running reports whether a pass is executing.
func (g *Guard) Running() bool { return g.running.Load() }

// Run executes fn unless another run is in flight, in which case it returns
// ErrInProgress without calling fn. fn receives a context carrying the span
// and the pass id.
func (g *Guard) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.running.CompareAndSwap(false, true) {
		metrics.PassesTotal.WithLabelValues(g.name, "skipped").Inc()
		return ErrInProgress
	}
	defer g.running.Store(false)

	id := uuid.New().String()
	ctx = context.WithValue(ctx, idKey{}, id)
	ctx, span := tracing.Tracer().Start(ctx, "pass."+g.name)
	span.SetAttributes(attribute.String("pass.id", id))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.PassesTotal.WithLabelValues(g.name, "error").Inc()
		slog.Error("pass failed", "pass", g.name, "pass_id", id, "err", err)
		return err
	}
	metrics.PassesTotal.WithLabelValues(g.name, "ok").Inc()
	metrics.PassDuration.WithLabelValues(g.name).Observe(elapsed.Seconds())
	slog.Debug("pass complete", "pass", g.name, "pass_id", id, "elapsed", elapsed)
	return nil
}

// ID returns the id of the pass running in ctx, or "".
func ID(ctx context.Context) string {
	id, _ := ctx.Value(idKey{}).(string)
	return id
}
