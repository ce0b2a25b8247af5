// Package registry holds the in-process FactionRegistry used when the engine
// is not attached to a game database.
package registry

import (
	"context"

	"github.com/atmx/balance-engine/internal/economy"
	"github.com/atmx/balance-engine/internal/keyed"
)

// ErrUnknownFaction is returned by GetTreasury for factions never set. The
// balancer treats it as "no treasury yet" rather than a lookup failure.
var ErrUnknownFaction = economy.ErrNoTreasury

// Memory is a FactionRegistry fed by Set and Remove. The server feeds it from
// PUT /api/v1/factions/{id}/treasury when no game database is attached.
type Memory struct {
	treasuries *keyed.Store[float64]
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{treasuries: keyed.New[float64]()}
}

// Set registers a faction or updates its treasury.
func (m *Memory) Set(factionID string, treasury float64) {
	m.treasuries.Put(factionID, treasury)
}

// Remove forgets a faction.
func (m *Memory) Remove(factionID string) {
	m.treasuries.Delete(factionID)
}

func (m *Memory) ListFactionIDs(context.Context) ([]string, error) {
	return m.treasuries.Keys(), nil
}

func (m *Memory) GetTreasury(_ context.Context, factionID string) (float64, error) {
	t, ok := m.treasuries.Get(factionID)
	if !ok {
		return 0, ErrUnknownFaction
	}
	return t, nil
}
