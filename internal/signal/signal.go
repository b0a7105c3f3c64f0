// Package signal resolves contextual signals for a forecast. Each signal kind has an
// ordered chain of tiers (live, synthesized, static); the Resolver walks the chain and
// the Aggregator fans out over every kind a sector needs.
package signal

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/demandcast/internal/region"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// ErrSignalUnavailable is returned when every tier of a signal's chain failed.
var ErrSignalUnavailable = errors.New("signal unavailable")

// ErrNoPayload is recorded for a tier that returned neither a payload nor an error.
var ErrNoPayload = errors.New("provider returned no payload")

// Query identifies one signal to fetch.
type Query struct {
	Kind   models.SignalKind
	Region region.Region
	Sector models.Sector
}

// Provider fetches one kind of signal from one source. Implementations return the typed
// payload for the kind (see models.NewPayload) and must be safe for concurrent use.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) (any, error)
}

// Tier is one step of a resolution chain.
type Tier struct {
	Provenance models.Provenance
	Provider   Provider
}

// Chain maps each signal kind to its tiers in resolution order.
type Chain map[models.SignalKind][]Tier

// Add appends a tier for kind. A nil provider, including a typed nil pointer, is ignored
// so unconfigured sources can be passed through unconditionally.
func (c Chain) Add(kind models.SignalKind, provenance models.Provenance, p Provider) {
	if isNil(p) {
		return
	}
	c[kind] = append(c[kind], Tier{Provenance: provenance, Provider: p})
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	ID string
	Fn func(ctx context.Context, q Query) (any, error)
}

func (f ProviderFunc) Name() string { return f.ID }

func (f ProviderFunc) Fetch(ctx context.Context, q Query) (any, error) {
	return f.Fn(ctx, q)
}
