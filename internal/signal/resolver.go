package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/kiranshivaraju/demandcast/internal/region"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// Resolver walks the tier chain of a signal kind and returns the first success.
type Resolver struct {
	registry *region.Registry
	chain    Chain
	now      func() time.Time
}

func NewResolver(registry *region.Registry, chain Chain) *Resolver {
	return &Resolver{registry: registry, chain: chain, now: time.Now}
}

// Resolve looks the region up in the registry and resolves kind for it.
func (r *Resolver) Resolve(ctx context.Context, kind models.SignalKind, regionName string, sector models.Sector) (models.ContextSignal, error) {
	reg, err := r.registry.Lookup(regionName)
	if err != nil {
		return models.ContextSignal{}, err
	}
	return r.ResolveIn(ctx, kind, reg, sector)
}

// ResolveIn resolves kind for an already validated region. Tiers are tried in order; a
// tier that errors, panics or returns a nil payload counts as failed. A well-formed but
// empty payload is a success.
func (r *Resolver) ResolveIn(ctx context.Context, kind models.SignalKind, reg region.Region, sector models.Sector) (models.ContextSignal, error) {
	tiers := r.chain[kind]
	if len(tiers) == 0 {
		return models.ContextSignal{}, fmt.Errorf("%w: %s: no providers configured", ErrSignalUnavailable, kind)
	}

	q := Query{Kind: kind, Region: reg, Sector: sector}
	var errs []error
	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		payload, err := fetch(ctx, tier.Provider, q)
		if err != nil {
			slog.Debug("signal tier failed",
				"kind", kind,
				"region", reg.Name,
				"provider", tier.Provider.Name(),
				"provenance", tier.Provenance,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s (%s): %w", tier.Provider.Name(), tier.Provenance, err))
			continue
		}

		return models.ContextSignal{
			Kind:       kind,
			Payload:    payload,
			Provenance: tier.Provenance,
			Source:     tier.Provider.Name(),
			FetchedAt:  r.now().UTC(),
		}, nil
	}

	return models.ContextSignal{}, fmt.Errorf("%w: %s: %w", ErrSignalUnavailable, kind, errors.Join(errs...))
}

// fetch calls p, converting a panic or a nil payload into an error.
func fetch(ctx context.Context, p Provider, q Query) (payload any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			payload = nil
			err = fmt.Errorf("provider panicked: %v", rec)
		}
	}()

	payload, err = p.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	if isNil(payload) {
		return nil, ErrNoPayload
	}
	return payload, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
