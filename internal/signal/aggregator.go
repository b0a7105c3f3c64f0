package signal

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// KindSource reports which signal kinds a sector's forecast needs.
type KindSource interface {
	Signals(sector models.Sector) []models.SignalKind
}

// Context is the aggregated contextual input of one forecast.
type Context struct {
	Signals     map[models.SignalKind]models.ContextSignal
	SourcesUsed []string
}

// Aggregator resolves every signal kind a sector needs concurrently.
type Aggregator struct {
	resolver *Resolver
	kinds    KindSource
}

func NewAggregator(resolver *Resolver, kinds KindSource) *Aggregator {
	return &Aggregator{resolver: resolver, kinds: kinds}
}

// Aggregate validates the region, then resolves each required kind in its own
// goroutine and waits for all of them. A kind that cannot be resolved is replaced by a
// neutral placeholder; only an unknown region fails the call.
func (a *Aggregator) Aggregate(ctx context.Context, sector models.Sector, regionName string) (*Context, error) {
	reg, err := a.resolver.registry.Lookup(regionName)
	if err != nil {
		return nil, err
	}

	kinds := a.kinds.Signals(sector)
	out := &Context{Signals: make(map[models.SignalKind]models.ContextSignal, len(kinds))}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		g.Go(func() error {
			sig, err := a.resolver.ResolveIn(gctx, kind, reg, sector)
			if err != nil {
				slog.Warn("signal unavailable, using neutral placeholder",
					"kind", kind,
					"region", reg.Name,
					"sector", sector,
					"error", err,
				)
				sig = models.ContextSignal{
					Kind:       kind,
					Payload:    models.NeutralPayload(kind),
					Provenance: models.ProvenanceNeutral,
					Source:     "neutral",
					FetchedAt:  time.Now().UTC(),
				}
			}

			mu.Lock()
			out.Signals[kind] = sig
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resolved := make([]models.SignalKind, 0, len(out.Signals))
	for kind := range out.Signals {
		resolved = append(resolved, kind)
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i] < resolved[j] })
	out.SourcesUsed = make([]string, 0, len(resolved))
	for _, kind := range resolved {
		out.SourcesUsed = append(out.SourcesUsed, out.Signals[kind].Label())
	}
	return out, nil
}
