// Package app assembles the forecast pipeline from configuration. The server and the
// CLI share it so both run the same signal chain and provider stack.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/demandcast/internal/ai/factory"
	"github.com/kiranshivaraju/demandcast/internal/analysis"
	"github.com/kiranshivaraju/demandcast/internal/cache"
	"github.com/kiranshivaraju/demandcast/internal/config"
	"github.com/kiranshivaraju/demandcast/internal/forecast"
	"github.com/kiranshivaraju/demandcast/internal/region"
	"github.com/kiranshivaraju/demandcast/internal/signal"
	"github.com/kiranshivaraju/demandcast/internal/signal/live"
	"github.com/kiranshivaraju/demandcast/internal/signal/static"
	"github.com/kiranshivaraju/demandcast/internal/signal/synth"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
	"github.com/kiranshivaraju/demandcast/pkg/normalize"
	"github.com/kiranshivaraju/demandcast/pkg/prompt"
)

// App is a fully wired pipeline.
type App struct {
	Registry *region.Registry
	Taxonomy *prompt.Taxonomy
	Provider models.AIProvider
	Service  *forecast.Service
}

// New loads the reference tables, builds the configured inference provider and signal
// chain, and returns the assembled service. c may be nil to disable caching.
func New(ctx context.Context, cfg *config.Config, st store.Store, c cache.Cache) (*App, error) {
	registry, err := region.Load(cfg.Tables.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("load region registry: %w", err)
	}
	taxonomy, err := prompt.LoadTaxonomy(cfg.Tables.TaxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}

	provider, err := factory.NewProvider(ctx, cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("create AI provider: %w", err)
	}

	chain, err := NewChain(cfg.Signals, provider, c)
	if err != nil {
		return nil, fmt.Errorf("build signal chain: %w", err)
	}

	svc := forecast.NewService(forecast.Deps{
		Registry:   registry,
		Aggregator: signal.NewAggregator(signal.NewResolver(registry, chain), taxonomy),
		Taxonomy:   taxonomy,
		Provider:   provider,
		Store:      st,
		Cache:      c,
	}, Options(cfg))

	slog.Info("forecast pipeline ready",
		"provider", provider.Name(),
		"model", provider.Model(),
		"regions", registry.Len(),
	)
	return &App{Registry: registry, Taxonomy: taxonomy, Provider: provider, Service: svc}, nil
}

// Options maps configuration onto pipeline options.
func Options(cfg *config.Config) forecast.Options {
	return forecast.Options{
		PredictionCount: cfg.Forecast.PredictionCount,
		Timeout:         cfg.Forecast.Timeout,
		Normalize: normalize.Options{
			Tolerance:         cfg.Forecast.PctTolerance,
			DefaultConfidence: cfg.Forecast.DefaultConfidence,
		},
		Alerts:      analysis.AlertPolicy{ChangeThreshold: cfg.Forecast.AlertChangeThresh},
		Temperature: cfg.AI.Temperature,
		TopP:        cfg.AI.TopP,
		Seed:        cfg.AI.Seed,
	}
}

// NewChain builds the tier chain of every signal kind: the live source when one is
// configured, model synthesis when enabled, and the static baseline last. Live and
// synthesized payloads are cached for cfg.CacheTTL.
func NewChain(cfg config.SignalsConfig, provider models.AIProvider, c cache.Cache) (signal.Chain, error) {
	chain := signal.Chain{}

	liveTiers := map[models.SignalKind]signal.Provider{}
	if w := live.NewWeather(cfg.OpenWeatherMap, cfg.Timeout); w != nil {
		liveTiers[models.SignalWeather] = w
	}
	if n := live.NewNews(cfg.NewsAPI, cfg.Timeout); n != nil {
		liveTiers[models.SignalNews] = n
	}
	for name, template := range cfg.Endpoints {
		kind := models.SignalKind(name)
		e, err := live.NewEndpoint(kind, template, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		if e != nil {
			liveTiers[kind] = e
		}
	}

	var synthesized signal.Provider
	if cfg.Synthesis {
		if s := synth.New(provider); s != nil {
			synthesized = s
		}
	}
	baseline := static.New()

	for _, kind := range models.SignalKinds {
		if p, ok := liveTiers[kind]; ok {
			chain.Add(kind, models.ProvenanceLive, signal.Cached(p, c, cfg.CacheTTL))
		}
		if synthesized != nil {
			chain.Add(kind, models.ProvenanceSynthesized, signal.Cached(synthesized, c, cfg.CacheTTL))
		}
		chain.Add(kind, models.ProvenanceStatic, baseline)
	}
	return chain, nil
}
