// Package forecast is the pipeline orchestrator. A forecast walks
// AGGREGATING, PROMPTING, INFERRING, NORMALIZING, SUMMARIZING and PERSISTING in
// order and ends in DONE or FAILED. Nothing is written unless every stage succeeded.
package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/demandcast/internal/analysis"
	"github.com/kiranshivaraju/demandcast/internal/cache"
	"github.com/kiranshivaraju/demandcast/internal/region"
	"github.com/kiranshivaraju/demandcast/internal/signal"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
	"github.com/kiranshivaraju/demandcast/pkg/normalize"
	"github.com/kiranshivaraju/demandcast/pkg/prompt"
)

const runStatusTTL = 30 * time.Minute

// Aggregator gathers the contextual signals of one forecast.
type Aggregator interface {
	Aggregate(ctx context.Context, sector models.Sector, region string) (*signal.Context, error)
}

// Options tunes the pipeline.
type Options struct {
	PredictionCount int
	Timeout         time.Duration
	Normalize       normalize.Options
	Alerts          analysis.AlertPolicy
	Temperature     float32
	TopP            float32
	Seed            int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		PredictionCount: prompt.DefaultCount,
		Timeout:         120 * time.Second,
		Normalize:       normalize.DefaultOptions(),
		Alerts:          analysis.DefaultAlertPolicy(),
		Temperature:     0.7,
		TopP:            0.9,
	}
}

// Deps are the collaborators of a Service. Cache is optional.
type Deps struct {
	Registry   *region.Registry
	Aggregator Aggregator
	Taxonomy   *prompt.Taxonomy
	Provider   models.AIProvider
	Store      store.Store
	Cache      cache.Cache
}

// Service runs forecasts.
type Service struct {
	registry   *region.Registry
	aggregator Aggregator
	taxonomy   *prompt.Taxonomy
	provider   models.AIProvider
	store      store.Store
	cache      cache.Cache
	opts       Options
	now        func() time.Time
}

func NewService(deps Deps, opts Options) *Service {
	if opts.PredictionCount <= 0 {
		opts.PredictionCount = prompt.DefaultCount
	}
	return &Service{
		registry:   deps.Registry,
		aggregator: deps.Aggregator,
		taxonomy:   deps.Taxonomy,
		provider:   deps.Provider,
		store:      deps.Store,
		cache:      deps.Cache,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Generate runs the whole pipeline synchronously and returns the committed forecast.
// Every failure is an *Error.
func (s *Service) Generate(ctx context.Context, req models.ForecastRequest) (*models.SectorForecast, error) {
	req, reg, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	run := s.newRun(req)
	if err := s.store.CreateRun(ctx, run); err != nil {
		slog.Warn("recording forecast run failed", "run_id", run.ID, "error", err)
	}
	return s.execute(ctx, run.ID, req, reg)
}

// Trigger validates the request, records a pending run and executes the pipeline in a
// background goroutine. The returned run can be polled with Run.
func (s *Service) Trigger(ctx context.Context, req models.ForecastRequest) (*models.ForecastRun, error) {
	req, reg, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	run := s.newRun(req)
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	s.setRunStatus(ctx, run.ID, models.RunStatusPending)

	go s.background(context.WithoutCancel(ctx), run.ID, req, reg)

	return run, nil
}

// background executes a triggered run. It recovers from panics and always leaves the
// run completed or failed.
func (s *Service) background(ctx context.Context, runID uuid.UUID, req models.ForecastRequest, reg region.Region) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in forecast run", "error", r, "run_id", runID)
			s.finish(ctx, runID, fail(models.StageFailed, fmt.Errorf("panic: %v", r)), 0)
		}
	}()

	_, _ = s.execute(ctx, runID, req, reg)
}

// Run returns the current state of a run from the store. When the store cannot be
// read, the cached status is returned as a minimal run.
func (s *Service) Run(ctx context.Context, id uuid.UUID) (*models.ForecastRun, error) {
	run, err := s.store.GetRun(ctx, id)
	if err == nil {
		return run, nil
	}
	if s.cache != nil {
		if status, found, cerr := s.cache.GetRunStatus(ctx, id); cerr == nil && found {
			return &models.ForecastRun{ID: id, Status: status}, nil
		}
	}
	return nil, err
}

// Commit derives the alerts of f and atomically replaces the stored batch of its
// (sector, region) with f's predictions and those alerts.
func (s *Service) Commit(ctx context.Context, f *models.SectorForecast) ([]models.Alert, error) {
	alerts := analysis.DeriveAlerts(f, s.opts.Alerts, s.now())
	err := s.store.ReplaceForecast(ctx, &store.Batch{
		Sector:      f.Sector,
		Region:      f.Region,
		Predictions: f.Predictions,
		Alerts:      alerts,
	})
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (s *Service) execute(ctx context.Context, runID uuid.UUID, req models.ForecastRequest, reg region.Region) (*models.SectorForecast, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	log := slog.With("run_id", runID, "sector", req.Sector, "region", reg.Name)
	if err := s.store.UpdateRunStatus(ctx, runID, models.RunStatusRunning, store.WithStage(models.StageAggregating)); err != nil {
		log.Warn("marking run running failed", "error", err)
	}
	s.setRunStatus(ctx, runID, models.RunStatusRunning)

	started := s.now()
	f, err := s.pipeline(ctx, runID, req, reg, log)
	if err != nil {
		log.Error("forecast failed", "stage", err.Stage, "kind", err.Kind, "error", err.Err)
		s.finish(ctx, runID, err, 0)
		return nil, err
	}

	log.Info("forecast completed",
		"predictions", len(f.Predictions),
		"confidence", f.Confidence,
		"duration_ms", s.now().Sub(started).Milliseconds(),
	)
	s.finish(ctx, runID, nil, len(f.Predictions))
	return f, nil
}

func (s *Service) pipeline(ctx context.Context, runID uuid.UUID, req models.ForecastRequest, reg region.Region, log *slog.Logger) (*models.SectorForecast, *Error) {
	enter := func(stage models.Stage) {
		log.Debug("forecast stage", "stage", stage)
		if stage != models.StageAggregating {
			if err := s.store.UpdateRunStage(ctx, runID, stage); err != nil {
				log.Warn("recording run stage failed", "stage", stage, "error", err)
			}
		}
	}

	enter(models.StageAggregating)
	sigs, err := s.aggregator.Aggregate(ctx, req.Sector, reg.Name)
	if err != nil {
		return nil, fail(models.StageAggregating, err)
	}

	enter(models.StagePrompting)
	text, err := prompt.Build(prompt.Input{
		Sector: req.Sector,
		Location: prompt.Location{
			Name:      reg.Name,
			State:     reg.State,
			Country:   reg.Country,
			Latitude:  reg.Latitude,
			Longitude: reg.Longitude,
		},
		Timeframe:  req.Timeframe,
		Department: req.Department,
		Category:   req.Category,
		Signals:    sigs.Signals,
		Count:      s.opts.PredictionCount,
		Date:       s.now(),
		Taxonomy:   s.taxonomy,
	})
	if err != nil {
		return nil, fail(models.StagePrompting, err)
	}

	enter(models.StageInferring)
	raw, err := s.provider.Infer(ctx, models.InferenceRequest{
		Prompt:      text,
		System:      prompt.System,
		Temperature: s.opts.Temperature,
		TopP:        s.opts.TopP,
		Seed:        s.opts.Seed,
	})
	if err != nil {
		return nil, fail(models.StageInferring, err)
	}

	enter(models.StageNormalizing)
	predictions, err := normalize.Predictions(raw, s.opts.PredictionCount, s.opts.Normalize)
	if err != nil {
		return nil, fail(models.StageNormalizing, err)
	}

	enter(models.StageSummarizing)
	f := s.assemble(req, reg, sigs, predictions)

	enter(models.StagePersisting)
	if _, err := s.Commit(ctx, f); err != nil {
		return nil, fail(models.StagePersisting, err)
	}
	return f, nil
}

// assemble stamps identity onto the normalized predictions and computes the summary.
func (s *Service) assemble(req models.ForecastRequest, reg region.Region, sigs *signal.Context, predictions []models.DemandPrediction) *models.SectorForecast {
	now := s.now()
	f := &models.SectorForecast{
		ID:              uuid.New(),
		Sector:          req.Sector,
		Region:          reg.Name,
		Timeframe:       req.Timeframe,
		Department:      req.Department,
		Category:        req.Category,
		DataSourcesUsed: sigs.SourcesUsed,
		Provider:        s.provider.Name(),
		Model:           s.provider.Model(),
		GeneratedAt:     now,
	}
	for i := range predictions {
		p := &predictions[i]
		p.ID = uuid.New()
		p.ForecastID = f.ID
		p.Sector = req.Sector
		p.Region = reg.Name
		p.Timeframe = req.Timeframe
		p.CreatedAt = now
	}
	f.Predictions = predictions

	summary := analysis.Summarize(predictions)
	f.Confidence = summary.Confidence
	f.RiskFactors = summary.RiskFactors
	f.Opportunities = summary.Opportunities
	return f
}

// validate normalizes the request and resolves its region. Region names are stored in
// their canonical registry spelling.
func (s *Service) validate(req models.ForecastRequest) (models.ForecastRequest, region.Region, error) {
	req.Sector = models.Sector(strings.ToLower(strings.TrimSpace(string(req.Sector))))
	if !req.Sector.Valid() {
		return req, region.Region{}, fail(models.StageStart, fmt.Errorf("%w: unknown sector %q", ErrInvalidRequest, req.Sector))
	}
	if req.Timeframe == "" {
		req.Timeframe = models.Timeframe30Days
	}
	if !req.Timeframe.Valid() {
		return req, region.Region{}, fail(models.StageStart, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidRequest, req.Timeframe))
	}
	if strings.TrimSpace(req.Region) == "" {
		return req, region.Region{}, fail(models.StageStart, fmt.Errorf("%w: region is required", ErrInvalidRequest))
	}

	reg, err := s.registry.Lookup(req.Region)
	if err != nil {
		return req, region.Region{}, fail(models.StageStart, err)
	}
	req.Region = reg.Name
	return req, reg, nil
}

func (s *Service) newRun(req models.ForecastRequest) *models.ForecastRun {
	now := s.now()
	return &models.ForecastRun{
		ID:        uuid.New(),
		Sector:    req.Sector,
		Region:    req.Region,
		Timeframe: req.Timeframe,
		Status:    models.RunStatusPending,
		Stage:     models.StageStart,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// finish records the terminal state of a run. Run bookkeeping failures are logged
// and never change the pipeline result.
func (s *Service) finish(ctx context.Context, runID uuid.UUID, ferr *Error, count int) {
	ctx = context.WithoutCancel(ctx)
	if ferr != nil {
		if err := s.store.UpdateRunStatus(ctx, runID, models.RunStatusFailed,
			store.WithStage(models.StageFailed),
			store.WithRunError(string(ferr.Kind), ferr.Err.Error())); err != nil {
			slog.Warn("marking run failed failed", "run_id", runID, "error", err)
		}
		s.setRunStatus(ctx, runID, models.RunStatusFailed)
		return
	}

	if err := s.store.UpdateRunStatus(ctx, runID, models.RunStatusCompleted,
		store.WithStage(models.StageDone),
		store.WithPredictionCount(count)); err != nil {
		slog.Warn("marking run completed failed", "run_id", runID, "error", err)
	}
	s.setRunStatus(ctx, runID, models.RunStatusCompleted)
}

func (s *Service) setRunStatus(ctx context.Context, runID uuid.UUID, status string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.SetRunStatus(ctx, runID, status, runStatusTTL)
}
