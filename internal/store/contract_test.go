package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/demandcast/internal/store"
	"github.com/kiranshivaraju/demandcast/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises behavior every Store implementation must share.
func runContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ReplaceForecastSupersedesKey", testReplaceSupersedesKey},
		{"ReplaceForecastLeavesOtherKeys", testReplaceLeavesOtherKeys},
		{"ReplaceForecastRejectsDuplicateItems", testReplaceRejectsDuplicates},
		{"ConcurrentReadersSeeWholeBatches", testConcurrentReaders},
		{"ListAlertsFilters", testListAlertsFilters},
		{"ResolveAlert", testResolveAlert},
		{"RunLifecycle", testRunLifecycle},
		{"RunInvalidTransition", testRunInvalidTransition},
		{"APIKeys", testAPIKeys},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func makeBatch(sector models.Sector, region string, items ...string) *store.Batch {
	now := time.Now().UTC().Truncate(time.Microsecond)
	forecastID := uuid.New()
	b := &store.Batch{Sector: sector, Region: region}
	for _, item := range items {
		p := models.DemandPrediction{
			ID:                     uuid.New(),
			ForecastID:             forecastID,
			Sector:                 sector,
			Region:                 region,
			Timeframe:              models.Timeframe30Days,
			ItemName:               item,
			Category:               "General",
			CurrentDemand:          100,
			PredictedDemand:        130,
			DemandChangePercentage: 30,
			DemandDelta:            30,
			DemandTrend:            models.TrendIncrease,
			Confidence:             0.8,
			MarketFactors:          []string{"season"},
			Recommendations:        []string{},
			RiskLevel:              models.RiskMedium,
			CreatedAt:              now,
		}
		b.Predictions = append(b.Predictions, p)
		b.Alerts = append(b.Alerts, models.Alert{
			ID:           uuid.New(),
			ForecastID:   forecastID,
			PredictionID: p.ID,
			Title:        "Demand surge: " + item,
			Severity:     models.SeverityMedium,
			Sector:       sector,
			Region:       region,
			ItemName:     item,
			Message:      "up 30%",
			CreatedAt:    now,
		})
	}
	return b
}

func itemNames(preds []*models.DemandPrediction) []string {
	out := make([]string, 0, len(preds))
	for _, p := range preds {
		out = append(out, p.ItemName)
	}
	return out
}

func testReplaceSupersedesKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorAgriculture, "Jaipur", "Urea", "DAP", "MOP")))
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorAgriculture, "Jaipur", "Tractor tyres")))

	preds, err := s.ListPredictions(ctx, store.PredictionFilter{Sector: models.SectorAgriculture, Region: "Jaipur"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Tractor tyres"}, itemNames(preds))

	alerts, err := s.ListAlerts(ctx, store.AlertFilter{Sector: models.SectorAgriculture, Region: "Jaipur"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Tractor tyres", alerts[0].ItemName)
	assert.Equal(t, preds[0].ID, alerts[0].PredictionID)
}

func testReplaceLeavesOtherKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorAgriculture, "Jaipur", "Urea")))
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorHealthcare, "Jaipur", "Paracetamol")))
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorAgriculture, "Pune", "Sugarcane sets")))
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorAgriculture, "Jaipur", "DAP")))

	all, err := s.ListPredictions(ctx, store.PredictionFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"DAP", "Paracetamol", "Sugarcane sets"}, itemNames(all))
}

func testReplaceRejectsDuplicates(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorRetail, "Delhi", "Rice")))

	err := s.ReplaceForecast(ctx, makeBatch(models.SectorRetail, "Delhi", "Atta", "atta"))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	preds, err := s.ListPredictions(ctx, store.PredictionFilter{Sector: models.SectorRetail, Region: "Delhi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Rice"}, itemNames(preds), "failed replace must leave the old batch")
}

func testConcurrentReaders(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := []string{"A1", "A2", "A3", "A4"}
	next := []string{"B1", "B2"}
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorEnergy, "Mumbai", old...)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				preds, err := s.ListPredictions(ctx, store.PredictionFilter{Sector: models.SectorEnergy, Region: "Mumbai"})
				if err != nil {
					errs <- err
					return
				}
				names := itemNames(preds)
				if !assert.ObjectsAreEqual(old, names) && !assert.ObjectsAreEqual(next, names) {
					errs <- fmt.Errorf("observed partial batch %v", names)
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		items := next
		if i%2 == 1 {
			items = old
		}
		require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorEnergy, "Mumbai", items...)))
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func testListAlertsFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorAutomobile, "Chennai", "Tyres", "Batteries")))
	require.NoError(t, s.ReplaceForecast(ctx, makeBatch(models.SectorAutomobile, "Pune", "Brake pads")))

	alerts, err := s.ListAlerts(ctx, store.AlertFilter{Sector: models.SectorAutomobile})
	require.NoError(t, err)
	assert.Len(t, alerts, 3)

	alerts, err = s.ListAlerts(ctx, store.AlertFilter{Region: "Pune"})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	alerts, err = s.ListAlerts(ctx, store.AlertFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func testResolveAlert(t *testing.T, s store.Store) {
	ctx := context.Background()
	batch := makeBatch(models.SectorHealthcare, "Lucknow", "ORS sachets", "Dengue test kits")
	require.NoError(t, s.ReplaceForecast(ctx, batch))

	require.NoError(t, s.ResolveAlert(ctx, batch.Alerts[0].ID))

	resolved := true
	got, err := s.ListAlerts(ctx, store.AlertFilter{Resolved: &resolved})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, batch.Alerts[0].ID, got[0].ID)

	unresolved := false
	got, err = s.ListAlerts(ctx, store.AlertFilter{Resolved: &unresolved})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	assert.ErrorIs(t, s.ResolveAlert(ctx, uuid.New()), store.ErrNotFound)
}

func newRun() *models.ForecastRun {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.ForecastRun{
		ID:        uuid.New(),
		Sector:    models.SectorAgriculture,
		Region:    "Jaipur",
		Timeframe: models.Timeframe30Days,
		Status:    models.RunStatusPending,
		Stage:     models.StageStart,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testRunLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := newRun()
	require.NoError(t, s.CreateRun(ctx, run))

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning))
	require.NoError(t, s.UpdateRunStage(ctx, run.ID, models.StageInferring))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Equal(t, models.StageInferring, got.Stage)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusFailed,
		store.WithStage(models.StageFailed),
		store.WithRunError("INFERENCE_UNAVAILABLE", "provider returned 503")))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, models.StageFailed, got.Stage)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, "INFERENCE_UNAVAILABLE", *got.ErrorKind)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "provider returned 503", *got.ErrorMessage)

	_, err = s.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateRunStage(ctx, uuid.New(), models.StageDone), store.ErrNotFound)
}

func testRunInvalidTransition(t *testing.T, s store.Store) {
	ctx := context.Background()
	run := newRun()
	require.NoError(t, s.CreateRun(ctx, run))

	err := s.UpdateRunStatus(ctx, run.ID, models.RunStatusCompleted) // pending -> completed is invalid
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning))
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusCompleted, store.WithPredictionCount(10)))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.PredictionCount)

	err = s.UpdateRunStatus(ctx, run.ID, models.RunStatusFailed)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	assert.ErrorIs(t, s.UpdateRunStatus(ctx, uuid.New(), models.RunStatusRunning), store.ErrNotFound)
}

func testAPIKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "ops",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "dc_abcd1",
		Scopes:    []string{models.ScopeForecast, models.ScopeRead},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	dup := *key
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.CreateAPIKey(ctx, &dup), store.ErrDuplicateKey)

	keys, err := s.GetAPIKeyByPrefix(ctx, "dc_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, key.Scopes, keys[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "dc_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	listed, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)

	keys, err = s.GetAPIKeyByPrefix(ctx, "dc_abcd1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
