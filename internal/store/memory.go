package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// MemoryStore implements Store in process. It backs tests and the CLI's --memory mode.
// ReplaceForecast swaps a key's rows under one mutex, so readers never observe a
// partially replaced batch.
type MemoryStore struct {
	mu          sync.RWMutex
	keys        map[uuid.UUID]*models.APIKey
	predictions []*models.DemandPrediction
	alerts      []*models.Alert
	runs        map[uuid.UUID]*models.ForecastRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[uuid.UUID]*models.APIKey),
		runs: make(map[uuid.UUID]*models.ForecastRun),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	for _, k := range s.keys {
		if k.KeyPrefix == key.KeyPrefix && k.DeletedAt == nil {
			return ErrDuplicateKey
		}
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

// --- Forecast batches ---

func (s *MemoryStore) ReplaceForecast(_ context.Context, batch *Batch) error {
	seen := make(map[string]bool, len(batch.Predictions))
	ids := make(map[uuid.UUID]bool, len(batch.Predictions))
	predictions := make([]*models.DemandPrediction, 0, len(batch.Predictions))
	for _, p := range batch.Predictions {
		name := strings.ToLower(p.ItemName)
		if seen[name] {
			return fmt.Errorf("%w: item %q", ErrDuplicateKey, p.ItemName)
		}
		seen[name] = true
		ids[p.ID] = true

		c := p
		c.Sector, c.Region = batch.Sector, batch.Region
		predictions = append(predictions, &c)
	}
	alerts := make([]*models.Alert, 0, len(batch.Alerts))
	for _, a := range batch.Alerts {
		if !ids[a.PredictionID] {
			return fmt.Errorf("alert %s references unknown prediction %s", a.ID, a.PredictionID)
		}
		c := a
		c.Sector, c.Region = batch.Sector, batch.Region
		alerts = append(alerts, &c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	keep := func(sector models.Sector, region string) bool {
		return sector != batch.Sector || region != batch.Region
	}
	s.predictions = filter(s.predictions, func(p *models.DemandPrediction) bool { return keep(p.Sector, p.Region) })
	s.alerts = filter(s.alerts, func(a *models.Alert) bool { return keep(a.Sector, a.Region) })
	s.predictions = append(s.predictions, predictions...)
	s.alerts = append(s.alerts, alerts...)
	return nil
}

func (s *MemoryStore) ListPredictions(_ context.Context, f PredictionFilter) ([]*models.DemandPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.DemandPrediction
	for _, p := range s.predictions {
		if matches(f.Sector, f.Region, p.Sector, p.Region) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Sector != b.Sector {
			return a.Sector < b.Sector
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return strings.ToLower(a.ItemName) < strings.ToLower(b.ItemName)
	})
	return out, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, f AlertFilter) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, a := range s.alerts {
		if !matches(f.Sector, f.Region, a.Sector, a.Region) {
			continue
		}
		if f.Resolved != nil && a.IsResolved != *f.Resolved {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Title < out[j].Title
	})
	if len(out) > f.EffectiveLimit() {
		out = out[:f.EffectiveLimit()]
	}
	return out, nil
}

func (s *MemoryStore) ResolveAlert(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			a.IsResolved = true
			return nil
		}
	}
	return ErrNotFound
}

// --- Runs ---

func (s *MemoryStore) CreateRun(_ context.Context, run *models.ForecastRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return ErrDuplicateKey
	}
	c := *run
	s.runs[run.ID] = &c
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*models.ForecastRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) UpdateRunStage(_ context.Context, id uuid.UUID, stage models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Stage = stage
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateRunStatus(_ context.Context, id uuid.UUID, status string, opts ...RunUpdateOption) error {
	params := &runUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, status)
	}

	now := time.Now().UTC()
	r.Status = status
	r.UpdatedAt = now
	if status == models.RunStatusRunning {
		r.StartedAt = &now
	}
	if status == models.RunStatusCompleted || status == models.RunStatusFailed {
		r.CompletedAt = &now
	}
	if params.Stage != nil {
		r.Stage = *params.Stage
	}
	if params.ErrorKind != nil {
		r.ErrorKind = params.ErrorKind
		r.ErrorMessage = params.ErrorMessage
	}
	if params.PredictionCount != nil {
		r.PredictionCount = *params.PredictionCount
	}
	return nil
}

func matches(wantSector models.Sector, wantRegion string, sector models.Sector, region string) bool {
	return (wantSector == "" || wantSector == sector) && (wantRegion == "" || wantRegion == region)
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	clear(in[len(out):])
	return out
}

var _ Store = (*MemoryStore)(nil)
