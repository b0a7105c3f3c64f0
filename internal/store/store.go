package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrPersistenceConflict is returned when a replace could not take the per-key lock or
// lost a serialization race. The caller may retry.
var ErrPersistenceConflict = errors.New("persistence conflict")

// ErrInvalidTransition is returned when a run status change is not allowed.
var ErrInvalidTransition = errors.New("invalid run status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	// ReplaceForecast atomically replaces every prediction and alert of the batch's
	// (sector, region) with the batch contents.
	ReplaceForecast(ctx context.Context, batch *Batch) error
	ListPredictions(ctx context.Context, filter PredictionFilter) ([]*models.DemandPrediction, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)
	ResolveAlert(ctx context.Context, id uuid.UUID) error

	CreateRun(ctx context.Context, run *models.ForecastRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.ForecastRun, error)
	UpdateRunStage(ctx context.Context, id uuid.UUID, stage models.Stage) error
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status string, opts ...RunUpdateOption) error
}

// Batch is the full replacement content of one (sector, region) key.
type Batch struct {
	Sector      models.Sector
	Region      string
	Predictions []models.DemandPrediction
	Alerts      []models.Alert
}

// PredictionFilter narrows ListPredictions. Empty fields match everything.
type PredictionFilter struct {
	Sector models.Sector
	Region string
}

// AlertFilter narrows ListAlerts. A nil Resolved matches both states.
type AlertFilter struct {
	Sector   models.Sector
	Region   string
	Resolved *bool
	Limit    int
}

// Alert listing bounds.
const (
	DefaultAlertLimit = 100
	MaxAlertLimit     = 500
)

// EffectiveLimit returns Limit bounded to [1, MaxAlertLimit], defaulting to
// DefaultAlertLimit.
func (f AlertFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultAlertLimit
	case f.Limit > MaxAlertLimit:
		return MaxAlertLimit
	default:
		return f.Limit
	}
}

type runUpdateParams struct {
	Stage           *models.Stage
	ErrorKind       *string
	ErrorMessage    *string
	PredictionCount *int
}

type RunUpdateOption func(*runUpdateParams)

func WithStage(stage models.Stage) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.Stage = &stage
	}
}

func WithRunError(kind, msg string) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.ErrorKind = &kind
		p.ErrorMessage = &msg
	}
}

func WithPredictionCount(n int) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.PredictionCount = &n
	}
}

var validTransitions = map[string][]string{
	models.RunStatusPending: {models.RunStatusRunning, models.RunStatusFailed},
	models.RunStatusRunning: {models.RunStatusCompleted, models.RunStatusFailed},
}

func canTransition(from, to string) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
