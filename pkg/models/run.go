package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Stage is a state of the forecast pipeline.
type Stage string

const (
	StageStart       Stage = "start"
	StageAggregating Stage = "aggregating"
	StagePrompting   Stage = "prompting"
	StageInferring   Stage = "inferring"
	StageNormalizing Stage = "normalizing"
	StageSummarizing Stage = "summarizing"
	StagePersisting  Stage = "persisting"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// ForecastRun tracks one forecast attempt. POST /api/v1/forecasts?async=true returns a
// run; the client polls GET /api/v1/forecasts/runs/{run_id} until it completes or fails.
type ForecastRun struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	Sector          Sector     `db:"sector"           json:"sector"`
	Region          string     `db:"region"           json:"region"`
	Timeframe       Timeframe  `db:"timeframe"        json:"timeframe"`
	Status          string     `db:"status"           json:"status"`
	Stage           Stage      `db:"stage"            json:"stage"`
	ErrorKind       *string    `db:"error_kind"       json:"error_kind,omitempty"`
	ErrorMessage    *string    `db:"error_message"    json:"error_message,omitempty"`
	PredictionCount int        `db:"prediction_count" json:"prediction_count"`
	StartedAt       *time.Time `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at"     json:"completed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"       json:"updated_at"`
}
