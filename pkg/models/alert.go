package models

import (
	"time"

	"github.com/google/uuid"
)

// Alert severities.
const (
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert is derived from a prediction that crosses a risk or opportunity threshold.
// Alerts share the lifetime of the prediction batch of the same (sector, region).
type Alert struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	ForecastID   uuid.UUID `db:"forecast_id"   json:"forecast_id"`
	PredictionID uuid.UUID `db:"prediction_id" json:"prediction_id"`
	Title        string    `db:"title"         json:"title"`
	Severity     string    `db:"severity"      json:"severity"`
	Sector       Sector    `db:"sector"        json:"sector"`
	Region       string    `db:"region"        json:"region"`
	ItemName     string    `db:"item_name"     json:"item_name"`
	Message      string    `db:"message"       json:"message"`
	IsResolved   bool      `db:"is_resolved"   json:"is_resolved"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}
