package models

import (
	"time"

	"github.com/google/uuid"
)

// Sector identifies the business domain a forecast is generated for.
type Sector string

const (
	SectorHealthcare  Sector = "healthcare"
	SectorAutomobile  Sector = "automobile"
	SectorAgriculture Sector = "agriculture"
	SectorRetail      Sector = "retail"
	SectorEnergy      Sector = "energy"
)

// Sectors lists every supported sector in display order.
var Sectors = []Sector{SectorHealthcare, SectorAutomobile, SectorAgriculture, SectorRetail, SectorEnergy}

// Valid reports whether s is a supported sector.
func (s Sector) Valid() bool {
	for _, v := range Sectors {
		if s == v {
			return true
		}
	}
	return false
}

// Timeframe is the forecast horizon.
type Timeframe string

const (
	Timeframe15Days Timeframe = "15 days"
	Timeframe30Days Timeframe = "30 days"
	Timeframe60Days Timeframe = "60 days"
)

// Timeframes lists every supported horizon.
var Timeframes = []Timeframe{Timeframe15Days, Timeframe30Days, Timeframe60Days}

// Valid reports whether t is a supported horizon.
func (t Timeframe) Valid() bool {
	for _, v := range Timeframes {
		if t == v {
			return true
		}
	}
	return false
}

// Days returns the horizon length in days.
func (t Timeframe) Days() int {
	switch t {
	case Timeframe15Days:
		return 15
	case Timeframe60Days:
		return 60
	default:
		return 30
	}
}

// Demand trend values.
const (
	TrendIncrease = "increase"
	TrendDecrease = "decrease"
	TrendNoChange = "no-change"
)

// Risk levels.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// ForecastRequest is a single user-triggered forecast. It is never persisted.
type ForecastRequest struct {
	Sector     Sector    `json:"sector"`
	Region     string    `json:"region"`
	Timeframe  Timeframe `json:"timeframe"`
	Department string    `json:"department,omitempty"`
	Category   string    `json:"category,omitempty"`
}

// DemandPrediction is one demand item of a forecast batch.
// Rows are replaced wholesale per (sector, region); they are never updated individually.
type DemandPrediction struct {
	ID                     uuid.UUID `db:"id"                       json:"id"`
	ForecastID             uuid.UUID `db:"forecast_id"              json:"forecast_id"`
	Sector                 Sector    `db:"sector"                   json:"sector"`
	Region                 string    `db:"region"                   json:"region"`
	Timeframe              Timeframe `db:"timeframe"                json:"timeframe"`
	ItemName               string    `db:"item_name"                json:"item_name"`
	Category               string    `db:"category"                 json:"category"`
	Subcategory            string    `db:"subcategory"              json:"subcategory"`
	CurrentDemand          float64   `db:"current_demand"           json:"current_demand"`
	PredictedDemand        float64   `db:"predicted_demand"         json:"predicted_demand"`
	DemandChangePercentage float64   `db:"demand_change_percentage" json:"demand_change_percentage"`
	DemandDelta            float64   `db:"demand_delta"             json:"demand_delta"`
	DemandTrend            string    `db:"demand_trend"             json:"demand_trend"`
	Confidence             float64   `db:"confidence"               json:"confidence"`
	PeakPeriod             string    `db:"peak_period"              json:"peak_period"`
	Reasoning              string    `db:"reasoning"                json:"reasoning"`
	MarketFactors          []string  `db:"market_factors"           json:"market_factors"`
	Recommendations        []string  `db:"recommendations"          json:"recommendations"`
	RiskLevel              string    `db:"risk_level"               json:"risk_level"`
	CreatedAt              time.Time `db:"created_at"               json:"created_at"`
}

// SectorForecast is the aggregate result of one successful pipeline run.
type SectorForecast struct {
	ID              uuid.UUID          `json:"id"`
	Sector          Sector             `json:"sector"`
	Region          string             `json:"region"`
	Timeframe       Timeframe          `json:"timeframe"`
	Department      string             `json:"department,omitempty"`
	Category        string             `json:"category,omitempty"`
	Predictions     []DemandPrediction `json:"predictions"`
	Confidence      float64            `json:"confidence"`
	DataSourcesUsed []string           `json:"data_sources_used"`
	RiskFactors     []string           `json:"risk_factors"`
	Opportunities   []string           `json:"opportunities"`
	Provider        string             `json:"provider"`
	Model           string             `json:"model"`
	GeneratedAt     time.Time          `json:"generated_at"`
}
