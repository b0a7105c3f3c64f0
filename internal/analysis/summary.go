// Package analysis holds the pure rules applied to a normalized prediction batch: the
// portfolio summary and alert derivation.
package analysis

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// OpportunityThreshold is the demand change percentage above which an item is listed
// as an opportunity.
const OpportunityThreshold = 10.0

// DefaultChangeThreshold is the demand change percentage above which an alert is raised.
const DefaultChangeThreshold = 20.0

const maxMessageBytes = 1000

// Summary is the portfolio-level view of one batch.
type Summary struct {
	Confidence    float64
	RiskFactors   []string
	Opportunities []string
}

// Summarize computes the mean confidence and the risk and opportunity item lists, in
// prediction order. Lists are empty, never nil.
func Summarize(predictions []models.DemandPrediction) Summary {
	s := Summary{RiskFactors: []string{}, Opportunities: []string{}}
	if len(predictions) == 0 {
		return s
	}

	var total float64
	for _, p := range predictions {
		total += p.Confidence
		if p.RiskLevel == models.RiskHigh {
			s.RiskFactors = append(s.RiskFactors, p.ItemName)
		}
		if p.DemandChangePercentage > OpportunityThreshold {
			s.Opportunities = append(s.Opportunities, p.ItemName)
		}
	}
	s.Confidence = total / float64(len(predictions))
	return s
}

// AlertPolicy holds the thresholds of alert derivation.
type AlertPolicy struct {
	ChangeThreshold float64
}

func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{ChangeThreshold: DefaultChangeThreshold}
}

// DeriveAlerts returns one alert per prediction that is High risk or whose change
// exceeds the policy threshold. High risk yields critical severity, otherwise medium.
func DeriveAlerts(f *models.SectorForecast, policy AlertPolicy, now time.Time) []models.Alert {
	alerts := []models.Alert{}
	for _, p := range f.Predictions {
		high := p.RiskLevel == models.RiskHigh
		surge := p.DemandChangePercentage > policy.ChangeThreshold
		if !high && !surge {
			continue
		}

		a := models.Alert{
			ID:           uuid.New(),
			ForecastID:   f.ID,
			PredictionID: p.ID,
			Sector:       f.Sector,
			Region:       f.Region,
			ItemName:     p.ItemName,
			CreatedAt:    now,
		}
		if high {
			a.Severity = models.SeverityCritical
			a.Title = fmt.Sprintf("High risk: %s", p.ItemName)
		} else {
			a.Severity = models.SeverityMedium
			a.Title = fmt.Sprintf("Demand surge: %s", p.ItemName)
		}
		a.Message = alertMessage(f, p)
		alerts = append(alerts, a)
	}
	return alerts
}

func alertMessage(f *models.SectorForecast, p models.DemandPrediction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s demand in %s is forecast to %s by %.1f%% (%.0f to %.0f) over %s.",
		p.ItemName, f.Region, verb(p.DemandTrend), abs(p.DemandChangePercentage),
		p.CurrentDemand, p.PredictedDemand, f.Timeframe)
	if p.PeakPeriod != "" {
		fmt.Fprintf(&b, " Peak: %s.", p.PeakPeriod)
	}
	if len(p.Recommendations) > 0 {
		fmt.Fprintf(&b, " Recommended: %s.", strings.Join(p.Recommendations, "; "))
	}
	return truncateString(b.String(), maxMessageBytes)
}

func verb(trend string) string {
	switch trend {
	case models.TrendIncrease:
		return "rise"
	case models.TrendDecrease:
		return "fall"
	default:
		return "change"
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
