package models

import (
	"fmt"
	"time"
)

// SignalKind is one category of contextual input to a forecast.
type SignalKind string

const (
	SignalWeather     SignalKind = "weather"
	SignalNews        SignalKind = "news"
	SignalSocial      SignalKind = "social"
	SignalHospital    SignalKind = "hospital"
	SignalDemographic SignalKind = "demographic"
	SignalMarket      SignalKind = "market"
)

// SignalKinds lists every signal kind in a stable order.
var SignalKinds = []SignalKind{SignalWeather, SignalNews, SignalSocial, SignalHospital, SignalDemographic, SignalMarket}

// Valid reports whether k is a known signal kind.
func (k SignalKind) Valid() bool {
	for _, v := range SignalKinds {
		if k == v {
			return true
		}
	}
	return false
}

// Provenance records which tier produced a signal's value.
type Provenance string

const (
	ProvenanceLive        Provenance = "live"
	ProvenanceSynthesized Provenance = "synthesized"
	ProvenanceStatic      Provenance = "static"
	// ProvenanceNeutral marks a placeholder substituted after every tier failed.
	ProvenanceNeutral Provenance = "neutral"
)

// ContextSignal is one resolved signal. It is ephemeral input and never persisted.
type ContextSignal struct {
	Kind       SignalKind `json:"kind"`
	Payload    any        `json:"payload"`
	Provenance Provenance `json:"provenance"`
	Source     string     `json:"source"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// Label is the human-readable provenance label shown in data_sources_used.
func (s ContextSignal) Label() string {
	if s.Provenance == ProvenanceNeutral {
		return fmt.Sprintf("%s: neutral placeholder", s.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", s.Kind, s.Source, s.Provenance)
}

// Weather is the payload of a weather signal.
type Weather struct {
	TemperatureC    float64 `json:"temperature_c"`
	HumidityPct     float64 `json:"humidity_pct"`
	PrecipitationMM float64 `json:"precipitation_mm"`
	WindSpeedMS     float64 `json:"wind_speed_ms"`
	Conditions      string  `json:"conditions"`
	Season          string  `json:"season,omitempty"`
}

// Headline is a single news item.
type Headline struct {
	Title       string    `json:"title"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// News is the payload of a news signal. An empty headline list is a valid result.
type News struct {
	Headlines []Headline `json:"headlines"`
	Themes    []string   `json:"themes,omitempty"`
}

// Social is the payload of a social-sentiment signal. Sentiment ranges over [-1, 1].
type Social struct {
	Sentiment      float64  `json:"sentiment"`
	MentionVolume  int      `json:"mention_volume"`
	TrendingTopics []string `json:"trending_topics"`
}

// Hospital is the payload of a hospital-capacity signal.
type Hospital struct {
	Facilities       int      `json:"facilities"`
	TotalBeds        int      `json:"total_beds"`
	OccupancyPct     float64  `json:"occupancy_pct"`
	ICUOccupancyPct  float64  `json:"icu_occupancy_pct"`
	PrevalentIllness []string `json:"prevalent_illness"`
}

// Demographic is the payload of a demographics signal.
type Demographic struct {
	Population      int                `json:"population"`
	UrbanPct        float64            `json:"urban_pct"`
	MedianAge       float64            `json:"median_age"`
	AgeDistribution map[string]float64 `json:"age_distribution"`
	PerCapitaIncome float64            `json:"per_capita_income"`
}

// MarketIndex is one market index observation.
type MarketIndex struct {
	Symbol    string  `json:"symbol"`
	Value     float64 `json:"value"`
	ChangePct float64 `json:"change_pct"`
}

// Market is the payload of a market-indices signal.
type Market struct {
	Indices      []MarketIndex `json:"indices"`
	InflationPct float64       `json:"inflation_pct"`
	FuelPrice    float64       `json:"fuel_price,omitempty"`
	Currency     string        `json:"currency,omitempty"`
}

// NewPayload returns an empty payload pointer for kind, suitable for JSON decoding.
func NewPayload(kind SignalKind) (any, error) {
	switch kind {
	case SignalWeather:
		return &Weather{}, nil
	case SignalNews:
		return &News{}, nil
	case SignalSocial:
		return &Social{}, nil
	case SignalHospital:
		return &Hospital{}, nil
	case SignalDemographic:
		return &Demographic{}, nil
	case SignalMarket:
		return &Market{}, nil
	default:
		return nil, fmt.Errorf("unknown signal kind %q", kind)
	}
}

// NeutralPayload is the minimal placeholder used when no tier could resolve kind.
func NeutralPayload(kind SignalKind) any {
	switch kind {
	case SignalWeather:
		return &Weather{TemperatureC: 25, HumidityPct: 50, Conditions: "unknown"}
	case SignalNews:
		return &News{Headlines: []Headline{}}
	case SignalSocial:
		return &Social{TrendingTopics: []string{}}
	case SignalHospital:
		return &Hospital{PrevalentIllness: []string{}}
	case SignalDemographic:
		return &Demographic{AgeDistribution: map[string]float64{}}
	case SignalMarket:
		return &Market{Indices: []MarketIndex{}}
	default:
		return map[string]any{}
	}
}
