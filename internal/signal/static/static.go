// Package static implements the last tier of the signal chain. It derives every signal
// from the registry baseline of the region, with a small deterministic daily variation,
// and never touches the network.
package static

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/kiranshivaraju/demandcast/internal/region"
	"github.com/kiranshivaraju/demandcast/internal/signal"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// variation is the maximum relative deviation applied to baseline values.
const variation = 0.05

// defaults fill baseline fields the registry leaves at zero.
var defaults = region.Baseline{
	Population:           1_000_000,
	UrbanPct:             50,
	MedianAge:            30,
	PerCapitaIncome:      100_000,
	TemperatureC:         25,
	HumidityPct:          55,
	HospitalFacilities:   50,
	HospitalBeds:         5_000,
	HospitalOccupancyPct: 70,
	MarketIndex:          20_000,
	InflationPct:         5,
	FuelPrice:            100,
	Currency:             "INR",
}

// Provider serves baseline-derived signals.
type Provider struct {
	now func() time.Time
}

func New() *Provider {
	return &Provider{now: time.Now}
}

// NewAt returns a Provider with a fixed clock.
func NewAt(now func() time.Time) *Provider {
	return &Provider{now: now}
}

func (p *Provider) Name() string { return "baseline" }

func (p *Provider) Fetch(ctx context.Context, q signal.Query) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := withDefaults(q.Region.Baseline)
	r := rand.New(rand.NewSource(seed(q.Region.Name, q.Kind, p.now())))
	jitter := func(v float64) float64 {
		return round(v*(1+variation*(2*r.Float64()-1)), 2)
	}

	switch q.Kind {
	case models.SignalWeather:
		return &models.Weather{
			TemperatureC:    jitter(b.TemperatureC),
			HumidityPct:     math.Min(100, jitter(b.HumidityPct)),
			PrecipitationMM: jitter(b.PrecipitationMM),
			WindSpeedMS:     jitter(3),
			Conditions:      "seasonal average",
		}, nil
	case models.SignalNews:
		themes := []string{fmt.Sprintf("%s regional economy", q.Region.Name)}
		if q.Sector != "" {
			themes = append(themes, fmt.Sprintf("%s sector outlook", q.Sector))
		}
		return &models.News{Headlines: []models.Headline{}, Themes: themes}, nil
	case models.SignalSocial:
		return &models.Social{
			Sentiment:      round(0.2*(2*r.Float64()-1), 2),
			MentionVolume:  int(jitter(float64(b.Population) / 1000)),
			TrendingTopics: []string{},
		}, nil
	case models.SignalHospital:
		illness := b.PrevalentIllness
		if illness == nil {
			illness = []string{}
		}
		return &models.Hospital{
			Facilities:       b.HospitalFacilities,
			TotalBeds:        b.HospitalBeds,
			OccupancyPct:     math.Min(100, jitter(b.HospitalOccupancyPct)),
			ICUOccupancyPct:  math.Min(100, jitter(b.HospitalOccupancyPct+10)),
			PrevalentIllness: illness,
		}, nil
	case models.SignalDemographic:
		return &models.Demographic{
			Population:      b.Population,
			UrbanPct:        b.UrbanPct,
			MedianAge:       b.MedianAge,
			AgeDistribution: ageDistribution(b.MedianAge),
			PerCapitaIncome: b.PerCapitaIncome,
		}, nil
	case models.SignalMarket:
		return &models.Market{
			Indices: []models.MarketIndex{{
				Symbol:    "NIFTY50",
				Value:     jitter(b.MarketIndex),
				ChangePct: round(2*(2*r.Float64()-1), 2),
			}},
			InflationPct: b.InflationPct,
			FuelPrice:    b.FuelPrice,
			Currency:     b.Currency,
		}, nil
	default:
		return nil, fmt.Errorf("no baseline for signal kind %q", q.Kind)
	}
}

// seed is stable for one region, kind and calendar day.
func seed(regionName string, kind models.SignalKind, now time.Time) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%s", regionName, kind, now.UTC().Format("2006-01-02"))
	return int64(h.Sum64() >> 1)
}

func withDefaults(b region.Baseline) region.Baseline {
	if b.Population == 0 {
		b.Population = defaults.Population
	}
	if b.UrbanPct == 0 {
		b.UrbanPct = defaults.UrbanPct
	}
	if b.MedianAge == 0 {
		b.MedianAge = defaults.MedianAge
	}
	if b.PerCapitaIncome == 0 {
		b.PerCapitaIncome = defaults.PerCapitaIncome
	}
	if b.TemperatureC == 0 {
		b.TemperatureC = defaults.TemperatureC
	}
	if b.HumidityPct == 0 {
		b.HumidityPct = defaults.HumidityPct
	}
	if b.HospitalFacilities == 0 {
		b.HospitalFacilities = defaults.HospitalFacilities
	}
	if b.HospitalBeds == 0 {
		b.HospitalBeds = defaults.HospitalBeds
	}
	if b.HospitalOccupancyPct == 0 {
		b.HospitalOccupancyPct = defaults.HospitalOccupancyPct
	}
	if b.MarketIndex == 0 {
		b.MarketIndex = defaults.MarketIndex
	}
	if b.InflationPct == 0 {
		b.InflationPct = defaults.InflationPct
	}
	if b.FuelPrice == 0 {
		b.FuelPrice = defaults.FuelPrice
	}
	if b.Currency == "" {
		b.Currency = defaults.Currency
	}
	return b
}

// ageDistribution approximates population shares from the median age.
func ageDistribution(medianAge float64) map[string]float64 {
	young := math.Max(10, math.Min(40, 55-medianAge))
	old := math.Max(3, math.Min(25, medianAge/2-8))
	return map[string]float64{
		"0-14":  round(young, 1),
		"15-64": round(100-young-old, 1),
		"65+":   round(old, 1),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

var _ signal.Provider = (*Provider)(nil)
