// Package prompt renders the inference requests of the forecast pipeline. Rendering is
// pure: every input, including the current date, is passed in.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// DefaultCount is the number of predictions requested when Input.Count is zero.
const DefaultCount = 10

// Confidence bounds requested from the model.
const (
	MinConfidence = 0.65
	MaxConfidence = 0.95
)

// System is the system instruction sent with every forecast and synthesis request.
const System = "You are a demand forecasting analyst. You answer with JSON only, " +
	"never with prose, markdown or code fences."

var ErrInvalidInput = errors.New("invalid prompt input")

// Location is the locale context of a region.
type Location struct {
	Name      string
	State     string
	Country   string
	Latitude  float64
	Longitude float64
}

// Input is everything a forecast prompt embeds.
type Input struct {
	Sector     models.Sector
	Location   Location
	Timeframe  models.Timeframe
	Department string
	Category   string
	Signals    map[models.SignalKind]models.ContextSignal
	Count      int
	Date       time.Time
	Taxonomy   *Taxonomy
}

type contextEntry struct {
	Provenance models.Provenance `json:"provenance"`
	Source     string            `json:"source"`
	Data       any               `json:"data"`
}

type forecastView struct {
	Input
	Count         int
	Days          int
	Unit          string
	Focus         string
	Departments   []Department
	Context       string
	Example       string
	MinConfidence float64
	MaxConfidence float64
	Risks         string
}

var forecastTmpl = template.Must(template.New("forecast").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`Forecast {{.Sector}} demand in {{.Location.Name}}{{with .Location.State}}, {{.}}{{end}}{{with .Location.Country}}, {{.}}{{end}} for the next {{.Timeframe}} ({{.Days}} days) starting {{.Date.Format "2006-01-02"}}.
Scope: {{.Focus}}.{{if .Department}} Department: {{.Department}}.{{end}}{{if .Category}} Category: {{.Category}}.{{end}}
Demand is measured in {{.Unit}}.

CONTEXT
Each entry records which source produced it. Entries with provenance "neutral" carry no information.
{{.Context}}

CANDIDATE ITEMS
{{range .Departments}}- {{.Name}}
{{range .Categories}}  - {{.Name}}: {{join .Examples ", "}}
{{end}}{{end}}
OUTPUT CONTRACT
Return a JSON array of exactly {{.Count}} objects and nothing else. Each object has:
- itemName (string, unique within the array)
- category (string) and subcategory (string)
- currentDemand (number, current {{.Unit}} per {{.Timeframe}})
- predictedDemand (number, expected {{.Unit}} over the next {{.Timeframe}})
- demandChangePercentage (number, (predictedDemand - currentDemand) / currentDemand * 100)
- demandTrend (one of "increase", "decrease", "no-change")
- confidence (number between {{.MinConfidence}} and {{.MaxConfidence}})
- peakPeriod (string)
- reasoning (string, one or two sentences citing the context)
- marketFactors (array of strings)
- recommendations (array of strings)
- riskLevel (one of {{.Risks}})

Example element:
{{.Example}}
`))

var exampleElement = map[string]any{
	"itemName":               "Item name",
	"category":               "Category",
	"subcategory":            "Subcategory",
	"currentDemand":          1000,
	"predictedDemand":        1150,
	"demandChangePercentage": 15,
	"demandTrend":            models.TrendIncrease,
	"confidence":             0.8,
	"peakPeriod":             "Week 2",
	"reasoning":              "Why demand moves.",
	"marketFactors":          []string{"factor"},
	"recommendations":        []string{"action"},
	"riskLevel":              models.RiskMedium,
}

// Build renders the forecast prompt.
func Build(in Input) (string, error) {
	if !in.Sector.Valid() {
		return "", fmt.Errorf("%w: sector %q", ErrInvalidInput, in.Sector)
	}
	if in.Taxonomy == nil {
		return "", fmt.Errorf("%w: taxonomy is required", ErrInvalidInput)
	}
	if in.Count < 0 {
		return "", fmt.Errorf("%w: count %d", ErrInvalidInput, in.Count)
	}
	count := in.Count
	if count == 0 {
		count = DefaultCount
	}

	ctxJSON, err := serializeContext(in.Signals)
	if err != nil {
		return "", err
	}
	example, err := json.MarshalIndent(exampleElement, "", "  ")
	if err != nil {
		return "", err
	}

	st := in.Taxonomy.Sectors[in.Sector]
	view := forecastView{
		Input:         in,
		Count:         count,
		Days:          in.Timeframe.Days(),
		Unit:          orDefault(st.Unit, "units"),
		Focus:         orDefault(st.Focus, string(in.Sector)+" products"),
		Departments:   in.Taxonomy.Departments(in.Sector, in.Department, in.Category),
		Context:       ctxJSON,
		Example:       string(example),
		MinConfidence: MinConfidence,
		MaxConfidence: MaxConfidence,
		Risks:         fmt.Sprintf("%q, %q, %q", models.RiskLow, models.RiskMedium, models.RiskHigh),
	}

	var b strings.Builder
	if err := forecastTmpl.Execute(&b, view); err != nil {
		return "", fmt.Errorf("rendering forecast prompt: %w", err)
	}
	return b.String(), nil
}

// serializeContext renders signals as indented JSON keyed by kind. encoding/json sorts
// map keys, so the output does not depend on insertion order.
func serializeContext(signals map[models.SignalKind]models.ContextSignal) (string, error) {
	entries := make(map[models.SignalKind]contextEntry, len(signals))
	for kind, s := range signals {
		entries[kind] = contextEntry{Provenance: s.Provenance, Source: s.Source, Data: s.Payload}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serializing context: %w", err)
	}
	return string(data), nil
}

// SignalInput is everything a signal synthesis prompt embeds.
type SignalInput struct {
	Kind     models.SignalKind
	Location Location
	Sector   models.Sector
	Date     time.Time
}

var signalTmpl = template.Must(template.New("signal").Parse(`Estimate the current {{.Kind}} conditions for {{.Location.Name}}{{with .Location.State}}, {{.}}{{end}}{{with .Location.Country}}, {{.}}{{end}} (lat {{printf "%.4f" .Location.Latitude}}, lon {{printf "%.4f" .Location.Longitude}}) as of {{.Date.Format "2006-01-02"}}{{if .Sector}}, as relevant to the {{.Sector}} sector{{end}}.
Use realistic values for this place and season.
Return one JSON object with exactly this shape and nothing else:
{{.Schema}}
`))

// BuildSignal renders the request that asks the model to estimate one signal.
func BuildSignal(in SignalInput) (string, error) {
	example, ok := signalExamples[in.Kind]
	if !ok {
		return "", fmt.Errorf("%w: signal kind %q", ErrInvalidInput, in.Kind)
	}
	schema, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	err = signalTmpl.Execute(&b, struct {
		SignalInput
		Schema string
	}{in, string(schema)})
	if err != nil {
		return "", fmt.Errorf("rendering signal prompt: %w", err)
	}
	return b.String(), nil
}

var signalExamples = map[models.SignalKind]any{
	models.SignalWeather: models.Weather{
		TemperatureC: 31.5, HumidityPct: 40, PrecipitationMM: 0, WindSpeedMS: 3.2,
		Conditions: "clear sky", Season: "post-monsoon",
	},
	models.SignalNews: models.News{
		Headlines: []models.Headline{{Title: "Headline", Source: "Publication"}},
		Themes:    []string{"theme"},
	},
	models.SignalSocial: models.Social{
		Sentiment: 0.2, MentionVolume: 1500, TrendingTopics: []string{"topic"},
	},
	models.SignalHospital: models.Hospital{
		Facilities: 120, TotalBeds: 15000, OccupancyPct: 72, ICUOccupancyPct: 80,
		PrevalentIllness: []string{"illness"},
	},
	models.SignalDemographic: models.Demographic{
		Population: 3000000, UrbanPct: 90, MedianAge: 28,
		AgeDistribution: map[string]float64{"0-14": 25, "15-64": 68, "65+": 7},
		PerCapitaIncome: 120000,
	},
	models.SignalMarket: models.Market{
		Indices:      []models.MarketIndex{{Symbol: "NIFTY50", Value: 22000, ChangePct: 0.4}},
		InflationPct: 5, FuelPrice: 100, Currency: "INR",
	},
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
