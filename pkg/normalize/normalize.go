// Package normalize turns untrusted model output into validated demand predictions.
//
// Normalization runs in stages: strip wrappers, extract every parseable JSON value,
// validate the elements of each in turn, then recompute the derived numeric fields so
// the invariants of a prediction hold regardless of what the model reported.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/demandcast/pkg/models"
)

var (
	// ErrResponseUnparsable means no JSON value could be extracted from the model output.
	ErrResponseUnparsable = errors.New("response unparsable")
	// ErrNoValidPredictions means JSON was found but no element was a usable prediction.
	ErrNoValidPredictions = errors.New("no valid predictions")
)

// Options tunes the repair rules.
type Options struct {
	// Tolerance is the allowed divergence, in percentage points, between the reported
	// change percentage and the one implied by current and predicted demand.
	Tolerance float64
	// DefaultConfidence replaces a missing or out-of-range confidence.
	DefaultConfidence float64
}

// DefaultOptions returns the standard tolerance of 5 points and default confidence 0.65.
func DefaultOptions() Options {
	return Options{Tolerance: 5, DefaultConfidence: 0.65}
}

// wrapperKeys are object keys whose array value holds the predictions.
var wrapperKeys = []string{"predictions", "demandpredictions", "items", "data", "forecast"}

// Predictions parses raw model output into at most expectedCount predictions.
// expectedCount <= 0 disables truncation.
func Predictions(raw string, expectedCount int, opts Options) ([]models.DemandPrediction, error) {
	values := candidates(raw)
	if len(values) == 0 {
		return nil, ErrResponseUnparsable
	}

	// Prose ahead of the payload may itself be valid JSON ("[1]", "{}"), so the first
	// candidate that yields a prediction wins.
	rejected := 0
	for _, payload := range values {
		elements, err := elementsOf(payload)
		if err != nil {
			continue
		}
		if out := collect(elements, expectedCount, opts); len(out) > 0 {
			return out, nil
		}
		rejected += len(elements)
	}
	return nil, fmt.Errorf("%w: %d element(s) rejected", ErrNoValidPredictions, rejected)
}

// collect validates elements in order, dropping invalid and duplicate items.
func collect(elements []map[string]any, expectedCount int, opts Options) []models.DemandPrediction {
	seen := make(map[string]bool, len(elements))
	out := make([]models.DemandPrediction, 0, len(elements))
	for _, el := range elements {
		p, ok := predictionFrom(el, opts)
		if !ok {
			continue
		}
		key := strings.ToLower(p.ItemName)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
		if expectedCount > 0 && len(out) == expectedCount {
			break
		}
	}
	return out
}

// elementsOf unwraps payload into its candidate prediction objects.
func elementsOf(payload json.RawMessage) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseUnparsable, err)
	}

	switch t := v.(type) {
	case []any:
		return objects(t), nil
	case map[string]any:
		fields := canonical(t)
		for _, k := range wrapperKeys {
			if arr, ok := fields[k].([]any); ok {
				return objects(arr), nil
			}
		}
		return []map[string]any{t}, nil
	default:
		return nil, ErrNoValidPredictions
	}
}

func objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// predictionFrom validates one element. It reports false when itemName or
// predictedDemand is missing or unusable.
func predictionFrom(el map[string]any, opts Options) (models.DemandPrediction, bool) {
	f := canonical(el)

	name := strings.TrimSpace(str(first(f, "itemname", "item", "name", "product")))
	if name == "" {
		return models.DemandPrediction{}, false
	}
	predicted, ok := number(first(f, "predicteddemand", "forecastdemand", "predicted"))
	if !ok || predicted < 0 {
		return models.DemandPrediction{}, false
	}

	reportedPct, hasPct := number(first(f, "demandchangepercentage", "changepercentage", "demandchange", "percentagechange"))
	current, hasCurrent := number(first(f, "currentdemand", "current"))
	if hasCurrent && current < 0 {
		hasCurrent = false
	}
	if !hasCurrent {
		switch {
		case hasPct && reportedPct > -100:
			current = predicted / (1 + reportedPct/100)
		default:
			current = predicted
		}
	}

	pct := ChangePercentage(current, predicted)
	if hasPct && consistent(reportedPct, pct, predicted-current, opts.Tolerance) {
		pct = reportedPct
	}

	delta := predicted - current
	return models.DemandPrediction{
		ItemName:               name,
		Category:               strings.TrimSpace(str(first(f, "category"))),
		Subcategory:            strings.TrimSpace(str(first(f, "subcategory"))),
		CurrentDemand:          current,
		PredictedDemand:        predicted,
		DemandChangePercentage: pct,
		DemandDelta:            delta,
		DemandTrend:            Trend(delta),
		Confidence:             confidence(first(f, "confidence", "confidencescore"), opts.DefaultConfidence),
		PeakPeriod:             strings.TrimSpace(str(first(f, "peakperiod", "peak"))),
		Reasoning:              strings.TrimSpace(str(first(f, "reasoning", "rationale"))),
		MarketFactors:          list(first(f, "marketfactors", "factors")),
		Recommendations:        list(first(f, "recommendations", "recommendation")),
		RiskLevel:              RiskLevel(str(first(f, "risklevel", "risk"))),
	}, true
}

// ChangePercentage is the percentage change from current to predicted, with the
// denominator floored at 1.
func ChangePercentage(current, predicted float64) float64 {
	return (predicted - current) / math.Max(current, 1) * 100
}

// Trend classifies a demand delta.
func Trend(delta float64) string {
	switch {
	case delta > 0:
		return models.TrendIncrease
	case delta < 0:
		return models.TrendDecrease
	default:
		return models.TrendNoChange
	}
}

// RiskLevel maps free-form risk text onto Low, Medium or High. Unknown text is Medium.
func RiskLevel(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "minimal":
		return models.RiskLow
	case "high", "critical", "severe":
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}

// consistent reports whether reported agrees in sign with delta and lies within
// tolerance points of computed.
func consistent(reported, computed, delta, tolerance float64) bool {
	if sign(reported) != sign(delta) {
		return false
	}
	return math.Abs(reported-computed) <= tolerance
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func confidence(v any, def float64) float64 {
	c, ok := number(v)
	switch {
	case !ok:
		c = def
	case c >= 0 && c <= 1:
	case c > 1 && c <= 100:
		c /= 100
	default:
		c = def
	}
	return math.Min(1, math.Max(0, c))
}

// canonical re-keys m by lower-cased keys with '_', '-' and spaces removed, so camelCase
// and snake_case spellings collapse to one key.
func canonical(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		ck := strings.Map(func(r rune) rune {
			if r == '_' || r == '-' || r == ' ' {
				return -1
			}
			return r
		}, strings.ToLower(k))
		if _, dup := out[ck]; !dup {
			out[ck] = v
		}
	}
	return out
}

func first(f map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// number coerces JSON numbers and numeric-looking strings such as "1,200" or "12%".
func number(v any) (float64, bool) {
	var x float64
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		x = f
	case float64:
		x = t
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimSuffix(s, "%")
		s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		x = f
	default:
		return 0, false
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// list accepts an array of strings or a single string.
func list(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, el := range t {
			if s := strings.TrimSpace(str(el)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}
