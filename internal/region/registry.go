// Package region is the location registry: a static table mapping region names to
// coordinates, country metadata and baseline values for the static signal tier.
package region

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrRegionUnknown is returned when a region is not present in the registry.
var ErrRegionUnknown = errors.New("region unknown")

//go:embed regions.yaml
var defaultTable []byte

// Baseline holds realistic reference values for a region. Zero values mean "not known"
// and the static tier substitutes generic defaults.
type Baseline struct {
	Population           int      `yaml:"population"             json:"population"`
	UrbanPct             float64  `yaml:"urban_pct"              json:"urban_pct"`
	MedianAge            float64  `yaml:"median_age"             json:"median_age"`
	PerCapitaIncome      float64  `yaml:"per_capita_income"      json:"per_capita_income"`
	TemperatureC         float64  `yaml:"temperature_c"          json:"temperature_c"`
	HumidityPct          float64  `yaml:"humidity_pct"           json:"humidity_pct"`
	PrecipitationMM      float64  `yaml:"precipitation_mm"       json:"precipitation_mm"`
	HospitalFacilities   int      `yaml:"hospital_facilities"    json:"hospital_facilities"`
	HospitalBeds         int      `yaml:"hospital_beds"          json:"hospital_beds"`
	HospitalOccupancyPct float64  `yaml:"hospital_occupancy_pct" json:"hospital_occupancy_pct"`
	MarketIndex          float64  `yaml:"market_index"           json:"market_index"`
	InflationPct         float64  `yaml:"inflation_pct"          json:"inflation_pct"`
	FuelPrice            float64  `yaml:"fuel_price"             json:"fuel_price"`
	Currency             string   `yaml:"currency"               json:"currency"`
	PrevalentIllness     []string `yaml:"prevalent_illness"      json:"prevalent_illness"`
	Crops                []string `yaml:"crops"                  json:"crops"`
}

// Region is one registry entry.
type Region struct {
	Name        string   `yaml:"name"         json:"name"`
	Aliases     []string `yaml:"aliases"      json:"aliases,omitempty"`
	Country     string   `yaml:"country"      json:"country"`
	CountryCode string   `yaml:"country_code" json:"country_code"`
	State       string   `yaml:"state"        json:"state"`
	Latitude    float64  `yaml:"latitude"     json:"latitude"`
	Longitude   float64  `yaml:"longitude"    json:"longitude"`
	Timezone    string   `yaml:"timezone"     json:"timezone"`
	Baseline    Baseline `yaml:"baseline"     json:"-"`
}

type table struct {
	Regions []Region `yaml:"regions"`
}

// Registry is an immutable, case-insensitive lookup of regions. It is safe for
// concurrent use.
type Registry struct {
	regions []Region
	index   map[string]int
}

// Default returns the registry built from the embedded table.
func Default() (*Registry, error) {
	return Parse(defaultTable)
}

// Load returns the registry read from path, or the embedded table when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading region table: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from a YAML table. Names and aliases must be unique.
func Parse(data []byte) (*Registry, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing region table: %w", err)
	}
	return New(t.Regions)
}

// New builds a registry from regions.
func New(regions []Region) (*Registry, error) {
	r := &Registry{
		regions: make([]Region, 0, len(regions)),
		index:   make(map[string]int, len(regions)),
	}
	for _, reg := range regions {
		if strings.TrimSpace(reg.Name) == "" {
			return nil, fmt.Errorf("region table: entry with empty name")
		}
		pos := len(r.regions)
		for _, key := range append([]string{reg.Name}, reg.Aliases...) {
			k := normalizeKey(key)
			if k == "" {
				continue
			}
			if prev, dup := r.index[k]; dup {
				return nil, fmt.Errorf("region table: %q of %q already names %q", key, reg.Name, r.regions[prev].Name)
			}
			r.index[k] = pos
		}
		r.regions = append(r.regions, reg)
	}
	return r, nil
}

// Lookup returns the region matching name or one of its aliases, ignoring case and
// surrounding whitespace.
func (r *Registry) Lookup(name string) (Region, error) {
	i, ok := r.index[normalizeKey(name)]
	if !ok {
		return Region{}, fmt.Errorf("%w: %q", ErrRegionUnknown, name)
	}
	return r.regions[i], nil
}

// List returns every region sorted by name.
func (r *Registry) List() []Region {
	out := make([]Region, len(r.regions))
	copy(out, r.regions)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of regions.
func (r *Registry) Len() int {
	return len(r.regions)
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
