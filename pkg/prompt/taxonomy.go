package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/kiranshivaraju/demandcast/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Category is a group of demand items with a few examples for the model.
type Category struct {
	Name     string   `yaml:"name"`
	Examples []string `yaml:"examples"`
}

// Department groups categories within a sector.
type Department struct {
	Name       string     `yaml:"name"`
	Categories []Category `yaml:"categories"`
}

// SectorTaxonomy is the configuration for one sector.
type SectorTaxonomy struct {
	Unit        string              `yaml:"unit"`
	Focus       string              `yaml:"focus"`
	Signals     []models.SignalKind `yaml:"signals"`
	Departments []Department        `yaml:"departments"`
}

// Taxonomy maps each sector to its item taxonomy and required signals.
type Taxonomy struct {
	Sectors map[models.Sector]SectorTaxonomy `yaml:"sectors"`
}

// DefaultTaxonomy returns the embedded taxonomy.
func DefaultTaxonomy() (*Taxonomy, error) {
	return ParseTaxonomy(defaultTaxonomy)
}

// LoadTaxonomy reads the taxonomy at path, or the embedded one when path is empty.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy decodes and validates a YAML taxonomy.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing taxonomy: %w", err)
	}
	for sector, st := range t.Sectors {
		if !sector.Valid() {
			return nil, fmt.Errorf("taxonomy: unknown sector %q", sector)
		}
		for _, k := range st.Signals {
			if !k.Valid() {
				return nil, fmt.Errorf("taxonomy: sector %q lists unknown signal %q", sector, k)
			}
		}
	}
	return &t, nil
}

// Signals returns the signal kinds sector draws on. A sector without a configured list
// uses every kind.
func (t *Taxonomy) Signals(sector models.Sector) []models.SignalKind {
	if st, ok := t.Sectors[sector]; ok && len(st.Signals) > 0 {
		return st.Signals
	}
	return models.SignalKinds
}

// Departments returns the departments of sector narrowed by the optional department and
// category filters. A filter that matches nothing leaves the list unfiltered at that
// level, so an unfamiliar department still yields the sector's full taxonomy.
func (t *Taxonomy) Departments(sector models.Sector, department, category string) []Department {
	all := t.Sectors[sector].Departments

	depts := all
	if department != "" {
		var matched []Department
		for _, d := range all {
			if strings.EqualFold(d.Name, department) {
				matched = append(matched, d)
			}
		}
		if len(matched) > 0 {
			depts = matched
		}
	}

	if category == "" {
		return depts
	}
	var out []Department
	for _, d := range depts {
		var cats []Category
		for _, c := range d.Categories {
			if strings.EqualFold(c.Name, category) {
				cats = append(cats, c)
			}
		}
		if len(cats) > 0 {
			out = append(out, Department{Name: d.Name, Categories: cats})
		}
	}
	if len(out) == 0 {
		return depts
	}
	return out
}
