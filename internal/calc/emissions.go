package calc

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// EmissionsTable is the versioned default emissions intensity lookup,
// tCO2e per tonne of product, keyed by product with optional per-country
// rows. Reference data, read-only after load.
type EmissionsTable struct {
	version  string
	products map[string]productEntry
}

type productEntry struct {
	Default   float64            `yaml:"default"`
	Countries map[string]float64 `yaml:"countries,omitempty"`
}

// Version returns the reference data version string.
func (t *EmissionsTable) Version() string { return t.version }

// Lookup resolves the default emissions intensity for (product, country).
// A per-country row wins over the product default. Product matching is
// case-insensitive; country codes are matched uppercase.
func (t *EmissionsTable) Lookup(product, country string) (float64, bool) {
	entry, ok := t.products[strings.ToLower(strings.TrimSpace(product))]
	if !ok {
		return 0, false
	}
	if country != "" {
		if v, ok := entry.Countries[strings.ToUpper(strings.TrimSpace(country))]; ok {
			return v, true
		}
	}
	return entry.Default, true
}

// Products returns the known product names.
func (t *EmissionsTable) Products() []string {
	out := make([]string, 0, len(t.products))
	for p := range t.products {
		out = append(out, p)
	}
	return out
}

// Defaults returns the per-product default intensities, without country
// rows. Used for prompt grounding and display.
func (t *EmissionsTable) Defaults() map[string]float64 {
	out := make(map[string]float64, len(t.products))
	for p, entry := range t.products {
		out[p] = entry.Default
	}
	return out
}

// DefaultEmissionsTable returns the built-in table of default emission
// factors (tCO2e/tonne), used when no reference file is configured.
func DefaultEmissionsTable() *EmissionsTable {
	return &EmissionsTable{
		version: "builtin-2025-10",
		products: map[string]productEntry{
			"steel":       {Default: 2.3},
			"aluminum":    {Default: 8.6},
			"cement":      {Default: 0.9},
			"fertilizer":  {Default: 1.5},
			"electricity": {Default: 0.4},
			"glass":       {Default: 0.8},
			"ceramics":    {Default: 0.7},
			"hydrogen":    {Default: 10.0},
		},
	}
}

// tableFile is the YAML schema for a versioned reference table.
type tableFile struct {
	Version  string                  `yaml:"version"`
	Products map[string]productEntry `yaml:"products"`
}

// LoadEmissionsTable reads a versioned YAML reference table.
func LoadEmissionsTable(path string) (*EmissionsTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "calc: read reference table")
	}

	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, eris.Wrap(err, "calc: parse reference table")
	}
	if len(tf.Products) == 0 {
		return nil, eris.New("calc: reference table has no products")
	}

	products := make(map[string]productEntry, len(tf.Products))
	for name, entry := range tf.Products {
		if entry.Default <= 0 {
			return nil, eris.Errorf("calc: non-positive default intensity for %s", name)
		}
		countries := make(map[string]float64, len(entry.Countries))
		for c, v := range entry.Countries {
			countries[strings.ToUpper(c)] = v
		}
		entry.Countries = countries
		products[strings.ToLower(name)] = entry
	}

	return &EmissionsTable{version: tf.Version, products: products}, nil
}

// LoadEmissionsTableXLSX reads a reference table from a published workbook.
// Expected columns: product, country (blank for the product default),
// intensity. The first row is a header.
func LoadEmissionsTableXLSX(path string) (*EmissionsTable, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "calc: open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("calc: workbook has no sheets")
	}

	products := make(map[string]productEntry)
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue // header
		}
		cells := row.Cells
		if len(cells) < 3 {
			continue
		}

		product := strings.ToLower(strings.TrimSpace(cells[0].Value))
		country := strings.ToUpper(strings.TrimSpace(cells[1].Value))
		raw := strings.TrimSpace(cells[2].Value)
		if product == "" || raw == "" {
			continue
		}

		intensity, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "calc: row %d: bad intensity %q", i+1, raw)
		}
		if intensity <= 0 {
			return nil, eris.Errorf("calc: row %d: non-positive intensity for %s", i+1, product)
		}

		entry := products[product]
		if country == "" {
			entry.Default = intensity
		} else {
			if entry.Countries == nil {
				entry.Countries = make(map[string]float64)
			}
			entry.Countries[country] = intensity
		}
		products[product] = entry
	}

	if len(products) == 0 {
		return nil, eris.New("calc: workbook has no product rows")
	}

	return &EmissionsTable{version: "xlsx:" + path, products: products}, nil
}
