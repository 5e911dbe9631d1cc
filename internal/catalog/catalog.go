// Package catalog loads the YAML description of the variables a device reports.
package catalog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iot-monitor/chartengine/internal/models"
)

// palette colors variables that have neither their own color nor a catalog default.
var palette = []string{"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd", "#8c564b", "#e377c2", "#17becf"}

// Catalog indexes a VariableCatalog by key and category.
type Catalog struct {
	raw   models.VariableCatalog
	byKey map[string]models.Variable
	order []string
}

// Parse reads a YAML catalog file.
func Parse(filePath string) (*Catalog, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseFromReader(file)
}

// ParseFromReader parses a catalog from an io.Reader.
func ParseFromReader(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var raw models.VariableCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(raw)
}

// New validates raw and fills in labels and colors.
func New(raw models.VariableCatalog) (*Catalog, error) {
	c := &Catalog{raw: raw, byKey: make(map[string]models.Variable)}
	n := 0
	for ci := range c.raw.Categories {
		cat := &c.raw.Categories[ci]
		if strings.TrimSpace(cat.Name) == "" {
			return nil, fmt.Errorf("category %d has no name", ci)
		}
		for vi := range cat.Variables {
			v := &cat.Variables[vi]
			if v.Key == "" {
				return nil, fmt.Errorf("category %q: variable %d has no key", cat.Name, vi)
			}
			if _, dup := c.byKey[v.Key]; dup {
				return nil, fmt.Errorf("variable %q listed twice", v.Key)
			}
			if v.MinAlarm != nil && v.MaxAlarm != nil && *v.MinAlarm > *v.MaxAlarm {
				return nil, fmt.Errorf("variable %q: min_alarm above max_alarm", v.Key)
			}
			if v.Label == "" {
				v.Label = v.Key
			}
			if v.Color == "" {
				v.Color = c.raw.DefaultColor
			}
			if v.Color == "" {
				v.Color = palette[n%len(palette)]
			}
			n++
			c.byKey[v.Key] = *v
			c.order = append(c.order, v.Key)
		}
	}
	return c, nil
}

// Categories returns category names in file order.
func (c *Catalog) Categories() []string {
	names := make([]string, len(c.raw.Categories))
	for i, cat := range c.raw.Categories {
		names[i] = cat.Name
	}
	return names
}

// ByCategory returns the variables of one category. An empty name returns every variable.
func (c *Catalog) ByCategory(name string) []models.Variable {
	if name == "" {
		return c.All()
	}
	for _, cat := range c.raw.Categories {
		if strings.EqualFold(cat.Name, name) {
			return append([]models.Variable(nil), cat.Variables...)
		}
	}
	return nil
}

// All returns every variable in file order.
func (c *Catalog) All() []models.Variable {
	out := make([]models.Variable, len(c.order))
	for i, k := range c.order {
		out[i] = c.byKey[k]
	}
	return out
}

// Lookup returns the catalog entry for key.
func (c *Catalog) Lookup(key string) (models.Variable, bool) {
	v, ok := c.byKey[key]
	return v, ok
}

// Resolve maps keys to variables. Unknown keys get a bare variable labelled
// with the key so ad-hoc sensors can still be charted.
func (c *Catalog) Resolve(keys []string) []models.Variable {
	out := make([]models.Variable, 0, len(keys))
	for i, k := range keys {
		if v, ok := c.byKey[k]; ok {
			out = append(out, v)
			continue
		}
		out = append(out, models.Variable{Key: k, Label: k, Color: palette[(len(c.order)+i)%len(palette)]})
	}
	return out
}

// Default returns a small built-in catalog used when no file is configured.
func Default() *Catalog {
	lo, hi := 5.0, 35.0
	hlo, hhi := 20.0, 80.0
	c, _ := New(models.VariableCatalog{
		Categories: []models.CatalogCategory{
			{Name: "climate", Variables: []models.Variable{
				{Key: "temperature", Label: "Temperature", Unit: "°C", AlarmEnabled: true, MinAlarm: &lo, MaxAlarm: &hi},
				{Key: "humidity", Label: "Humidity", Unit: "%", AlarmEnabled: true, MinAlarm: &hlo, MaxAlarm: &hhi},
			}},
			{Name: "power", Variables: []models.Variable{
				{Key: "voltage", Label: "Voltage", Unit: "V"},
				{Key: "current", Label: "Current", Unit: "A"},
			}},
		},
	})
	return c
}
