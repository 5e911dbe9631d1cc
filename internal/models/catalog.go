package models

// VariableCatalog is the YAML description of the variables a device type reports.
type VariableCatalog struct {
	DefaultColor string            `json:"defaultColor" yaml:"default_color"`
	Categories   []CatalogCategory `json:"categories" yaml:"categories"`
}

// CatalogCategory groups variables under a selectable tab.
type CatalogCategory struct {
	Name      string     `json:"name" yaml:"name"`
	Variables []Variable `json:"variables" yaml:"variables"`
}
