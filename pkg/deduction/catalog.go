package deduction

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Catalog struct {
	Version    int               `yaml:"version"`
	Currency   string            `yaml:"currency"`
	Places     int32             `yaml:"places"`
	Categories []CatalogCategory `yaml:"categories"`
}

type CatalogCategory struct {
	Key         string `yaml:"key" json:"key"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Limit is a decimal string; empty means no limit.
	Limit string `yaml:"limit,omitempty" json:"limit,omitempty"`
}

func ParseCatalogYAML(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, err
	}
	if c.Version != 1 {
		return Catalog{}, errors.New("catalog: unsupported version")
	}
	if len(c.Categories) == 0 {
		return Catalog{}, errors.New("catalog: missing categories")
	}
	if c.Places < 0 || c.Places > 4 {
		return Catalog{}, errors.New("catalog: places out of range")
	}

	seen := make(map[string]bool, len(c.Categories))
	for i := range c.Categories {
		cat := &c.Categories[i]
		cat.Key = strings.TrimSpace(cat.Key)
		if cat.Key == "" {
			return Catalog{}, fmt.Errorf("catalog: category %d has empty key", i)
		}
		if seen[cat.Key] {
			return Catalog{}, fmt.Errorf("catalog: duplicate category %q", cat.Key)
		}
		seen[cat.Key] = true
		cat.Limit = strings.TrimSpace(cat.Limit)
		if cat.Limit != "" {
			if _, ok := ParseAmount(cat.Limit); !ok {
				return Catalog{}, fmt.Errorf("catalog: invalid limit for %q", cat.Key)
			}
		}
	}
	return c, nil
}

func LoadCatalog(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalogYAML(b)
}

func (c Catalog) Caps() Caps {
	caps := make(Caps)
	for _, cat := range c.Categories {
		if cat.Limit == "" {
			continue
		}
		d, _ := ParseAmount(cat.Limit)
		caps[cat.Key] = d
	}
	return caps
}

func (c Catalog) Has(key string) bool {
	for _, cat := range c.Categories {
		if cat.Key == key {
			return true
		}
	}
	return false
}
