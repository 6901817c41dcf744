package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelChoice is one selectable provider/model pair from the catalog.
type ModelChoice struct {
	Provider string `yaml:"provider"`
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Default  bool   `yaml:"default"`
}

type modelsFile struct {
	Models []ModelChoice `yaml:"models"`
}

// LoadModels reads the optional YAML model catalog. An empty path
// yields an empty catalog.
func LoadModels(path string) ([]ModelChoice, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}

	var doc modelsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse models file: %w", err)
	}

	return doc.Models, nil
}

// FindModel resolves a "provider/model" selector against the catalog,
// matching the catalog entry's id or display name case-insensitively.
// Selectors not in the catalog are passed through verbatim.
func FindModel(catalog []ModelChoice, selector string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(selector, "/")
	if ok {
		return provider, model, nil
	}

	for _, c := range catalog {
		if strings.EqualFold(c.ID, selector) || strings.EqualFold(c.Name, selector) {
			return c.Provider, c.ID, nil
		}
	}

	return "", "", fmt.Errorf("unknown model %q: use provider/model or a catalog entry", selector)
}

// DefaultModel returns the catalog's default entry, if any.
func DefaultModel(catalog []ModelChoice) (ModelChoice, bool) {
	for _, c := range catalog {
		if c.Default {
			return c, true
		}
	}
	return ModelChoice{}, false
}
