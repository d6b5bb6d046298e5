package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

// catalogSeed is the YAML shape of one data_catalog seed entry.
type catalogSeed struct {
	CatalogKey      string         `yaml:"catalog_key"`
	SourceFamily    string         `yaml:"source_family"`
	UpdateFrequency string         `yaml:"update_frequency"`
	ConfigParams    map[string]any `yaml:"config_params"`
	SearchKeywords  string         `yaml:"search_keywords"`
	Role            string         `yaml:"role"`
	Scope           string         `yaml:"scope"`
	Active          bool           `yaml:"active"`
}

// LoadCatalog parses a catalog seed file into entries ready for
// CatalogRepo.Seed. config_params maps are re-encoded as the JSON blobs the
// adapters expect.
func LoadCatalog(path string) ([]persistence.CatalogEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var doc struct {
		Entries []catalogSeed `yaml:"entries"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	entries := make([]persistence.CatalogEntry, 0, len(doc.Entries))
	for i, seed := range doc.Entries {
		if seed.CatalogKey == "" {
			return nil, fmt.Errorf("catalog %s: entry %d has no catalog_key", path, i)
		}
		family := persistence.SourceFamily(seed.SourceFamily)
		if !family.Valid() {
			return nil, fmt.Errorf("catalog %s: %s: unknown source_family %q", path, seed.CatalogKey, seed.SourceFamily)
		}
		freq := persistence.Frequency(seed.UpdateFrequency)
		if !freq.Valid() {
			return nil, fmt.Errorf("catalog %s: %s: unknown update_frequency %q", path, seed.CatalogKey, seed.UpdateFrequency)
		}

		params := "{}"
		if len(seed.ConfigParams) > 0 {
			encoded, err := json.Marshal(seed.ConfigParams)
			if err != nil {
				return nil, fmt.Errorf("catalog %s: %s: encode config_params: %w", path, seed.CatalogKey, err)
			}
			params = string(encoded)
		}

		entries = append(entries, persistence.CatalogEntry{
			CatalogKey:      seed.CatalogKey,
			SourceFamily:    family,
			UpdateFrequency: freq,
			ConfigParams:    params,
			SearchKeywords:  seed.SearchKeywords,
			Role:            seed.Role,
			Scope:           seed.Scope,
			IsActive:        seed.Active,
		})
	}
	return entries, nil
}
