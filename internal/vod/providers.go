package vod

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// providerFile is the keyed config layout: {"api_site": {"key": {...}}}.
type providerFile struct {
	APISite map[string]ProviderConfig `json:"api_site"`
}

// ParseProviders accepts either a JSON array of providers or an object with
// an "api_site" map. Map entries take their key from the map and are sorted
// by it. Entries without a key or API are rejected.
func ParseProviders(data []byte) ([]ProviderConfig, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("empty provider config")
	}

	var providers []ProviderConfig
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &providers); err != nil {
			return nil, fmt.Errorf("decode provider list: %w", err)
		}
	} else {
		var f providerFile
		if err := json.Unmarshal([]byte(trimmed), &f); err != nil {
			return nil, fmt.Errorf("decode provider map: %w", err)
		}
		for key, p := range f.APISite {
			p.Key = key
			providers = append(providers, p)
		}
		sort.Slice(providers, func(i, j int) bool { return providers[i].Key < providers[j].Key })
	}

	seen := make(map[string]bool, len(providers))
	for i, p := range providers {
		if p.Key == "" || p.SearchAPI == "" {
			return nil, fmt.Errorf("provider #%d: key and api are required", i)
		}
		if seen[p.Key] {
			return nil, fmt.Errorf("provider %q: duplicate key", p.Key)
		}
		seen[p.Key] = true
		if p.Name == "" {
			providers[i].Name = p.Key
		}
	}
	return providers, nil
}

// LoadProviders reads providers from a file.
func LoadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers: %w", err)
	}
	return ParseProviders(data)
}
