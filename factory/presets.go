package factory

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed presets/*.json
var presets embed.FS

// PresetIDs lists the embedded datasets in alphabetical order.
func PresetIDs() []string {
	entries, err := presets.ReadDir("presets")
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids
}

// PresetJSON returns the raw JSON of an embedded dataset.
func PresetJSON(id string) (string, error) {
	raw, err := presets.ReadFile(path.Join("presets", id+".json"))
	if err != nil {
		return "", fmt.Errorf("unknown preset %q", id)
	}
	return string(raw), nil
}

// Preset parses an embedded dataset.
func (f *DatasetFactory) Preset(id string) (*Dataset, error) {
	raw, err := PresetJSON(id)
	if err != nil {
		return nil, err
	}
	return f.ParseDataset(raw)
}
