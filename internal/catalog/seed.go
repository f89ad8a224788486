package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Titles []Record `yaml:"titles"`
}

// LoadSeed reads a YAML catalog seed of the form `titles: [...]`.
func LoadSeed(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]Record, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	for i := range seed.Titles {
		seed.Titles[i].Normalize()
		if err := seed.Titles[i].Validate(); err != nil {
			return nil, fmt.Errorf("seed title %d: %w", i, err)
		}
	}
	return seed.Titles, nil
}
