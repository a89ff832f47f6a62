package learning

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed challenges.yaml
var defaultCatalog []byte

type catalogFile struct {
	Challenges []Challenge `yaml:"challenges"`
}

// DefaultChallenges returns the built-in challenge catalog.
func DefaultChallenges() ([]Challenge, error) {
	return parseCatalog(defaultCatalog)
}

// LoadChallenges reads a challenge catalog from a YAML file.
func LoadChallenges(path string) ([]Challenge, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied config
	if err != nil {
		return nil, fmt.Errorf("reading challenge catalog: %w", err)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) ([]Challenge, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing challenge catalog: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(f.Challenges))
	for i, c := range f.Challenges {
		switch {
		case c.ID == "":
			errs = append(errs, fmt.Errorf("challenge %d: id is required", i))
		case seen[c.ID]:
			errs = append(errs, fmt.Errorf("challenge %s: duplicate id", c.ID))
		case c.Points < 0:
			errs = append(errs, fmt.Errorf("challenge %s: points must not be negative", c.ID))
		}
		seen[c.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.Challenges, nil
}

// SeedChallenges upserts the catalog into the store.
func SeedChallenges(ctx context.Context, store Store, challenges []Challenge) error {
	for _, c := range challenges {
		if err := store.UpsertChallenge(ctx, c); err != nil {
			return fmt.Errorf("seeding challenge %s: %w", c.ID, err)
		}
	}
	return nil
}
