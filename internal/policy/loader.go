package policy

import (
	"fmt"
	"log/slog"
	"os"

	"go.yaml.in/yaml/v3"
)

// LoadPolicy reads a policy YAML (or JSON, which is a YAML subset) file from
// disk and returns the parsed document. It performs no validation beyond
// what the YAML decoder itself enforces; callers should pass the result to
// Compile, which rejects structurally invalid policies.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file %s: %w", path, err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	slog.Debug("loaded policy", "path", path, "version", p.Version)
	return &p, nil
}
