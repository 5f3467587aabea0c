// Package executor implements the tool executor: policy check, manifest
// lookup, credential resolution, sandbox invocation, and stdout decoding for
// a single named tool call.
package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.yaml.in/yaml/v3"

	"github.com/mcpkit/mcpkit/internal/credentials"
)

// CredentialRequirement is one credential a tool manifest declares it needs.
// Type mirrors credentials.CredentialKind; it is kept as a separate string
// field here so the YAML schema matches spec wording exactly ("type", not
// "kind").
type CredentialRequirement struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	EnvVar      string `yaml:"env_var,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// ToEnvVarName returns the environment variable name this requirement
// resolves to: the declared override, or UPPERCASE(name) with "-" replaced
// by "_".
func (c CredentialRequirement) ToEnvVarName() string {
	return credentials.EnvVarName(c.Name, c.EnvVar)
}

// Requirement converts this manifest-level declaration into the
// credentials package's broker-facing Requirement.
func (c CredentialRequirement) Requirement() credentials.Requirement {
	return credentials.Requirement{
		Name:     c.Name,
		Kind:     credentials.CredentialKind(c.Type),
		Required: c.Required,
		EnvVar:   c.EnvVar,
	}
}

// ToolManifest is a single tool's declaration: where its WASM module lives,
// what credentials and resources it needs, and its I/O schema.
type ToolManifest struct {
	Name           string                  `yaml:"name"`
	Version        string                  `yaml:"version"`
	Description    string                  `yaml:"description,omitempty"`
	WasmModulePath string                  `yaml:"wasm_module_path"`
	Credentials    []CredentialRequirement `yaml:"credentials,omitempty"`
	InputSchema    map[string]any          `yaml:"input_schema"`
	OutputSchema   map[string]any          `yaml:"output_schema,omitempty"`
	TimeoutSeconds uint64                  `yaml:"timeout_seconds"`
	MaxMemoryBytes uint64                  `yaml:"max_memory_bytes"`
	MaxFuel        *uint64                 `yaml:"max_fuel,omitempty"`
	EnvVars        []string                `yaml:"env_vars,omitempty"`
}

// CredentialRequirements converts every declared credential into the
// broker-facing type, in manifest order.
func (m *ToolManifest) CredentialRequirements() []credentials.Requirement {
	reqs := make([]credentials.Requirement, 0, len(m.Credentials))
	for _, c := range m.Credentials {
		reqs = append(reqs, c.Requirement())
	}
	return reqs
}

// ValidationError describes a manifest validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidateManifest checks a manifest for required fields and internally
// consistent values.
func ValidateManifest(m *ToolManifest) []ValidationError {
	var errs []ValidationError

	if m.Name == "" {
		errs = append(errs, ValidationError{"name", "required"})
	} else if !toolNamePattern.MatchString(m.Name) {
		errs = append(errs, ValidationError{"name", "must start with a letter and contain only letters, digits, '-', '_'"})
	}

	if m.WasmModulePath == "" {
		errs = append(errs, ValidationError{"wasm_module_path", "required"})
	}

	if m.TimeoutSeconds == 0 {
		errs = append(errs, ValidationError{"timeout_seconds", "required and must be > 0"})
	}

	if m.MaxMemoryBytes == 0 {
		errs = append(errs, ValidationError{"max_memory_bytes", "required and must be > 0"})
	}

	for i, c := range m.Credentials {
		if c.Name == "" {
			errs = append(errs, ValidationError{fmt.Sprintf("credentials[%d].name", i), "required"})
		}
		if !credentials.ValidCredentialKind(c.Type) {
			errs = append(errs, ValidationError{fmt.Sprintf("credentials[%d].type", i), fmt.Sprintf("invalid credential type %q", c.Type)})
		}
	}

	return errs
}

// LoadManifest reads and parses a tool manifest YAML file.
func LoadManifest(path string) (*ToolManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest parses tool manifest YAML bytes.
func ParseManifest(data []byte) (*ToolManifest, error) {
	var m ToolManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing tool manifest: %w", err)
	}
	return &m, nil
}

// DiscoverManifests walks a directory of "<name>.yaml" files and returns
// every manifest that parses successfully, skipping entries that don't.
func DiscoverManifests(dir string) ([]*ToolManifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading tool manifest directory %s: %w", dir, err)
	}

	var manifests []*ToolManifest
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		m, err := LoadManifest(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}

	return manifests, nil
}
