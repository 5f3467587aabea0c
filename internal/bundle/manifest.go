package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest is the TOML sidecar describing a bundle's publishing metadata,
// the MCP server it wraps, and its runtime requirements -- distinct from
// the executor's ToolManifest, which describes one tool's invocation
// contract. A bundle may carry several tools; this file is per-bundle.
type Manifest struct {
	Metadata     ManifestMetadata `toml:"metadata"`
	Server       ServerConfig     `toml:"server"`
	Runtime      RuntimeRequirements `toml:"runtime"`
	Bundle       Contents         `toml:"bundle"`
	Dependencies Dependencies     `toml:"dependencies"`
}

// ManifestMetadata describes a bundle's publishing provenance.
type ManifestMetadata struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
	Author      string `toml:"author"`
	License     string `toml:"license"`
	CreatedAt   string `toml:"created_at"`
	BundleHash  string `toml:"bundle_hash,omitempty"`
}

// ServerConfig describes the MCP server the bundle implements.
type ServerConfig struct {
	ProtocolVersion string       `toml:"protocol_version"`
	Transport       string       `toml:"transport"`
	Capabilities    []string     `toml:"capabilities,omitempty"`
	Tools           []ToolInfo   `toml:"tools,omitempty"`
}

// ToolInfo is a brief description of one MCP tool exposed by the bundle.
type ToolInfo struct {
	Name              string   `toml:"name"`
	Description       string   `toml:"description"`
	RequiredFeatures  []string `toml:"required_features,omitempty"`
}

// RuntimeRequirements describes the WASM runtime the bundle targets.
type RuntimeRequirements struct {
	Target           string    `toml:"target"`
	WasiVersion      string    `toml:"wasi_version"`
	RequiredFeatures []string  `toml:"required_features,omitempty"`
	Environment      []EnvSpec `toml:"environment,omitempty"`
}

// EnvSpec documents an environment variable the bundle's runtime expects.
type EnvSpec struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Required    bool   `toml:"required,omitempty"`
	Default     string `toml:"default,omitempty"`
}

// Contents names the bundle's files, relative to the manifest's directory.
type Contents struct {
	Binary string   `toml:"binary"`
	Files  []string `toml:"files,omitempty"`
	Size   uint64   `toml:"size,omitempty"`
}

// Dependencies lists services and OAuth providers the bundle relies on.
type Dependencies struct {
	Services       []ServiceDependency `toml:"services,omitempty"`
	OAuthProviders []string            `toml:"oauth_providers,omitempty"`
}

// ServiceDependency is one external service the bundle requires.
type ServiceDependency struct {
	Name               string `toml:"name"`
	Type               string `toml:"type"`
	Version            string `toml:"version,omitempty"`
	ConnectionTemplate string `toml:"connection_template,omitempty"`
}

// LoadManifest reads and parses a TOML bundle manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading manifest %s: %w", path, err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes TOML bytes into a Manifest.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(raw), &m); err != nil {
		return nil, fmt.Errorf("bundle: parsing TOML manifest: %w", err)
	}
	return &m, nil
}

// Save writes m to path as TOML.
func (m *Manifest) Save(path string) error {
	content, err := m.ToTOML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("bundle: writing manifest %s: %w", path, err)
	}
	return nil
}

// ToTOML serializes m.
func (m *Manifest) ToTOML() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return "", fmt.Errorf("bundle: serializing manifest to TOML: %w", err)
	}
	return buf.String(), nil
}

// Hash hashes the bundle's binary plus any additional files plus the
// manifest content itself (with bundle_hash cleared), matching the
// original implementation's content-addressing scheme.
func (m *Manifest) Hash(bundleDir string) (string, error) {
	h := sha256.New()

	binaryPath := filepath.Join(bundleDir, m.Bundle.Binary)
	if content, err := os.ReadFile(binaryPath); err == nil {
		h.Write(content)
	}

	for _, f := range m.Bundle.Files {
		filePath := filepath.Join(bundleDir, f)
		content, err := os.ReadFile(filePath)
		if err != nil {
			continue
		}
		h.Write(content)
	}

	withoutHash := *m
	withoutHash.Metadata.BundleHash = ""
	asTOML, err := withoutHash.ToTOML()
	if err != nil {
		return "", err
	}
	h.Write([]byte(asTOML))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the manifest's recorded bundle_hash still matches
// the directory's current contents. A manifest with no recorded hash always
// verifies.
func (m *Manifest) Verify(bundleDir string) (bool, error) {
	if m.Metadata.BundleHash == "" {
		return true, nil
	}
	computed, err := m.Hash(bundleDir)
	if err != nil {
		return false, err
	}
	return computed == m.Metadata.BundleHash, nil
}
