// Package bundle implements OCI-distributed WASM tool bundles: content
// addressing, registry push/pull, and the local on-disk cache.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sentinel errors, per the taxonomy in spec.md section 7. Always wrapped
// with fmt.Errorf("...: %w", ...) at the call site so errors.Is still
// resolves.
var (
	ErrBadUri         = errors.New("bundle: invalid oci uri")
	ErrDigestMismatch = errors.New("bundle: digest mismatch")
	ErrNotFound       = errors.New("bundle: not found")
	ErrAuthRequired   = errors.New("bundle: authentication required")
	ErrRegistry       = errors.New("bundle: registry error")
	ErrCacheCorrupted = errors.New("bundle: cache corrupted")
)

// RegistryError carries the HTTP status and body text of a failed registry
// interaction.
type RegistryError struct {
	Status  int
	Message string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("bundle: registry error: %d - %s", e.Status, e.Message)
}

func (e *RegistryError) Unwrap() error { return ErrRegistry }

// DigestMismatchError reports the expected and computed digests of a blob
// that failed verification.
type DigestMismatchError struct {
	Expected string
	Computed string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("bundle: digest mismatch - expected: %s, computed: %s", e.Expected, e.Computed)
}

func (e *DigestMismatchError) Unwrap() error { return ErrDigestMismatch }

// Metadata describes a bundle's provenance, per spec.md's five metadata.json
// fields.
type Metadata struct {
	Registry     string    `json:"registry"`
	Version      string    `json:"version"`
	WasmDigest   string    `json:"wasm_digest"`
	ConfigDigest string    `json:"config_digest"`
	PulledAt     time.Time `json:"pulled_at"`
}

// Bundle is the atomic distribution unit: one WASM module plus its YAML
// configuration, addressed by the SHA-256 digest of each blob.
type Bundle struct {
	Wasm     []byte
	Config   []byte
	Metadata Metadata
}

// New builds a bundle from freshly produced bytes, computing both digests
// and stamping PulledAt with now.
func New(wasm, config []byte, registry, version string, now time.Time) *Bundle {
	return &Bundle{
		Wasm:   wasm,
		Config: config,
		Metadata: Metadata{
			Registry:     registry,
			Version:      version,
			WasmDigest:   ComputeDigest(wasm),
			ConfigDigest: ComputeDigest(config),
			PulledAt:     now,
		},
	}
}

// ComputeDigest returns the sha256:<hex> digest of content.
func ComputeDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// VerifyDigest reports a DigestMismatchError if content doesn't hash to
// expected.
func VerifyDigest(content []byte, expected string) error {
	computed := ComputeDigest(content)
	if computed != expected {
		return &DigestMismatchError{Expected: expected, Computed: computed}
	}
	return nil
}

// Verify recomputes both digests and fails if either has drifted from the
// stored metadata.
func (b *Bundle) Verify() error {
	if err := VerifyDigest(b.Wasm, b.Metadata.WasmDigest); err != nil {
		return err
	}
	return VerifyDigest(b.Config, b.Metadata.ConfigDigest)
}

const (
	wasmFileName     = "module.wasm"
	configFileName   = "config.yaml"
	metadataFileName = "metadata.json"
)

// SaveToDirectory writes the bundle's three files into dir, creating it if
// necessary.
func (b *Bundle) SaveToDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bundle: creating %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, wasmFileName), b.Wasm, 0o644); err != nil {
		return fmt.Errorf("bundle: writing module.wasm: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFileName), b.Config, 0o644); err != nil {
		return fmt.Errorf("bundle: writing config.yaml: %w", err)
	}
	metaJSON, err := json.MarshalIndent(b.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("bundle: marshalling metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFileName), metaJSON, 0o644); err != nil {
		return fmt.Errorf("bundle: writing metadata.json: %w", err)
	}
	return nil
}

// LoadFromDirectory reads a bundle back from a cache directory written by
// SaveToDirectory. Missing metadata.json is tolerated by recomputing digests
// for loads that predate a metadata write (e.g. an interrupted put), but the
// registry and version fields are then empty.
func LoadFromDirectory(dir string) (*Bundle, error) {
	wasmPath := filepath.Join(dir, wasmFileName)
	configPath := filepath.Join(dir, configFileName)

	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, dir, err)
	}
	config, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, dir, err)
	}

	metaPath := filepath.Join(dir, metadataFileName)
	var meta Metadata
	if raw, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupted, dir, err)
		}
	} else {
		meta = Metadata{
			WasmDigest:   ComputeDigest(wasm),
			ConfigDigest: ComputeDigest(config),
			PulledAt:     time.Now(),
		}
	}

	return &Bundle{Wasm: wasm, Config: config, Metadata: meta}, nil
}

// ParseURI splits an "oci://registry/repository[:tag|@digest]" reference
// into its registry, repository, and optional tag components.
func ParseURI(uri string) (registry, repository, tag string, err error) {
	const prefix = "oci://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", "", fmt.Errorf("%w: must start with %q: %s", ErrBadUri, prefix, uri)
	}
	rest := uri[len(prefix):]

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("%w: %s", ErrBadUri, uri)
	}
	registry = parts[0]
	pathAndTag := parts[1]

	if at := strings.LastIndex(pathAndTag, "@"); at != -1 {
		return registry, pathAndTag[:at], pathAndTag[at+1:], nil
	}
	if colon := strings.LastIndex(pathAndTag, ":"); colon != -1 {
		return registry, pathAndTag[:colon], pathAndTag[colon+1:], nil
	}
	return registry, pathAndTag, "", nil
}
