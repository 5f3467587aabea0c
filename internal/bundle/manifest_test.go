package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseManifestTOML(t *testing.T) {
	raw := []byte(`
[metadata]
name = "example-bundle"
version = "1.0.0"
description = "An example bundle"
author = "mcpkit"
license = "MIT"
created_at = "2026-01-01T00:00:00Z"

[server]
protocol_version = "2024-11-05"
transport = "stdio"
capabilities = ["tools"]

[[server.tools]]
name = "fetch-url"
description = "fetches a URL"

[runtime]
target = "wasmtime"
wasi_version = "wasip2"

[bundle]
binary = "tool.wasm"
files = ["config.yaml"]
`)

	m, err := ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Metadata.Name != "example-bundle" {
		t.Errorf("Metadata.Name = %q", m.Metadata.Name)
	}
	if m.Server.Transport != "stdio" {
		t.Errorf("Server.Transport = %q", m.Server.Transport)
	}
	if len(m.Server.Tools) != 1 || m.Server.Tools[0].Name != "fetch-url" {
		t.Errorf("Server.Tools = %+v", m.Server.Tools)
	}
	if m.Bundle.Binary != "tool.wasm" {
		t.Errorf("Bundle.Binary = %q", m.Bundle.Binary)
	}
}

func TestManifestHashAndVerify(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tool.wasm"), []byte{0x00, 0x61, 0x73, 0x6d}, 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manifest{
		Metadata: ManifestMetadata{Name: "example-bundle", Version: "1.0.0"},
		Bundle:   Contents{Binary: "tool.wasm"},
	}

	hash, err := m.Hash(dir)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" {
		t.Fatal("Hash returned empty string")
	}

	m.Metadata.BundleHash = hash
	ok, err := m.Verify(dir)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("Verify should succeed against the hash it just computed")
	}

	if err := os.WriteFile(filepath.Join(dir, "tool.wasm"), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err = m.Verify(dir)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("Verify should fail after the binary changes")
	}
}

func TestManifestVerifyWithNoHashAlwaysPasses(t *testing.T) {
	m := &Manifest{Bundle: Contents{Binary: "tool.wasm"}}
	ok, err := m.Verify(t.TempDir())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("manifest with no recorded hash should always verify")
	}
}

func TestManifestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.toml")

	m := &Manifest{
		Metadata: ManifestMetadata{Name: "roundtrip", Version: "0.1.0", Author: "mcpkit"},
		Server:   ServerConfig{ProtocolVersion: "2024-11-05", Transport: "stdio"},
		Runtime:  RuntimeRequirements{Target: "wasmtime", WasiVersion: "wasip2"},
		Bundle:   Contents{Binary: "tool.wasm"},
	}
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if loaded.Metadata.Name != "roundtrip" || loaded.Server.Transport != "stdio" {
		t.Errorf("loaded manifest = %+v", loaded)
	}
}
