package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// WasmSource resolves a manifest's wasm_module_path into the module's bytes
// and a stable digest used to key the runtime's compiled-module cache.
// LocalFileSource is the default; the OCI bundle client implements the same
// shape for "oci://" paths so the executor never branches on URI scheme
// itself.
type WasmSource interface {
	Load(ctx context.Context, path string) (wasmBytes []byte, digest string, err error)
}

// LocalFileSource reads wasm_module_path as a path on the local filesystem.
type LocalFileSource struct{}

func (LocalFileSource) Load(_ context.Context, path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading wasm module %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return data, "sha256:" + hex.EncodeToString(sum[:]), nil
}
