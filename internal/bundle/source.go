package bundle

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OCISource resolves "oci://..." wasm_module_path values by pulling the
// referenced bundle (through Client's cache, when set) and handing back its
// WASM bytes. It satisfies the same Load shape as executor.LocalFileSource
// so the executor never branches on URI scheme.
type OCISource struct {
	Client *Client
	Auth   *RegistryAuth
	Now    func() time.Time
}

// Load pulls the bundle at uri and returns its WASM bytes and digest.
func (s OCISource) Load(ctx context.Context, uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, "oci://") {
		return nil, "", fmt.Errorf("bundle: not an oci uri: %s", uri)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	b, err := s.Client.Pull(ctx, uri, s.Auth, now())
	if err != nil {
		return nil, "", err
	}
	return b.Wasm, b.Metadata.WasmDigest, nil
}

// DispatchSource routes by URI scheme between a local filesystem source and
// an OCI source, so a single WasmSource value can serve a registry that
// mixes local dev paths and published bundles.
type DispatchSource struct {
	Local WasmSourceFunc
	OCI   WasmSourceFunc
}

// WasmSourceFunc adapts a plain function to the Load method shape.
type WasmSourceFunc func(ctx context.Context, path string) ([]byte, string, error)

// Load dispatches to OCI when path has the oci:// scheme, local otherwise.
func (d DispatchSource) Load(ctx context.Context, path string) ([]byte, string, error) {
	if strings.HasPrefix(path, "oci://") {
		return d.OCI(ctx, path)
	}
	return d.Local(ctx, path)
}
