package bundle

import (
	"context"
	"testing"
)

func TestDispatchSourceRoutesByScheme(t *testing.T) {
	var localCalled, ociCalled bool
	d := DispatchSource{
		Local: func(ctx context.Context, path string) ([]byte, string, error) {
			localCalled = true
			return []byte("local"), "sha256:local", nil
		},
		OCI: func(ctx context.Context, path string) ([]byte, string, error) {
			ociCalled = true
			return []byte("oci"), "sha256:oci", nil
		},
	}

	if _, _, err := d.Load(context.Background(), "./modules/tool.wasm"); err != nil {
		t.Fatalf("Load (local): %v", err)
	}
	if !localCalled || ociCalled {
		t.Error("expected Load to route a plain path to Local")
	}

	localCalled, ociCalled = false, false
	if _, _, err := d.Load(context.Background(), "oci://ghcr.io/org/tool:v1"); err != nil {
		t.Fatalf("Load (oci): %v", err)
	}
	if ociCalled == false || localCalled {
		t.Error("expected Load to route an oci:// path to OCI")
	}
}

func TestOCISourceRejectsNonOCIUri(t *testing.T) {
	s := OCISource{Client: NewClient(nil)}
	_, _, err := s.Load(context.Background(), "./local/path.wasm")
	if err == nil {
		t.Fatal("expected error for a non-oci:// path")
	}
}
