package sandbox

import (
	"testing"

	"github.com/mcpkit/mcpkit/internal/policy"
)

func TestBuildPreopensEmptyWithoutRules(t *testing.T) {
	if got := BuildPreopens(nil); got != nil {
		t.Fatalf("BuildPreopens(nil) = %v, want nil", got)
	}
}

func TestBuildPreopensMergesDescendants(t *testing.T) {
	rules := []policy.StorageRule{
		{URI: "fs:///data/**", Access: []string{"read"}},
		{URI: "fs:///data/sub/**", Access: []string{"write"}},
	}
	preopens := BuildPreopens(rules)
	if len(preopens) != 1 {
		t.Fatalf("got %d preopens, want 1 merged entry: %+v", len(preopens), preopens)
	}
	p := preopens[0]
	if p.HostPath != "/data" || !p.Read || !p.Write {
		t.Fatalf("unexpected merged preopen: %+v", p)
	}
}

func TestBuildPreopensKeepsDisjointRoots(t *testing.T) {
	rules := []policy.StorageRule{
		{URI: "fs:///data/**", Access: []string{"read"}},
		{URI: "fs:///etc/app/**", Access: []string{"read", "write"}},
	}
	preopens := BuildPreopens(rules)
	if len(preopens) != 2 {
		t.Fatalf("got %d preopens, want 2: %+v", len(preopens), preopens)
	}
}
