package policy

import "testing"

func TestIsStorageAllowed(t *testing.T) {
	p := &Policy{
		Version: "1.0",
		Core: CorePolicy{
			Storage: &StoragePolicy{
				Allow: []StorageRule{
					{URI: "fs:///tmp/**", Access: []string{"read", "write"}},
				},
			},
		},
	}
	cp, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	cases := []struct {
		path string
		op   string
		want bool
	}{
		{"/tmp/a/b.txt", "read", true},
		{"/tmp/a/b.txt", "execute", false},
		{"/etc/passwd", "read", false},
	}
	for _, c := range cases {
		if got := cp.IsStorageAllowed(c.path, c.op); got != c.want {
			t.Errorf("IsStorageAllowed(%q, %q) = %v, want %v", c.path, c.op, got, c.want)
		}
	}
}

func TestIsToolAllowedShorthand(t *testing.T) {
	p := &Policy{
		Version: "1.0",
		Extensions: map[string]any{
			"tools": map[string]any{
				"allow": []any{"fetch_todos", "search_*"},
				"deny":  []any{"search_todos"},
			},
		},
	}
	cp, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	cases := map[string]bool{
		"fetch_todos":  true,
		"search_items": true,
		"search_todos": false,
		"unknown":      false,
	}
	for name, want := range cases {
		if got := cp.IsToolAllowed(name); got != want {
			t.Errorf("IsToolAllowed(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNetworkDenyDominatesAllow(t *testing.T) {
	p := &Policy{
		Version: "1.0",
		Core: CorePolicy{
			Network: &NetworkPolicy{
				Allow: []NetworkRule{{Host: "example.com"}},
				Deny:  []NetworkRule{{Host: "example.com"}},
			},
		},
	}
	cp, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if cp.IsNetworkAllowed("example.com") {
		t.Fatal("expected deny to dominate allow")
	}
}

func TestParseUnits(t *testing.T) {
	if v, err := parseMemoryLimit("512Mi"); err != nil || v != 512*1024*1024 {
		t.Fatalf("parseMemoryLimit(512Mi) = %d, %v", v, err)
	}
	if v, err := parseCPULimit("500m"); err != nil || v != 500 {
		t.Fatalf("parseCPULimit(500m) = %d, %v", v, err)
	}
	if v, err := parseTimeLimit("30s"); err != nil || v != 30000 {
		t.Fatalf("parseTimeLimit(30s) = %d, %v", v, err)
	}
}

func TestInvalidVersionRejected(t *testing.T) {
	p := &Policy{Version: "2.0"}
	if _, err := Compile(p); err == nil {
		t.Fatal("expected error for out-of-range version")
	}
}
