package sandbox

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/mcpkit/mcpkit/internal/policy"
)

// Preopen is one resolved (host_path, guest_path, perms) WASI preopen
// derived from a compiled policy's storage rules.
type Preopen struct {
	HostPath  string
	GuestPath string
	Read      bool
	Write     bool
	Execute   bool
}

// readOnly reports whether this preopen should be mounted without write
// access.
func (p Preopen) readOnly() bool { return !p.Write }

// BuildPreopens translates a compiled policy's storage allow-rules into the
// minimal set of directory preopens a sandboxed module should see. Rules
// whose prefix directory is a descendant of another surviving prefix are
// merged into the ancestor, and the merged access modes are unioned.
//
// If rules is empty the returned set is empty: the module sees no
// filesystem.
func BuildPreopens(rules []policy.StorageRule) []Preopen {
	if len(rules) == 0 {
		return nil
	}

	type accum = struct {
		read, write, execute bool
	}
	byPrefix := make(map[string]*accum)

	for _, r := range rules {
		prefix := globFreePrefix(strings.TrimPrefix(r.URI, "fs://"))
		a, ok := byPrefix[prefix]
		if !ok {
			a = &accum{}
			byPrefix[prefix] = a
		}
		for _, mode := range r.Access {
			switch mode {
			case "read":
				a.read = true
			case "write":
				a.write = true
			case "execute":
				a.execute = true
			}
		}
	}

	prefixes := make([]string, 0, len(byPrefix))
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	merged := make(map[string]*accum)
	var roots []string
	for _, p := range prefixes {
		absorbed := false
		for _, root := range roots {
			if isDescendant(p, root) {
				a := merged[root]
				union(a, byPrefix[p])
				absorbed = true
				break
			}
		}
		if !absorbed {
			roots = append(roots, p)
			merged[p] = byPrefix[p]
		}
	}

	preopens := make([]Preopen, 0, len(roots))
	for _, root := range roots {
		a := merged[root]
		preopens = append(preopens, Preopen{
			HostPath:  root,
			GuestPath: root,
			Read:      a.read,
			Write:     a.write,
			Execute:   a.execute,
		})
	}
	sort.Slice(preopens, func(i, j int) bool { return preopens[i].HostPath < preopens[j].HostPath })
	return preopens
}

func union(dst, src *struct{ read, write, execute bool }) {
	dst.read = dst.read || src.read
	dst.write = dst.write || src.write
	dst.execute = dst.execute || src.execute
}

func isDescendant(path, root string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

// globFreePrefix returns the longest prefix of uri that contains no glob
// metacharacters, trimmed to its containing directory.
func globFreePrefix(uri string) string {
	idx := strings.IndexAny(uri, "*?[{")
	if idx == -1 {
		return uri
	}
	prefix := uri[:idx]
	return filepath.Dir(prefix)
}

// ApplyFSConfig attaches preopens to a wazero module configuration,
// mounting read-only directories with wazero's read-only dir mount and
// read-write directories with a full mount.
func ApplyFSConfig(cfg wazero.ModuleConfig, preopens []Preopen) wazero.ModuleConfig {
	if len(preopens) == 0 {
		return cfg
	}
	fsConfig := wazero.NewFSConfig()
	for _, p := range preopens {
		if p.readOnly() {
			fsConfig = fsConfig.WithReadOnlyDirMount(p.HostPath, p.GuestPath)
		} else {
			fsConfig = fsConfig.WithDirMount(p.HostPath, p.GuestPath)
		}
	}
	return cfg.WithFSConfig(fsConfig)
}
