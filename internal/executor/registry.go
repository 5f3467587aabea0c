package executor

import (
	"fmt"
	"sort"
	"sync"
)

// ToolSummary is the externally-visible shape of list_tools(): enough to
// describe a tool without exposing its manifest's execution internals.
type ToolSummary struct {
	Name         string
	Description  string
	InputSchema  map[string]any
	OutputSchema map[string]any
}

// Registry holds the set of tool manifests the executor can invoke,
// keyed by name.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]*ToolManifest
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{manifests: make(map[string]*ToolManifest)}
}

// NewRegistryFromDir discovers and registers every valid manifest found in
// dir, skipping (and returning as a combined error) any that fail
// validation.
func NewRegistryFromDir(dir string) (*Registry, error) {
	manifests, err := DiscoverManifests(dir)
	if err != nil {
		return nil, err
	}

	r := NewRegistry()
	var invalid []string
	for _, m := range manifests {
		if errs := ValidateManifest(m); len(errs) > 0 {
			invalid = append(invalid, fmt.Sprintf("%s: %v", m.Name, errs))
			continue
		}
		r.Register(m)
	}

	if len(invalid) > 0 {
		return r, fmt.Errorf("skipped %d invalid manifest(s): %v", len(invalid), invalid)
	}
	return r, nil
}

// Register adds or replaces a manifest in the registry.
func (r *Registry) Register(m *ToolManifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.Name] = m
}

// Lookup returns the manifest for name, if registered.
func (r *Registry) Lookup(name string) (*ToolManifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[name]
	return m, ok
}

// HasTool reports whether name is registered.
func (r *Registry) HasTool(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// ListTools returns a summary of every registered tool, sorted by name.
func (r *Registry) ListTools() []ToolSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]ToolSummary, 0, len(r.manifests))
	for _, m := range r.manifests {
		summaries = append(summaries, ToolSummary{
			Name:         m.Name,
			Description:  m.Description,
			InputSchema:  m.InputSchema,
			OutputSchema: m.OutputSchema,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}
