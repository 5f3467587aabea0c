// Package policy compiles declarative YAML/JSON authorization documents into
// CompiledPolicy values optimized for O(1)-ish hot-path permission queries,
// and enforces the result during tool execution.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/gobwas/glob"
)

// Sentinel errors for the Configuration error class (spec.md §7).
var (
	ErrInvalidPolicy = errors.New("invalid policy")
	ErrGlobCompile   = errors.New("glob compile failed")
)

// CapabilityFlags summarizes which permission domains carry any allow-rule,
// letting callers make cheap cross-cutting decisions without walking the
// full rule set.
type CapabilityFlags struct {
	CanAccessStorage     bool
	CanAccessNetwork     bool
	CanAccessEnvironment bool
	CanAccessTools       bool
}

// ResourceCeilings holds the numeric, unit-resolved resource limits.
type ResourceCeilings struct {
	MillicoresCPU uint64
	MemoryBytes   uint64
	TimeMS        uint64
	Fuel          uint64
}

// globSet is a compiled collection of glob patterns supporting aggregate
// match. gobwas/glob has no native set type, so this wraps a slice of
// compiled globs — sub-linear aggregate match is out of scope for the
// pattern counts this domain sees (tens, not thousands).
type globSet struct {
	patterns []glob.Glob
	sources  []string
}

func newGlobSet() *globSet { return &globSet{} }

func (g *globSet) add(pattern string, sep ...rune) error {
	compiled, err := glob.Compile(pattern, sep...)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrGlobCompile, pattern, err)
	}
	g.patterns = append(g.patterns, compiled)
	g.sources = append(g.sources, pattern)
	return nil
}

func (g *globSet) match(s string) bool {
	for _, p := range g.patterns {
		if p.Match(s) {
			return true
		}
	}
	return false
}

// matchSource returns the first source pattern string that matches s, and
// whether any did.
func (g *globSet) matchSource(s string) (string, bool) {
	for i, p := range g.patterns {
		if p.Match(s) {
			return g.sources[i], true
		}
	}
	return "", false
}

// CompiledPolicy is the immutable, hot-path-optimized form of a Policy.
// It is safe for concurrent use by multiple goroutines: every field except
// the exported Extension is populated once during Compile and never mutated
// afterward; Extension is assigned by the caller after Compile returns.
type CompiledPolicy struct {
	version string

	networkWhitelist map[string]struct{}
	networkBlacklist map[string]struct{}
	networkAllowGlob *globSet
	networkDenyGlob  *globSet
	networkBloom     *bloom.BloomFilter

	storageAllowGlob *globSet
	storageDenyGlob  *globSet
	storageAccess    map[string]map[string]struct{} // pattern -> access modes
	storageTrie      *pathTrie

	envWhitelist map[string]struct{}
	envBlacklist map[string]struct{}

	toolWhitelist map[string]struct{}
	toolBlacklist map[string]struct{}
	toolAllowGlob *globSet

	Capabilities CapabilityFlags
	Resources    ResourceCeilings

	// Extension is consulted for extension domains the compiled fast path
	// doesn't special-case (any policy.extensions key other than "tools").
	// Nil means no extension is wired; the fast path is the sole authority.
	Extension Extension

	extensions map[string]any

	mu sync.Mutex // guards nothing hot-path; reserved for future stats
}

// Version reports the policy's declared version string.
func (c *CompiledPolicy) Version() string { return c.version }

// Compile transforms a Policy document into a CompiledPolicy. It is a pure
// function: no I/O, no mutation of the input. Invalid glob patterns are the
// only fatal error; empty rule collections are legal and equivalent to
// deny-all in that domain.
func Compile(p *Policy) (*CompiledPolicy, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil policy", ErrInvalidPolicy)
	}
	if errs := ValidatePolicy(p); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, strings.Join(msgs, "; "))
	}

	cp := &CompiledPolicy{
		version:          p.Version,
		networkWhitelist: make(map[string]struct{}),
		networkBlacklist: make(map[string]struct{}),
		networkAllowGlob: newGlobSet(),
		networkDenyGlob:  newGlobSet(),
		networkBloom:     bloom.NewWithEstimates(1000, 0.01),
		storageAllowGlob: newGlobSet(),
		storageDenyGlob:  newGlobSet(),
		storageAccess:    make(map[string]map[string]struct{}),
		storageTrie:      newPathTrie(),
		envWhitelist:     make(map[string]struct{}),
		envBlacklist:     make(map[string]struct{}),
		toolWhitelist:    make(map[string]struct{}),
		toolBlacklist:    make(map[string]struct{}),
		toolAllowGlob:    newGlobSet(),
		extensions:       p.Extensions,
	}

	if err := cp.compileNetwork(p.Core.Network); err != nil {
		return nil, err
	}
	if err := cp.compileStorage(p.Core.Storage); err != nil {
		return nil, err
	}
	cp.compileEnvironment(p.Core.Environment)
	if err := cp.compileTools(p.Extensions); err != nil {
		return nil, err
	}
	cp.compileResources(p.Core.Resources)

	cp.Capabilities = CapabilityFlags{
		CanAccessStorage:     len(cp.storageAccess) > 0,
		CanAccessNetwork:     len(cp.networkWhitelist) > 0 || len(cp.networkAllowGlob.patterns) > 0,
		CanAccessEnvironment: len(cp.envWhitelist) > 0,
		CanAccessTools:       len(cp.toolWhitelist) > 0 || len(cp.toolAllowGlob.patterns) > 0,
	}

	return cp, nil
}

func (c *CompiledPolicy) compileNetwork(n *NetworkPolicy) error {
	if n == nil {
		return nil
	}
	for _, rule := range n.Deny {
		if strings.ContainsAny(rule.Host, "*?") {
			if err := c.networkDenyGlob.add(rule.Host); err != nil {
				return err
			}
		} else {
			c.networkBlacklist[rule.Host] = struct{}{}
		}
	}
	for _, rule := range n.Allow {
		if strings.ContainsAny(rule.Host, "*?") {
			if err := c.networkAllowGlob.add(rule.Host); err != nil {
				return err
			}
		} else {
			c.networkWhitelist[rule.Host] = struct{}{}
			c.networkBloom.AddString(rule.Host)
		}
	}
	return nil
}

func (c *CompiledPolicy) compileStorage(s *StoragePolicy) error {
	if s == nil {
		return nil
	}
	for _, rule := range s.Deny {
		pattern := strings.TrimPrefix(rule.URI, "fs://")
		if err := c.storageDenyGlob.add(pattern, '/'); err != nil {
			return err
		}
		c.storageTrie.insert(pattern, false, true)
	}
	for _, rule := range s.Allow {
		pattern := strings.TrimPrefix(rule.URI, "fs://")
		if err := c.storageAllowGlob.add(pattern, '/'); err != nil {
			return err
		}
		modes := c.storageAccess[pattern]
		if modes == nil {
			modes = make(map[string]struct{})
			c.storageAccess[pattern] = modes
		}
		for _, m := range rule.Access {
			modes[m] = struct{}{}
		}
		c.storageTrie.insert(pattern, true, false)
	}
	return nil
}

func (c *CompiledPolicy) compileEnvironment(e *EnvironmentPolicy) {
	if e == nil {
		return
	}
	for _, rule := range e.Deny {
		c.envBlacklist[rule.Key] = struct{}{}
	}
	for _, rule := range e.Allow {
		c.envWhitelist[rule.Key] = struct{}{}
	}
}

// compileTools parses the "tools" extension shorthand — either a bare
// sequence (treated as an allow list) or an {allow[], deny[]} object — and
// the nested extensions.mcp.tools form. Both feed the same tool allow/deny
// sets, matching compiled.rs's "both consulted, not either/or" precedence.
func (c *CompiledPolicy) compileTools(extensions map[string]any) error {
	if extensions == nil {
		return nil
	}
	if raw, ok := extensions["tools"]; ok {
		if err := c.mergeToolShorthand(raw); err != nil {
			return fmt.Errorf("extensions.tools: %w", err)
		}
	}
	if mcpRaw, ok := extensions["mcp"]; ok {
		if mcpMap, ok := mcpRaw.(map[string]any); ok {
			if toolsRaw, ok := mcpMap["tools"]; ok {
				if err := c.mergeToolShorthand(toolsRaw); err != nil {
					return fmt.Errorf("extensions.mcp.tools: %w", err)
				}
			}
		}
	}
	return nil
}

func (c *CompiledPolicy) mergeToolShorthand(raw any) error {
	addAllow := func(name string) error {
		if strings.ContainsAny(name, "*?") {
			return c.toolAllowGlob.add(name)
		}
		c.toolWhitelist[name] = struct{}{}
		return nil
	}
	addDeny := func(name string) {
		c.toolBlacklist[name] = struct{}{}
	}

	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			name, _ := item.(string)
			if err := addAllow(name); err != nil {
				return err
			}
		}
	case map[string]any:
		if allowRaw, ok := v["allow"]; ok {
			if list, ok := allowRaw.([]any); ok {
				for _, item := range list {
					name, _ := item.(string)
					if err := addAllow(name); err != nil {
						return err
					}
				}
			}
		}
		if denyRaw, ok := v["deny"]; ok {
			if list, ok := denyRaw.([]any); ok {
				for _, item := range list {
					name, _ := item.(string)
					addDeny(name)
				}
			}
		}
	}
	return nil
}

func (c *CompiledPolicy) compileResources(r *ResourcesPolicy) {
	if r == nil {
		return
	}
	if r.Limits.CPU != "" {
		if v, err := parseCPULimit(r.Limits.CPU); err == nil {
			c.Resources.MillicoresCPU = v
		}
	}
	if r.Limits.Memory != "" {
		if v, err := parseMemoryLimit(r.Limits.Memory); err == nil {
			c.Resources.MemoryBytes = v
		}
	}
	if r.Limits.ExecutionTime != "" {
		if v, err := parseTimeLimit(r.Limits.ExecutionTime); err == nil {
			c.Resources.TimeMS = v
		}
	}
	c.Resources.Fuel = r.Limits.Fuel
}

// IsToolAllowed reports whether the named tool may be invoked.
func (c *CompiledPolicy) IsToolAllowed(name string) bool {
	if _, denied := c.toolBlacklist[name]; denied {
		return false
	}
	if _, allowed := c.toolWhitelist[name]; allowed {
		return true
	}
	return c.toolAllowGlob.match(name)
}

// IsNetworkAllowed reports whether an outbound connection to host is
// permitted. The bloom filter's negative lookup short-circuits the
// whitelist check; a bloom-filter false positive merely costs an extra map
// lookup, it never causes a false allow.
func (c *CompiledPolicy) IsNetworkAllowed(host string) bool {
	if _, denied := c.networkBlacklist[host]; denied {
		return false
	}
	if c.networkDenyGlob.match(host) {
		return false
	}
	if c.networkBloom.TestString(host) {
		if _, allowed := c.networkWhitelist[host]; allowed {
			return true
		}
	}
	return c.networkAllowGlob.match(host)
}

// IsStorageAllowed reports whether op ("read", "write", or "execute") is
// permitted against path. path may carry an "fs://" prefix.
func (c *CompiledPolicy) IsStorageAllowed(path, op string) bool {
	path = strings.TrimPrefix(path, "fs://")

	if c.storageDenyGlob.match(path) {
		return false
	}
	if verdict := c.storageTrie.check(path); verdict != nil && !*verdict {
		return false
	}

	if !c.storageAllowGlob.match(path) {
		return false
	}
	pattern, ok := c.storageAllowGlob.matchSource(path)
	if !ok {
		return false
	}
	modes, ok := c.storageAccess[pattern]
	if !ok {
		return false
	}
	_, allowed := modes[op]
	return allowed
}

// IsEnvAllowed reports whether key may be passed through to the sandbox.
func (c *CompiledPolicy) IsEnvAllowed(key string) bool {
	if _, denied := c.envBlacklist[key]; denied {
		return false
	}
	_, allowed := c.envWhitelist[key]
	return allowed
}

// Extensions exposes the raw extension map for components (such as the OPA
// evaluator in extension.go) that need to evaluate domains the compiled
// fast-path does not special-case.
func (c *CompiledPolicy) Extensions() map[string]any {
	return c.extensions
}

// hasNonToolExtensionDomain reports whether policy.extensions declares
// anything beyond the "tools" shorthand, which compileTools already folds
// into toolWhitelist/toolBlacklist/toolAllowGlob.
func (c *CompiledPolicy) hasNonToolExtensionDomain() bool {
	for k := range c.extensions {
		if k != "tools" {
			return true
		}
	}
	return false
}

// EvaluateExtension consults the attached Extension for a tool invocation
// the native fast path (IsToolAllowed) denied or has no opinion on, but only
// when the policy document actually declares an extension domain beyond the
// "tools" shorthand and an Extension has been wired via the Extension field.
// Returns false, nil when there is nothing to consult, so callers can treat
// a (false, nil) result as "defer to the fast path's verdict."
func (c *CompiledPolicy) EvaluateExtension(ctx context.Context, toolName string) (bool, error) {
	if c.Extension == nil || !c.hasNonToolExtensionDomain() {
		return false, nil
	}

	result, err := c.Extension.Evaluate(ctx, PolicyInput{
		Action:    "tool.invoke",
		Target:    toolName,
		Timestamp: time.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluating extension %q: %w", c.Extension.Name(), err)
	}
	return result.Allowed, nil
}
