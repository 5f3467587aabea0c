package policy

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// MergeError reports that a child-level policy (team over org, or project
// over team/org) loosened a constraint its parent set. Violations are
// human-readable, one per loosening detected.
type MergeError struct {
	Violations []string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("%d policy loosening violation(s)", len(e.Violations))
}

// MergePolicies combines an org baseline, an optional team policy, and a
// project policy into the effective policy a CompiledPolicy is built from.
// team may be nil. org and project must not be nil.
//
// Each level may only tighten what the level above it allows: an allow rule
// at a more specific level must already be covered by every less specific
// level's allow rules (or that level leaves the domain unrestricted), and a
// resource ceiling must not exceed its parent's. Deny rules are cumulative —
// a deny at any level applies regardless of what a more specific level
// allows. Violations are collected, not short-circuited, so validate can
// report everything wrong with a hierarchy in one pass.
func MergePolicies(org, team, project *Policy) (*Policy, error) {
	levels := []*Policy{org}
	if team != nil {
		levels = append(levels, team)
	}
	levels = append(levels, project)

	var violations []string
	for i := 1; i < len(levels); i++ {
		violations = append(violations, tightenViolations(levels[i-1], levels[i])...)
	}
	if len(violations) > 0 {
		return nil, &MergeError{Violations: violations}
	}

	return buildEffectivePolicy(levels), nil
}

// tightenViolations reports every way child loosens a constraint parent set.
func tightenViolations(parent, child *Policy) []string {
	var out []string

	if parent.Core.Storage != nil && child.Core.Storage != nil {
		out = append(out, checkStorageTighten(parent.Core.Storage, child.Core.Storage)...)
	}
	if parent.Core.Network != nil && child.Core.Network != nil {
		out = append(out, checkNetworkTighten(parent.Core.Network, child.Core.Network)...)
	}
	if parent.Core.Environment != nil && child.Core.Environment != nil {
		out = append(out, checkEnvironmentTighten(parent.Core.Environment, child.Core.Environment)...)
	}
	if parent.Core.Resources != nil && child.Core.Resources != nil {
		out = append(out, checkResourcesTighten(&parent.Core.Resources.Limits, &child.Core.Resources.Limits)...)
	}

	return out
}

func checkStorageTighten(parent, child *StoragePolicy) []string {
	var out []string
	for _, rule := range child.Allow {
		if !storageURIAllowedBy(parent.Allow, rule.URI) {
			out = append(out, fmt.Sprintf("storage allow %q is not covered by the parent policy's storage allow rules", rule.URI))
		}
	}
	return out
}

func storageURIAllowedBy(parentAllow []StorageRule, uri string) bool {
	needle := strings.TrimPrefix(uri, "fs://")
	for _, rule := range parentAllow {
		pattern := strings.TrimPrefix(rule.URI, "fs://")
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			continue
		}
		if g.Match(needle) {
			return true
		}
	}
	return false
}

func checkNetworkTighten(parent, child *NetworkPolicy) []string {
	var out []string
	for _, rule := range child.Allow {
		if !networkHostAllowedBy(parent.Allow, rule.Host) {
			out = append(out, fmt.Sprintf("network allow %q is not covered by the parent policy's network allow rules", rule.Host))
		}
	}
	return out
}

func networkHostAllowedBy(parentAllow []NetworkRule, host string) bool {
	for _, rule := range parentAllow {
		g, err := glob.Compile(rule.Host)
		if err != nil {
			continue
		}
		if g.Match(host) {
			return true
		}
	}
	return false
}

func checkEnvironmentTighten(parent, child *EnvironmentPolicy) []string {
	var out []string
	allowed := make(map[string]bool, len(parent.Allow))
	for _, rule := range parent.Allow {
		allowed[rule.Key] = true
	}
	for _, rule := range child.Allow {
		if !allowed[rule.Key] {
			out = append(out, fmt.Sprintf("environment allow %q is not present in the parent policy's environment allow list", rule.Key))
		}
	}
	return out
}

func checkResourcesTighten(parent, child *ResourceLimits) []string {
	var out []string

	if parent.CPU != "" && child.CPU != "" {
		pv, perr := parseCPULimit(parent.CPU)
		cv, cerr := parseCPULimit(child.CPU)
		if perr == nil && cerr == nil && cv > pv {
			out = append(out, fmt.Sprintf("resources.limits.cpu %q exceeds the parent policy's ceiling %q", child.CPU, parent.CPU))
		}
	}
	if parent.Memory != "" && child.Memory != "" {
		pv, perr := parseMemoryLimit(parent.Memory)
		cv, cerr := parseMemoryLimit(child.Memory)
		if perr == nil && cerr == nil && cv > pv {
			out = append(out, fmt.Sprintf("resources.limits.memory %q exceeds the parent policy's ceiling %q", child.Memory, parent.Memory))
		}
	}
	if parent.ExecutionTime != "" && child.ExecutionTime != "" {
		pv, perr := parseTimeLimit(parent.ExecutionTime)
		cv, cerr := parseTimeLimit(child.ExecutionTime)
		if perr == nil && cerr == nil && cv > pv {
			out = append(out, fmt.Sprintf("resources.limits.execution_time %q exceeds the parent policy's ceiling %q", child.ExecutionTime, parent.ExecutionTime))
		}
	}
	if parent.Fuel != 0 && child.Fuel != 0 && child.Fuel > parent.Fuel {
		out = append(out, fmt.Sprintf("resources.limits.fuel %d exceeds the parent policy's ceiling %d", child.Fuel, parent.Fuel))
	}

	return out
}

// buildEffectivePolicy produces the policy a CompiledPolicy is built from:
// the most specific level's allow rules for each domain (since tightenViolations
// already proved they're covered by every ancestor), with deny rules unioned
// across every level so a parent's deny always applies.
func buildEffectivePolicy(levels []*Policy) *Policy {
	effective := &Policy{Version: levels[len(levels)-1].Version, Core: CorePolicy{}}

	effective.Core.Storage = mostSpecificStorage(levels)
	effective.Core.Network = mostSpecificNetwork(levels)
	effective.Core.Environment = mostSpecificEnvironment(levels)
	effective.Core.Resources = mostSpecificResources(levels)

	return effective
}

func mostSpecificStorage(levels []*Policy) *StoragePolicy {
	var merged *StoragePolicy
	for _, p := range levels {
		if p.Core.Storage == nil {
			continue
		}
		if merged == nil {
			merged = &StoragePolicy{}
		}
		merged.Allow = p.Core.Storage.Allow
		merged.Deny = append(merged.Deny, p.Core.Storage.Deny...)
	}
	return merged
}

func mostSpecificNetwork(levels []*Policy) *NetworkPolicy {
	var merged *NetworkPolicy
	for _, p := range levels {
		if p.Core.Network == nil {
			continue
		}
		if merged == nil {
			merged = &NetworkPolicy{}
		}
		merged.Allow = p.Core.Network.Allow
		merged.Deny = append(merged.Deny, p.Core.Network.Deny...)
	}
	return merged
}

func mostSpecificEnvironment(levels []*Policy) *EnvironmentPolicy {
	var merged *EnvironmentPolicy
	for _, p := range levels {
		if p.Core.Environment == nil {
			continue
		}
		if merged == nil {
			merged = &EnvironmentPolicy{}
		}
		merged.Allow = p.Core.Environment.Allow
		merged.Deny = append(merged.Deny, p.Core.Environment.Deny...)
	}
	return merged
}

func mostSpecificResources(levels []*Policy) *ResourcesPolicy {
	var merged *ResourcesPolicy
	for _, p := range levels {
		if p.Core.Resources == nil {
			continue
		}
		if merged == nil {
			merged = &ResourcesPolicy{}
		}
		if p.Core.Resources.Limits.CPU != "" {
			merged.Limits.CPU = p.Core.Resources.Limits.CPU
		}
		if p.Core.Resources.Limits.Memory != "" {
			merged.Limits.Memory = p.Core.Resources.Limits.Memory
		}
		if p.Core.Resources.Limits.ExecutionTime != "" {
			merged.Limits.ExecutionTime = p.Core.Resources.Limits.ExecutionTime
		}
		if p.Core.Resources.Limits.Fuel != 0 {
			merged.Limits.Fuel = p.Core.Resources.Limits.Fuel
		}
	}
	return merged
}
