package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError describes a single validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var versionPattern = regexp.MustCompile(`^1(\.\d+)?$`)

var validAccessModes = map[string]bool{
	"read":    true,
	"write":   true,
	"execute": true,
}

// ValidatePolicy checks a single policy document for schema correctness.
// It does not compile glob patterns into matchers (Compile does that and
// surfaces malformed globs as a fatal GlobError); it only rejects structurally
// invalid input before compilation is attempted, per spec.md's "a version
// outside 1.x range is rejected by an upstream validator, not [the compiler]".
func ValidatePolicy(p *Policy) []ValidationError {
	var errs []ValidationError

	if !versionPattern.MatchString(p.Version) {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("must match 1.x, got %q", p.Version),
		})
	}

	if p.Core.Storage != nil {
		errs = append(errs, validateStorageRules("core.storage.allow", p.Core.Storage.Allow)...)
		errs = append(errs, validateStorageRules("core.storage.deny", p.Core.Storage.Deny)...)
	}
	if p.Core.Network != nil {
		errs = append(errs, validateNetworkRules("core.network.allow", p.Core.Network.Allow)...)
		errs = append(errs, validateNetworkRules("core.network.deny", p.Core.Network.Deny)...)
	}
	if p.Core.Environment != nil {
		errs = append(errs, validateEnvironmentRules("core.environment.allow", p.Core.Environment.Allow)...)
		errs = append(errs, validateEnvironmentRules("core.environment.deny", p.Core.Environment.Deny)...)
	}
	if p.Core.Resources != nil {
		errs = append(errs, validateResourceLimits(&p.Core.Resources.Limits)...)
	}

	return errs
}

func validateStorageRules(field string, rules []StorageRule) []ValidationError {
	var errs []ValidationError
	for i, r := range rules {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		if r.URI == "" {
			errs = append(errs, ValidationError{Field: prefix + ".uri", Message: "must not be empty"})
			continue
		}
		pattern := strings.TrimPrefix(r.URI, "fs://")
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errs = append(errs, ValidationError{Field: prefix + ".uri", Message: fmt.Sprintf("invalid glob: %v", err)})
		}
		for _, mode := range r.Access {
			if !validAccessModes[mode] {
				errs = append(errs, ValidationError{Field: prefix + ".access", Message: fmt.Sprintf("invalid access mode %q", mode)})
			}
		}
	}
	return errs
}

func validateNetworkRules(field string, rules []NetworkRule) []ValidationError {
	var errs []ValidationError
	for i, r := range rules {
		prefix := fmt.Sprintf("%s[%d]", field, i)
		if r.Host == "" {
			errs = append(errs, ValidationError{Field: prefix + ".host", Message: "must not be empty"})
			continue
		}
		if _, err := glob.Compile(r.Host); err != nil {
			errs = append(errs, ValidationError{Field: prefix + ".host", Message: fmt.Sprintf("invalid glob: %v", err)})
		}
	}
	return errs
}

func validateEnvironmentRules(field string, rules []EnvironmentRule) []ValidationError {
	var errs []ValidationError
	for i, r := range rules {
		if r.Key == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("%s[%d].key", field, i), Message: "must not be empty"})
		}
	}
	return errs
}

func validateResourceLimits(r *ResourceLimits) []ValidationError {
	var errs []ValidationError
	if r.CPU != "" {
		if _, err := parseCPULimit(r.CPU); err != nil {
			errs = append(errs, ValidationError{Field: "core.resources.limits.cpu", Message: err.Error()})
		}
	}
	if r.Memory != "" {
		if _, err := parseMemoryLimit(r.Memory); err != nil {
			errs = append(errs, ValidationError{Field: "core.resources.limits.memory", Message: err.Error()})
		}
	}
	if r.ExecutionTime != "" {
		if _, err := parseTimeLimit(r.ExecutionTime); err != nil {
			errs = append(errs, ValidationError{Field: "core.resources.limits.execution_time", Message: err.Error()})
		}
	}
	return errs
}
