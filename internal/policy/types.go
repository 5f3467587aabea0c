package policy

import "time"

// Policy is the top-level declarative authorization document, loaded from
// YAML or JSON. Version is a string ("1.x") rather than an integer: the
// source schema ties behavior to a major.minor range, not to a bare int.
type Policy struct {
	Version     string            `yaml:"version" json:"version"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Core        CorePolicy        `yaml:"core" json:"core"`
	Extensions  map[string]any    `yaml:"extensions,omitempty" json:"extensions,omitempty"`
}

// CorePolicy groups the four permission domains the compiler understands
// natively, plus resource ceilings.
type CorePolicy struct {
	Storage     *StoragePolicy     `yaml:"storage,omitempty" json:"storage,omitempty"`
	Network     *NetworkPolicy     `yaml:"network,omitempty" json:"network,omitempty"`
	Environment *EnvironmentPolicy `yaml:"environment,omitempty" json:"environment,omitempty"`
	Resources   *ResourcesPolicy   `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// StoragePolicy lists filesystem access rules.
type StoragePolicy struct {
	Allow []StorageRule `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []StorageRule `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// StorageRule grants or denies a set of access modes against a URI glob.
// URIs may carry an "fs://" prefix, stripped before matching.
type StorageRule struct {
	URI    string   `yaml:"uri" json:"uri"`
	Access []string `yaml:"access,omitempty" json:"access,omitempty"`
}

// NetworkPolicy lists outbound host access rules. The CIDR variant is
// reserved by the source schema but treated as inert — accepted, never
// consulted by is_network_allowed.
type NetworkRule struct {
	Host string `yaml:"host" json:"host"`
	CIDR string `yaml:"cidr,omitempty" json:"cidr,omitempty"`
}

type NetworkPolicy struct {
	Allow []NetworkRule `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []NetworkRule `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// EnvironmentRule is an exact-match environment variable key.
type EnvironmentRule struct {
	Key string `yaml:"key" json:"key"`
}

type EnvironmentPolicy struct {
	Allow []EnvironmentRule `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []EnvironmentRule `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// ResourcesPolicy carries unit-bearing resource ceiling strings, parsed by
// the compiler (see units.go).
type ResourcesPolicy struct {
	Limits ResourceLimits `yaml:"limits" json:"limits"`
}

type ResourceLimits struct {
	CPU           string `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	Memory        string `yaml:"memory,omitempty" json:"memory,omitempty"`
	ExecutionTime string `yaml:"execution_time,omitempty" json:"execution_time,omitempty"`
	Fuel          uint64 `yaml:"fuel,omitempty" json:"fuel,omitempty"`
}

// PolicyInput is the evaluation input passed to the OPA extension evaluator
// for any extension key beyond the "tools" shorthand.
type PolicyInput struct {
	Action    string         `json:"action"`
	Command   []string       `json:"command,omitempty"`
	Target    string         `json:"target,omitempty"`
	User      string         `json:"user,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DecisionResult is the output of an OPA extension evaluation.
type DecisionResult struct {
	Allowed   bool          `json:"allowed"`
	Rule      string        `json:"rule,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	PolicyVer string        `json:"policy_version,omitempty"`
	InputHash string        `json:"input_hash,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ms"`
}
