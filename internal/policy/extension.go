package policy

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Extension is the narrow interface spec.md §9 asks for in place of a deep
// Permission/PolicyExtension/RuntimeEnforcer trait hierarchy: a named
// component that can decide a single action.
type Extension interface {
	Name() string
	Evaluate(ctx context.Context, input PolicyInput) (*DecisionResult, error)
}

// OPAExtension evaluates policy.extensions entries that aren't the "tools"
// shorthand (handled natively by CompiledPolicy) against an embedded OPA
// policy bundle. This is the teacher's own extensibility mechanism,
// generalized to the single-Extension shape spec.md recommends.
type OPAExtension struct {
	query     rego.PreparedEvalQuery
	policy    *Policy
	policyVer string
	mu        sync.RWMutex
}

// NewOPAExtension compiles the Rego files under policyDir (if any) and binds
// them to the compiled policy document for versioning.
func NewOPAExtension(p *Policy, policyDir string) (*OPAExtension, error) {
	e := &OPAExtension{policy: p}

	regoFiles, err := findRegoFiles(policyDir)
	if err != nil {
		return nil, fmt.Errorf("finding rego files: %w", err)
	}
	if err := e.prepareQuery(regoFiles); err != nil {
		return nil, fmt.Errorf("preparing OPA query: %w", err)
	}
	e.policyVer = hashPolicy(p)

	slog.Debug("opa extension initialized", "policy_dir", policyDir, "version", e.policyVer)
	return e, nil
}

func (e *OPAExtension) Name() string { return "opa" }

// Evaluate runs the prepared OPA query against input and maps the result
// onto a DecisionResult. An OPA bundle with no "allow"/"deny" rules defined
// yields a default-deny result, matching the authorization taxonomy's
// fail-closed stance.
func (e *OPAExtension) Evaluate(ctx context.Context, input PolicyInput) (*DecisionResult, error) {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &DecisionResult{
		PolicyVer: e.policyVer,
		InputHash: hashInput(input),
		Timestamp: start,
	}

	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input to map: %w", err)
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating OPA query: %w", err)
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		result.Rule = "opa-no-result"
		result.Reason = "OPA returned no results; default deny"
		result.Duration = time.Since(start)
		return result, nil
	}

	resultMap, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		result.Rule = "opa-parse-error"
		result.Reason = "could not parse OPA result"
		result.Duration = time.Since(start)
		return result, nil
	}

	if allow, ok := resultMap["allow"].(bool); ok {
		result.Allowed = allow
	}
	if deny, ok := resultMap["deny"]; ok {
		switch d := deny.(type) {
		case []interface{}:
			if len(d) > 0 {
				result.Allowed = false
				reasons := make([]string, 0, len(d))
				for _, r := range d {
					reasons = append(reasons, fmt.Sprint(r))
				}
				result.Reason = strings.Join(reasons, "; ")
			}
		case map[string]interface{}:
			if len(d) > 0 {
				result.Allowed = false
			}
		}
	}
	if result.Rule == "" {
		result.Rule = "opa-eval"
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Reload recompiles the Rego bundle from policyDir.
func (e *OPAExtension) Reload(policyDir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	regoFiles, err := findRegoFiles(policyDir)
	if err != nil {
		return fmt.Errorf("finding rego files in %s: %w", policyDir, err)
	}
	return e.prepareQuery(regoFiles)
}

func (e *OPAExtension) prepareQuery(regoFiles map[string]string) error {
	opts := []func(*rego.Rego){rego.Query("data.mcpkit")}
	if len(regoFiles) == 0 {
		opts = append(opts, rego.Module("default.rego", "package mcpkit\n\ndefault allow = false\n"))
	} else {
		for name, src := range regoFiles {
			opts = append(opts, rego.Module(name, src))
		}
	}

	r := rego.New(opts...)
	pq, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("preparing OPA query: %w", err)
	}
	e.query = pq
	return nil
}

func findRegoFiles(dir string) (map[string]string, error) {
	if dir == "" {
		return nil, nil
	}
	files := make(map[string]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("reading %s: %w", path, readErr)
		}
		relPath, _ := filepath.Rel(dir, path)
		files[relPath] = string(data)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return files, nil
}

func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func hashInput(input PolicyInput) string {
	data, _ := json.Marshal(input)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}

func hashPolicy(p *Policy) string {
	data, _ := json.Marshal(p)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:8])
}
