package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcpkit/mcpkit/internal/audit"
	"github.com/mcpkit/mcpkit/internal/credentials"
	"github.com/mcpkit/mcpkit/internal/permcache"
	"github.com/mcpkit/mcpkit/internal/sandbox"
)

// PolicyChecker is the subset of CompiledPolicy the executor needs, so
// tests can substitute a stub without building a full policy document.
type PolicyChecker interface {
	IsToolAllowed(name string) bool
}

// ExtensionPolicyChecker is implemented by policy checkers (CompiledPolicy,
// in production) that can also consult an Extension for domains the native
// fast path doesn't cover. A PolicyChecker that only implements the base
// interface simply never gets an extension fallback.
type ExtensionPolicyChecker interface {
	PolicyChecker
	EvaluateExtension(ctx context.Context, toolName string) (bool, error)
}

// Executor resolves tool names to manifests, checks policy, mints
// credentials, runs the sandbox, and decodes the result. One Executor is
// shared across calls; each call builds its own ExecutionContext.
type Executor struct {
	Policy       PolicyChecker // nil means fail-closed: every call returns ErrNotAllowedByPolicy
	Registry     *Registry
	Runtime      *sandbox.Runtime
	WasmSource   WasmSource
	Broker       *credentials.Broker
	Lifecycle    *credentials.LifecycleManager
	Mode         sandbox.EnforcementMode
	Cache        *permcache.Cache // optional; nil disables permission caching
	FuelObserver func(sandbox.FuelUpdate)
	Audit        audit.EventLogger // optional; nil disables audit logging

	sandboxID string
	user      string
	logger    *slog.Logger
}

// New builds an Executor. provider backs both the broker and the lifecycle
// manager so minted leases and env-var resolution stay consistent. sandboxID
// and user are also recorded on every audit event emitted by Execute.
func New(pol PolicyChecker, reg *Registry, rt *sandbox.Runtime, provider credentials.Provider, sandboxID, user string) *Executor {
	return &Executor{
		Policy:     pol,
		Registry:   reg,
		Runtime:    rt,
		WasmSource: LocalFileSource{},
		Broker:     credentials.NewBroker(provider),
		Lifecycle:  credentials.NewLifecycleManager(provider, sandboxID, user),
		Mode:       sandbox.Strict,
		sandboxID:  sandboxID,
		user:       user,
		logger:     slog.Default(),
	}
}

// HasTool reports whether name is registered, independent of policy.
func (e *Executor) HasTool(name string) bool {
	return e.Registry.HasTool(name)
}

// ListTools returns every registered tool's summary.
func (e *Executor) ListTools() []ToolSummary {
	return e.Registry.ListTools()
}

// Execute runs tool_name with args end to end: policy check, manifest
// lookup, stdin marshalling, credential resolution, sandbox invocation, and
// stdout decoding.
func (e *Executor) Execute(ctx context.Context, toolName string, args map[string]any) (*CallToolResult, error) {
	start := time.Now()

	if !e.isAllowed(ctx, toolName) {
		e.logAudit(ctx, audit.EventToolDeny, audit.SeverityWarning, map[string]any{
			"tool": toolName,
		})
		return nil, fmt.Errorf("%w: %s", ErrNotAllowedByPolicy, toolName)
	}

	manifest, ok := e.Registry.Lookup(toolName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	stdin, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: marshalling args: %v", ErrBadInput, err)
	}

	wasmBytes, digest, err := e.WasmSource.Load(ctx, manifest.WasmModulePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeFailure, err)
	}

	mod, err := e.Runtime.Compile(ctx, digest, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeFailure, err)
	}

	env := make(map[string]string, len(manifest.EnvVars))
	for _, kv := range manifest.EnvVars {
		k, v, ok := splitEnvEntry(kv)
		if ok {
			env[k] = v
		}
	}

	reqs := manifest.CredentialRequirements()
	credEnv, failedName, err := e.Broker.InjectEnvVars(ctx, reqs)
	if err != nil {
		return nil, &CredentialResolutionError{Name: failedName, Err: err}
	}
	for _, kv := range credEnv {
		k, v, ok := splitEnvEntry(kv)
		if ok {
			env[k] = v
		}
	}

	monitor := make(chan sandbox.FuelUpdate, 2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range monitor {
			if e.FuelObserver != nil {
				e.FuelObserver(update)
			}
		}
	}()

	ec := sandbox.ExecutionContext{
		Stdin:          stdin,
		Env:            env,
		Timeout:        time.Duration(manifest.TimeoutSeconds) * time.Second,
		MaxMemoryBytes: manifest.MaxMemoryBytes,
		MaxFuel:        manifest.MaxFuel,
		Mode:           e.Mode,
		Monitor:        monitor,
	}

	result, err := sandbox.RunOnBlockingThread(ctx, func() (*sandbox.ExecutionResult, error) {
		return e.Runtime.Execute(ctx, mod, ec)
	})
	close(monitor)
	<-done

	if err != nil {
		classified := classifySandboxError(err)
		e.logAudit(ctx, audit.EventToolInvoke, audit.SeverityWarning, map[string]any{
			"tool":        toolName,
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       classified.Error(),
		})
		return nil, classified
	}

	out, err := decodeStdout(result.Stdout)
	if err != nil {
		e.logAudit(ctx, audit.EventToolInvoke, audit.SeverityWarning, map[string]any{
			"tool":        toolName,
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrBadOutput, err)
	}

	e.logAudit(ctx, audit.EventToolInvoke, audit.SeverityInfo, map[string]any{
		"tool":        toolName,
		"duration_ms": time.Since(start).Milliseconds(),
		"fuel_used":   result.Metrics.Consumed,
	})
	return out, nil
}

// logAudit emits an audit event when an EventLogger is configured. Failures
// to log are recorded but never block or fail the tool call itself.
func (e *Executor) logAudit(ctx context.Context, eventType audit.EventType, severity audit.Severity, details map[string]any) {
	if e.Audit == nil {
		return
	}
	event := audit.AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		SandboxID: e.sandboxID,
		UserID:    e.user,
		Source:    audit.SourceAgent,
		Severity:  severity,
		Details:   details,
	}
	if err := e.Audit.Log(ctx, event); err != nil {
		e.logger.Warn("failed to log audit event", "event_type", eventType, "error", err)
	}
}

// isAllowed checks the native fast path first (cached when e.Cache is set),
// and, only if that denies the call, falls back to the policy's extension
// evaluator when the configured PolicyChecker exposes one. The extension
// fallback is never cached: it may consult an external OPA bundle whose
// result can change without a policy recompile.
func (e *Executor) isAllowed(ctx context.Context, name string) bool {
	if e.Policy == nil {
		return false
	}

	var allowed bool
	if e.Cache != nil {
		action := permcache.ActionHash{Kind: permcache.KindTool, Name: name}
		allowed = e.Cache.CheckOrCompute(action, func() bool {
			return e.Policy.IsToolAllowed(name)
		})
	} else {
		allowed = e.Policy.IsToolAllowed(name)
	}
	if allowed {
		return true
	}

	ext, ok := e.Policy.(ExtensionPolicyChecker)
	if !ok {
		return false
	}
	extAllowed, err := ext.EvaluateExtension(ctx, name)
	if err != nil {
		e.logger.Warn("policy extension evaluation failed, denying", "tool", name, "error", err)
		return false
	}
	return extAllowed
}

func classifySandboxError(err error) error {
	switch {
	case err == sandbox.ErrFuelExhausted:
		return ErrFuelExhausted
	case err == sandbox.ErrMemoryExceeded:
		return ErrMemoryExceeded
	case err == sandbox.ErrTimeout:
		return ErrTimeout
	default:
		return fmt.Errorf("%w: %v", ErrRuntimeFailure, err)
	}
}

// splitEnvEntry splits a "KEY=VALUE" string into its parts.
func splitEnvEntry(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

