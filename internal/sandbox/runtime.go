package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// Runtime is the process-wide WASM engine. One Runtime compiles many
// modules and instantiates a fresh instance per tool call, matching the
// reference runtime's "compile once, instantiate per execution" lifecycle.
type Runtime struct {
	rt      wazero.Runtime
	Metrics *Metrics

	mu      sync.Mutex
	modules map[string]wazero.CompiledModule // keyed by sha256 digest of the wasm bytes
}

// New builds the process-wide engine: threads disabled, SIMD/bulk-memory/
// multi-value on by default in wazero, async instantiation unused (see the
// blocking-thread execution contract), and cooperative cancellation wired
// through WithCloseOnContextDone.
func New(ctx context.Context) (*Runtime, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("sandbox: instantiating WASI: %w", err)
	}

	return &Runtime{rt: rt, Metrics: NewMetrics(), modules: make(map[string]wazero.CompiledModule)}, nil
}

// Close releases the engine and every compiled module it holds.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// Compile compiles wasmBytes once and caches the result under digest for
// reuse across calls to the same tool.
func (r *Runtime) Compile(ctx context.Context, digest string, wasmBytes []byte) (wazero.CompiledModule, error) {
	r.mu.Lock()
	if mod, ok := r.modules[digest]; ok {
		r.mu.Unlock()
		return mod, nil
	}
	r.mu.Unlock()

	mod, err := r.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compiling module: %w", err)
	}

	r.mu.Lock()
	r.modules[digest] = mod
	r.mu.Unlock()
	return mod, nil
}

// Execute runs a compiled module's _start entrypoint with the given
// execution context on the calling goroutine (the executor wraps the call in
// RunOnBlockingThread), and returns its stdout bytes and fuel metrics, or a
// classified error.
func (r *Runtime) Execute(ctx context.Context, mod wazero.CompiledModule, ec ExecutionContext) (*ExecutionResult, error) {
	start := time.Now()

	stdin := bytes.NewReader(ec.Stdin)
	stdout := newBoundedBuffer(ec.MaxMemoryBytes)
	stderr := newBoundedBuffer(ec.MaxMemoryBytes)

	modCfg := wazero.NewModuleConfig().
		WithStdin(stdin).
		WithStdout(stdout).
		WithStderr(stderr)
	for k, v := range ec.Env {
		modCfg = modCfg.WithEnv(k, v)
	}
	modCfg = ApplyFSConfig(modCfg, ec.Preopens)

	limiter := newResourceLimiter(ec.MaxMemoryBytes, 10)
	runCtx := experimental.WithMemoryAllocator(ctx, limiter)

	runCtx, cancelFuel := context.WithCancel(runCtx)
	defer cancelFuel()

	limit := fuelBudget(ec)
	meter := newFuelMeter(limit, ec.Mode, cancelFuel)
	runCtx = experimental.WithFunctionListenerFactory(runCtx, meter)

	if ec.Monitor != nil {
		ec.Monitor <- FuelUpdate{Consumed: 0, Remaining: limit, Timestamp: start}
	}

	if ec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, ec.Timeout)
		defer cancel()
	}

	instance, err := r.rt.InstantiateModule(runCtx, mod, modCfg)
	elapsed := time.Since(start)

	consumed := meter.Consumed()
	remaining := meter.Remaining()
	metrics := FuelMetrics{
		Consumed:       consumed,
		ExecutionTime:  elapsed,
		UnitsPerSecond: rate(consumed, elapsed),
	}
	if ec.Monitor != nil {
		ec.Monitor <- FuelUpdate{Consumed: consumed, Remaining: remaining, Rate: metrics.UnitsPerSecond, Timestamp: time.Now()}
	}

	if instance != nil {
		defer func() {
			if closeErr := instance.Close(context.Background()); closeErr != nil {
				slog.Warn("sandbox: closing module instance", "error", closeErr)
			}
		}()
	}

	if err != nil {
		switch {
		case meter.Exhausted():
			r.Metrics.observe("fuel_exhausted", elapsed.Seconds(), consumed)
			return nil, ErrFuelExhausted
		case limiter.Exceeded():
			r.Metrics.observe("memory_exceeded", elapsed.Seconds(), consumed)
			return nil, ErrMemoryExceeded
		case runCtx.Err() == context.DeadlineExceeded:
			r.Metrics.observe("timeout", elapsed.Seconds(), consumed)
			return nil, ErrTimeout
		default:
			if trapErr := classifyTrap(err); trapErr != nil {
				r.Metrics.observe("trap", elapsed.Seconds(), consumed)
				return nil, trapErr
			}
		}
	}

	r.Metrics.observe("ok", elapsed.Seconds(), consumed)
	return &ExecutionResult{Stdout: stdout.Bytes(), Metrics: metrics}, nil
}

// classifyTrap maps a wazero instantiation error onto the runtime's trap
// taxonomy: clean exit, non-zero exit code, fuel exhaustion (by message, for
// traps the listener-based meter didn't already catch), or a generic
// runtime failure.
func classifyTrap(err error) error {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == 0 {
			return nil
		}
		return &ExitError{Code: code}
	}
	if strings.Contains(strings.ToLower(err.Error()), "fuel") {
		return ErrFuelExhausted
	}
	return fmt.Errorf("%w: %v", ErrRuntimeFailure, err)
}
