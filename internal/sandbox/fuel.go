package sandbox

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// hostCallFuelCost is debited from the remaining budget for every
// intercepted WASI host-function invocation. wazero has no per-instruction
// fuel metering the way wasmtime does, so fuel is emulated at the
// host-call boundary: each fd_write/fd_read/path_open/etc. call costs a
// fixed amount. A tight compute loop that makes no host calls is still
// bounded by the wall-clock timeout rather than fuel — this is the one
// place the fuel model cannot be a 1:1 port from wasmtime's engine-level
// metering.
const hostCallFuelCost = 1000

// fuelMeter tracks remaining fuel across a single module execution and
// implements experimental.FunctionListenerFactory so it can be installed
// over every WASI host import via experimental.WithFunctionListenerFactory.
// Under Strict enforcement, exhaustion cancels the execution's context
// directly (via cancel) rather than only flipping a flag the caller has to
// notice after the fact — the Runtime was built with
// WithCloseOnContextDone(true), so cancellation actually interrupts the
// running instance instead of letting it run to completion.
type fuelMeter struct {
	limit     uint64
	remaining atomic.Int64
	mode      EnforcementMode
	exhausted atomic.Bool
	cancel    context.CancelFunc
}

func newFuelMeter(limit uint64, mode EnforcementMode, cancel context.CancelFunc) *fuelMeter {
	f := &fuelMeter{limit: limit, mode: mode, cancel: cancel}
	f.remaining.Store(int64(limit))
	return f
}

// NewListener implements experimental.FunctionListenerFactory. Only
// imported (host) functions are metered; WASM-defined functions pass
// through untouched since fuel here approximates WASI call pressure, not
// instruction count.
func (f *fuelMeter) NewListener(def api.FunctionDefinition) experimental.FunctionListener {
	if def.GoFunction() == nil {
		return nil
	}
	return fuelListener{f}
}

type fuelListener struct{ meter *fuelMeter }

func (l fuelListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64) context.Context {
	remaining := l.meter.remaining.Add(-hostCallFuelCost)
	if remaining < 0 && l.meter.mode == Strict {
		if !l.meter.exhausted.Swap(true) && l.meter.cancel != nil {
			l.meter.cancel()
		}
	}
	return ctx
}

func (l fuelListener) After(context.Context, api.Module, api.FunctionDefinition, error, []uint64) {}

// Consumed returns the fuel spent so far.
func (f *fuelMeter) Consumed() uint64 {
	r := f.remaining.Load()
	if r < 0 {
		return f.limit
	}
	return f.limit - uint64(r)
}

// Remaining returns the fuel left, floored at zero.
func (f *fuelMeter) Remaining() uint64 {
	r := f.remaining.Load()
	if r < 0 {
		return 0
	}
	return uint64(r)
}

// Exhausted reports whether Strict enforcement has tripped.
func (f *fuelMeter) Exhausted() bool {
	return f.exhausted.Load()
}
