package sandbox

import "context"

// blockingPool bounds how many sandbox executions run concurrently on
// dedicated goroutines, since a WASM instantiation is synchronous from the
// engine's point of view and must never share a goroutine with the async
// executor loop. A package-level pool sized at init keeps call sites from
// needing to plumb a worker count through every Execute call.
var blockingPool = make(chan struct{}, defaultBlockingWorkers)

const defaultBlockingWorkers = 8

// RunOnBlockingThread runs fn on a dedicated goroutine pulled from a bounded
// pool and waits for it to finish or for ctx to be cancelled first. A
// cancellation before fn starts returns ctx.Err() immediately without
// acquiring a slot; a cancellation after fn starts cannot preempt it — fn's
// own context plumbing (the runtime's wall-clock timeout) is what actually
// bounds its execution. The goroutine is always let run to completion; its
// result channel is buffered, so it never blocks even when the caller has
// stopped waiting.
func RunOnBlockingThread[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case blockingPool <- struct{}{}:
	}

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-blockingPool }()
		val, err := fn()
		done <- outcome{val, err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case o := <-done:
		return o.val, o.err
	}
}
