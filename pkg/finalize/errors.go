package finalize

import (
	"errors"
	"fmt"
)

var (
	// ErrHandleNotFound is returned when an operation references a handle
	// that was never registered.
	ErrHandleNotFound = errors.New("finalize: handle not found")

	// ErrUseAfterDispose is matched (via errors.Is) by the typed
	// UseAfterDisposeError returned from resource access on a disposed or
	// reclaimed handle.
	ErrUseAfterDispose = errors.New("finalize: use after dispose")

	// ErrNotFinalizing is returned when Resurrect or
	// ReRegisterForFinalization is called outside the finalizer callback
	// currently executing for that handle.
	ErrNotFinalizing = errors.New("finalize: caller is not the running finalizer for this handle")

	// ErrWorkerRunning is returned by RunCycle while the background worker
	// loop owns the queue.
	ErrWorkerRunning = errors.New("finalize: background worker is running")

	// ErrClosed is returned by operations on a closed system.
	ErrClosed = errors.New("finalize: system closed")

	// ErrRetryExhausted marks a finalization retry loop that was given up on.
	ErrRetryExhausted = errors.New("finalize: finalization retries exhausted")
)

// UseAfterDisposeError reports resource access on a handle whose cleanup has
// already run.
type UseAfterDisposeError struct {
	Handle HandleID
	State  HandleState
}

func (e *UseAfterDisposeError) Error() string {
	return fmt.Sprintf("finalize: handle %d used after dispose (state %s)", e.Handle, e.State)
}

// Is makes the error match ErrUseAfterDispose.
func (e *UseAfterDisposeError) Is(target error) bool {
	return target == ErrUseAfterDispose
}

// FinalizerError records a failure raised inside a finalizer callback. It is
// contained to the owning handle: the worker logs and stores it but never
// propagates it to unrelated callers.
type FinalizerError struct {
	Handle  HandleID
	Attempt uint32
	Err     error
}

func (e *FinalizerError) Error() string {
	return fmt.Sprintf("finalize: finalizer for handle %d failed on attempt %d: %v", e.Handle, e.Attempt, e.Err)
}

func (e *FinalizerError) Unwrap() error { return e.Err }
