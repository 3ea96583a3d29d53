package finalize

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// RetryPolicy bounds finalizer retry loops layered on top of
// ReRegisterForFinalization. The subsystem itself never caps re-registration;
// this policy is the loud-failure layer the attempt counter exists for.
type RetryPolicy struct {
	// MaxAttempts is the total number of finalizer invocations allowed,
	// the first one included. Zero means a single attempt.
	MaxAttempts uint32

	// Logger receives the give-up diagnostic. Defaults to a no-op logger.
	Logger *zap.Logger
}

// WithRetry wraps op into a finalizer callback that re-registers its handle
// until op succeeds or the policy's attempt budget is spent. Exhaustion is
// recorded as a contained finalizer failure wrapping ErrRetryExhausted and
// the handle proceeds to reclamation.
func WithRetry(sys *System, policy RetryPolicy, op func(view HandleView) error) FinalizerFunc {
	maxAttempts := policy.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	log := policy.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(view HandleView) error {
		err := op(view)
		if err == nil {
			return nil
		}
		// view.Attempts counts passes already completed, so this invocation
		// is attempt view.Attempts+1.
		if view.Attempts+1 >= maxAttempts {
			log.Warn("giving up on finalizer after retries",
				zap.Uint64("handle", uint64(view.ID)),
				zap.Uint32("attempts", view.Attempts+1),
				zap.Error(err))
			return fmt.Errorf("%w: %w", ErrRetryExhausted, err)
		}
		if rerr := sys.ReRegisterForFinalization(view.ID); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
}
