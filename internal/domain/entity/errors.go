package entity

import "errors"

// Error classes. Adapters wrap these so callers can branch with errors.Is.
var (
	// ErrTransientNetwork covers timeouts, rate limits and dropped connections.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrEvaluationMiss marks an account whose health could not be read this cycle.
	ErrEvaluationMiss = errors.New("evaluation miss")

	// ErrExecutionRevert marks a liquidation transaction that was mined but reverted.
	ErrExecutionRevert = errors.New("execution reverted")

	// ErrSubmission marks a transaction that never reached a final receipt.
	ErrSubmission = errors.New("submission failed")

	// ErrCriticalStartup is the only halting condition: no node and no fallback candidates.
	ErrCriticalStartup = errors.New("critical startup error")

	// ErrLockHeld is returned when the execution lock is already taken.
	ErrLockHeld = errors.New("execution lock held")
)

// ErrorKind returns a short, stable label for err suitable for a log attribute
// or metric dimension.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrCriticalStartup):
		return "critical_startup"
	case errors.Is(err, ErrExecutionRevert):
		return "execution_revert"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrEvaluationMiss):
		return "evaluation_miss"
	case errors.Is(err, ErrTransientNetwork):
		return "transient_network"
	case errors.Is(err, ErrLockHeld):
		return "lock_held"
	default:
		return "unknown"
	}
}
