// Package waiter polls an instance until it reaches a target state or a
// bounded budget of attempts or time is used up.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/pkg/resource"
)

// Spec configures a single wait. At least one of MaxAttempts or MaxElapsed must
// be set; when both are set the first one exhausted ends the wait.
type Spec struct {
	Target       resource.State
	PollInterval time.Duration
	MaxAttempts  int
	MaxElapsed   time.Duration
}

// Validate checks the spec describes a bounded wait.
func (s Spec) Validate() error {
	if s.Target == "" {
		return fmt.Errorf("wait spec: target state required")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("wait spec: poll interval must be positive (got %s)", s.PollInterval)
	}
	if s.MaxAttempts < 0 || s.MaxElapsed < 0 {
		return fmt.Errorf("wait spec: budgets must not be negative")
	}
	if s.MaxAttempts == 0 && s.MaxElapsed == 0 {
		return fmt.Errorf("wait spec: max attempts or max elapsed required")
	}
	return nil
}

// WithTarget returns a copy of s aimed at target.
func (s Spec) WithTarget(target resource.State) Spec {
	s.Target = target
	return s
}

// ObserveFunc reads the current state of a handle. It must not modify the resource.
type ObserveFunc func(ctx context.Context, handle resource.Handle) (resource.State, error)

// Result describes a finished wait, successful or not.
type Result struct {
	Handle      resource.Handle       `json:"handle" yaml:"handle"`
	State       resource.State        `json:"state" yaml:"state"`
	Attempts    int                   `json:"attempts" yaml:"attempts"`
	Elapsed     time.Duration         `json:"elapsed" yaml:"elapsed"`
	Transitions []resource.Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// Wait polls observe until handle reaches spec.Target. The first observation is
// made immediately. Failures are returned as *opserr.TimeoutError,
// *opserr.ObservationError, *opserr.TerminalMismatchError or an error matching
// opserr.ErrCancelled. The returned Result is populated in every case.
func Wait(ctx context.Context, handle resource.Handle, observe ObserveFunc, spec Spec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{Handle: handle}, err
	}

	var (
		start       = time.Now()
		transitions resource.TransitionLog
		timer       *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	result := func(attempts int) Result {
		return Result{
			Handle:      handle,
			State:       transitions.Last(),
			Attempts:    attempts,
			Elapsed:     time.Since(start),
			Transitions: transitions.Entries(),
		}
	}

	logger := log.With().
		Str("handle", handle.String()).
		Str("target", string(spec.Target)).
		Logger()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return result(attempt - 1), cancelled(handle, attempt-1, err)
		}

		state, err := observe(ctx, handle)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result(attempt), cancelled(handle, attempt, ctxErr)
			}
			return result(attempt), &opserr.ObservationError{
				Handle:   handle,
				Target:   spec.Target,
				Attempts: attempt,
				Cause:    err,
			}
		}

		if transitions.Observe(state, attempt, time.Now()) {
			logger.Debug().Str("state", string(state)).Int("attempt", attempt).Msg("state changed")
		}

		if state == spec.Target {
			return result(attempt), nil
		}

		if Unreachable(spec.Target, state) {
			return result(attempt), &opserr.TerminalMismatchError{
				Handle:   handle,
				Target:   spec.Target,
				Reached:  state,
				Attempts: attempt,
			}
		}

		elapsed := time.Since(start)
		if spec.MaxAttempts > 0 && attempt >= spec.MaxAttempts {
			return result(attempt), timeout(handle, spec, state, attempt, elapsed)
		}

		delay := spec.PollInterval
		if spec.MaxElapsed > 0 {
			remaining := spec.MaxElapsed - elapsed
			if remaining <= 0 {
				return result(attempt), timeout(handle, spec, state, attempt, elapsed)
			}
			delay = min(delay, remaining)
		}

		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}

		select {
		case <-ctx.Done():
			return result(attempt), cancelled(handle, attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// Unreachable reports whether target can no longer be reached from state.
// Terminated is final, and shutting-down only ever leads to terminated.
func Unreachable(target, state resource.State) bool {
	switch state {
	case resource.StateTerminated:
		return target != resource.StateTerminated
	case resource.StateShuttingDown:
		return target != resource.StateTerminated && target != resource.StateShuttingDown
	default:
		return false
	}
}

func timeout(handle resource.Handle, spec Spec, last resource.State, attempts int, elapsed time.Duration) error {
	return &opserr.TimeoutError{
		Handle:   handle,
		Target:   spec.Target,
		Last:     last,
		Attempts: attempts,
		Elapsed:  elapsed,
	}
}

func cancelled(handle resource.Handle, attempts int, cause error) error {
	if cause == nil {
		cause = errors.New("context done")
	}
	return &opserr.CancelledError{Op: "wait", Handle: handle, Attempts: attempts, Cause: cause}
}
