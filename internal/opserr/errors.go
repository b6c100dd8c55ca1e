// Package opserr defines the typed failures returned by nimbus operations.
//
// Every orchestration entry point returns either a complete success value or one of
// these errors. Callers branch with errors.As / errors.Is; the core never retries.
package opserr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/yairfalse/nimbus/pkg/resource"
)

// ErrCancelled marks an operation aborted by its caller.
var ErrCancelled = errors.New("operation cancelled")

// ErrInvalidInput marks a request rejected before any external call.
var ErrInvalidInput = errors.New("invalid input")

// Invalid returns an error matching ErrInvalidInput.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ExternalCallError wraps a failed request to a cloud service.
type ExternalCallError struct {
	Op     string
	Handle resource.Handle
	Code   string
	Cause  error
}

// External wraps err as an ExternalCallError. The provider error code is
// captured when the cause carries one. Context cancellation is reported as
// Cancelled instead, since the service never answered.
func External(op string, handle resource.Handle, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(op, handle, err)
	}
	e := &ExternalCallError{Op: op, Handle: handle, Cause: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		e.Code = apiErr.ErrorCode()
	}
	return e
}

func (e *ExternalCallError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Handle != "" {
		fmt.Fprintf(&b, " %s", e.Handle)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	fmt.Fprintf(&b, ": %v", e.Cause)
	return b.String()
}

func (e *ExternalCallError) Unwrap() error { return e.Cause }

// InvalidTransitionError reports a lifecycle precondition that does not hold.
// It is raised before any mutating request is issued.
type InvalidTransitionError struct {
	Op      string
	Handle  resource.Handle
	Current resource.State
	Allowed []resource.State
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("%s %s: invalid from state %q (allowed: %s)",
		e.Op, e.Handle, e.Current, strings.Join(allowed, ", "))
}

// TimeoutError reports a bounded wait that ran out of budget.
type TimeoutError struct {
	Handle   resource.Handle
	Target   resource.State
	Last     resource.State
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s to reach %q after %d attempts (%s), last state %q",
		e.Handle, e.Target, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

// ObservationError reports a state read that failed mid-wait.
type ObservationError struct {
	Handle   resource.Handle
	Target   resource.State
	Attempts int
	Cause    error
}

func (e *ObservationError) Error() string {
	return fmt.Sprintf("observe %s (waiting for %q, attempt %d): %v", e.Handle, e.Target, e.Attempts, e.Cause)
}

func (e *ObservationError) Unwrap() error { return e.Cause }

// TerminalMismatchError reports a resource that settled in a state from which
// the wait target can no longer be reached.
type TerminalMismatchError struct {
	Handle   resource.Handle
	Target   resource.State
	Reached  resource.State
	Attempts int
}

func (e *TerminalMismatchError) Error() string {
	return fmt.Sprintf("%s reached terminal state %q while waiting for %q (attempt %d)",
		e.Handle, e.Reached, e.Target, e.Attempts)
}

// CancelledError reports a caller-initiated abort.
type CancelledError struct {
	Op       string
	Handle   resource.Handle
	Attempts int
	Cause    error
}

// Cancelled builds a CancelledError for op.
func Cancelled(op string, handle resource.Handle, cause error) error {
	return &CancelledError{Op: op, Handle: handle, Cause: cause}
}

func (e *CancelledError) Error() string {
	msg := e.Op
	if e.Handle != "" {
		msg += " " + string(e.Handle)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	return msg + ": " + ErrCancelled.Error()
}

// Is matches ErrCancelled.
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

func (e *CancelledError) Unwrap() error { return e.Cause }

// PartialBatchError reports batch items that could not be processed.
// Failures maps input index to the error recorded for it.
type PartialBatchError struct {
	Total    int
	Failures map[int]error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("%d of %d items failed (indices %s)", len(e.Failures), e.Total, e.indexSummary())
}

// Indices returns the failed indices in ascending order.
func (e *PartialBatchError) Indices() []int {
	out := make([]int, 0, len(e.Failures))
	for i := range e.Failures {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (e *PartialBatchError) indexSummary() string {
	idx := e.Indices()
	if len(idx) > 10 {
		return fmt.Sprintf("%v...", idx[:10])
	}
	return fmt.Sprint(idx)
}

// ContainerNotEmptyError reports a bucket delete aborted because some objects
// could not be removed. The bucket delete request was never sent.
type ContainerNotEmptyError struct {
	Container string
	Deleted   []string
	Undeleted map[string]error
}

func (e *ContainerNotEmptyError) Error() string {
	keys := e.UndeletedKeys()
	return fmt.Sprintf("delete container %s: %d objects not removed: %s",
		e.Container, len(keys), strings.Join(keys, ", "))
}

// UndeletedKeys returns the keys still present, sorted.
func (e *ContainerNotEmptyError) UndeletedKeys() []string {
	keys := make([]string, 0, len(e.Undeleted))
	for k := range e.Undeleted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PolicyDeniedError reports an operation blocked by a configured policy.
type PolicyDeniedError struct {
	Op      string
	Handle  resource.Handle
	Reasons []string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("%s %s denied by policy: %s", e.Op, e.Handle, strings.Join(e.Reasons, "; "))
}

// ConfirmationError reports a destructive operation whose confirmation token
// did not match the target handle.
type ConfirmationError struct {
	Op     string
	Handle resource.Handle
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("%s %s: confirmation token must repeat the resource id", e.Op, e.Handle)
}
