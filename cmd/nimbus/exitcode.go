package main

import (
	"errors"

	"github.com/yairfalse/nimbus/internal/opserr"
)

// Process exit codes.
const (
	exitError     = 1
	exitUsage     = 2
	exitTimeout   = 3
	exitPartial   = 4
	exitCancelled = 130
)

// exitCode maps an operation error onto a process exit code.
func exitCode(err error) int {
	var (
		usage    *usageError
		invalid  *opserr.InvalidTransitionError
		confirm  *opserr.ConfirmationError
		denied   *opserr.PolicyDeniedError
		timeout  *opserr.TimeoutError
		partial  *opserr.PartialBatchError
		notEmpty *opserr.ContainerNotEmptyError
	)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, opserr.ErrCancelled):
		return exitCancelled
	case errors.As(err, &timeout):
		return exitTimeout
	case errors.As(err, &partial), errors.As(err, &notEmpty):
		return exitPartial
	case errors.As(err, &usage),
		errors.As(err, &invalid),
		errors.As(err, &confirm),
		errors.As(err, &denied),
		errors.Is(err, opserr.ErrInvalidInput):
		return exitUsage
	default:
		return exitError
	}
}
