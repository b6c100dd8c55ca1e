package orchestrator

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nimbus/internal/guard"
	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/internal/waiter"
	"github.com/yairfalse/nimbus/pkg/resource"
)

// Lifecycle preconditions per operation.
var (
	startFrom     = []resource.State{resource.StateStopped, resource.StatePending}
	stopFrom      = []resource.State{resource.StateRunning}
	terminateFrom = []resource.State{
		resource.StatePending,
		resource.StateRunning,
		resource.StateStopping,
		resource.StateStopped,
		resource.StateShuttingDown,
		resource.StateUnknown,
	}
)

// ListInstances returns every instance visible to the compute client.
func (o *Orchestrator) ListInstances(ctx context.Context) ([]resource.Instance, error) {
	return track(ctx, o, "list_instances", "", func(ctx context.Context) ([]resource.Instance, error) {
		if o.clients.Compute == nil {
			return nil, opserr.Invalid("no compute client configured")
		}
		instances, err := o.clients.Compute.ListInstances(ctx)
		if err != nil {
			return nil, opserr.External("list_instances", "", err)
		}
		if instances == nil {
			instances = []resource.Instance{}
		}
		return instances, nil
	})
}

// InstanceStatus reads the current state of an instance. It never changes it.
func (o *Orchestrator) InstanceStatus(ctx context.Context, h resource.Handle) (resource.State, error) {
	return track(ctx, o, "instance_status", h, func(ctx context.Context) (resource.State, error) {
		if err := o.requireCompute(h); err != nil {
			return "", err
		}
		state, err := o.clients.Compute.InstanceState(ctx, h)
		if err != nil {
			return "", opserr.External("instance_status", h, err)
		}
		return state, nil
	})
}

// CreateInstance launches an instance and returns it without waiting for it to
// leave pending.
func (o *Orchestrator) CreateInstance(ctx context.Context, spec resource.InstanceSpec) (resource.Instance, error) {
	return track(ctx, o, "create_instance", "", func(ctx context.Context) (resource.Instance, error) {
		if o.clients.Compute == nil {
			return resource.Instance{}, opserr.Invalid("no compute client configured")
		}
		if spec.ImageID == "" {
			return resource.Instance{}, opserr.Invalid("image id required")
		}
		if spec.InstanceType == "" {
			return resource.Instance{}, opserr.Invalid("instance type required")
		}

		inst, err := o.clients.Compute.CreateInstance(ctx, spec)
		if err != nil {
			return resource.Instance{}, opserr.External("create_instance", "", err)
		}

		log.Info().
			Str("instance_id", inst.ID.String()).
			Str("state", string(inst.State)).
			Str("image_id", spec.ImageID).
			Msg("instance created")
		return inst, nil
	})
}

// StartInstance starts a stopped or pending instance and waits until it is
// running.
func (o *Orchestrator) StartInstance(ctx context.Context, h resource.Handle) (TransitionResult, error) {
	return track(ctx, o, "start_instance", h, func(ctx context.Context) (TransitionResult, error) {
		if err := o.requireCompute(h); err != nil {
			return TransitionResult{}, err
		}
		current, err := o.precondition(ctx, "start_instance", h, startFrom)
		if err != nil {
			return TransitionResult{}, err
		}
		return o.transition(ctx, "start_instance", h, current, resource.StateRunning, o.clients.Compute.StartInstance)
	})
}

// StopInstance stops a running instance and waits until it is stopped.
func (o *Orchestrator) StopInstance(ctx context.Context, h resource.Handle) (TransitionResult, error) {
	return track(ctx, o, "stop_instance", h, func(ctx context.Context) (TransitionResult, error) {
		if err := o.requireCompute(h); err != nil {
			return TransitionResult{}, err
		}
		current, err := o.precondition(ctx, "stop_instance", h, stopFrom)
		if err != nil {
			return TransitionResult{}, err
		}
		return o.transition(ctx, "stop_instance", h, current, resource.StateStopped, o.clients.Compute.StopInstance)
	})
}

// TerminateInstance terminates an instance and waits until it is gone. The
// confirmation token must repeat the instance id; it is checked before any
// request is made.
func (o *Orchestrator) TerminateInstance(ctx context.Context, h resource.Handle, confirm string) (TransitionResult, error) {
	return track(ctx, o, "terminate_instance", h, func(ctx context.Context) (TransitionResult, error) {
		if err := o.requireCompute(h); err != nil {
			return TransitionResult{}, err
		}
		if confirm != h.String() {
			return TransitionResult{}, &opserr.ConfirmationError{Op: "terminate_instance", Handle: h}
		}

		inst, err := o.clients.Compute.DescribeInstance(ctx, h)
		if err != nil {
			return TransitionResult{}, opserr.External("terminate_instance", h, err)
		}
		if !slices.Contains(terminateFrom, inst.State) {
			return TransitionResult{}, &opserr.InvalidTransitionError{
				Op:      "terminate_instance",
				Handle:  h,
				Current: inst.State,
				Allowed: terminateFrom,
			}
		}

		if err := o.guard.Check(ctx, guard.Request{
			Operation: guard.OpTerminateInstance,
			Handle:    h,
			State:     inst.State,
			Tags:      inst.Tags,
		}); err != nil {
			return TransitionResult{}, err
		}

		return o.transition(ctx, "terminate_instance", h, inst.State, resource.StateTerminated, o.clients.Compute.TerminateInstance)
	})
}

// ConsoleOutput returns the latest console output of an instance.
func (o *Orchestrator) ConsoleOutput(ctx context.Context, h resource.Handle) (string, error) {
	return track(ctx, o, "console_output", h, func(ctx context.Context) (string, error) {
		if err := o.requireCompute(h); err != nil {
			return "", err
		}
		out, err := o.clients.Compute.ConsoleOutput(ctx, h)
		if err != nil {
			return "", opserr.External("console_output", h, err)
		}
		return out, nil
	})
}

func (o *Orchestrator) requireCompute(h resource.Handle) error {
	if o.clients.Compute == nil {
		return opserr.Invalid("no compute client configured")
	}
	if h == "" {
		return opserr.Invalid("instance id required")
	}
	return nil
}

// precondition reads the state once and rejects it unless it is in allowed.
func (o *Orchestrator) precondition(ctx context.Context, op string, h resource.Handle, allowed []resource.State) (resource.State, error) {
	current, err := o.clients.Compute.InstanceState(ctx, h)
	if err != nil {
		return "", opserr.External(op, h, err)
	}
	if !slices.Contains(allowed, current) {
		return current, &opserr.InvalidTransitionError{
			Op:      op,
			Handle:  h,
			Current: current,
			Allowed: allowed,
		}
	}
	return current, nil
}

// transition issues the mutating call and waits for target.
func (o *Orchestrator) transition(
	ctx context.Context,
	op string,
	h resource.Handle,
	from, target resource.State,
	call func(context.Context, resource.Handle) error,
) (TransitionResult, error) {
	logger := log.With().
		Str("operation", op).
		Str("instance_id", h.String()).
		Logger()

	if err := call(ctx, h); err != nil {
		return TransitionResult{}, opserr.External(op, h, err)
	}
	logger.Info().Str("state", string(from)).Str("target", string(target)).Msg("request accepted, waiting")

	res, err := waiter.Wait(ctx, h, o.clients.Compute.InstanceState, o.opts.Wait.WithTarget(target))
	o.metrics.RecordWaitAttempts(ctx, op, string(target), res.Attempts)

	result := TransitionResult{
		Handle:      h,
		From:        from,
		To:          res.State,
		Attempts:    res.Attempts,
		Elapsed:     res.Elapsed,
		Transitions: res.Transitions,
	}
	if err != nil {
		return result, err
	}

	logger.Info().
		Str("state", string(res.State)).
		Int("attempt", res.Attempts).
		Dur("elapsed", res.Elapsed).
		Msg("target state reached")
	return result, nil
}
