// Package guard evaluates an optional Rego policy before destructive operations.
//
// Policies live in package nimbus and contribute messages to the deny set:
//
//	package nimbus
//
//	deny contains msg if {
//		input.operation == "terminate_instance"
//		input.tags.env == "prod"
//		msg := "prod instances are protected"
//	}
//
// Any message in deny blocks the operation with *opserr.PolicyDeniedError.
package guard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/pkg/resource"
)

const denyQuery = "data.nimbus.deny"

// Operations checked by the guard.
const (
	OpTerminateInstance = "terminate_instance"
	OpDeleteContainer   = "delete_container"
	OpDeleteObject      = "delete_object"
)

// Request is the policy input for one destructive operation.
type Request struct {
	Operation string            `json:"operation"`
	Handle    resource.Handle   `json:"handle"`
	Container string            `json:"container,omitempty"`
	State     resource.State    `json:"state,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// AllowAll permits every request. It is used when no policy is configured.
type AllowAll struct{}

// Check always returns nil.
func (AllowAll) Check(context.Context, Request) error { return nil }

// Engine evaluates a compiled deny query.
type Engine struct {
	name   string
	query  rego.PreparedEvalQuery
	tracer trace.Tracer
}

// New compiles a Rego module.
func New(ctx context.Context, name, module string) (*Engine, error) {
	prepared, err := rego.New(
		rego.Query(denyQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", name, err)
	}

	log.Debug().Str("policy", name).Msg("policy loaded")

	return &Engine{
		name:   name,
		query:  prepared,
		tracer: otel.Tracer("nimbus/guard"),
	}, nil
}

// Load reads and compiles a policy file.
func Load(ctx context.Context, path string) (*Engine, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return New(ctx, filepath.Base(path), string(content))
}

// Check returns *opserr.PolicyDeniedError when the policy denies req.
func (e *Engine) Check(ctx context.Context, req Request) error {
	ctx, span := e.tracer.Start(ctx, "guard.check",
		trace.WithAttributes(
			attribute.String("guard.operation", req.Operation),
			attribute.String("guard.handle", req.Handle.String())))
	defer span.End()

	results, err := e.query.Eval(ctx, rego.EvalInput(req))
	if err != nil {
		return fmt.Errorf("evaluate policy %s: %w", e.name, err)
	}

	reasons := denyReasons(results)
	if len(reasons) == 0 {
		return nil
	}

	log.Warn().
		Str("operation", req.Operation).
		Str("handle", req.Handle.String()).
		Strs("reasons", reasons).
		Msg("operation denied by policy")

	return &opserr.PolicyDeniedError{Op: req.Operation, Handle: req.Handle, Reasons: reasons}
}

// denyReasons flattens the deny set. OPA returns sets as []interface{}.
func denyReasons(results rego.ResultSet) []string {
	var reasons []string
	for _, res := range results {
		for _, expr := range res.Expressions {
			values, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range values {
				if s, ok := v.(string); ok {
					reasons = append(reasons, s)
				} else {
					reasons = append(reasons, fmt.Sprint(v))
				}
			}
		}
	}
	sort.Strings(reasons)
	return reasons
}
