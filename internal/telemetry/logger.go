package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to log entries written with a span context.
type OTELHook struct{}

// Run implements zerolog.Hook.
func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// LogOptions configures the global logger.
type LogOptions struct {
	Level string
	// JSON forces JSON output; otherwise a console writer is used.
	JSON bool
	Out  io.Writer
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(opts LogOptions) error {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out}
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(out).
		With().
		Timestamp().
		Str("service", "nimbus").
		Logger().
		Hook(OTELHook{})
	return nil
}
