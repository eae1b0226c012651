package scheduler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"taskrt/internal/eventbus"
	logx "taskrt/pkg/logx"
)

const tracerName = "taskrt/scheduler"

// Kind names a scheduler implementation in logs, spans, and snapshots.
type Kind string

const (
	KindBasic      Kind = "basic"
	KindThreadPool Kind = "threadpool"
)

// Options are the collaborators every scheduler takes.
type Options struct {
	Log    logx.Logger
	Bus    eventbus.Bus
	Tracer trace.Tracer

	// Enter runs a driver loop inside the owning runtime's context scope.
	// Each driver goroutine calls it once, around its whole loop.
	Enter func(ctx context.Context, drive func(ctx context.Context))
}

func (o Options) withDefaults() Options {
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	if o.Enter == nil {
		o.Enter = func(ctx context.Context, drive func(ctx context.Context)) { drive(ctx) }
	}
	return o
}
