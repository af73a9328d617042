package delta

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/isar-aerospace/delta-dotnet/internal"
)

// opSpec describes one submission.
type opSpec struct {
	name  string
	table *Table // nil for operations not bound to a table
	tok   *CancellationToken
	// mutating operations run one at a time per table, in submission order
	mutating bool
}

// completion delivers the result of one submission exactly once.
type completion[T any] struct {
	op     string
	id     string
	start  time.Time
	logger *zap.Logger
	fired  atomic.Bool
	fn     func(T, *Error)
}

func (c *completion[T]) fire(v T, env *Error) {
	if !c.fired.CompareAndSwap(false, true) {
		c.logger.Error("completion delivered twice, dropping", zap.String("op", c.op), zap.String("op_id", c.id))
		return
	}

	code := "ok"
	if env != nil {
		code = env.Code.String()
		var zero T
		v = zero
	}
	internal.OperationsCompleted.WithLabelValues(c.op, code).Inc()
	internal.OperationDuration.WithLabelValues(c.op).Observe(time.Since(c.start).Seconds())

	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("operation callback panicked",
				zap.String("op", c.op), zap.String("op_id", c.id), zap.Any("panic", p))
		}
	}()
	c.fn(v, env)
}

// submit schedules work on the runtime and returns immediately. done is
// called exactly once on a runtime goroutine, never inline. apply, if not nil,
// runs after a successful, uncancelled work call and before done; it is how
// mutations take effect.
func submit[T any](r *Runtime, o opSpec, work func(ctx context.Context) (T, error), apply func(T), done func(T, *Error)) {
	if done == nil {
		panic("delta: nil callback for " + o.name)
	}
	id := uuid.NewString()
	logger := r.logger.With(zap.String("op", o.name), zap.String("op_id", id))
	if o.table != nil {
		logger = logger.With(zap.String("table", o.table.uri))
	}
	c := &completion[T]{
		op:     o.name,
		id:     id,
		start:  time.Now(),
		logger: logger,
		fn:     done,
	}
	internal.OperationsSubmitted.WithLabelValues(o.name).Inc()

	if o.tok == nil && o.table != nil {
		o.tok = o.table.token()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var rejected *Error
	switch {
	case r.closed:
		rejected = &Error{Code: NotInitialized, Message: ErrRuntimeClosed.Error(), cause: ErrRuntimeClosed}
	case o.table != nil && o.table.closed.Load():
		rejected = &Error{Code: NotInitialized, Message: ErrTableClosed.Error(), cause: ErrTableClosed}
	}
	if rejected != nil {
		logger.Debug("operation rejected", zap.Error(rejected))
		var zero T
		if r.closed {
			// Close has stopped waiting for new work.
			go c.fire(zero, rejected)
			return
		}
		r.track(logger, o.name, func() { c.fire(zero, rejected) })
		return
	}

	var prev, mine chan struct{}
	if o.mutating {
		prev, mine = o.table.enqueue()
	}
	logger.Debug("operation submitted")
	r.track(logger, o.name, func() { run(r, o, c, prev, mine, work, apply) })
}

// track runs fn on a goroutine that Close waits for. r.mu must be held for
// reading and the runtime must be open.
func (r *Runtime) track(logger *zap.Logger, name string, fn func()) {
	r.inFlight.Add(1)
	internal.OperationsInFlight.Inc()
	internal.Go(&r.group, logger, name, func() error {
		defer func() {
			r.inFlight.Add(-1)
			internal.OperationsInFlight.Dec()
		}()
		fn()
		return nil
	})
}

// Reject delivers env to cb the way a failed operation would: on a runtime
// goroutine, never inline, and before Close returns. Once the runtime is
// closed cb receives NotInitialized instead.
func (r *Runtime) Reject(name string, env *Error, cb EmptyCallback) {
	work := func(context.Context) (struct{}, error) {
		if env == nil {
			return struct{}{}, nil
		}
		return struct{}{}, env
	}
	submit(r, opSpec{name: name}, work, nil, func(_ struct{}, e *Error) {
		cb(e)
	})
}

func run[T any](r *Runtime, o opSpec, c *completion[T], prev, mine chan struct{}, work func(context.Context) (T, error), apply func(T)) {
	if mine != nil {
		// Runs after the callback. The next mutation waits on mine, so mine
		// may only close once every earlier mutation is done.
		defer func() {
			<-prev
			close(mine)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if o.tok != nil {
		stop := context.AfterFunc(o.tok.ctx, cancel)
		defer stop()
	}
	ctx, span := r.tracer.Start(ctx, "delta."+o.name, trace.WithAttributes(
		attribute.String("delta.op_id", c.id),
		attribute.Bool("delta.mutating", o.mutating),
	))
	defer span.End()
	if o.table != nil {
		span.SetAttributes(attribute.String("delta.table", o.table.uri))
	}

	v, env := execute(ctx, r, o, c, prev, work)
	if env == nil && apply != nil {
		apply(v)
	}
	if env != nil {
		span.SetStatus(codes.Error, env.Error())
		span.SetAttributes(attribute.String("delta.code", env.Code.String()))
		c.logger.Debug("operation failed", zap.String("code", env.Code.String()), zap.String("message", env.Message))
	} else {
		c.logger.Debug("operation succeeded", zap.Duration("elapsed", time.Since(c.start)))
	}
	c.fire(v, env)
}

// execute walks the safe points of one operation: predecessor, admission,
// worker slot, pre-run check, work, post-run check.
func execute[T any](ctx context.Context, r *Runtime, o opSpec, c *completion[T], prev chan struct{}, work func(context.Context) (T, error)) (T, *Error) {
	var zero T
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return zero, cancelledError(ctx.Err())
		}
	}
	if err := r.pool.acquire(ctx); err != nil {
		return zero, cancelledError(ctx.Err())
	}
	defer r.pool.release()
	if err := ctx.Err(); err != nil {
		return zero, cancelledError(err)
	}

	var v T
	err := internal.Protect(c.logger, o.name, func() error {
		var err error
		v, err = work(ctx)
		return err
	})
	if err != nil {
		return zero, Classify(err)
	}
	if err := ctx.Err(); err != nil {
		return zero, cancelledError(err)
	}
	return v, nil
}
