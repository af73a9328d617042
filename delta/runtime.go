package delta

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/isar-aerospace/delta-dotnet/engine"
	"github.com/isar-aerospace/delta-dotnet/internal"
)

// RuntimeOptions configures a Runtime. The zero value is valid.
type RuntimeOptions struct {
	// MaxWorkers bounds the number of operations executing at once.
	// Defaults to GOMAXPROCS.
	MaxWorkers int
	// MaxOpsPerSecond limits how fast operations start. 0 means unlimited.
	MaxOpsPerSecond float64
	// Burst is the number of operations that may start at once under
	// MaxOpsPerSecond. Defaults to MaxWorkers.
	Burst int
	// Engine serves table operations. Defaults to engine.DefaultRouter().
	Engine engine.Engine
	// Logger defaults to the package Logger().
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
}

// Runtime owns the worker pool every asynchronous operation runs on, and
// tracks the buffers, maps and tables it handed out. Runtimes are
// independent of each other.
type Runtime struct {
	id     string
	eng    engine.Engine
	logger *zap.Logger
	tracer trace.Tracer
	pool   *workerPool
	ledger *internal.Ledger
	tables *internal.Handles[*Table]

	// mu orders submissions against Close
	mu     sync.RWMutex
	closed bool
	group  errgroup.Group

	inFlight atomic.Int64
}

// NewRuntime creates a runtime with an idle worker pool.
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	if opts.MaxWorkers < 0 {
		return nil, NewError(InvalidData, "max workers must not be negative, got %d", opts.MaxWorkers)
	}
	if opts.MaxOpsPerSecond < 0 {
		return nil, NewError(InvalidData, "max ops per second must not be negative, got %g", opts.MaxOpsPerSecond)
	}
	if opts.Burst < 0 {
		return nil, NewError(InvalidData, "burst must not be negative, got %d", opts.Burst)
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = runtime.GOMAXPROCS(0)
	}
	if opts.Engine == nil {
		opts.Engine = engine.DefaultRouter()
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = noop.NewTracerProvider()
	}

	id := uuid.NewString()
	r := &Runtime{
		id:     id,
		eng:    opts.Engine,
		logger: opts.Logger.With(zap.String("runtime", id)),
		tracer: opts.TracerProvider.Tracer("github.com/isar-aerospace/delta-dotnet/delta"),
		pool:   newWorkerPool(opts.MaxWorkers, opts.MaxOpsPerSecond, opts.Burst),
		ledger: internal.NewLedger(),
		tables: internal.NewHandles[*Table](),
	}
	r.logger.Debug("runtime created", zap.Int("max_workers", opts.MaxWorkers))
	return r, nil
}

// ID identifies the runtime in logs.
func (r *Runtime) ID() string {
	return r.id
}

// Close stops accepting operations and blocks until the callback of every
// accepted operation has returned. Operations submitted afterwards fail with
// NotInitialized. Tables still open are closed and allocations still
// outstanding are reclaimed and logged.
//
// Close must not be called from an operation callback.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRuntimeClosed
	}
	r.closed = true
	r.mu.Unlock()

	errs := r.group.Wait()
	// tables opened by operations that were in flight are orphans too
	for _, t := range r.tables.Snapshot() {
		r.logger.Warn("closing orphaned table", zap.String("table", t.uri))
		if err := t.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if orphans := r.ledger.Drain(); len(orphans) > 0 {
		fields := make([]zap.Field, 0, len(orphans))
		for kind, n := range orphans {
			fields = append(fields, zap.Int(string(kind), n))
		}
		r.logger.Warn("reclaimed orphaned allocations", fields...)
	}
	r.logger.Debug("runtime closed")
	return errs
}

// RuntimeStats is a point-in-time view of a runtime.
type RuntimeStats struct {
	InFlight               int64
	OpenTables             int
	OutstandingAllocations int
	AllocatedBytes         int64
}

// Stats returns the current counters of the runtime.
func (r *Runtime) Stats() RuntimeStats {
	return RuntimeStats{
		InFlight:               r.inFlight.Load(),
		OpenTables:             r.tables.Len(),
		OutstandingAllocations: r.ledger.Outstanding(),
		AllocatedBytes:         r.ledger.Bytes(),
	}
}
