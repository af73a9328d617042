package delta

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/isar-aerospace/delta-dotnet/engine"
)

// mutate submits an operation that replaces the table snapshot with the one
// step computes from the current snapshot.
func (t *Table) mutate(tok *CancellationToken, name string, cb EmptyCallback, step func(ctx context.Context, base *engine.Snapshot) (*engine.Snapshot, error)) {
	work := func(ctx context.Context) (*engine.Snapshot, error) {
		return step(ctx, t.snap.Load())
	}
	apply := func(next *engine.Snapshot) {
		t.snap.Store(next)
	}
	submit(t.rt, opSpec{name: name, table: t, tok: tok, mutating: true}, work, apply, func(_ *engine.Snapshot, env *Error) {
		cb(env)
	})
}

func (t *Table) load(ctx context.Context, base *engine.Snapshot, version int64, ts time.Time) (*engine.Snapshot, error) {
	return t.rt.eng.Load(ctx, engine.LoadRequest{
		URI:           t.uri,
		Version:       version,
		Timestamp:     ts,
		WithoutFiles:  !base.FilesLoaded,
		LogBufferSize: t.opts.LogBufferSize,
	})
}

// Update reloads the table at version, or at the newest version when version
// is negative.
func (t *Table) Update(tok *CancellationToken, version int64, cb EmptyCallback) {
	t.mutate(tok, "update", cb, func(ctx context.Context, base *engine.Snapshot) (*engine.Snapshot, error) {
		if version < 0 {
			version = LatestVersion
		}
		return t.load(ctx, base, version, time.Time{})
	})
}

// UpdateIncremental applies the commits after the current version.
func (t *Table) UpdateIncremental(tok *CancellationToken, cb EmptyCallback) {
	t.mutate(tok, "update_incremental", cb, func(ctx context.Context, base *engine.Snapshot) (*engine.Snapshot, error) {
		return t.rt.eng.Update(ctx, base, LatestVersion)
	})
}

// LoadVersion time travels to version.
func (t *Table) LoadVersion(tok *CancellationToken, version int64, cb EmptyCallback) {
	t.mutate(tok, "load_version", cb, func(ctx context.Context, base *engine.Snapshot) (*engine.Snapshot, error) {
		if version < 0 {
			return nil, fmt.Errorf("%w: version %d", engine.ErrInvalidVersion, version)
		}
		return t.load(ctx, base, version, time.Time{})
	})
}

// LoadWithDatetime time travels to the newest version committed at or
// before ts.
func (t *Table) LoadWithDatetime(tok *CancellationToken, ts time.Time, cb EmptyCallback) {
	t.mutate(tok, "load_with_datetime", cb, func(ctx context.Context, base *engine.Snapshot) (*engine.Snapshot, error) {
		if ts.IsZero() {
			return nil, fmt.Errorf("%w: zero timestamp", engine.ErrInvalidDateTimeString)
		}
		return t.load(ctx, base, LatestVersion, ts)
	})
}

// Merge advances the snapshot incrementally to version, which must not be
// older than the current one.
func (t *Table) Merge(tok *CancellationToken, version int64, cb EmptyCallback) {
	t.mutate(tok, "merge", cb, func(ctx context.Context, base *engine.Snapshot) (*engine.Snapshot, error) {
		if version < 0 {
			return nil, fmt.Errorf("%w: version %d", engine.ErrInvalidVersion, version)
		}
		return t.rt.eng.Update(ctx, base, version)
	})
}

// Restore moves the table back to version.
func (t *Table) Restore(tok *CancellationToken, version int64, cb EmptyCallback) {
	t.mutate(tok, "restore", cb, func(ctx context.Context, base *engine.Snapshot) (*engine.Snapshot, error) {
		return t.rt.eng.Restore(ctx, base, version)
	})
}

// Protocol fetches the protocol in effect at version, checks that it can be
// read and makes it the protocol of the current snapshot. A negative version
// uses the newest one.
func (t *Table) Protocol(tok *CancellationToken, version int64, cb EmptyCallback) {
	t.mutate(tok, "protocol", cb, func(ctx context.Context, base *engine.Snapshot) (*engine.Snapshot, error) {
		p, err := t.rt.eng.Protocol(ctx, base, version)
		if err != nil {
			return nil, err
		}
		if err := p.Supported(); err != nil {
			return nil, err
		}
		return base.WithProtocol(p), nil
	})
}

// Schema delivers the table schema as an Arrow IPC stream. The buffer is
// borrowed: it is only valid until cb returns.
func (t *Table) Schema(tok *CancellationToken, cb BytesCallback) {
	work := func(ctx context.Context) ([]byte, error) {
		snap := t.snap.Load()
		schema, err := snap.Schema()
		if err != nil {
			return nil, err
		}
		var partitions []string
		if snap.Metadata != nil {
			partitions = snap.Metadata.PartitionColumns
		}
		return MarshalArrowSchema(schema, partitions)
	}
	submit(t.rt, opSpec{name: "schema", table: t, tok: tok}, work, nil, func(data []byte, env *Error) {
		if env != nil {
			cb(nil, env)
			return
		}
		b := t.rt.newBorrowed(data)
		defer b.reclaim()
		cb(b, nil)
	})
}

// Metadata delivers the metaData action of the current snapshot as JSON.
// The buffer must be freed with Runtime.FreeBytes.
func (t *Table) Metadata(tok *CancellationToken, cb BytesCallback) {
	work := func(ctx context.Context) ([]byte, error) {
		snap := t.snap.Load()
		if snap.Metadata == nil {
			return nil, engine.ErrNoMetadata
		}
		return snap.Metadata.MarshalJSON()
	}
	submit(t.rt, opSpec{name: "metadata", table: t, tok: tok}, work, nil, t.deliverBytes(cb))
}

// History delivers up to limit commit infos as JSON, newest first. A limit
// of 0 returns the whole history.
func (t *Table) History(tok *CancellationToken, limit int, cb ArrayCallback) {
	work := func(ctx context.Context) ([][]byte, error) {
		if limit < 0 {
			return nil, fmt.Errorf("%w: negative history limit %d", engine.ErrInvalidData, limit)
		}
		infos, err := t.rt.eng.History(ctx, t.snap.Load(), limit)
		if err != nil {
			return nil, err
		}
		out := make([][]byte, len(infos))
		for i := range infos {
			b, err := json.Marshal(&infos[i])
			if err != nil {
				return nil, fmt.Errorf("%w: %w", engine.ErrSerializeLogJSON, err)
			}
			out[i] = b
		}
		return out, nil
	}
	submit(t.rt, opSpec{name: "history", table: t, tok: tok}, work, nil, t.deliverArray(cb))
}

// VacuumOptions configures Vacuum.
type VacuumOptions struct {
	DryRun bool
	// RetentionHours overrides the table retention period when positive.
	RetentionHours           uint64
	EnforceRetentionDuration bool
	// CustomMetadata is recorded with the vacuum commit. The map is frozen by
	// the call.
	CustomMetadata *Map
}

// Vacuum deletes unreferenced data files older than the retention period and
// delivers their paths. With DryRun set it only lists them. The snapshot is
// not refreshed.
func (t *Table) Vacuum(tok *CancellationToken, opts VacuumOptions, cb ArrayCallback) {
	custom, freezeErr := opts.CustomMetadata.freeze()
	work := func(ctx context.Context) ([][]byte, error) {
		if freezeErr != nil {
			return nil, freezeErr
		}
		paths, err := t.rt.eng.Vacuum(ctx, t.snap.Load(), engine.VacuumRequest{
			DryRun:                   opts.DryRun,
			Retention:                time.Duration(opts.RetentionHours) * time.Hour,
			EnforceRetentionDuration: opts.EnforceRetentionDuration,
			CustomMetadata:           custom,
		})
		if err != nil {
			return nil, err
		}
		out := make([][]byte, len(paths))
		for i, p := range paths {
			out[i] = []byte(p)
		}
		return out, nil
	}
	submit(t.rt, opSpec{name: "vacuum", table: t, tok: tok}, work, nil, t.deliverArray(cb))
}

// Checkpoint writes a checkpoint for the current version. Failures other
// than cancellation are reported as Protocol errors unless the engine gave a
// more specific kind.
func (t *Table) Checkpoint(tok *CancellationToken, cb EmptyCallback) {
	work := func(ctx context.Context) (struct{}, error) {
		err := t.rt.eng.Checkpoint(ctx, t.snap.Load())
		if env := Classify(err); env != nil && env.Code == GenericError && !isCancelled(env) {
			return struct{}{}, &Error{Code: Protocol, Message: env.Message, cause: err}
		}
		return struct{}{}, err
	}
	submit(t.rt, opSpec{name: "checkpoint", table: t, tok: tok}, work, nil, func(_ struct{}, env *Error) {
		cb(env)
	})
}

func (t *Table) deliverBytes(cb BytesCallback) func([]byte, *Error) {
	return func(data []byte, env *Error) {
		if env != nil {
			cb(nil, env)
			return
		}
		cb(t.rt.newBytes(data), nil)
	}
}

func (t *Table) deliverArray(cb ArrayCallback) func([][]byte, *Error) {
	return func(items [][]byte, env *Error) {
		if env != nil {
			cb(nil, env)
			return
		}
		cb(t.rt.newArray(items), nil)
	}
}
