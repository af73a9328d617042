package delta

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/isar-aerospace/delta-dotnet/engine"
)

// LatestVersion opens or updates a table to its newest version.
const LatestVersion = engine.LatestVersion

// TableOptions configures OpenTable.
type TableOptions struct {
	// Version to load. LatestVersion (or any negative value) loads the newest
	// one; 0 is a valid version.
	Version int64
	// StorageOptions are passed to the engine. The map is frozen by the call.
	StorageOptions *Map
	// WithoutFiles skips loading the file list; Files and FileURIs then fail
	// with NotInitialized.
	WithoutFiles bool
	// LogBufferSize is the number of commits the engine replays between
	// cancellation checks. 0 uses the engine default.
	LogBufferSize int
}

// DefaultTableOptions loads the newest version with files.
func DefaultTableOptions() TableOptions {
	return TableOptions{Version: LatestVersion}
}

// Callbacks receive either a result or an error, never both.
type (
	TableCallback func(*Table, *Error)
	EmptyCallback func(*Error)
	BytesCallback func(*ByteBuffer, *Error)
	ArrayCallback func(*DynamicArray, *Error)
)

// Table is an open table and its last synchronized snapshot.
//
// Reads see one whole snapshot. Operations that replace the snapshot run one
// at a time, in the order they were submitted: a mutation starts only after
// the callback of the previous one has returned.
type Table struct {
	rt   *Runtime
	id   uintptr
	uri  string
	opts TableOptions

	snap   atomic.Pointer[engine.Snapshot]
	closed atomic.Bool
	tok    atomic.Pointer[CancellationToken]

	mu   sync.Mutex
	tail chan struct{} // closed when the last queued mutation is done
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// OpenTable loads the table at uri and delivers the handle to cb.
func (r *Runtime) OpenTable(tok *CancellationToken, uri string, opts TableOptions, cb TableCallback) {
	// frozen before returning, so Add fails even while the load is queued
	storage, freezeErr := opts.StorageOptions.freeze()
	work := func(ctx context.Context) (*Table, error) {
		if !utf8.ValidString(uri) {
			return nil, fmt.Errorf("%w: table uri", engine.ErrUtf8)
		}
		if opts.LogBufferSize < 0 {
			return nil, fmt.Errorf("%w: negative log buffer size %d", engine.ErrInvalidData, opts.LogBufferSize)
		}
		if freezeErr != nil {
			return nil, freezeErr
		}
		snap, err := r.eng.Load(ctx, engine.LoadRequest{
			URI:            uri,
			Version:        opts.Version,
			StorageOptions: storage,
			WithoutFiles:   opts.WithoutFiles,
			LogBufferSize:  opts.LogBufferSize,
		})
		if err != nil {
			return nil, err
		}
		if err := snap.Protocol.Supported(); err != nil {
			return nil, err
		}
		t := &Table{rt: r, uri: uri, opts: opts, tail: closedChan}
		t.opts.StorageOptions = nil
		t.snap.Store(snap)
		return t, nil
	}
	apply := func(t *Table) {
		t.id = r.tables.Put(t)
		r.logger.Debug("table opened", zap.String("table", uri), zap.Int64("version", t.snap.Load().Version))
	}
	submit(r, opSpec{name: "open", tok: tok}, work, apply, cb)
}

// URI returns the location the table was opened with.
func (t *Table) URI() string {
	return t.uri
}

// Version returns the version of the current snapshot, or -1 once the table
// is closed.
func (t *Table) Version() int64 {
	if t.closed.Load() {
		return -1
	}
	return t.snap.Load().Version
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (t *Table) Snapshot() *engine.Snapshot {
	return t.snap.Load()
}

// Runtime returns the runtime the table was opened on.
func (t *Table) Runtime() *Runtime {
	return t.rt
}

// SetCancellationToken installs a token used by every operation on the
// table that is submitted without one. nil removes it.
func (t *Table) SetCancellationToken(tok *CancellationToken) {
	t.tok.Store(tok)
}

func (t *Table) token() *CancellationToken {
	return t.tok.Load()
}

// enqueue appends a mutation to the table's queue. The mutation may start
// once prev is closed and must close mine when it is done.
func (t *Table) enqueue() (prev, mine chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, mine = t.tail, make(chan struct{})
	t.tail = mine
	return prev, mine
}

// Close releases the table. Operations already submitted finish normally;
// later ones fail with NotInitialized.
func (t *Table) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return ErrTableClosed
	}
	t.rt.tables.Delete(t.id)
	return nil
}

func (t *Table) checkOpen() error {
	if t.closed.Load() {
		return &Error{Code: NotInitialized, Message: ErrTableClosed.Error(), cause: ErrTableClosed}
	}
	return nil
}

// Files lists the table-relative paths of the active files.
func (t *Table) Files() (*DynamicArray, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	paths, err := t.snap.Load().FilePaths()
	if err != nil {
		return nil, Classify(err)
	}
	return t.rt.newStringArray(paths), nil
}

// FileURIs lists the active files as absolute URIs.
func (t *Table) FileURIs() (*DynamicArray, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	uris, err := t.snap.Load().FileURIs()
	if err != nil {
		return nil, Classify(err)
	}
	return t.rt.newStringArray(uris), nil
}
