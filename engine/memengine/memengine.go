// Package memengine is an in-process table engine that keeps a Delta-style
// commit log in memory. It backs the "memory://" scheme of the C library and
// the examples, and gives tests full control over table history.
package memengine

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isar-aerospace/delta-dotnet/engine"
)

// Scheme is the URI scheme served by this engine.
const Scheme = "memory"

// DefaultRetention is the vacuum retention period and the minimum enforced
// one, matching Delta's deletedFileRetentionDuration default.
const DefaultRetention = 168 * time.Hour

const defaultLogBufferSize = 10

// Operation names passed to a Hook.
const (
	OpLoad       = "load"
	OpUpdate     = "update"
	OpHistory    = "history"
	OpRestore    = "restore"
	OpProtocol   = "protocol"
	OpVacuum     = "vacuum"
	OpCheckpoint = "checkpoint"
)

// Hook runs at the start of every engine operation. A non-nil error aborts
// the operation with that error.
type Hook func(ctx context.Context, op, uri string) error

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for commit timestamps and vacuum.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHook installs h.
func WithHook(h Hook) Option {
	return func(e *Engine) { e.hook = h }
}

// Commit describes one commit appended with Engine.Commit.
type Commit struct {
	Operation           string
	OperationParameters map[string]string
	Add                 []engine.File
	Remove              []string
	Metadata            *engine.Metadata
	Protocol            *engine.Protocol
	// Timestamp defaults to the engine clock.
	Timestamp time.Time
}

type commit struct {
	version   int64
	timestamp int64
	info      engine.CommitInfo
	add       []engine.File
	remove    []string
	metadata  *engine.Metadata
	protocol  *engine.Protocol
}

type table struct {
	// commits[i].version == i
	commits []commit
	// physically present data files and when they became unreferenced
	objects     map[string]struct{}
	tombstones  map[string]int64
	checkpoints []int64
}

// Engine implements engine.Engine. It is safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	tables map[string]*table
	now    func() time.Time
	hook   Hook
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		tables: make(map[string]*table),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds the engine to the memory scheme of r.
func (e *Engine) Register(r *engine.Router) {
	r.Register(Scheme, e)
}

func tableKey(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", engine.ErrInvalidTableLocation, uri, err)
	}
	if u.Scheme != Scheme {
		return "", fmt.Errorf("%w: %q is not a %s:// uri", engine.ErrInvalidTableLocation, uri, Scheme)
	}
	key := strings.Trim(u.Host+u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("%w: %q has no table name", engine.ErrInvalidTableLocation, uri)
	}
	return key, nil
}

func (e *Engine) runHook(ctx context.Context, op, uri string) error {
	if e.hook == nil {
		return nil
	}
	return e.hook(ctx, op, uri)
}

// lookup returns the table and a copy of its commit slice header. Commits are
// never modified in place, so the copy can be replayed without the lock.
func (e *Engine) lookup(uri string) (*table, []commit, error) {
	key, err := tableKey(uri)
	if err != nil {
		return nil, nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no log found at %s", engine.ErrNotATable, uri)
	}
	return t, t.commits, nil
}

// CreateTable writes version 0 of a new table.
func (e *Engine) CreateTable(uri string, md engine.Metadata, proto engine.Protocol) error {
	key, err := tableKey(uri)
	if err != nil {
		return err
	}
	if err := proto.Supported(); err != nil {
		return err
	}
	if md.ID == "" {
		md.ID = uuid.NewString()
	}
	if md.Format.Provider == "" {
		md.Format.Provider = "parquet"
	}
	now := e.now()
	if md.CreatedTime == 0 {
		md.CreatedTime = now.UnixMilli()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[key]; ok {
		return fmt.Errorf("%w: table %s already exists", engine.ErrVersionAlreadyExists, uri)
	}
	e.tables[key] = &table{
		commits: []commit{{
			version:   0,
			timestamp: now.UnixMilli(),
			info: engine.CommitInfo{
				Operation:     "CREATE TABLE",
				Timestamp:     now.UnixMilli(),
				IsBlindAppend: true,
			},
			metadata: &md,
			protocol: &proto,
		}},
		objects:    make(map[string]struct{}),
		tombstones: make(map[string]int64),
	}
	return nil
}

// Commit appends c to the log of the table and returns the new version.
func (e *Engine) Commit(uri string, c Commit) (int64, error) {
	return e.commit(uri, -1, c)
}

// CommitAt appends c as exactly version, failing with
// engine.ErrVersionAlreadyExists if another commit got there first.
func (e *Engine) CommitAt(uri string, version int64, c Commit) error {
	_, err := e.commit(uri, version, c)
	return err
}

func (e *Engine) commit(uri string, want int64, c Commit) (int64, error) {
	key, err := tableKey(uri)
	if err != nil {
		return 0, err
	}
	for _, f := range c.Add {
		if f.Path == "" {
			return 0, fmt.Errorf("%w: add action without a path", engine.ErrInvalidData)
		}
	}
	if c.Protocol != nil {
		if err := c.Protocol.Supported(); err != nil {
			return 0, err
		}
	}
	ts := c.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tables[key]
	if !ok {
		return 0, fmt.Errorf("%w: no log found at %s", engine.ErrNotATable, uri)
	}
	version := int64(len(t.commits))
	if want >= 0 && want != version {
		return 0, fmt.Errorf("%w: version %d (head is %d)", engine.ErrVersionAlreadyExists, want, version-1)
	}
	readVersion := version - 1
	op := c.Operation
	if op == "" {
		op = "WRITE"
	}
	t.commits = append(t.commits, commit{
		version:   version,
		timestamp: ts.UnixMilli(),
		info: engine.CommitInfo{
			Operation:           op,
			OperationParameters: c.OperationParameters,
			Timestamp:           ts.UnixMilli(),
			ReadVersion:         &readVersion,
			IsBlindAppend:       len(c.Remove) == 0,
		},
		add:      slices.Clone(c.Add),
		remove:   slices.Clone(c.Remove),
		metadata: c.Metadata,
		protocol: c.Protocol,
	})
	for _, f := range c.Add {
		t.objects[f.Path] = struct{}{}
		delete(t.tombstones, f.Path)
	}
	for _, p := range c.Remove {
		t.tombstones[p] = ts.UnixMilli()
	}
	return version, nil
}

// Head returns the newest version of the table.
func (e *Engine) Head(uri string) (int64, error) {
	_, commits, err := e.lookup(uri)
	if err != nil {
		return 0, err
	}
	return int64(len(commits)) - 1, nil
}

// Objects lists the data files physically present for the table.
func (e *Engine) Objects(uri string) ([]string, error) {
	t, _, err := e.lookup(uri)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(t.objects))
	for p := range t.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// LastCheckpoint returns the newest checkpointed version.
func (e *Engine) LastCheckpoint(uri string) (int64, bool) {
	t, _, err := e.lookup(uri)
	if err != nil {
		return 0, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(t.checkpoints) == 0 {
		return 0, false
	}
	return t.checkpoints[len(t.checkpoints)-1], true
}
