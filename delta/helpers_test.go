package delta

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isar-aerospace/delta-dotnet/engine/memengine"
)

const (
	testURI     = "memory://events"
	testCommits = 6
	waitTimeout = 5 * time.Second
)

func newRuntime(t *testing.T, eng *memengine.Engine) *Runtime {
	t.Helper()
	rt, err := NewRuntime(RuntimeOptions{
		MaxWorkers: 4,
		Engine:     eng,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := rt.Close(); err != nil && err != ErrRuntimeClosed {
			t.Errorf("close runtime: %v", err)
		}
	})
	return rt
}

func seededEngine(t *testing.T, opts ...memengine.Option) *memengine.Engine {
	t.Helper()
	eng := memengine.New(opts...)
	require.NoError(t, eng.Seed(testURI, testCommits))
	return eng
}

// await starts an operation and waits for its callback.
func await[T any](t *testing.T, start func(cb func(T, *Error))) (T, *Error) {
	t.Helper()
	type result struct {
		v   T
		err *Error
	}
	ch := make(chan result, 1)
	start(func(v T, err *Error) { ch <- result{v, err} })
	select {
	case res := <-ch:
		return res.v, res.err
	case <-time.After(waitTimeout):
		t.Fatal("callback did not fire")
		panic("unreachable")
	}
}

func awaitErr(t *testing.T, start func(cb EmptyCallback)) *Error {
	t.Helper()
	_, err := await(t, func(cb func(struct{}, *Error)) {
		start(func(err *Error) { cb(struct{}{}, err) })
	})
	return err
}

func openTable(t *testing.T, rt *Runtime, uri string, opts TableOptions) *Table {
	t.Helper()
	tbl, err := await(t, func(cb func(*Table, *Error)) { rt.OpenTable(nil, uri, opts, cb) })
	require.Nil(t, err)
	require.NotNil(t, tbl)
	return tbl
}

// gate lets tests hold engine operations at their start.
type gate struct {
	mu      sync.Mutex
	blocked map[string]chan struct{}
	started []string
}

func newGate() *gate {
	return &gate{blocked: make(map[string]chan struct{})}
}

func (g *gate) hook(ctx context.Context, op, _ string) error {
	g.mu.Lock()
	g.started = append(g.started, op)
	ch := g.blocked[op]
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) block(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[op] = make(chan struct{})
}

func (g *gate) release(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.blocked[op]; ok {
		close(ch)
		delete(g.blocked, op)
	}
}

func (g *gate) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, s := range g.started {
		if s == op {
			n++
		}
	}
	return n
}
