package delta

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/isar-aerospace/delta-dotnet/engine/memengine"
)

func TestCallbackFiresExactlyOnce(t *testing.T) {
	rt := newRuntime(t, seededEngine(t))
	tbl := openTable(t, rt, testURI, DefaultTableOptions())

	cancelled := NewCancellationToken()
	cancelled.Cancel()

	const rounds = 50
	var (
		wg    sync.WaitGroup
		calls [rounds * 4]atomic.Int32
		codes sync.Map
	)
	track := func(i int) EmptyCallback {
		wg.Add(1)
		return func(err *Error) {
			if calls[i].Add(1) == 1 {
				wg.Done()
			}
			if err != nil {
				codes.Store(i, err.Code)
			}
		}
	}
	for r := 0; r < rounds; r++ {
		i := r * 4
		tbl.LoadVersion(nil, int64(r%testCommits), track(i))
		tbl.LoadVersion(nil, 1000, track(i+1))
		tbl.UpdateIncremental(cancelled, track(i+2))
		tbl.Checkpoint(nil, track(i+3))
	}
	wg.Wait()
	require.NoError(t, rt.Close())

	for i := range calls {
		require.Equal(t, int32(1), calls[i].Load(), "callback %d", i)
		code, failed := codes.Load(i)
		switch i % 4 {
		case 0, 3:
			require.False(t, failed, "callback %d failed with %v", i, code)
		case 1:
			require.Equal(t, InvalidVersion, code)
		case 2:
			require.Equal(t, GenericError, code)
		}
	}
}

func TestCallbackIsNeverInline(t *testing.T) {
	g := newGate()
	rt := newRuntime(t, seededEngine(t, memengine.WithHook(g.hook)))
	tbl := openTable(t, rt, testURI, DefaultTableOptions())

	g.block(memengine.OpHistory)
	fired := make(chan *DynamicArray, 1)
	tbl.History(nil, 1, func(a *DynamicArray, _ *Error) { fired <- a })

	select {
	case <-fired:
		t.Fatal("callback fired before the operation ran")
	default:
	}
	g.release(memengine.OpHistory)
	select {
	case a := <-fired:
		require.Equal(t, 1, a.Len())
		require.NoError(t, rt.FreeArray(a))
	case <-time.After(waitTimeout):
		t.Fatal("callback did not fire")
	}
}

func TestPanicInOperationIsReported(t *testing.T) {
	hook := func(_ context.Context, op, _ string) error {
		if op == memengine.OpHistory {
			panic("boom")
		}
		return nil
	}
	rt := newRuntime(t, seededEngine(t, memengine.WithHook(hook)))
	tbl := openTable(t, rt, testURI, DefaultTableOptions())

	arr, err := await(t, func(cb func(*DynamicArray, *Error)) { tbl.History(nil, 0, cb) })
	require.Nil(t, arr)
	require.Equal(t, Generic, err.Code)
	require.Equal(t, "panic: boom", err.Message)

	// the runtime keeps serving
	require.Nil(t, awaitErr(t, func(cb EmptyCallback) { tbl.LoadVersion(nil, 1, cb) }))
	require.NoError(t, rt.Close())
}

func TestPanickingCallbackIsContained(t *testing.T) {
	rt := newRuntime(t, seededEngine(t))
	tbl := openTable(t, rt, testURI, DefaultTableOptions())

	returned := make(chan struct{})
	tbl.UpdateIncremental(nil, func(*Error) {
		close(returned)
		panic("caller bug")
	})
	<-returned

	// the next mutation still runs after the panicking callback
	require.Nil(t, awaitErr(t, func(cb EmptyCallback) { tbl.LoadVersion(nil, 2, cb) }))
	require.Equal(t, int64(2), tbl.Version())
	require.NoError(t, rt.Close())
}

func TestRejectedOperationsFireAsynchronously(t *testing.T) {
	rt := newRuntime(t, seededEngine(t))
	tbl := openTable(t, rt, testURI, DefaultTableOptions())
	require.NoError(t, tbl.Close())

	var mu sync.Mutex
	mu.Lock()
	type result struct {
		b   *ByteBuffer
		err *Error
	}
	resCh := make(chan result, 1)
	tbl.Metadata(nil, func(b *ByteBuffer, err *Error) {
		// an inline call would deadlock here
		mu.Lock()
		defer mu.Unlock()
		resCh <- result{b, err}
	})
	mu.Unlock()

	res := <-resCh
	require.Nil(t, res.b)
	err := res.err
	require.Equal(t, NotInitialized, err.Code)
	require.ErrorIs(t, err, ErrTableClosed)
}

func TestNilCallbackPanics(t *testing.T) {
	rt := newRuntime(t, seededEngine(t))
	require.Panics(t, func() { rt.OpenTable(nil, testURI, DefaultTableOptions(), nil) })
	require.Zero(t, rt.Stats().InFlight)
}

func TestTableTokenAppliesToOperations(t *testing.T) {
	g := newGate()
	rt := newRuntime(t, seededEngine(t, memengine.WithHook(g.hook)))
	tbl := openTable(t, rt, testURI, TableOptions{Version: 1})

	tok := NewCancellationToken()
	tbl.SetCancellationToken(tok)
	g.block(memengine.OpUpdate)
	errCh := make(chan *Error, 1)
	tbl.UpdateIncremental(nil, func(err *Error) { errCh <- err })

	require.Eventually(t, func() bool { return g.count(memengine.OpUpdate) == 1 }, waitTimeout, time.Millisecond)
	tok.Cancel()
	require.ErrorIs(t, <-errCh, ErrCancelled)
	require.Equal(t, int64(1), tbl.Version())

	tbl.SetCancellationToken(nil)
	g.release(memengine.OpUpdate)
	require.Nil(t, awaitErr(t, func(cb EmptyCallback) { tbl.UpdateIncremental(nil, cb) }))
	require.Equal(t, int64(testCommits), tbl.Version())
}
