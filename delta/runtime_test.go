package delta

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isar-aerospace/delta-dotnet/engine/memengine"
)

func TestNewRuntimeValidatesOptions(t *testing.T) {
	for _, opts := range []RuntimeOptions{
		{MaxWorkers: -1},
		{MaxOpsPerSecond: -5},
		{Burst: -1},
	} {
		rt, err := NewRuntime(opts)
		require.Nil(t, rt)
		var env *Error
		require.ErrorAs(t, err, &env)
		require.Equal(t, InvalidData, env.Code)
	}

	rt, err := NewRuntime(RuntimeOptions{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.NotEmpty(t, rt.ID())
	require.NoError(t, rt.Close())
}

func TestRuntimeCloseTwice(t *testing.T) {
	rt := newRuntime(t, memengine.New())
	require.NoError(t, rt.Close())
	require.ErrorIs(t, rt.Close(), ErrRuntimeClosed)
}

func TestRuntimeRejectsAfterClose(t *testing.T) {
	rt := newRuntime(t, seededEngine(t))
	require.NoError(t, rt.Close())

	tbl, err := await(t, func(cb func(*Table, *Error)) { rt.OpenTable(nil, testURI, DefaultTableOptions(), cb) })
	require.Nil(t, tbl)
	require.Equal(t, NotInitialized, err.Code)
	require.ErrorIs(t, err, ErrRuntimeClosed)
}

func TestRuntimeCloseWaitsForInFlight(t *testing.T) {
	g := newGate()
	rt := newRuntime(t, seededEngine(t, memengine.WithHook(g.hook)))

	g.block(memengine.OpLoad)
	results := make(chan *Error, 1)
	rt.OpenTable(nil, testURI, DefaultTableOptions(), func(_ *Table, err *Error) {
		results <- err
	})
	require.Eventually(t, func() bool { return g.count(memengine.OpLoad) == 1 }, waitTimeout, time.Millisecond)
	require.Equal(t, int64(1), rt.Stats().InFlight)

	closed := make(chan error, 1)
	go func() { closed <- rt.Close() }()

	select {
	case <-closed:
		t.Fatal("close returned while an operation was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	g.release(memengine.OpLoad)
	require.Nil(t, <-results, "accepted operations complete normally")
	require.NoError(t, <-closed)

	stats := rt.Stats()
	require.Zero(t, stats.InFlight)
	require.Zero(t, stats.OpenTables, "table opened during close is reclaimed")
}

func TestRuntimeCloseReclaimsOrphans(t *testing.T) {
	rt := newRuntime(t, seededEngine(t))
	tbl := openTable(t, rt, testURI, DefaultTableOptions())
	files, err := tbl.Files()
	require.NoError(t, err)
	rt.NewMap(1)
	rt.newBytes([]byte("leaked"))

	stats := rt.Stats()
	require.Equal(t, 1, stats.OpenTables)
	require.Equal(t, 3, stats.OutstandingAllocations)
	require.Positive(t, stats.AllocatedBytes)

	require.NoError(t, rt.Close())
	stats = rt.Stats()
	require.Zero(t, stats.OpenTables)
	require.Zero(t, stats.OutstandingAllocations)
	require.Zero(t, stats.AllocatedBytes)
	require.Equal(t, int64(-1), tbl.Version())
	require.ErrorIs(t, tbl.Close(), ErrTableClosed)
	require.Equal(t, testCommits, files.Len(), "reclaimed arrays are not mutated")
}

func TestRuntimesAreIndependent(t *testing.T) {
	eng := seededEngine(t)
	a := newRuntime(t, eng)
	b := newRuntime(t, eng)

	ta := openTable(t, a, testURI, DefaultTableOptions())
	tb := openTable(t, b, testURI, DefaultTableOptions())
	require.NoError(t, a.Close())

	require.Equal(t, int64(-1), ta.Version())
	require.Equal(t, int64(testCommits), tb.Version())
	err := awaitErr(t, func(cb EmptyCallback) { tb.UpdateIncremental(nil, cb) })
	require.Nil(t, err)
	require.NotEqual(t, a.ID(), b.ID())
}

func TestRuntimeRateLimit(t *testing.T) {
	rt, err := NewRuntime(RuntimeOptions{
		MaxWorkers:      1,
		MaxOpsPerSecond: 1000,
		Burst:           1,
		Engine:          seededEngine(t),
		Logger:          zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	defer rt.Close()

	tbl := openTable(t, rt, testURI, DefaultTableOptions())
	for v := int64(0); v <= testCommits; v++ {
		require.Nil(t, awaitErr(t, func(cb EmptyCallback) { tbl.LoadVersion(nil, v, cb) }))
		require.Equal(t, v, tbl.Version())
	}
}

func TestRuntimeCloseWaitsForRejectedCallbacks(t *testing.T) {
	rt := newRuntime(t, seededEngine(t))
	tbl := openTable(t, rt, testURI, DefaultTableOptions())
	require.NoError(t, tbl.Close())

	var code atomic.Int32
	code.Store(-1)
	tbl.Update(nil, LatestVersion, func(err *Error) {
		time.Sleep(50 * time.Millisecond)
		if err != nil {
			code.Store(int32(err.Code))
		}
	})
	var rejected atomic.Pointer[Error]
	rt.Reject("resolve", NewError(InvalidData, "unknown handle"), func(err *Error) {
		time.Sleep(50 * time.Millisecond)
		rejected.Store(err)
	})

	require.NoError(t, rt.Close())
	require.Equal(t, int32(NotInitialized), code.Load())
	require.NotNil(t, rejected.Load())
	require.Equal(t, InvalidData, rejected.Load().Code)

	err := awaitErr(t, func(cb EmptyCallback) { rt.Reject("resolve", NewError(InvalidData, "late"), cb) })
	require.Equal(t, NotInitialized, err.Code)
}
