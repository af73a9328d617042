package delta

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/isar-aerospace/delta-dotnet/engine/memengine"
)

func TestCancellationToken(t *testing.T) {
	tok := NewCancellationToken()
	require.False(t, tok.Cancelled())

	tok.Cancel()
	tok.Cancel()
	require.True(t, tok.Cancelled())
	select {
	case <-tok.Done():
	default:
		t.Fatal("done channel not closed")
	}

	var none *CancellationToken
	none.Cancel()
	require.False(t, none.Cancelled())
	require.Nil(t, none.Done())
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	rt := newRuntime(t, seededEngine(t))
	tok := NewCancellationToken()

	var calls atomic.Int32
	done := make(chan *Error, 1)
	rt.OpenTable(tok, testURI, DefaultTableOptions(), func(_ *Table, err *Error) {
		calls.Add(1)
		done <- err
	})
	require.Nil(t, <-done)

	tok.Cancel()
	tok.Cancel()
	require.NoError(t, rt.Close())
	require.Equal(t, int32(1), calls.Load())
	require.Zero(t, rt.Stats().InFlight)
}

func TestCancelBeforeStart(t *testing.T) {
	rt := newRuntime(t, seededEngine(t))
	tok := NewCancellationToken()
	tok.Cancel()

	tbl, err := await(t, func(cb func(*Table, *Error)) { rt.OpenTable(tok, testURI, DefaultTableOptions(), cb) })
	require.Nil(t, tbl)
	require.NotNil(t, err)
	require.Equal(t, GenericError, err.Code)
	require.ErrorIs(t, err, ErrCancelled)
	require.Zero(t, rt.Stats().OpenTables)
}

func TestCancelDuringEngineWork(t *testing.T) {
	g := newGate()
	eng := seededEngine(t, memengine.WithHook(g.hook))
	rt := newRuntime(t, eng)
	tbl := openTable(t, rt, testURI, TableOptions{Version: 2})

	g.block(memengine.OpUpdate)
	tok := NewCancellationToken()
	errCh := make(chan *Error, 1)
	tbl.UpdateIncremental(tok, func(err *Error) { errCh <- err })

	require.Eventually(t, func() bool { return g.count(memengine.OpUpdate) == 1 }, waitTimeout, time.Millisecond)
	tok.Cancel()

	err := <-errCh
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, int64(2), tbl.Version(), "cancelled mutation must not apply")
}
