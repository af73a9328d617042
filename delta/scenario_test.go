package delta

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isar-aerospace/delta-dotnet/engine"
	"github.com/isar-aerospace/delta-dotnet/engine/memengine"
)

// routedRuntime serves memory:// tables through a scheme router, the way the
// C library is wired.
func routedRuntime(t *testing.T) (*Runtime, *memengine.Engine) {
	t.Helper()
	eng := memengine.New()
	require.NoError(t, eng.Seed("memory://orders", 8))
	router := engine.NewRouter()
	eng.Register(router)

	rt, err := NewRuntime(RuntimeOptions{MaxWorkers: 2, Engine: router, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt, eng
}

func TestScenarioOpenLatest(t *testing.T) {
	rt, eng := routedRuntime(t)

	tbl := openTable(t, rt, "memory://orders", TableOptions{Version: LatestVersion})
	head, err := eng.Head("memory://orders")
	require.NoError(t, err)
	require.Equal(t, head, tbl.Version())

	for _, uri := range []string{"gs://bucket/orders", "memory://", "::not a uri"} {
		got, env := await(t, func(cb func(*Table, *Error)) { rt.OpenTable(nil, uri, DefaultTableOptions(), cb) })
		require.Nil(t, got, uri)
		require.Contains(t, []ErrorCode{InvalidTableLocation, ObjectStore}, env.Code, uri)
	}
}

func TestScenarioTimeTravelAndRestore(t *testing.T) {
	rt, eng := routedRuntime(t)
	tbl := openTable(t, rt, "memory://orders", DefaultTableOptions())

	require.Nil(t, awaitErr(t, func(cb EmptyCallback) { tbl.LoadVersion(nil, 5, cb) }))
	require.Equal(t, int64(5), tbl.Version())

	require.Nil(t, awaitErr(t, func(cb EmptyCallback) { tbl.Restore(nil, 3, cb) }))
	require.Equal(t, int64(3), tbl.Version())
	head, err := eng.Head("memory://orders")
	require.NoError(t, err)
	require.Equal(t, int64(3), head)
}

func TestScenarioDryRunVacuum(t *testing.T) {
	rt, _ := routedRuntime(t)
	tbl := openTable(t, rt, "memory://orders", DefaultTableOptions())

	before, err := tbl.Files()
	require.NoError(t, err)

	arr, env := await(t, func(cb func(*DynamicArray, *Error)) {
		tbl.Vacuum(nil, VacuumOptions{DryRun: true, RetentionHours: 1}, cb)
	})
	require.Nil(t, env)
	require.NoError(t, rt.FreeArray(arr))

	after, err := tbl.Files()
	require.NoError(t, err)
	require.Equal(t, before.Strings(), after.Strings())
	require.NoError(t, rt.FreeArray(before))
	require.NoError(t, rt.FreeArray(after))
}
