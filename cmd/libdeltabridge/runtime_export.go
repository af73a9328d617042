package main

/*
#include "bridge.h"
*/
import "C"

import (
	"errors"
	"unsafe"

	"go.uber.org/zap"

	"github.com/isar-aerospace/delta-dotnet/delta"
	"github.com/isar-aerospace/delta-dotnet/internal"
)

//export runtime_new
func runtime_new(options *C.RuntimeOptions) C.RuntimeOrFail {
	opts := delta.RuntimeOptions{}
	if options != nil {
		opts.MaxWorkers = int(options.max_workers)
	}
	rt, err := delta.NewRuntime(opts)
	if err != nil {
		// The caller frees fail through the returned runtime cell, which
		// is not bound to a runtime.
		return C.RuntimeOrFail{
			runtime: (*C.Runtime)(newCell(internal.KindRuntime, 0)),
			fail:    newByteArray(nil, []byte(err.Error()), false),
		}
	}
	id := runtimes.Put(&session{rt: rt, ledger: internal.NewLedger()})
	return C.RuntimeOrFail{runtime: (*C.Runtime)(newCell(internal.KindRuntime, id))}
}

// runtime_free blocks until every callback of the runtime has returned. It
// must not be called from a callback.
//
//export runtime_free
func runtime_free(runtime *C.Runtime) {
	id, err := freeCell(unsafe.Pointer(runtime), internal.KindRuntime)
	if err != nil {
		delta.Logger().Error("invalid runtime free", zap.Error(err))
		return
	}
	s, ok := runtimes.Delete(id)
	if !ok {
		return
	}
	for tid, ref := range tables.Snapshot() {
		if ref.sess == s {
			tables.Delete(tid)
		}
	}
	for mid, ref := range maps.Snapshot() {
		if ref.sess == s {
			maps.Delete(mid)
		}
	}
	if err := s.rt.Close(); err != nil {
		delta.Logger().Warn("runtime closed with errors", zap.String("runtime", s.rt.ID()), zap.Error(err))
	}
	if orphans := s.ledger.Drain(); len(orphans) > 0 {
		fields := make([]zap.Field, 0, len(orphans))
		for kind, n := range orphans {
			fields = append(fields, zap.Int(string(kind), n))
		}
		delta.Logger().Warn("runtime freed with outstanding c allocations", fields...)
	}
}

//export error_free
func error_free(runtime *C.Runtime, err *C.DeltaTableError) {
	if releasePayload(lookupSession(runtime), unsafe.Pointer(err), internal.KindError) {
		releaseError(err)
	}
}

//export byte_array_free
func byte_array_free(runtime *C.Runtime, bytes *C.ByteArray) {
	if releasePayload(lookupSession(runtime), unsafe.Pointer(bytes), internal.KindBytes) {
		releaseByteArray(bytes)
	}
}

//export dynamic_array_free
func dynamic_array_free(runtime *C.Runtime, array *C.DynamicArray) {
	if releasePayload(lookupSession(runtime), unsafe.Pointer(array), internal.KindArray) {
		releaseDynamicArray(array)
	}
}

//export map_new
func map_new(runtime *C.Runtime, capacity C.uintptr_t) *C.Map {
	s := lookupSession(runtime)
	if s == nil {
		delta.Logger().Error("map_new: unknown runtime")
		return nil
	}
	id := maps.Put(&mapRef{m: s.rt.NewMap(int(min(capacity, delta.MaxMapEntries))), sess: s})
	return (*C.Map)(newCell(internal.KindMap, id))
}

//export map_add
func map_add(m *C.Map, key, value *C.ByteArrayRef) C.bool {
	ref := lookupMap(m)
	if ref == nil || key == nil {
		return false
	}
	return C.bool(ref.m.Add(goBytes(key), goBytes(value)))
}

//export map_free
func map_free(_ *C.Runtime, m *C.Map) {
	id, err := freeCell(unsafe.Pointer(m), internal.KindMap)
	if err != nil {
		delta.Logger().Error("invalid map free", zap.Error(err))
		return
	}
	ref, ok := maps.Delete(id)
	if !ok {
		return
	}
	if err := ref.sess.rt.FreeMap(ref.m); err != nil && !errors.Is(err, delta.ErrDoubleFree) {
		delta.Logger().Error("free map", zap.Error(err))
	}
}

//export cancellation_token_new
func cancellation_token_new() *C.CancellationToken {
	id := tokens.Put(delta.NewCancellationToken())
	return (*C.CancellationToken)(newCell(internal.KindToken, id))
}

//export cancellation_token_cancel
func cancellation_token_cancel(token *C.CancellationToken) {
	lookupToken(token).Cancel()
}

//export cancellation_token_free
func cancellation_token_free(token *C.CancellationToken) {
	id, err := freeCell(unsafe.Pointer(token), internal.KindToken)
	if err != nil {
		delta.Logger().Error("invalid cancellation token free", zap.Error(err))
		return
	}
	tokens.Delete(id)
}

// memory_table_seed creates the memory:// table at uri with commits append
// commits of sample data. It returns NULL on success.
//
//export memory_table_seed
func memory_table_seed(runtime *C.Runtime, uri *C.ByteArrayRef, commits C.uint32_t) *C.DeltaTableError {
	s := lookupSession(runtime)
	if err := memory.Seed(string(goBytes(uri)), int(commits)); err != nil {
		return newError(s, delta.Classify(err))
	}
	return nil
}
