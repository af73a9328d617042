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

// session is the Go side of a Runtime handle. Payloads handed to C are
// recorded in its ledger so that frees can be checked against the runtime
// that produced them.
type session struct {
	rt     *delta.Runtime
	ledger *internal.Ledger
}

type tableRef struct {
	table *delta.Table
	sess  *session
}

type mapRef struct {
	m    *delta.Map
	sess *session
}

var (
	runtimes = internal.NewHandles[*session]()
	tables   = internal.NewHandles[*tableRef]()
	maps     = internal.NewHandles[*mapRef]()
	tokens   = internal.NewHandles[*delta.CancellationToken]()

	// cells records every handle cell by address, so a stale or foreign
	// pointer is rejected before its memory is read.
	cells = internal.NewLedger()
	// detached records payloads created without a usable runtime.
	detached = internal.NewLedger()
)

var errNullPointer = errors.New("null pointer")

func newCell(kind internal.Kind, id uintptr) unsafe.Pointer {
	p := C.malloc(C.size_t(unsafe.Sizeof(C.uintptr_t(0))))
	*(*C.uintptr_t)(p) = C.uintptr_t(id)
	cells.Track(uintptr(p), kind, 0)
	return p
}

// cellID reads the id stored in a live cell of the given kind.
func cellID(p unsafe.Pointer, kind internal.Kind) (uintptr, bool) {
	if p == nil {
		return 0, false
	}
	a, ok := cells.Lookup(uintptr(p))
	if !ok || a.Kind != kind {
		return 0, false
	}
	return uintptr(*(*C.uintptr_t)(p)), true
}

// freeCell releases a cell and returns the id it held.
func freeCell(p unsafe.Pointer, kind internal.Kind) (uintptr, error) {
	if p == nil {
		return 0, errNullPointer
	}
	if err := cells.Release(uintptr(p), kind); err != nil {
		return 0, err
	}
	id := uintptr(*(*C.uintptr_t)(p))
	C.free(p)
	return id, nil
}

func lookupSession(rt *C.Runtime) *session {
	id, ok := cellID(unsafe.Pointer(rt), internal.KindRuntime)
	if !ok {
		return nil
	}
	s, _ := runtimes.Get(id)
	return s
}

func lookupTable(t *C.RawDeltaTable) *tableRef {
	id, ok := cellID(unsafe.Pointer(t), internal.KindTable)
	if !ok {
		return nil
	}
	ref, _ := tables.Get(id)
	return ref
}

func lookupMap(m *C.Map) *mapRef {
	id, ok := cellID(unsafe.Pointer(m), internal.KindMap)
	if !ok {
		return nil
	}
	ref, _ := maps.Get(id)
	return ref
}

func lookupToken(t *C.CancellationToken) *delta.CancellationToken {
	id, ok := cellID(unsafe.Pointer(t), internal.KindToken)
	if !ok {
		return nil
	}
	tok, _ := tokens.Get(id)
	return tok
}

// ledgerOf returns the ledger payloads for s are recorded in.
func ledgerOf(s *session) *internal.Ledger {
	if s == nil {
		return detached
	}
	return s.ledger
}

func goBytes(ref *C.ByteArrayRef) []byte {
	if ref == nil || ref.data == nil || ref.size == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(ref.data), C.int(ref.size))
}

func fillByteArray(ba *C.ByteArray, data []byte, disableFree bool) {
	ba.data = nil
	if len(data) > 0 {
		ba.data = (*C.uint8_t)(C.CBytes(data))
	}
	ba.size = C.size_t(len(data))
	ba.cap = ba.size
	ba.disable_free = C.bool(disableFree)
}

// newByteArray copies data into C memory. Unless disableFree is set the
// caller owns the result and must return it with byte_array_free.
func newByteArray(s *session, data []byte, disableFree bool) *C.ByteArray {
	ba := (*C.ByteArray)(C.malloc(C.sizeof_ByteArray))
	fillByteArray(ba, data, disableFree)
	if !disableFree {
		ledgerOf(s).Track(uintptr(unsafe.Pointer(ba)), internal.KindBytes, len(data))
	}
	return ba
}

func releaseByteArray(ba *C.ByteArray) {
	C.free(unsafe.Pointer(ba.data))
	C.free(unsafe.Pointer(ba))
}

// newDynamicArray copies a delta array into C memory and frees the Go copy.
func newDynamicArray(s *session, arr *delta.DynamicArray) *C.DynamicArray {
	n := arr.Len()
	da := (*C.DynamicArray)(C.malloc(C.sizeof_DynamicArray))
	da.data = nil
	size := 0
	if n > 0 {
		items := unsafe.Slice((*C.ByteArray)(C.malloc(C.size_t(n)*C.sizeof_ByteArray)), n)
		for i := range items {
			b := arr.At(i).Bytes()
			fillByteArray(&items[i], b, false)
			size += len(b)
		}
		da.data = &items[0]
	}
	da.size = C.size_t(n)
	da.cap = da.size
	da.disable_free = false
	ledgerOf(s).Track(uintptr(unsafe.Pointer(da)), internal.KindArray, size)
	if err := s.rt.FreeArray(arr); err != nil {
		delta.Logger().Error("free go array", zap.Error(err))
	}
	return da
}

func releaseDynamicArray(da *C.DynamicArray) {
	if da.size > 0 {
		items := unsafe.Slice(da.data, int(da.size))
		for i := range items {
			C.free(unsafe.Pointer(items[i].data))
		}
		C.free(unsafe.Pointer(da.data))
	}
	C.free(unsafe.Pointer(da))
}

// newError converts an envelope into a DeltaTableError owned by the caller.
func newError(s *session, env *delta.Error) *C.DeltaTableError {
	e := (*C.DeltaTableError)(C.malloc(C.sizeof_DeltaTableError))
	e.code = C.DeltaTableErrorCode(env.Code)
	fillByteArray(&e.error, []byte(env.Message), false)
	ledgerOf(s).Track(uintptr(unsafe.Pointer(e)), internal.KindError, len(env.Message))
	return e
}

func releaseError(e *C.DeltaTableError) {
	C.free(unsafe.Pointer(e.error.data))
	C.free(unsafe.Pointer(e))
}

// releasePayload validates a free against the ledger of s. The pointer is
// only touched once the ledger confirmed it is live.
func releasePayload(s *session, p unsafe.Pointer, kind internal.Kind) bool {
	if p == nil {
		return false
	}
	l := ledgerOf(s)
	err := l.Release(uintptr(p), kind)
	if err != nil && s != nil && detached.Owns(uintptr(p)) {
		err = detached.Release(uintptr(p), kind)
	}
	if err != nil {
		delta.Logger().Error("invalid free", zap.String("kind", string(kind)), zap.Error(err))
		return false
	}
	return true
}
