package delta

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/isar-aerospace/delta-dotnet/internal"
)

// Ownership records which side is responsible for releasing a buffer.
type Ownership uint8

const (
	// OwnedByBridge buffers are allocated by a Runtime and must be released
	// exactly once through Runtime.FreeBytes or Runtime.FreeArray.
	OwnedByBridge Ownership = iota
	// OwnedByCaller buffers wrap caller memory. The bridge never frees them.
	OwnedByCaller
	// Borrowed buffers are only valid until the callback that delivered them
	// returns. The bridge reclaims them afterwards and they must not be freed.
	Borrowed
)

func (o Ownership) String() string {
	switch o {
	case OwnedByBridge:
		return "bridge"
	case OwnedByCaller:
		return "caller"
	case Borrowed:
		return "borrowed"
	default:
		return "unknown"
	}
}

// ByteBuffer is an ownership-tagged byte region moved across the boundary.
type ByteBuffer struct {
	data      []byte
	ownership Ownership
	// element buffers belong to a DynamicArray
	element  bool
	released atomic.Bool
}

// BorrowBytes wraps caller memory without copying it.
func BorrowBytes(data []byte) *ByteBuffer {
	return &ByteBuffer{data: data, ownership: OwnedByCaller}
}

// Bytes returns the contents, or nil once the buffer was released.
func (b *ByteBuffer) Bytes() []byte {
	if b == nil || b.released.Load() {
		return nil
	}
	return b.data
}

func (b *ByteBuffer) String() string {
	return string(b.Bytes())
}

func (b *ByteBuffer) Len() int {
	return len(b.Bytes())
}

func (b *ByteBuffer) Cap() int {
	return cap(b.Bytes())
}

func (b *ByteBuffer) Ownership() Ownership {
	return b.ownership
}

// OwnedByCaller reports the owned_by_caller flag of the C representation.
func (b *ByteBuffer) OwnedByCaller() bool {
	return b.ownership == OwnedByCaller
}

// DisableFree reports the disable_free flag of the C representation.
func (b *ByteBuffer) DisableFree() bool {
	return b.ownership == Borrowed
}

// Released reports whether the buffer was freed or reclaimed.
func (b *ByteBuffer) Released() bool {
	return b.released.Load()
}

// reclaim ends the lifetime of a borrowed buffer.
func (b *ByteBuffer) reclaim() {
	if b != nil && b.ownership == Borrowed {
		b.released.Store(true)
	}
}

// DynamicArray is an ordered list of buffers produced by one operation.
type DynamicArray struct {
	items    []*ByteBuffer
	released atomic.Bool
}

// Len returns the number of elements, or 0 once the array was freed.
func (a *DynamicArray) Len() int {
	if a == nil || a.released.Load() {
		return 0
	}
	return len(a.items)
}

// At returns element i. It panics if i is out of range.
func (a *DynamicArray) At(i int) *ByteBuffer {
	return a.items[i]
}

// Strings returns the elements as strings.
func (a *DynamicArray) Strings() []string {
	out := make([]string, a.Len())
	for i := range out {
		out[i] = a.items[i].String()
	}
	return out
}

func (a *DynamicArray) Released() bool {
	return a.released.Load()
}

func (r *Runtime) newBytes(data []byte) *ByteBuffer {
	b := &ByteBuffer{data: data, ownership: OwnedByBridge}
	r.ledger.Track(b, internal.KindBytes, len(data))
	return b
}

func (r *Runtime) newBorrowed(data []byte) *ByteBuffer {
	return &ByteBuffer{data: data, ownership: Borrowed}
}

func (r *Runtime) newArray(items [][]byte) *DynamicArray {
	a := &DynamicArray{items: make([]*ByteBuffer, len(items))}
	size := 0
	for i, data := range items {
		a.items[i] = &ByteBuffer{data: data, ownership: OwnedByBridge, element: true}
		size += len(data)
	}
	r.ledger.Track(a, internal.KindArray, size)
	return a
}

func (r *Runtime) newStringArray(items []string) *DynamicArray {
	raw := make([][]byte, len(items))
	for i, s := range items {
		raw[i] = []byte(s)
	}
	return r.newArray(raw)
}

// FreeBytes releases a buffer the runtime handed out. Every misuse is
// reported: freeing twice, freeing caller memory, freeing a borrowed buffer,
// freeing an array element on its own or freeing through another runtime.
func (r *Runtime) FreeBytes(b *ByteBuffer) error {
	if b == nil {
		return nil
	}
	var err error
	switch {
	case b.ownership == OwnedByCaller:
		err = ErrWrongAllocator
	case b.ownership == Borrowed:
		err = ErrBorrowedBuffer
	case b.element:
		err = ErrArrayElement
	default:
		err = r.release(b, internal.KindBytes, b.released.Load())
	}
	if err != nil {
		return r.invalidFree("bytes", err)
	}
	b.released.Store(true)
	return nil
}

// FreeArray releases an array and all of its elements.
func (r *Runtime) FreeArray(a *DynamicArray) error {
	if a == nil {
		return nil
	}
	if err := r.release(a, internal.KindArray, a.released.Load()); err != nil {
		return r.invalidFree("array", err)
	}
	a.released.Store(true)
	for _, b := range a.items {
		b.released.Store(true)
	}
	return nil
}

func (r *Runtime) release(key any, kind internal.Kind, released bool) error {
	err := r.ledger.Release(key, kind)
	switch {
	case err == nil:
		return nil
	case released:
		return ErrDoubleFree
	case errors.Is(err, internal.ErrUnknownAllocation):
		return ErrWrongAllocator
	default:
		return err
	}
}

func (r *Runtime) invalidFree(kind string, err error) error {
	r.logger.Error("invalid free", zap.String("kind", kind), zap.String("runtime", r.id), zap.Error(err))
	return err
}
