package internal

import (
	"errors"
	"fmt"
	"sync"
)

// Kind names a class of bridge-owned allocation.
type Kind string

const (
	KindBytes Kind = "bytes"
	KindArray Kind = "array"
	KindMap   Kind = "map"
	KindTable Kind = "table"
	KindToken Kind = "token"
	// KindError and KindRuntime are used by the C library only.
	KindError   Kind = "error"
	KindRuntime Kind = "runtime"
)

var (
	ErrUnknownAllocation = errors.New("allocation is not owned by this runtime or was already released")
	ErrKindMismatch      = errors.New("allocation released through the wrong function")
)

// Allocation is one live entry of a Ledger.
type Allocation struct {
	Kind Kind
	Size int
}

// Ledger records values the bridge handed out and expects back exactly once.
// Keys must be comparable; pointers work well.
type Ledger struct {
	mu    sync.Mutex
	live  map[any]Allocation
	bytes int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{live: make(map[any]Allocation)}
}

// Track records key as a live allocation of size bytes.
func (l *Ledger) Track(key any, kind Kind, size int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.live[key]; ok {
		l.bytes -= int64(prev.Size)
		AllocatedBytes.Sub(float64(prev.Size))
	}
	l.live[key] = Allocation{Kind: kind, Size: size}
	l.bytes += int64(size)
	AllocatedBytes.Add(float64(size))
}

// Release removes key. Releasing an unknown key, or a key through the wrong
// kind, fails and leaves the ledger untouched.
func (l *Ledger) Release(key any, kind Kind) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.live[key]
	if !ok {
		InvalidFrees.WithLabelValues(string(kind)).Inc()
		return fmt.Errorf("%s: %w", kind, ErrUnknownAllocation)
	}
	if a.Kind != kind {
		InvalidFrees.WithLabelValues(string(kind)).Inc()
		return fmt.Errorf("%s released as %s: %w", a.Kind, kind, ErrKindMismatch)
	}
	delete(l.live, key)
	l.bytes -= int64(a.Size)
	AllocatedBytes.Sub(float64(a.Size))
	return nil
}

// Owns reports whether key is live.
func (l *Ledger) Owns(key any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.live[key]
	return ok
}

// Lookup returns the live allocation recorded for key.
func (l *Ledger) Lookup(key any) (Allocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.live[key]
	return a, ok
}

// Outstanding returns the number of live allocations.
func (l *Ledger) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// Bytes returns the total size of live allocations.
func (l *Ledger) Bytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}

// Drain forgets every live allocation and returns counts per kind.
func (l *Ledger) Drain() map[Kind]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Kind]int)
	for key, a := range l.live {
		out[a.Kind]++
		delete(l.live, key)
	}
	AllocatedBytes.Sub(float64(l.bytes))
	l.bytes = 0
	return out
}
