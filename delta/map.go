package delta

import (
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	"github.com/isar-aerospace/delta-dotnet/engine"
	"github.com/isar-aerospace/delta-dotnet/internal"
)

// MaxMapEntries is the hard limit on the number of entries of a Map.
const MaxMapEntries = 65536

// Map is a key/value dictionary built by the caller and passed to engine
// calls as configuration. Keys are unique; Add never overwrites. A Map is
// frozen once an operation has consumed it.
//
// Map is not safe for concurrent mutation.
type Map struct {
	entries map[string][]byte
	frozen  atomic.Bool
	freed   atomic.Bool
}

// NewMap allocates a map sized for capacityHint entries.
func (r *Runtime) NewMap(capacityHint int) *Map {
	capacityHint = max(0, min(capacityHint, MaxMapEntries))
	m := &Map{entries: make(map[string][]byte, capacityHint)}
	r.ledger.Track(m, internal.KindMap, 0)
	return m
}

// Add inserts key and value. It returns false if the key already exists, the
// map is full, frozen or freed.
func (m *Map) Add(key, value []byte) bool {
	if m.frozen.Load() || m.freed.Load() {
		return false
	}
	if _, ok := m.entries[string(key)]; ok {
		return false
	}
	if len(m.entries) >= MaxMapEntries {
		return false
	}
	m.entries[string(key)] = append([]byte(nil), value...)
	return true
}

// AddString is Add for string keys and values.
func (m *Map) AddString(key, value string) bool {
	return m.Add([]byte(key), []byte(value))
}

// Get returns the value stored under key.
func (m *Map) Get(key string) ([]byte, bool) {
	v, ok := m.entries[key]
	return v, ok
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.entries)
}

// Frozen reports whether an operation has consumed the map.
func (m *Map) Frozen() bool {
	return m.frozen.Load()
}

// ToStringMap copies the entries into a Go map.
func (m *Map) ToStringMap() map[string]string {
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = string(v)
	}
	return out
}

// freeze marks the map read-only and returns its entries for an engine call.
// Entries must be valid UTF-8.
func (m *Map) freeze() (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	if m.freed.Load() {
		return nil, fmt.Errorf("%w: map was freed", engine.ErrInvalidData)
	}
	m.frozen.Store(true)
	for k, v := range m.entries {
		if !utf8.ValidString(k) || !utf8.Valid(v) {
			return nil, fmt.Errorf("%w: map entry %q is not valid utf-8", engine.ErrUtf8, k)
		}
	}
	return m.ToStringMap(), nil
}

// FreeMap releases m.
func (r *Runtime) FreeMap(m *Map) error {
	if m == nil {
		return nil
	}
	if err := r.release(m, internal.KindMap, m.freed.Load()); err != nil {
		return r.invalidFree("map", err)
	}
	m.freed.Store(true)
	return nil
}
