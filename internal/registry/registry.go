// Package registry provides the generic keyed lookup tables netsync.Host
// keeps for peers and synchronized objects. It is adapted from the
// teacher's pkg/syncmap.Map[K,V]: same Put/Get/Delete shape, but with the
// sync.RWMutex dropped. Every registry here is touched only from the
// host's own tick goroutine and the fan-out goroutines it joins before
// returning control (spec.md §5: the core never exposes its state to a
// caller-owned goroutine), so a lock would guard against a race that
// cannot occur.
package registry

// Map is an insertion-ordered keyed table of V by K.
type Map[K comparable, V any] struct {
	data  map[K]V
	order []K
}

// New constructs an empty Map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{data: make(map[K]V)}
}

// Put stores val under key, appending key to iteration order on first
// insertion.
func (m *Map[K, V]) Put(key K, val V) {
	if _, exists := m.data[key]; !exists {
		m.order = append(m.order, key)
	}
	m.data[key] = val
}

// Get returns the value stored under key, if any.
func (m *Map[K, V]) Get(key K) (V, bool) {
	val, ok := m.data[key]
	return val, ok
}

// Delete removes keys, if present.
func (m *Map[K, V]) Delete(keys ...K) {
	for _, key := range keys {
		if _, ok := m.data[key]; !ok {
			continue
		}
		delete(m.data, key)
		for i, k := range m.order {
			if k == key {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

// Len reports the number of entries.
func (m *Map[K, V]) Len() int {
	return len(m.data)
}

// Range calls fn for each entry in insertion order, stopping early if fn
// returns false.
func (m *Map[K, V]) Range(fn func(key K, val V) bool) {
	for _, k := range m.order {
		v, ok := m.data[k]
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

// Keys returns a snapshot of the current keys in insertion order.
func (m *Map[K, V]) Keys() []K {
	out := make([]K, len(m.order))
	copy(out, m.order)
	return out
}
