package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/andewx/dieselframe/gpu"
)

// table hands out opaque gpu handles for driver objects. Handles are never reused, so a stale
// handle fails the lookup instead of aliasing a newer object.
type table[H ~uint64, V any] struct {
	name  string
	mu    sync.RWMutex
	next  H
	items map[H]V
}

func newTable[H ~uint64, V any](name string) *table[H, V] {
	return &table[H, V]{name: name, items: make(map[H]V)}
}

func (t *table[H, V]) add(v V) H {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.items[t.next] = v
	return t.next
}

func (t *table[H, V]) get(h H) (V, error) {
	t.mu.RLock()
	v, ok := t.items[h]
	t.mu.RUnlock()
	if !ok {
		return v, errors.Wrapf(gpu.ErrUnknownHandle, "%s %d", t.name, uint64(h))
	}
	return v, nil
}

func (t *table[H, V]) set(h H, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[h]; !ok {
		return errors.Wrapf(gpu.ErrUnknownHandle, "%s %d", t.name, uint64(h))
	}
	t.items[h] = v
	return nil
}

func (t *table[H, V]) remove(h H) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[h]
	if ok {
		delete(t.items, h)
	}
	return v, ok
}

func (t *table[H, V]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// drain removes and returns every entry, for teardown of whatever the caller leaked.
func (t *table[H, V]) drain() []V {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]V, 0, len(t.items))
	for h, v := range t.items {
		out = append(out, v)
		delete(t.items, h)
	}
	return out
}
