package cache

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/rendercore/engine/core"
	"golang.org/x/exp/slices"
)

// Descriptor is a state description with a total order. Compare must return
// 0 exactly when both values would create equivalent native objects.
type Descriptor[D any] interface {
	Compare(other D) int
}

type FnCreate[D any, H any] func(desc D) (H, error)
type FnDestroy[H any] func(handle H)

type cachedState[D Descriptor[D], H any] struct {
	desc     D
	refCount uint32
	handle   H
}

/**
 * @brief Deduplicates immutable native state objects by descriptor value.
 * Entries are reference counted and kept sorted by descriptor so lookups are
 * logarithmic. Safe for concurrent use.
 */
type StateCache[D Descriptor[D], H any] struct {
	name    string
	create  FnCreate[D, H]
	destroy FnDestroy[H]

	mu      sync.Mutex
	entries []*cachedState[D, H]
}

func NewStateCache[D Descriptor[D], H any](name string, create FnCreate[D, H], destroy FnDestroy[H]) *StateCache[D, H] {
	return &StateCache[D, H]{
		name:    name,
		create:  create,
		destroy: destroy,
		entries: make([]*cachedState[D, H], 0, 16),
	}
}

func (c *StateCache[D, H]) find(desc D) (int, bool) {
	return slices.BinarySearchFunc(c.entries, desc, func(e *cachedState[D, H], target D) int {
		return e.desc.Compare(target)
	})
}

// Acquire returns the shared handle for desc, creating it on first use.
// Every successful Acquire must be paired with a Release.
func (c *StateCache[D, H]) Acquire(desc D) (H, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, found := c.find(desc)
	if found {
		e := c.entries[idx]
		e.refCount++
		return e.handle, nil
	}

	handle, err := c.create(desc)
	if err != nil {
		var zero H
		err = fmt.Errorf("%s cache: %w: %w", c.name, core.ErrObjectCreation, err)
		core.LogError(err.Error())
		return zero, err
	}
	c.entries = slices.Insert(c.entries, idx, &cachedState[D, H]{
		desc:     desc,
		refCount: 1,
		handle:   handle,
	})
	return handle, nil
}

// Release drops one reference to desc and destroys the native object once
// nobody holds it anymore.
func (c *StateCache[D, H]) Release(desc D) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, found := c.find(desc)
	if !found {
		err := fmt.Errorf("%s cache: release of %+v: %w", c.name, desc, core.ErrStateNotCached)
		core.LogError(err.Error())
		return err
	}
	e := c.entries[idx]
	e.refCount--
	if e.refCount == 0 {
		c.entries = slices.Delete(c.entries, idx, idx+1)
		c.destroy(e.handle)
	}
	return nil
}

// RefCount returns the number of holders of desc, 0 when not cached.
func (c *StateCache[D, H]) RefCount(desc D) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, found := c.find(desc); found {
		return int(c.entries[idx].refCount)
	}
	return 0
}

func (c *StateCache[D, H]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge forgets every entry without destroying the handles. Used once the
// device that created them is gone.
func (c *StateCache[D, H]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make([]*cachedState[D, H], 0, 16)
	return n
}

// DestroyAll destroys every cached handle regardless of its reference count.
func (c *StateCache[D, H]) DestroyAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	for _, e := range c.entries {
		if e.refCount != 0 {
			core.LogWarn("%s cache: destroying state still held %d times", c.name, e.refCount)
		}
		c.destroy(e.handle)
	}
	c.entries = make([]*cachedState[D, H], 0, 16)
	return n
}
