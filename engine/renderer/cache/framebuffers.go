package cache

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
	"github.com/spaghettifunk/rendercore/engine/renderer/metadata"
)

// Deferrer postpones fn until the GPU no longer uses what fn destroys.
type Deferrer interface {
	Defer(fn func())
}

/**
 * @brief Maps render pass descriptors to native framebuffers. Entries persist
 * across frames; the least recently used ones are evicted once the map is
 * full and entries referencing a resized or destroyed texture are dropped.
 */
type Framebuffers struct {
	device   driver.Device
	deferrer Deferrer

	mu       sync.Mutex
	cache    *lru.Cache[metadata.FramebufferKey, driver.Framebuffer]
	dropOnly bool
}

func NewFramebuffers(device driver.Device, size int, deferrer Deferrer) (*Framebuffers, error) {
	f := &Framebuffers{
		device:   device,
		deferrer: deferrer,
	}
	cache, err := lru.NewWithEvict[metadata.FramebufferKey, driver.Framebuffer](size, f.onEvicted)
	if err != nil {
		return nil, err
	}
	f.cache = cache
	return f, nil
}

func (f *Framebuffers) onEvicted(key metadata.FramebufferKey, fb driver.Framebuffer) {
	if f.dropOnly {
		return
	}
	core.LogDebug("framebuffer '%s' evicted", fb.Name())
	device := f.device
	destroy := func() { device.DestroyFramebuffer(fb) }
	if f.deferrer != nil {
		f.deferrer.Defer(destroy)
		return
	}
	destroy()
}

// Get returns the framebuffer for desc, creating it when not cached.
func (f *Framebuffers) Get(desc *metadata.RenderPassDescriptor) (driver.Framebuffer, error) {
	key := desc.Key()

	f.mu.Lock()
	defer f.mu.Unlock()

	if fb, ok := f.cache.Get(key); ok {
		return fb, nil
	}

	name := fmt.Sprintf("%s-%s", desc.Name, uuid.NewString())
	// the cache keeps its own copy, callers may reuse desc
	owned := *desc
	owned.Colour = append([]metadata.ColourAttachment(nil), desc.Colour...)
	fb, err := f.device.CreateFramebuffer(name, &owned)
	if err != nil {
		err = fmt.Errorf("framebuffer '%s': %w: %w", desc.Name, core.ErrObjectCreation, err)
		core.LogError(err.Error())
		return nil, err
	}
	f.cache.Add(key, fb)
	return fb, nil
}

// Invalidate drops every framebuffer that uses tex as an attachment.
func (f *Framebuffers) Invalidate(tex *metadata.Texture) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for _, key := range f.cache.Keys() {
		fb, ok := f.cache.Peek(key)
		if !ok || !fb.Descriptor().Uses(tex) {
			continue
		}
		if f.cache.Remove(key) {
			removed++
		}
	}
	if removed > 0 {
		core.LogDebug("%d framebuffers invalidated by texture '%s'", removed, tex.Name)
	}
	return removed
}

func (f *Framebuffers) Len() int {
	return f.cache.Len()
}

// Purge forgets every framebuffer without destroying it. Used once the device
// that created them is gone.
func (f *Framebuffers) Purge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropOnly = true
	f.cache.Purge()
	f.dropOnly = false
}

// Rebind points the map at a new device. Must follow Purge.
func (f *Framebuffers) Rebind(device driver.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device = device
}

// DestroyAll destroys every cached framebuffer right away.
func (f *Framebuffers) DestroyAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	deferrer := f.deferrer
	f.deferrer = nil
	f.cache.Purge()
	f.deferrer = deferrer
}
