package headless

import (
	"sync"

	"github.com/spaghettifunk/rendercore/engine/core"
	"github.com/spaghettifunk/rendercore/engine/renderer/driver"
)

const DRIVER_NAME = "headless"

// Driver opens recording devices.
type Driver struct {
	name string
	opts Options

	mu     sync.Mutex
	device *Device
	opened int
}

func NewDriver(name string, opts Options) *Driver {
	if name == "" {
		name = DRIVER_NAME
	}
	return &Driver{name: name, opts: opts}
}

func (d *Driver) Name() string {
	return d.name
}

func (d *Driver) Open() (driver.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		d.device = NewDevice(d.name, d.opts)
		d.opened++
		core.LogDebug("headless device '%s' opened (%d)", d.name, d.opened)
	}
	return d.device, nil
}

// Device returns the open device, or nil.
func (d *Driver) Device() *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.device
}

// Opened counts how many devices this driver created.
func (d *Driver) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

func (d *Driver) Close() {
	d.mu.Lock()
	dev := d.device
	d.device = nil
	d.mu.Unlock()
	if dev != nil {
		dev.Destroy()
	}
}
