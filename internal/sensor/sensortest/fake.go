// Package sensortest provides an in-memory Driver for tests.
package sensortest

import (
	"sync"

	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
)

type Driver struct {
	mu       sync.Mutex
	devices  []*Device
	changed  bool
	pumps    int
	PumpErr  error
	EnumErr  error
	OnPump   func()
	Revision string
}

func NewDriver(devices ...*Device) *Driver {
	return &Driver{devices: devices, changed: true, Revision: "test"}
}

func (d *Driver) Version() string { return d.Revision }

func (d *Driver) Pump() error {
	d.mu.Lock()
	d.pumps++
	hook := d.OnPump
	err := d.PumpErr
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (d *Driver) Pumps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pumps
}

// TopologyChanged reports true once after construction or SetDevices.
func (d *Driver) TopologyChanged() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := d.changed
	d.changed = false
	return changed
}

func (d *Driver) SetDevices(devices ...*Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = devices
	d.changed = true
}

func (d *Driver) Enumerate() ([]sensor.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.EnumErr != nil {
		return nil, d.EnumErr
	}
	out := make([]sensor.Device, len(d.devices))
	for i, dev := range d.devices {
		out[i] = dev
	}
	return out, nil
}

type Device struct {
	mu       sync.Mutex
	id       int
	caps     sensor.StreamSet
	info     sensor.Info
	active   sensor.StreamSet
	buffers  map[sensor.StreamType][]sensor.Sample
	stopped  int
	DrainErr error
}

func NewDevice(id int, info sensor.Info, caps ...sensor.StreamType) *Device {
	return &Device{
		id:      id,
		caps:    sensor.NewStreamSet(caps...),
		info:    info,
		buffers: make(map[sensor.StreamType][]sensor.Sample),
	}
}

func (d *Device) ID() int                        { return d.id }
func (d *Device) Capabilities() sensor.StreamSet { return d.caps }
func (d *Device) Info() sensor.Info              { return d.info }

func (d *Device) SetStreamActive(t sensor.StreamType, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if active {
		d.active = d.active.With(t)
	} else {
		d.active = d.active.Without(t)
	}
	return nil
}

func (d *Device) Active() sensor.StreamSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Push appends samples to a stream buffer as the hardware would.
func (d *Device) Push(samples ...sensor.Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range samples {
		d.buffers[s.Stream()] = append(d.buffers[s.Stream()], s)
	}
}

func (d *Device) Drain(t sensor.StreamType) ([]sensor.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DrainErr != nil {
		return nil, d.DrainErr
	}
	samples := d.buffers[t]
	delete(d.buffers, t)
	return samples, nil
}

func (d *Device) StopAllStreams() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = 0
	d.stopped++
	return nil
}

func (d *Device) Stopped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}
