// Package simulator implements sensor.Driver without hardware. Every pump
// appends synthetic samples to the buffers of the active streams.
package simulator

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mirzahilmi/heartsensor/broker/internal/common/config"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/rs/zerolog/log"
)

const version = "0.9.0-sim"

type Driver struct {
	mu      sync.Mutex
	devices []*device
	changed bool
	start   time.Time
	now     func() time.Time
}

// New builds a driver exposing the configured sensors. The first pump
// reports a topology change so the registry enumerates them.
func New(sensors []config.SimulatedSensor) *Driver {
	d := &Driver{changed: true, now: time.Now}
	d.start = d.now()
	for _, s := range sensors {
		var caps sensor.StreamSet
		for _, name := range s.Capabilities {
			t, err := sensor.ParseStreamType(name)
			if err != nil {
				log.Warn().Err(err).Int("sensor_id", s.Id).Msg("simulator: ignoring capability")
				continue
			}
			caps = caps.With(t)
		}
		d.devices = append(d.devices, &device{
			id:   s.Id,
			caps: caps,
			info: sensor.Info{
				FriendlyName:    s.Name,
				SerialNumber:    s.Serial,
				FirmwareVersion: s.Firmware,
				Manufacturer:    s.Manufacturer,
				DevicePath:      s.Path,
			},
			rng:     rand.New(rand.NewPCG(uint64(s.Id), 0x5eed)),
			buffers: make(map[sensor.StreamType][]sensor.Sample),
		})
	}
	return d
}

func (d *Driver) Version() string { return version }

func (d *Driver) Pump() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	elapsed := d.now().Sub(d.start).Seconds()
	for _, dev := range d.devices {
		dev.generate(elapsed)
	}
	return nil
}

func (d *Driver) TopologyChanged() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := d.changed
	d.changed = false
	return changed
}

func (d *Driver) Enumerate() ([]sensor.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sensor.Device, len(d.devices))
	for i, dev := range d.devices {
		out[i] = dev
	}
	return out, nil
}

type device struct {
	mu      sync.Mutex
	id      int
	caps    sensor.StreamSet
	info    sensor.Info
	active  sensor.StreamSet
	rng     *rand.Rand
	buffers map[sensor.StreamType][]sensor.Sample
	lastHR  float64
}

func (d *device) ID() int                        { return d.id }
func (d *device) Capabilities() sensor.StreamSet { return d.caps }
func (d *device) Info() sensor.Info              { return d.info }

func (d *device) SetStreamActive(t sensor.StreamType, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if active && d.caps.Has(t) {
		d.active = d.active.With(t)
	} else {
		d.active = d.active.Without(t)
		delete(d.buffers, t)
	}
	return nil
}

func (d *device) Drain(t sensor.StreamType) ([]sensor.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	samples := d.buffers[t]
	delete(d.buffers, t)
	return samples, nil
}

func (d *device) StopAllStreams() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = 0
	clear(d.buffers)
	return nil
}

func (d *device) generate(t float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active.Has(sensor.StreamECG) {
		values := make([]float64, 5+d.rng.IntN(4))
		for i := range values {
			phase := t*2*math.Pi*1.2 + float64(i)*0.05
			values[i] = math.Round(800*math.Pow(math.Sin(phase), 15) + 40*d.rng.NormFloat64())
		}
		d.push(sensor.ECGFrame{Values: values, TimeInSeconds: t})
	}
	if d.active.Has(sensor.StreamPPG) {
		samples := make([]sensor.PPGSample, 4)
		for i := range samples {
			base := 20000 + 3000*math.Sin(t*2*math.Pi*1.2+float64(i)*0.1)
			samples[i] = sensor.PPGSample{
				Value0:  math.Round(base + 50*d.rng.NormFloat64()),
				Value1:  math.Round(base*0.9 + 50*d.rng.NormFloat64()),
				Value2:  math.Round(base*0.8 + 50*d.rng.NormFloat64()),
				Ambient: math.Round(500 + 10*d.rng.NormFloat64()),
			}
		}
		d.push(sensor.PPGFrame{Samples: samples, TimeInSeconds: t})
	}
	// heart rate is reported roughly once per second
	if d.active.Has(sensor.StreamHR) && t-d.lastHR >= 1 {
		d.lastHR = t
		bpm := math.Round(68 + 6*math.Sin(t/30) + d.rng.NormFloat64())
		d.push(sensor.HRFrame{
			BeatsPerMinute: bpm,
			ContactStatus:  sensor.ContactDetected,
			RRIntervals:    []float64{math.Round(60000 / bpm)},
			TimeInSeconds:  t,
		})
	}
	if d.active.Has(sensor.StreamGSR) {
		d.push(sensor.GSRFrame{
			Value:         math.Round(300 + 40*math.Sin(t/10) + 5*d.rng.NormFloat64()),
			TimeInSeconds: t,
		})
	}
}

func (d *device) push(s sensor.Sample) {
	d.buffers[s.Stream()] = append(d.buffers[s.Stream()], s)
}
