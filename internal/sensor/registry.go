package sensor

import (
	"fmt"
	"sync"

	_errors "github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"github.com/rs/zerolog/log"
)

// Sensor is a discovered device together with the streams activated on it.
type Sensor struct {
	device Device
	id     int
	info   Info
	caps   StreamSet
	active StreamSet
}

func (s *Sensor) ID() int                 { return s.id }
func (s *Sensor) Info() Info              { return s.info }
func (s *Sensor) Capabilities() StreamSet { return s.caps }
func (s *Sensor) Active() StreamSet       { return s.active }

// Snapshot is a copy of a sensor's state, safe to hand out of the registry.
type Snapshot struct {
	ID           int       `json:"id"`
	Info         Info      `json:"info"`
	Capabilities StreamSet `json:"capabilities"`
	Active       StreamSet `json:"active"`
}

// Registry owns the set of sensors known to the driver.
type Registry struct {
	mu      sync.RWMutex
	driver  Driver
	sensors []*Sensor
}

func NewRegistry(driver Driver) *Registry {
	return &Registry{driver: driver}
}

// PreferredStream picks the highest priority stream a capability set offers.
func PreferredStream(caps StreamSet) (StreamType, bool) {
	for _, t := range Priority {
		if caps.Has(t) {
			return t, true
		}
	}
	return 0, false
}

// Refresh re-enumerates the driver and replaces the sensor set. Each sensor
// gets exactly one stream activated, chosen by Priority.
func (r *Registry) Refresh() error {
	devices, err := r.driver.Enumerate()
	if err != nil {
		return _errors.NewDriverError("enumerate", err)
	}

	sensors := make([]*Sensor, 0, len(devices))
	for _, device := range devices {
		if device == nil {
			continue
		}
		s := &Sensor{
			device: device,
			id:     device.ID(),
			info:   device.Info(),
			caps:   device.Capabilities(),
		}
		if t, ok := PreferredStream(s.caps); ok {
			if err := device.SetStreamActive(t, true); err != nil {
				log.Warn().
					Err(err).
					Int("sensor_id", s.id).
					Stringer("stream", t).
					Msg("sensor: cannot activate stream")
			} else {
				s.active = s.active.With(t)
			}
		}
		sensors = append(sensors, s)
	}

	r.mu.Lock()
	r.sensors = sensors
	r.mu.Unlock()

	log.Info().Int("count", len(sensors)).Msg("sensor: sensor list refreshed")
	return nil
}

// Sensors returns the current sensor set. The slice is a copy.
func (r *Registry) Sensors() []*Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Sensor, len(r.sensors))
	copy(out, r.sensors)
	return out
}

// Drain reads and flushes the buffered samples of one stream.
func (r *Registry) Drain(s *Sensor, t StreamType) ([]Sample, error) {
	samples, err := s.device.Drain(t)
	if err != nil {
		return nil, _errors.NewDriverError(fmt.Sprintf("drain %s of sensor %d", t, s.id), err)
	}
	return samples, nil
}

func (r *Registry) Lookup(id int) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sensors {
		if s.id == id {
			return s.snapshot(), true
		}
	}
	return Snapshot{}, false
}

func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sensors))
	for _, s := range r.sensors {
		out = append(out, s.snapshot())
	}
	return out
}

// StopAll deactivates every stream on every known sensor. Failures are
// logged; the remaining sensors are still stopped.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sensors {
		if err := s.device.StopAllStreams(); err != nil {
			log.Warn().Err(err).Int("sensor_id", s.id).Msg("sensor: cannot stop streams")
			continue
		}
		s.active = 0
	}
}

func (s *Sensor) snapshot() Snapshot {
	return Snapshot{
		ID:           s.id,
		Info:         s.info,
		Capabilities: s.caps,
		Active:       s.active,
	}
}
