// Package acquisition polls the sensor driver on a fixed period and turns
// every non-empty stream drain into a published event.
package acquisition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Publisher interface {
	Publish(sensor.Event)
}

type Loop struct {
	driver    sensor.Driver
	registry  *sensor.Registry
	publisher Publisher
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	samplesCounter metric.Int64Counter
	eventsCounter  metric.Int64Counter
	errorsCounter  metric.Int64Counter
	tickDuration   metric.Float64Histogram
}

func New(driver sensor.Driver, registry *sensor.Registry, publisher Publisher, interval time.Duration) (*Loop, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("acquisition: interval must be positive, got %s", interval)
	}

	meter := otel.Meter("acquisition")
	samplesCounter, err := meter.Int64Counter(
		"hsl.samples.drained",
		metric.WithDescription("Samples drained from sensor buffers"),
	)
	if err != nil {
		log.Error().Err(err).Msg("acquisition: cannot create meter counter instance")
		return nil, err
	}
	eventsCounter, err := meter.Int64Counter(
		"hsl.events.published",
		metric.WithDescription("Sensor events published to the bus"),
	)
	if err != nil {
		log.Error().Err(err).Msg("acquisition: cannot create meter counter instance")
		return nil, err
	}
	errorsCounter, err := meter.Int64Counter(
		"hsl.driver.errors",
		metric.WithDescription("Driver failures seen while polling"),
	)
	if err != nil {
		log.Error().Err(err).Msg("acquisition: cannot create meter counter instance")
		return nil, err
	}
	tickDuration, err := meter.Float64Histogram(
		"hsl.tick.duration",
		metric.WithDescription("Time spent in one acquisition tick"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Error().Err(err).Msg("acquisition: cannot create meter histogram instance")
		return nil, err
	}

	return &Loop{
		driver:         driver,
		registry:       registry,
		publisher:      publisher,
		interval:       interval,
		samplesCounter: samplesCounter,
		eventsCounter:  eventsCounter,
		errorsCounter:  errorsCounter,
		tickDuration:   tickDuration,
	}, nil
}

// Start launches the polling goroutine. It returns false when the loop is
// already running.
func (l *Loop) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return false
	}

	log.Info().Msg(fmt.Sprintf("HSL %s", l.driver.Version()))

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)

	log.Info().Dur("interval", l.interval).Msg("acquisition: started")
	return true
}

// Stop waits for an in-flight tick to finish, then deactivates every stream
// on every known sensor.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return
	}

	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil

	l.registry.StopAll()
	log.Info().Msg("acquisition: stopped")
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// A time.Ticker drops ticks the consumer is not ready for, so a slow tick
// delays the next one instead of overlapping it.
func (l *Loop) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one acquisition cycle: pump the driver, refresh the registry if
// the topology changed, then drain and publish every active stream.
func (l *Loop) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		l.tickDuration.Record(ctx, time.Since(start).Seconds())
	}()

	if err := l.driver.Pump(); err != nil {
		l.errorsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "pump")))
		log.Warn().Err(err).Msg("acquisition: driver pump failed, skipping tick")
		return
	}

	if l.driver.TopologyChanged() {
		if err := l.registry.Refresh(); err != nil {
			l.errorsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "refresh")))
			log.Error().Err(err).Msg("acquisition: cannot refresh sensor list")
		}
	}

	for _, s := range l.registry.Sensors() {
		l.drainSensor(ctx, s)
	}
}

func (l *Loop) drainSensor(ctx context.Context, s *sensor.Sensor) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("sensor_id", s.ID()).Msg(fmt.Sprintf("acquisition: sensor drain panicked: %v", r))
		}
	}()

	for _, t := range s.Active().Types() {
		samples, err := l.registry.Drain(s, t)
		if err != nil {
			l.errorsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "drain")))
			log.Warn().Err(err).Int("sensor_id", s.ID()).Stringer("stream", t).Msg("acquisition: drain failed")
			continue
		}
		if len(samples) == 0 {
			continue
		}

		attrs := metric.WithAttributes(attribute.String("stream", t.String()))
		l.samplesCounter.Add(ctx, int64(len(samples)), attrs)
		l.eventsCounter.Add(ctx, 1, attrs)
		l.publisher.Publish(sensor.Event{SensorID: s.ID(), Type: t, Samples: samples})
	}
}
