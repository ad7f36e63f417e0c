// Package bus delivers sensor events to in-process subscribers.
package bus

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	_errors "github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/rs/zerolog/log"
)

type Subscriber interface {
	SubscriberID() string
	// Deliver hands the event to the subscriber. Returning an error wrapping
	// ErrDeliveryRejected marks the subscriber for eviction.
	Deliver(sensor.Event) error
}

// Evictable subscribers are told when the bus dropped them after a rejected
// delivery.
type Evictable interface {
	Subscriber
	Evict(reason error)
}

// Bus publishes synchronously, in registration order. One mutex guards the
// registry and every delivery of a publish pass.
type Bus struct {
	mu          sync.Mutex
	subscribers []Subscriber
	onEvict     func(Subscriber)
}

func New() *Bus {
	return &Bus{}
}

// OnEvict installs a hook called, outside the bus lock, for every evicted
// subscriber.
func (b *Bus) OnEvict(fn func(Subscriber)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onEvict = fn
}

func (b *Bus) Subscribe(s Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexOf(s.SubscriberID()) >= 0 {
		return fmt.Errorf("bus: %s: %w", s.SubscriberID(), _errors.ErrDuplicateSubscriber)
	}
	b.subscribers = append(b.subscribers, s)
	log.Debug().Str("subscriber", s.SubscriberID()).Msg("bus: subscribed")
	return nil
}

// Unsubscribe reports whether the subscriber was registered.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.subscribers = slices.Delete(b.subscribers, i, i+1)
	log.Debug().Str("subscriber", id).Msg("bus: unsubscribed")
	return true
}

func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Publish delivers the event to every subscriber before returning. A failing
// subscriber never stops delivery to the ones after it. Subscribers that
// rejected the event are removed once the whole pass is done.
func (b *Bus) Publish(event sensor.Event) {
	b.mu.Lock()
	var rejected []Subscriber
	var reasons []error
	for _, s := range b.subscribers {
		err := deliver(s, event)
		if err == nil {
			continue
		}
		if errors.Is(err, _errors.ErrDeliveryRejected) {
			rejected = append(rejected, s)
			reasons = append(reasons, err)
			continue
		}
		log.Error().
			Err(err).
			Str("subscriber", s.SubscriberID()).
			Int("sensor_id", event.SensorID).
			Stringer("stream", event.Type).
			Msg("bus: delivery failed")
	}
	for _, s := range rejected {
		if i := b.indexOf(s.SubscriberID()); i >= 0 {
			b.subscribers = slices.Delete(b.subscribers, i, i+1)
		}
	}
	onEvict := b.onEvict
	b.mu.Unlock()

	for i, s := range rejected {
		log.Info().Err(reasons[i]).Str("subscriber", s.SubscriberID()).Msg("bus: subscriber evicted")
		if e, ok := s.(Evictable); ok {
			e.Evict(reasons[i])
		}
		if onEvict != nil {
			onEvict(s)
		}
	}
}

func deliver(s Subscriber, event sensor.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return s.Deliver(event)
}

func (b *Bus) indexOf(id string) int {
	return slices.IndexFunc(b.subscribers, func(s Subscriber) bool {
		return s.SubscriberID() == id
	})
}
