package bus

import (
	"errors"
	"fmt"
	"testing"

	_errors "github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	id       string
	received []sensor.Event
	err      error
	panics   bool
	evicted  error
	log      *[]string
}

func (r *recorder) SubscriberID() string { return r.id }

func (r *recorder) Deliver(e sensor.Event) error {
	if r.log != nil {
		*r.log = append(*r.log, r.id)
	}
	if r.panics {
		panic("boom")
	}
	if r.err != nil {
		return r.err
	}
	r.received = append(r.received, e)
	return nil
}

func (r *recorder) Evict(reason error) { r.evicted = reason }

func event(id int) sensor.Event {
	return sensor.Event{
		SensorID: id,
		Type:     sensor.StreamGSR,
		Samples:  []sensor.Sample{sensor.GSRFrame{Value: float64(id)}},
	}
}

func TestPublishDeliversEveryEventOnceInOrder(t *testing.T) {
	b := New()
	first := &recorder{id: "first"}
	second := &recorder{id: "second"}
	require.NoError(t, b.Subscribe(first))
	require.NoError(t, b.Subscribe(second))

	var want []sensor.Event
	for i := range 50 {
		e := event(i)
		want = append(want, e)
		b.Publish(e)
	}

	assert.Equal(t, want, first.received)
	assert.Equal(t, want, second.received)
}

func TestPublishFollowsRegistrationOrder(t *testing.T) {
	var order []string
	b := New()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, b.Subscribe(&recorder{id: id, log: &order}))
	}

	b.Publish(event(1))

	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestSubscribeRejectsDuplicates(t *testing.T) {
	b := New()
	s := &recorder{id: "dup"}
	require.NoError(t, b.Subscribe(s))

	err := b.Subscribe(&recorder{id: "dup"})
	assert.ErrorIs(t, err, _errors.ErrDuplicateSubscriber)
	assert.Equal(t, 1, b.Len())

	b.Publish(event(1))
	assert.Len(t, s.received, 1)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	s := &recorder{id: "gone"}
	require.NoError(t, b.Subscribe(s))

	assert.True(t, b.Unsubscribe("gone"))
	assert.False(t, b.Unsubscribe("gone"))

	b.Publish(event(1))
	assert.Empty(t, s.received)
}

func TestPublishIsolatesFailingSubscribers(t *testing.T) {
	b := New()
	panicking := &recorder{id: "panics", panics: true}
	failing := &recorder{id: "fails", err: errors.New("disk full")}
	healthy := &recorder{id: "healthy"}
	require.NoError(t, b.Subscribe(panicking))
	require.NoError(t, b.Subscribe(failing))
	require.NoError(t, b.Subscribe(healthy))

	b.Publish(event(1))
	b.Publish(event(2))

	assert.Len(t, healthy.received, 2)
	// plain failures are not evictions
	assert.Equal(t, 3, b.Len())
	assert.Nil(t, failing.evicted)
}

func TestRejectedSubscriberIsEvictedAfterPass(t *testing.T) {
	var order []string
	b := New()
	slow := &recorder{id: "slow", log: &order, err: fmt.Errorf("client lagging: %w", _errors.ErrDeliveryRejected)}
	after := &recorder{id: "after", log: &order}
	require.NoError(t, b.Subscribe(slow))
	require.NoError(t, b.Subscribe(after))

	var hooked []string
	b.OnEvict(func(s Subscriber) { hooked = append(hooked, s.SubscriberID()) })

	b.Publish(event(1))

	// the rest of the pass still ran
	assert.Len(t, after.received, 1)
	assert.ErrorIs(t, slow.evicted, _errors.ErrDeliveryRejected)
	assert.Equal(t, []string{"slow"}, hooked)
	assert.Equal(t, 1, b.Len())

	b.Publish(event(2))
	assert.Equal(t, []string{"slow", "after", "after"}, order)
}
