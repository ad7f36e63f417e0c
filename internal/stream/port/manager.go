package port

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mirzahilmi/heartsensor/broker/internal/bus"
	_errors "github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrHubStopped = errors.New("broadcast hub stopped")

type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebsocket Transport = "websocket"
)

// Hub is the broadcast server. Every connected client is registered on the
// bus as its own subscriber; the hub tracks them so it can close them on
// eviction, disconnect and shutdown.
type Hub struct {
	sync.Mutex

	bus        *bus.Bus
	bufferSize int
	stopped    bool

	// Connected clients by subscriber id.
	clients map[string]*Client

	// Connection goroutines still writing to their peer.
	conns sync.WaitGroup

	connected metric.Int64UpDownCounter
	evictions metric.Int64Counter
}

func NewHub(b *bus.Bus, bufferSize int) (*Hub, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("broadcast: buffer size must be positive, got %d", bufferSize)
	}

	meter := otel.Meter("broadcast")
	connected, err := meter.Int64UpDownCounter(
		"hsl.broadcast.clients",
		metric.WithDescription("Connected broadcast clients"),
	)
	if err != nil {
		log.Error().Err(err).Msg("broadcast: cannot create meter instance")
		return nil, err
	}
	evictions, err := meter.Int64Counter(
		"hsl.broadcast.evictions",
		metric.WithDescription("Broadcast clients evicted after a rejected delivery"),
	)
	if err != nil {
		log.Error().Err(err).Msg("broadcast: cannot create meter instance")
		return nil, err
	}

	return &Hub{
		bus:        b,
		bufferSize: bufferSize,
		clients:    make(map[string]*Client),
		connected:  connected,
		evictions:  evictions,
	}, nil
}

// Register creates a client and subscribes it to the bus. The caller owns
// the connection and must call Client.Finish when it stops serving it.
func (h *Hub) Register(transport Transport, encode Encoder) (*Client, error) {
	h.Lock()
	defer h.Unlock()
	if h.stopped {
		return nil, ErrHubStopped
	}

	client := &Client{
		id:          fmt.Sprintf("%s-%s", transport, uuid.NewString()),
		transport:   transport,
		hub:         h,
		encode:      encode,
		send:        make(chan []byte, h.bufferSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	client.lastWriteSucceeded.Store(true)

	if err := h.bus.Subscribe(client); err != nil {
		return nil, err
	}
	h.clients[client.id] = client
	h.conns.Add(1)
	h.connected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("transport", string(transport))))

	log.Info().Str("client", client.id).Int("clients", len(h.clients)).Msg("broadcast: client connected")
	return client, nil
}

// Remove unsubscribes and closes the client. It is safe to call more than
// once and from any goroutine.
func (h *Hub) Remove(c *Client) {
	h.bus.Unsubscribe(c.id)

	h.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	remaining := len(h.clients)
	h.Unlock()

	c.close()
	if ok {
		h.connected.Add(context.Background(), -1, metric.WithAttributes(attribute.String("transport", string(c.transport))))
		log.Info().
			Str("client", c.id).
			Dur("connected_for", time.Since(c.connectedAt)).
			Int("clients", remaining).
			Msg("broadcast: client disconnected")
	}
}

func (h *Hub) evict(c *Client, reason error) {
	h.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("transport", string(c.transport))))
	log.Warn().Err(reason).Str("client", c.id).Msg("broadcast: evicting client")
	h.Remove(c)
}

func (h *Hub) Len() int {
	h.Lock()
	defer h.Unlock()
	return len(h.clients)
}

// Stop closes every client and waits for their connections to wind down.
// Clients connecting afterwards are refused.
func (h *Hub) Stop(ctx context.Context) error {
	h.Lock()
	h.stopped = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.Unlock()

	for _, c := range clients {
		h.Remove(c)
	}

	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Int("closed", len(clients)).Msg("broadcast: stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("broadcast: waiting for connections to close: %w", ctx.Err())
	}
}

// Encoder turns an event into one transport frame.
type Encoder func(sensor.Event) ([]byte, error)

var _ bus.Evictable = (*Client)(nil)

// Client is one live network connection subscribed to the bus.
type Client struct {
	id          string
	transport   Transport
	hub         *Hub
	encode      Encoder
	connectedAt time.Time

	// Frames waiting for the connection goroutine. Never closed; done
	// signals the end of the client instead.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	finishOnce sync.Once

	lastWriteSucceeded atomic.Bool
}

func (c *Client) SubscriberID() string { return c.id }

// Deliver queues the frame without blocking. A full queue means the peer is
// not keeping up and the client gets evicted; nothing is kept for replay.
func (c *Client) Deliver(e sensor.Event) error {
	select {
	case <-c.done:
		return fmt.Errorf("client %s closed: %w", c.id, _errors.ErrDeliveryRejected)
	default:
	}

	frame, err := c.encode(e)
	if err != nil {
		return fmt.Errorf("client %s: encode event: %w", c.id, err)
	}

	select {
	case c.send <- frame:
		c.lastWriteSucceeded.Store(true)
		return nil
	default:
		c.lastWriteSucceeded.Store(false)
		return fmt.Errorf("client %s: send buffer full: %w", c.id, _errors.ErrDeliveryRejected)
	}
}

func (c *Client) Evict(reason error) {
	c.hub.evict(c, reason)
}

func (c *Client) LastWriteSucceeded() bool {
	return c.lastWriteSucceeded.Load()
}

// Done is closed once the client is removed from the hub.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Frames yields queued frames for the connection goroutine.
func (c *Client) Frames() <-chan []byte {
	return c.send
}

// Finish is called by the connection goroutine when it stops writing to the
// peer. It removes the client from the hub.
func (c *Client) Finish() {
	c.finishOnce.Do(func() {
		c.hub.Remove(c)
		c.hub.conns.Done()
	})
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
