package port

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/config"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const mqttConnectTimeout = 10 * time.Second

// mqttPublisher is the part of mqtt.Client the bridge needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MqttBridge republishes every event to <prefix>/<sensor id>/<stream>.
// Publishing is fire-and-forget at QoS 0 so a slow broker never holds up the
// bus.
type MqttBridge struct {
	// only feeds the meter
	ctx       context.Context
	client    mqttPublisher
	prefix    string
	published metric.Int64Counter
	onClose   func()
}

func NewMqttBridge(ctx context.Context, cfg config.Mqtt) (*MqttBridge, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerUrl).
		SetClientID(cfg.ClientId).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerUrl).Msg("mqtt: connected")
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt: connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		log.Warn().Str("broker", cfg.BrokerUrl).Msg("mqtt: broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: cannot connect to %s: %w", cfg.BrokerUrl, err)
	}

	bridge, err := newMqttBridge(ctx, client, cfg.TopicPrefix)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	bridge.onClose = func() { client.Disconnect(250) }
	return bridge, nil
}

func newMqttBridge(ctx context.Context, client mqttPublisher, prefix string) (*MqttBridge, error) {
	published, err := otel.Meter("mqtt").Int64Counter(
		"hsl.mqtt.published",
		metric.WithDescription("Sensor events forwarded to the MQTT broker"),
	)
	if err != nil {
		log.Error().Err(err).Msg("mqtt: cannot create meter counter instance")
		return nil, err
	}
	return &MqttBridge{ctx: ctx, client: client, prefix: prefix, published: published}, nil
}

func (b *MqttBridge) SubscriberID() string { return "mqtt-bridge" }

func (b *MqttBridge) Topic(e sensor.Event) string {
	return fmt.Sprintf("%s/%d/%s", b.prefix, e.SensorID, e.Type)
}

func (b *MqttBridge) Deliver(e sensor.Event) error {
	payload, err := EncodeJSON(e)
	if err != nil {
		return err
	}
	b.client.Publish(b.Topic(e), 0, false, payload)
	b.published.Add(b.ctx, 1, metric.WithAttributes(attribute.String("stream", e.Type.String())))
	return nil
}

func (b *MqttBridge) Close() {
	if b.onClose != nil {
		b.onClose()
	}
}
