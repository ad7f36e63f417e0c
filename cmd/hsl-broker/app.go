package main

import (
	"context"
	"fmt"

	"github.com/mirzahilmi/heartsensor/broker/internal/acquisition"
	"github.com/mirzahilmi/heartsensor/broker/internal/bus"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/constant"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/middleware"
	"github.com/mirzahilmi/heartsensor/broker/internal/opensignals"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor/simulator"
	"github.com/mirzahilmi/heartsensor/broker/internal/stream/port"
	"github.com/mirzahilmi/heartsensor/broker/internal/telemetry"
	"github.com/mirzahilmi/heartsensor/broker/internal/utility"
	"github.com/rs/zerolog/log"
)

type broker struct {
	bus       *bus.Bus
	registry  *sensor.Registry
	loop      *acquisition.Loop
	hub       *port.Hub
	telemetry *telemetry.Telemetry

	bridge   *port.MqttBridge
	loggers  []*opensignals.Logger
	failures chan error
}

func setup(ctx context.Context) (*broker, error) {
	app := &broker{}

	if cfg.Metrics.Enabled {
		t, err := telemetry.Init()
		if err != nil {
			return nil, err
		}
		app.telemetry = t
		router.Method("GET", constant.METRICS_PATH, t.Handler())
	}

	app.bus = bus.New()
	app.bus.OnEvict(func(s bus.Subscriber) {
		log.Debug().Str("subscriber", s.SubscriberID()).Msg("bus: subscriber evicted")
	})

	driver := simulator.New(cfg.Simulator.Sensors)
	app.registry = sensor.NewRegistry(driver)
	if err := app.registry.Refresh(); err != nil {
		return nil, err
	}

	loop, err := acquisition.New(driver, app.registry, app.bus, cfg.Acquisition.Interval())
	if err != nil {
		return nil, err
	}
	app.loop = loop

	hub, err := port.NewHub(app.bus, cfg.Broadcast.ClientBuffer)
	if err != nil {
		return nil, err
	}
	app.hub = hub

	middleware := middleware.NewMiddleware(api, cfg)
	api.UseMiddleware(middleware.AccessLog)

	utility.RegisterHandler(ctx, api, app.registry, app.loop, app.hub)
	port.RegisterHandler(ctx, router, app.hub)
	router.Get("/*", utility.Static(cfg.PublicDir))

	return app, nil
}

// attach subscribes the MQTT bridge and the OpenSignals loggers. Failed log
// sessions are unsubscribed and reported on failures.
func (app *broker) attach(ctx context.Context) error {
	if cfg.Mqtt.Enabled() {
		bridge, err := port.NewMqttBridge(ctx, cfg.Mqtt)
		if err != nil {
			return err
		}
		if err := app.bus.Subscribe(bridge); err != nil {
			bridge.Close()
			return err
		}
		app.bridge = bridge
	}

	app.failures = make(chan error, len(cfg.OpenSignals))
	for _, session := range cfg.OpenSignals {
		stream, err := sensor.ParseStreamType(session.Type)
		if err != nil {
			return err
		}
		logger, err := opensignals.Open(stream, session.Path, app.registry)
		if err != nil {
			return err
		}
		if err := app.bus.Subscribe(logger); err != nil {
			logger.Close()
			return fmt.Errorf("opensignals: %s: %w", session.Path, err)
		}
		app.loggers = append(app.loggers, logger)
		log.Info().Str("stream", stream.String()).Str("path", session.Path).Msg("opensignals: session opened")

		go func() {
			select {
			case <-logger.Done():
				app.bus.Unsubscribe(logger.SubscriberID())
				app.failures <- logger.Err()
			case <-ctx.Done():
			}
		}()
	}
	return nil
}

// close stops acquisition first so no event reaches a closed subscriber.
func (app *broker) close(ctx context.Context) {
	app.loop.Stop()

	for _, logger := range app.loggers {
		app.bus.Unsubscribe(logger.SubscriberID())
		if err := logger.Close(); err != nil {
			log.Warn().Err(err).Msg("opensignals: failed to close log file")
		}
	}
	if app.bridge != nil {
		app.bus.Unsubscribe(app.bridge.SubscriberID())
		app.bridge.Close()
	}
	if app.telemetry != nil {
		if err := app.telemetry.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("telemetry: failed to shutdown")
		}
	}
}
