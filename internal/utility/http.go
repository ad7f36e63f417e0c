package utility

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/constant"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/httperr"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
)

// Status reports the moving parts the health check looks at.
type Status interface {
	Running() bool
}

// ClientCounter is implemented by the broadcast hub.
type ClientCounter interface {
	Len() int
}

type handler struct {
	registry *sensor.Registry
	loop     Status
	clients  ClientCounter
}

type Health struct {
	Acquisition bool `json:"acquisition" doc:"Whether the acquisition loop is polling"`
	Clients     int  `json:"clients" doc:"Connected broadcast clients"`
	Sensors     int  `json:"sensors" doc:"Known sensors"`
}

type Sensor struct {
	Id           int                 `json:"id" doc:"Sensor id reported by the driver"`
	Info         sensor.Info         `json:"info"`
	Capabilities []sensor.StreamType `json:"capabilities" doc:"Streams the sensor can produce"`
	Active       []sensor.StreamType `json:"active" doc:"Streams currently polled"`
}

func newSensor(s sensor.Snapshot) Sensor {
	return Sensor{
		Id:           s.ID,
		Info:         s.Info,
		Capabilities: s.Capabilities.Types(),
		Active:       s.Active.Types(),
	}
}

type SensorPath struct {
	Id int `path:"id" doc:"Sensor id reported by the driver"`
}

func RegisterHandler(ctx context.Context, router huma.API, registry *sensor.Registry, loop Status, clients ClientCounter) {
	h := handler{registry: registry, loop: loop, clients: clients}

	huma.Register(router, huma.Operation{
		OperationID: "check-health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Check health",
		Tags:        []string{constant.OAPI_TAG_MISC},
	}, h.GetHealthz)

	huma.Register(router, huma.Operation{
		OperationID: "list-sensors",
		Method:      http.MethodGet,
		Path:        "/sensors",
		Summary:     "List known sensors",
		Tags:        []string{constant.OAPI_TAG_SENSORS},
	}, h.ListSensors)

	huma.Register(router, huma.Operation{
		OperationID: "get-sensor",
		Method:      http.MethodGet,
		Path:        "/sensors/{id}",
		Summary:     "Get one sensor",
		Tags:        []string{constant.OAPI_TAG_SENSORS},
	}, h.GetSensor)
}

func (h handler) GetHealthz(ctx context.Context, _ *struct{}) (*struct{ Body Health }, error) {
	return &struct{ Body Health }{Body: Health{
		Acquisition: h.loop.Running(),
		Clients:     h.clients.Len(),
		Sensors:     len(h.registry.Snapshots()),
	}}, nil
}

func (h handler) ListSensors(ctx context.Context, _ *struct{}) (*struct{ Body []Sensor }, error) {
	snapshots := h.registry.Snapshots()
	sensors := make([]Sensor, len(snapshots))
	for i, s := range snapshots {
		sensors[i] = newSensor(s)
	}
	return &struct{ Body []Sensor }{Body: sensors}, nil
}

func (h handler) GetSensor(ctx context.Context, input *SensorPath) (*struct{ Body Sensor }, error) {
	snapshot, ok := h.registry.Lookup(input.Id)
	if !ok {
		return httperr.Handle[struct{ Body Sensor }](ctx,
			errors.NewNotFoundError("sensor %d", input.Id),
		)
	}
	return &struct{ Body Sensor }{Body: newSensor(snapshot)}, nil
}
