package utility

import (
	"context"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/goccy/go-json"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor/sensortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loopStatus bool

func (s loopStatus) Running() bool { return bool(s) }

type clientCount int

func (c clientCount) Len() int { return int(c) }

func newAPI(t *testing.T) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)

	strap := sensortest.NewDevice(7, sensor.Info{FriendlyName: "Chest strap", SerialNumber: "CS-7"}, sensor.StreamHR, sensor.StreamGSR)
	registry := sensor.NewRegistry(sensortest.NewDriver(strap))
	require.NoError(t, registry.Refresh())

	RegisterHandler(context.Background(), api, registry, loopStatus(true), clientCount(2))
	return api
}

func TestGetHealthz(t *testing.T) {
	api := newAPI(t)

	resp := api.Get("/healthz")
	require.Equal(t, http.StatusOK, resp.Code)

	var health Health
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &health))
	assert.Equal(t, Health{Acquisition: true, Clients: 2, Sensors: 1}, health)
}

func TestListSensors(t *testing.T) {
	api := newAPI(t)

	resp := api.Get("/sensors")
	require.Equal(t, http.StatusOK, resp.Code)

	var sensors []struct {
		Id           int      `json:"id"`
		Capabilities []string `json:"capabilities"`
		Active       []string `json:"active"`
		Info         struct {
			FriendlyName string `json:"friendlyName"`
		} `json:"info"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &sensors))
	require.Len(t, sensors, 1)
	assert.Equal(t, 7, sensors[0].Id)
	assert.Equal(t, "Chest strap", sensors[0].Info.FriendlyName)
	assert.Equal(t, []string{"hr", "gsr"}, sensors[0].Capabilities)
	assert.Equal(t, []string{"hr"}, sensors[0].Active)
}

func TestGetSensor(t *testing.T) {
	api := newAPI(t)

	resp := api.Get("/sensors/7")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"serialNumber":"CS-7"`)

	resp = api.Get("/sensors/8")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
