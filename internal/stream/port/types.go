package port

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
)

// EncodeJSON renders an event as {"id":..,"type":..,"stream":[..]}.
func EncodeJSON(e sensor.Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event of sensor %d: %w", e.SensorID, err)
	}
	return payload, nil
}

// EncodeSSE renders an event as one Server-Sent-Events frame.
func EncodeSSE(e sensor.Event) ([]byte, error) {
	payload, err := EncodeJSON(e)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(payload) + 8)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
