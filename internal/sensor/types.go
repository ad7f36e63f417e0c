// Package sensor holds the biometric sample model, the boundary to the
// native sensor driver and the Registry that tracks discovered sensors.
package sensor

import (
	"fmt"
	"strings"
)

// StreamType identifies one kind of sample stream a sensor can produce.
type StreamType uint8

const (
	StreamECG StreamType = 1 << iota
	StreamPPG
	StreamHR
	StreamGSR
)

// Priority is the order in which a sensor's capabilities are considered when
// picking the single stream to activate.
var Priority = []StreamType{StreamECG, StreamPPG, StreamHR, StreamGSR}

func (t StreamType) String() string {
	switch t {
	case StreamECG:
		return "ecg"
	case StreamPPG:
		return "ppg"
	case StreamHR:
		return "hr"
	case StreamGSR:
		return "gsr"
	default:
		return fmt.Sprintf("stream(%d)", uint8(t))
	}
}

func (t StreamType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *StreamType) UnmarshalText(text []byte) error {
	parsed, err := ParseStreamType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseStreamType(s string) (StreamType, error) {
	switch strings.ToLower(s) {
	case "ecg":
		return StreamECG, nil
	case "ppg":
		return StreamPPG, nil
	case "hr":
		return StreamHR, nil
	case "gsr":
		return StreamGSR, nil
	}
	return 0, fmt.Errorf("sensor: unknown stream type %q", s)
}

// StreamSet is a bitmask of stream types.
type StreamSet uint8

func NewStreamSet(types ...StreamType) StreamSet {
	var s StreamSet
	for _, t := range types {
		s = s.With(t)
	}
	return s
}

func (s StreamSet) Has(t StreamType) bool {
	return s&StreamSet(t) != 0
}

func (s StreamSet) With(t StreamType) StreamSet {
	return s | StreamSet(t)
}

func (s StreamSet) Without(t StreamType) StreamSet {
	return s &^ StreamSet(t)
}

// Types lists the members in priority order.
func (s StreamSet) Types() []StreamType {
	types := make([]StreamType, 0, len(Priority))
	for _, t := range Priority {
		if s.Has(t) {
			types = append(types, t)
		}
	}
	return types
}

func (s StreamSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(Priority))
	for _, t := range s.Types() {
		names = append(names, `"`+t.String()+`"`)
	}
	return []byte("[" + strings.Join(names, ",") + "]"), nil
}

// Info is the immutable device metadata reported by the driver.
type Info struct {
	FriendlyName    string `json:"friendlyName"`
	SerialNumber    string `json:"serialNumber"`
	FirmwareVersion string `json:"firmwareVersion"`
	Manufacturer    string `json:"manufacturer"`
	DevicePath      string `json:"devicePath"`
}

// Sample is one record drained from a stream buffer. The concrete type is
// fixed by the stream it came from.
type Sample interface {
	Stream() StreamType
}

type ECGFrame struct {
	Values        []float64 `json:"ecgValues"`
	TimeInSeconds float64   `json:"timeInSeconds"`
}

func (ECGFrame) Stream() StreamType { return StreamECG }

type PPGSample struct {
	Value0  float64 `json:"ppgValue0"`
	Value1  float64 `json:"ppgValue1"`
	Value2  float64 `json:"ppgValue2"`
	Ambient float64 `json:"ambient"`
}

type PPGFrame struct {
	Samples       []PPGSample `json:"ppgSamples"`
	TimeInSeconds float64     `json:"timeInSeconds"`
}

func (PPGFrame) Stream() StreamType { return StreamPPG }

type ContactStatus int

const (
	ContactInvalid ContactStatus = iota
	ContactNone
	ContactDetected
)

type HRFrame struct {
	BeatsPerMinute float64       `json:"beatsPerMinute"`
	ContactStatus  ContactStatus `json:"contactStatus"`
	EnergyExpended float64       `json:"energyExpended"`
	RRIntervals    []float64     `json:"RRIntervals"`
	TimeInSeconds  float64       `json:"timeInSeconds"`
}

func (HRFrame) Stream() StreamType { return StreamHR }

type GSRFrame struct {
	Value         float64 `json:"gsrValue"`
	TimeInSeconds float64 `json:"timeInSeconds"`
}

func (GSRFrame) Stream() StreamType { return StreamGSR }

// Event is one non-empty batch drained from a single stream of a single
// sensor. Consumers must treat it as read-only.
type Event struct {
	SensorID int        `json:"id"`
	Type     StreamType `json:"type"`
	Samples  []Sample   `json:"stream"`
}
