// Package opensignals writes one sensor's stream as an OpenSignals text file.
package opensignals

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_errors "github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// sequenceWidth is the 4 bit nSeq column of the format.
const sequenceWidth = 16

// MetadataSource resolves the device metadata written in the header.
type MetadataSource interface {
	Lookup(id int) (sensor.Snapshot, bool)
}

// Logger is a bus subscriber that binds to the first sensor it sees for its
// stream type and logs only that sensor from then on.
type Logger struct {
	mu sync.Mutex

	stream   sensor.StreamType
	path     string
	out      io.Writer
	closer   io.Closer
	metadata MetadataSource
	now      func() time.Time

	bound       bool
	sensorID    int
	sampleIndex uint64

	err  error
	done chan struct{}

	lines metric.Int64Counter
}

// Open appends to the file at path, creating it if needed.
func Open(stream sensor.StreamType, path string, metadata MetadataSource) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opensignals: cannot open %s: %w", path, err)
	}
	l, err := New(stream, path, f, metadata)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.closer = f
	return l, nil
}

// New logs to an arbitrary writer. Name is only used in errors and the
// subscriber id.
func New(stream sensor.StreamType, name string, out io.Writer, metadata MetadataSource) (*Logger, error) {
	if stream != sensor.StreamECG && stream != sensor.StreamGSR {
		return nil, fmt.Errorf("opensignals: stream %s cannot be logged", stream)
	}
	lines, err := otel.Meter("opensignals").Int64Counter(
		"hsl.opensignals.lines",
		metric.WithDescription("Sample lines written to OpenSignals logs"),
	)
	if err != nil {
		log.Error().Err(err).Msg("opensignals: cannot create meter counter instance")
		return nil, err
	}
	return &Logger{
		stream:   stream,
		path:     name,
		out:      out,
		metadata: metadata,
		now:      time.Now,
		done:     make(chan struct{}),
		lines:    lines,
	}, nil
}

func (l *Logger) SubscriberID() string {
	return fmt.Sprintf("opensignals-%s-%s", l.stream, l.path)
}

// Deliver logs the event. A write failure ends the session: the error is
// returned now and on every later delivery, and Done is closed.
func (l *Logger) Deliver(e sensor.Event) error {
	if e.Type != l.stream {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}

	if !l.bound {
		l.bound = true
		l.sensorID = e.SensorID
		log.Info().Int("sensor_id", e.SensorID).Str("path", l.path).Msg("opensignals: session bound")
		if err := l.writeHeader(); err != nil {
			return l.fail(err)
		}
	} else if e.SensorID != l.sensorID {
		return nil
	}

	var buf bytes.Buffer
	written := 0
	for _, s := range e.Samples {
		for _, v := range SampleValues(s) {
			buf.WriteString(FormatLine(l.sampleIndex, v))
			l.sampleIndex++
			written++
		}
	}
	if _, err := l.out.Write(buf.Bytes()); err != nil {
		return l.fail(err)
	}
	l.lines.Add(context.Background(), int64(written), metric.WithAttributes(attribute.String("stream", l.stream.String())))
	return nil
}

// Done is closed when the session failed.
func (l *Logger) Done() <-chan struct{} {
	return l.done
}

func (l *Logger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		l.err = _errors.ErrSessionClosed
	}
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

func (l *Logger) fail(err error) error {
	l.err = &_errors.LogWriteError{Path: l.path, Err: err}
	close(l.done)
	log.Error().Err(l.err).Msg("opensignals: session failed")
	return l.err
}

func (l *Logger) writeHeader() error {
	snapshot, ok := l.metadata.Lookup(l.sensorID)
	if !ok {
		log.Warn().Int("sensor_id", l.sensorID).Msg("opensignals: sensor metadata unavailable, header left blank")
		snapshot = sensor.Snapshot{ID: l.sensorID}
	}
	header, err := Header(snapshot.Info, l.now())
	if err != nil {
		return err
	}
	_, err = l.out.Write(header)
	return err
}

// SampleValues lists the logged values of one sample, one per line.
func SampleValues(s sensor.Sample) []float64 {
	switch s := s.(type) {
	case sensor.ECGFrame:
		return s.Values
	case sensor.GSRFrame:
		return []float64{s.Value}
	}
	return nil
}

// FormatLine renders one data line. The index wraps at sequenceWidth.
func FormatLine(sampleIndex uint64, value float64) string {
	return fmt.Sprintf("%d\t:%s\r\n", sampleIndex%sequenceWidth, strconv.FormatFloat(value, 'f', -1, 64))
}

type deviceInfo struct {
	Sensor           []string   `json:"sensor"`
	DeviceName       string     `json:"device name"`
	Column           []string   `json:"column"`
	SyncInterval     int        `json:"sync interval"`
	Time             string     `json:"time"`
	Comments         string     `json:"comments"`
	DeviceConnection string     `json:"device connection"`
	Channels         []int      `json:"channels"`
	Date             string     `json:"date"`
	Mode             int        `json:"mode"`
	DigitalIO        []int      `json:"digital IO"`
	FirmwareVersion  string     `json:"firmware version"`
	Device           string     `json:"device"`
	Position         int        `json:"position"`
	SamplingRate     int        `json:"sampling rate"`
	Label            []string   `json:"label"`
	Resolution       []int      `json:"resolution"`
	Special          []struct{} `json:"special"`
}

// Header renders the three header lines for a device.
func Header(info sensor.Info, now time.Time) ([]byte, error) {
	device := map[string]deviceInfo{
		info.SerialNumber: {
			Sensor:           []string{"RAW"},
			DeviceName:       info.FriendlyName,
			Column:           []string{"nSeq", "A3"},
			SyncInterval:     2,
			Time:             now.Format("3:04:05 PM"),
			Comments:         "",
			DeviceConnection: info.DevicePath,
			Channels:         []int{1},
			Date:             formatDate(now),
			Mode:             0,
			DigitalIO:        []int{0},
			FirmwareVersion:  info.FirmwareVersion,
			Device:           info.Manufacturer,
			Position:         0,
			SamplingRate:     100,
			Label:            []string{"A3"},
			Resolution:       []int{1},
			Special:          []struct{}{{}},
		},
	}
	raw, err := json.Marshal(device)
	if err != nil {
		return nil, fmt.Errorf("opensignals: encode header: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# OpenSignals Text File Format\r\n")
	buf.WriteString("# ")
	buf.Write(raw)
	buf.WriteString("\r\n")
	buf.WriteString("# EndOfHeader\r\n")
	return buf.Bytes(), nil
}

// formatDate renders dates like "March 3rd, 2024".
func formatDate(t time.Time) string {
	day := t.Day()
	suffix := "th"
	switch {
	case day%100 >= 11 && day%100 <= 13:
	case day%10 == 1:
		suffix = "st"
	case day%10 == 2:
		suffix = "nd"
	case day%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%s %d%s, %d", t.Month(), day, suffix, t.Year())
}
