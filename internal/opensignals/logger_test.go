package opensignals

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	_errors "github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"github.com/mirzahilmi/heartsensor/broker/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type metadata map[int]sensor.Info

func (m metadata) Lookup(id int) (sensor.Snapshot, bool) {
	info, ok := m[id]
	return sensor.Snapshot{ID: id, Info: info}, ok
}

var devices = metadata{
	1: {FriendlyName: "Shimmer A", SerialNumber: "SN-A", FirmwareVersion: "1.2", Manufacturer: "Shimmer", DevicePath: "/dev/a"},
	2: {FriendlyName: "Shimmer B", SerialNumber: "SN-B"},
}

func gsr(id int, values ...float64) sensor.Event {
	samples := make([]sensor.Sample, len(values))
	for i, v := range values {
		samples[i] = sensor.GSRFrame{Value: v}
	}
	return sensor.Event{SensorID: id, Type: sensor.StreamGSR, Samples: samples}
}

func newLogger(t *testing.T, stream sensor.StreamType, out *bytes.Buffer) *Logger {
	t.Helper()
	l, err := New(stream, "test.txt", out, devices)
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2024, time.March, 3, 14, 5, 9, 0, time.UTC) }
	return l
}

func lines(out *bytes.Buffer) []string {
	parts := strings.SplitAfter(out.String(), "\r\n")
	return parts[:len(parts)-1]
}

func TestNewRejectsUnloggableStreams(t *testing.T) {
	for _, stream := range []sensor.StreamType{sensor.StreamPPG, sensor.StreamHR} {
		_, err := New(stream, "x", &bytes.Buffer{}, devices)
		assert.Error(t, err, stream.String())
	}
}

func TestHeaderWrittenOnceBeforeData(t *testing.T) {
	var out bytes.Buffer
	l := newLogger(t, sensor.StreamGSR, &out)

	for i := range 10 {
		require.NoError(t, l.Deliver(gsr(1, float64(i))))
	}

	got := lines(&out)
	require.Len(t, got, 13)
	assert.Equal(t, "# OpenSignals Text File Format\r\n", got[0])
	assert.True(t, strings.HasPrefix(got[1], "# {"))
	assert.Equal(t, "# EndOfHeader\r\n", got[2])
	assert.Equal(t, 1, strings.Count(out.String(), "# EndOfHeader"))
	for _, line := range got[3:] {
		assert.False(t, strings.HasPrefix(line, "#"))
	}
}

func TestHeaderContents(t *testing.T) {
	header, err := Header(devices[1], time.Date(2024, time.March, 3, 14, 5, 9, 0, time.UTC))
	require.NoError(t, err)

	parts := strings.Split(string(header), "\r\n")
	require.Len(t, parts, 4)
	assert.Empty(t, parts[3])

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(parts[1], "# ")), &decoded))
	info, ok := decoded["SN-A"]
	require.True(t, ok)
	assert.Equal(t, "Shimmer A", info["device name"])
	assert.Equal(t, "/dev/a", info["device connection"])
	assert.Equal(t, "1.2", info["firmware version"])
	assert.Equal(t, "Shimmer", info["device"])
	assert.Equal(t, "2:05:09 PM", info["time"])
	assert.Equal(t, "March 3rd, 2024", info["date"])
	assert.EqualValues(t, 100, info["sampling rate"])
	assert.Equal(t, []any{"nSeq", "A3"}, info["column"])
	for _, key := range []string{"sensor", "sync interval", "comments", "channels", "mode", "digital IO", "position", "label", "resolution", "special"} {
		assert.Contains(t, info, key)
	}
	// keys keep the documented order
	assert.Less(t, strings.Index(parts[1], `"sensor"`), strings.Index(parts[1], `"device name"`))
	assert.Less(t, strings.Index(parts[1], `"resolution"`), strings.Index(parts[1], `"special"`))
}

func TestSampleIndexWrapsAtSixteen(t *testing.T) {
	var out bytes.Buffer
	l := newLogger(t, sensor.StreamGSR, &out)

	values := make([]float64, 33)
	for i := range values {
		values[i] = float64(100 + i)
	}
	require.NoError(t, l.Deliver(gsr(1, values...)))

	data := lines(&out)[3:]
	require.Len(t, data, 33)
	for i, line := range data {
		want := FormatLine(uint64(i%16), float64(100+i))
		assert.Equal(t, want, line)
	}
	assert.Equal(t, "0\t:132\r\n", data[32])
	assert.Equal(t, "15\t:115\r\n", data[15])
}

func TestECGValuesAreLoggedIndividually(t *testing.T) {
	var out bytes.Buffer
	l := newLogger(t, sensor.StreamECG, &out)

	require.NoError(t, l.Deliver(sensor.Event{
		SensorID: 1,
		Type:     sensor.StreamECG,
		Samples: []sensor.Sample{
			sensor.ECGFrame{Values: []float64{-12, 40, 803}},
			sensor.ECGFrame{Values: []float64{7.5}},
		},
	}))
	// other stream types are ignored
	require.NoError(t, l.Deliver(gsr(1, 5)))

	assert.Equal(t, []string{"0\t:-12\r\n", "1\t:40\r\n", "2\t:803\r\n", "3\t:7.5\r\n"}, lines(&out)[3:])
}

func TestBoundSessionDiscardsOtherSensors(t *testing.T) {
	var out bytes.Buffer
	l := newLogger(t, sensor.StreamGSR, &out)

	require.NoError(t, l.Deliver(gsr(1, 10)))
	require.NoError(t, l.Deliver(gsr(2, 20)))
	require.NoError(t, l.Deliver(gsr(1, 30)))

	assert.Equal(t, []string{"0\t:10\r\n", "1\t:30\r\n"}, lines(&out)[3:])
	assert.Contains(t, out.String(), "SN-A")
	assert.NotContains(t, out.String(), "SN-B")
}

type failingWriter struct {
	after int
	calls int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.calls > w.after {
		return 0, errors.New("disk full")
	}
	return len(p), nil
}

func TestWriteFailureEndsSession(t *testing.T) {
	w := &failingWriter{after: 1}
	l, err := New(sensor.StreamGSR, "broken.txt", w, devices)
	require.NoError(t, err)

	err = l.Deliver(gsr(1, 1))
	var writeErr *_errors.LogWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "broken.txt", writeErr.Path)

	select {
	case <-l.Done():
	default:
		t.Fatal("session should be done")
	}

	calls := w.calls
	assert.ErrorAs(t, l.Deliver(gsr(1, 2)), &writeErr)
	assert.Equal(t, calls, w.calls)
	assert.Equal(t, err, l.Err())
}

func TestOpenAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gsr.txt")
	require.NoError(t, os.WriteFile(path, []byte("existing\r\n"), 0o600))

	l, err := Open(sensor.StreamGSR, path, devices)
	require.NoError(t, err)
	require.NoError(t, l.Deliver(gsr(1, 42)))
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "existing\r\n# OpenSignals Text File Format\r\n"))
	assert.True(t, strings.HasSuffix(string(raw), "0\t:42\r\n"))

	assert.ErrorIs(t, l.Deliver(gsr(1, 43)), _errors.ErrSessionClosed)
}

func TestFormatDate(t *testing.T) {
	cases := map[int]string{1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 11: "11th", 12: "12th", 13: "13th", 21: "21st", 22: "22nd", 23: "23rd", 31: "31st"}
	for day, want := range cases {
		got := formatDate(time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, "January "+want+", 2024", got)
	}
}
