package sensor

// Driver is the boundary to the native sensor library.
type Driver interface {
	Version() string
	// Pump advances the driver's internal state. Buffers are only valid to
	// read after a pump.
	Pump() error
	TopologyChanged() bool
	Enumerate() ([]Device, error)
}

// Device is one sensor as exposed by the driver.
type Device interface {
	ID() int
	Capabilities() StreamSet
	Info() Info
	SetStreamActive(t StreamType, active bool) error
	// Drain returns the samples buffered since the last drain and flushes
	// the buffer. It never blocks.
	Drain(t StreamType) ([]Sample, error)
	StopAllStreams() error
}
