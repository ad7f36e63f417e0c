package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_errors "github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            uint32        `json:"port" yaml:"port"`
	IsDevelopment   bool          `json:"isDevelopment" yaml:"isDevelopment"`
	ShutdownTimeout int64         `json:"shutdownTimeout" yaml:"shutdownTimeout"`
	PublicDir       string        `json:"publicDir" yaml:"publicDir"`
	Acquisition     Acquisition   `json:"acquisition" yaml:"acquisition"`
	Broadcast       Broadcast     `json:"broadcast" yaml:"broadcast"`
	Mqtt            Mqtt          `json:"mqtt" yaml:"mqtt"`
	Metrics         Metrics       `json:"metrics" yaml:"metrics"`
	OpenSignals     []OpenSignals `json:"openSignals" yaml:"openSignals"`
	Simulator       Simulator     `json:"simulator" yaml:"simulator"`
}

type Acquisition struct {
	IntervalMs int64 `json:"intervalMs" yaml:"intervalMs"`
}

func (a Acquisition) Interval() time.Duration {
	return time.Duration(a.IntervalMs) * time.Millisecond
}

type Broadcast struct {
	// ClientBuffer is the number of frames a client may lag behind before
	// it is evicted.
	ClientBuffer int `json:"clientBuffer" yaml:"clientBuffer"`
}

type Mqtt struct {
	BrokerUrl   string `json:"brokerUrl" yaml:"brokerUrl"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	ClientId    string `json:"clientId" yaml:"clientId"`
	TopicPrefix string `json:"topicPrefix" yaml:"topicPrefix"`
}

func (m Mqtt) Enabled() bool {
	return m.BrokerUrl != ""
}

type Metrics struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type OpenSignals struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

type Simulator struct {
	Sensors []SimulatedSensor `json:"sensors" yaml:"sensors"`
}

type SimulatedSensor struct {
	Id           int      `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Serial       string   `json:"serial" yaml:"serial"`
	Firmware     string   `json:"firmware" yaml:"firmware"`
	Manufacturer string   `json:"manufacturer" yaml:"manufacturer"`
	Path         string   `json:"path" yaml:"path"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// Load reads a JSON or YAML (by extension) config file, fills in defaults
// and validates the result.
func Load(path string) (Config, error) {
	var cfg Config

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: cannot read file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &cfg)
	default:
		err = json.NewDecoder(bytes.NewBuffer(raw)).Decode(&cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5
	}
	if c.PublicDir == "" {
		c.PublicDir = "./public"
	}
	if c.Acquisition.IntervalMs == 0 {
		c.Acquisition.IntervalMs = 100
	}
	if c.Broadcast.ClientBuffer == 0 {
		c.Broadcast.ClientBuffer = 64
	}
	if c.Mqtt.ClientId == "" {
		c.Mqtt.ClientId = "hsl-broker"
	}
	if c.Mqtt.TopicPrefix == "" {
		c.Mqtt.TopicPrefix = "hsl/sensors"
	}
}

func (c *Config) validate() error {
	fields := map[string]string{}

	if c.Port > 65535 {
		fields["port"] = "must be a valid tcp port"
	}
	if c.ShutdownTimeout < 0 {
		fields["shutdownTimeout"] = "must not be negative"
	}
	if c.Acquisition.IntervalMs < 0 {
		fields["acquisition.intervalMs"] = "must be positive"
	}
	if c.Broadcast.ClientBuffer < 0 {
		fields["broadcast.clientBuffer"] = "must be positive"
	}
	for i, o := range c.OpenSignals {
		switch strings.ToLower(o.Type) {
		case "ecg", "gsr":
		default:
			fields[fmt.Sprintf("openSignals[%d].type", i)] = "must be one of ecg, gsr"
		}
		if o.Path == "" {
			fields[fmt.Sprintf("openSignals[%d].path", i)] = "is required"
		}
	}
	seen := map[int]bool{}
	for i, s := range c.Simulator.Sensors {
		if seen[s.Id] {
			fields[fmt.Sprintf("simulator.sensors[%d].id", i)] = "must be unique"
		}
		seen[s.Id] = true
		for _, capability := range s.Capabilities {
			switch strings.ToLower(capability) {
			case "ecg", "ppg", "hr", "gsr":
			default:
				fields[fmt.Sprintf("simulator.sensors[%d].capabilities", i)] = "must only contain ecg, ppg, hr, gsr"
			}
		}
	}

	if len(fields) > 0 {
		return _errors.NewValidationError(fields)
	}
	return nil
}
