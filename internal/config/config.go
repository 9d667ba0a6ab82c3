package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"pete/internal/net/plc"
	"pete/internal/sim"
)

const (
	STORE_OPCUA  = "opcua"
	STORE_MEMORY = "memory"

	ENV_ENDPOINT        = "PETE_ENDPOINT"
	ENV_OPCUA_USERNAME  = "PETE_OPCUA_USERNAME"
	ENV_OPCUA_PASSWORD  = "PETE_OPCUA_PASSWORD"
	ENV_MQTT_PASSWORD   = "PETE_MQTT_PASSWORD"
	ENV_INFLUXDB_TOKEN  = "PETE_INFLUXDB_TOKEN"
	ENV_LOG_LEVEL       = "PETE_LOG_LEVEL"
	DEFAULT_METRICS     = ":9464"
	DEFAULT_MQTT_BROKER = "tcp://localhost:1883"
	DEFAULT_MQTT_PREFIX = "pete/devices"
)

// Config is the complete runtime configuration of the simulator. Every
// field has a working default, so an empty file (or none) is valid.
type Config struct {
	PLC        PLCConfig        `yaml:"plc"`
	Store      StoreConfig      `yaml:"store"`
	Memory     MemoryConfig     `yaml:"memory"`
	Simulation SimulationConfig `yaml:"simulation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
}

// PLCConfig describes the OPC UA session to the controller.
type PLCConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	Timeout         time.Duration `yaml:"timeout"`
	ApplicationName string        `yaml:"application_name"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	AutoReconnect   bool          `yaml:"auto_reconnect"`
}

type StoreConfig struct {
	// Mode is "opcua" (a real controller) or "memory" (a seeded in-process
	// namespace, for running without hardware).
	Mode string `yaml:"mode"`
}

type MemoryConfig struct {
	Nodes []SeedNode `yaml:"nodes"`
}

// SeedNode is one variable of the in-memory namespace, addressed by its
// slash separated path below the root ("Objects/PLC/Inputs/hwi_TT-001").
type SeedNode struct {
	Path  string `yaml:"path"`
	Type  string `yaml:"type"`
	Value any    `yaml:"value"`
}

type SimulationConfig struct {
	PLCName     string `yaml:"plc_name"`
	InputsPath  string `yaml:"inputs_path"`
	OutputsPath string `yaml:"outputs_path"`

	AnalogMarkers []string      `yaml:"analog_markers"`
	AnalogPeriod  time.Duration `yaml:"analog_period"`
	AnalogLow     int           `yaml:"analog_low"`
	AnalogHigh    int           `yaml:"analog_high"`

	SolenoidMarker  string        `yaml:"solenoid_marker"`
	ValvePollPeriod time.Duration `yaml:"valve_poll_period"`
	TravelTime      time.Duration `yaml:"travel_time"`

	ControlValveMarker string  `yaml:"control_valve_marker"`
	ControlValveRate   float64 `yaml:"control_valve_rate"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     uint          `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Load reads the YAML file at path on top of the defaults, applies the
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "[config.Load] reading config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "[config.Load] parsing config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "[config.Load] validating config")
	}
	return cfg, nil
}

func Default() *Config {
	simDefaults := sim.DefaultConfig()

	return &Config{
		PLC: PLCConfig{
			Timeout:         plc.DEFAULT_TIMEOUT,
			ApplicationName: plc.DEFAULT_APP_NAME,
			SecurityMode:    "None",
			SecurityPolicy:  "None",
			AutoReconnect:   true,
		},
		Store: StoreConfig{Mode: STORE_OPCUA},
		Simulation: SimulationConfig{
			InputsPath:         simDefaults.InputsPath,
			OutputsPath:        simDefaults.OutputsPath,
			AnalogMarkers:      append([]string(nil), simDefaults.AnalogMarkers...),
			AnalogPeriod:       simDefaults.AnalogPeriod,
			AnalogLow:          simDefaults.AnalogLow,
			AnalogHigh:         simDefaults.AnalogHigh,
			SolenoidMarker:     simDefaults.SolenoidMarker,
			ValvePollPeriod:    simDefaults.ValvePollPeriod,
			TravelTime:         simDefaults.TravelTime,
			ControlValveMarker: simDefaults.ControlValveMarker,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{Address: DEFAULT_METRICS},
		MQTT: MQTTConfig{
			Broker:      DEFAULT_MQTT_BROKER,
			ClientID:    plc.DEFAULT_APP_NAME,
			TopicPrefix: DEFAULT_MQTT_PREFIX,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "pete",
			BatchSize:     500,
			FlushInterval: time.Second,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(ENV_ENDPOINT); v != "" {
		cfg.PLC.Endpoint = v
	}
	if v := os.Getenv(ENV_OPCUA_USERNAME); v != "" {
		cfg.PLC.Username = v
	}
	if v := os.Getenv(ENV_OPCUA_PASSWORD); v != "" {
		cfg.PLC.Password = v
	}
	if v := os.Getenv(ENV_MQTT_PASSWORD); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv(ENV_INFLUXDB_TOKEN); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv(ENV_LOG_LEVEL); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate reports every problem at once. The controller endpoint is not
// checked here: it may still come from the command line.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Mode {
	case STORE_OPCUA, STORE_MEMORY:
	default:
		errs = append(errs, "store.mode must be opcua or memory")
	}

	for i, n := range c.Memory.Nodes {
		if strings.Trim(n.Path, "/") == "" {
			errs = append(errs, fmt.Sprintf("memory.nodes[%d].path is required", i))
		}
		if _, ok := TypeIDByName(n.Type); !ok {
			errs = append(errs, fmt.Sprintf("memory.nodes[%d].type %q is not supported", i, n.Type))
		}
	}

	s := c.Simulation
	if s.InputsPath == "" || s.OutputsPath == "" {
		errs = append(errs, "simulation.inputs_path and simulation.outputs_path are required")
	}
	if s.AnalogLow > s.AnalogHigh {
		errs = append(errs, "simulation.analog_low must not exceed simulation.analog_high")
	}
	if s.AnalogPeriod <= 0 || s.ValvePollPeriod <= 0 {
		errs = append(errs, "simulation periods must be positive")
	}
	if s.TravelTime < 0 {
		errs = append(errs, "simulation.travel_time must not be negative")
	}
	if s.ControlValveRate < 0 {
		errs = append(errs, "simulation.control_valve_rate must not be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when metrics are enabled")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return errors.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SimConfig returns the device and discovery settings.
func (c *Config) SimConfig() sim.Config {
	s := c.Simulation
	return sim.Config{
		PLCName:            s.PLCName,
		InputsPath:         s.InputsPath,
		OutputsPath:        s.OutputsPath,
		AnalogMarkers:      s.AnalogMarkers,
		AnalogPeriod:       s.AnalogPeriod,
		AnalogLow:          s.AnalogLow,
		AnalogHigh:         s.AnalogHigh,
		SolenoidMarker:     s.SolenoidMarker,
		ValvePollPeriod:    s.ValvePollPeriod,
		TravelTime:         s.TravelTime,
		ControlValveMarker: s.ControlValveMarker,
		ControlValveRate:   s.ControlValveRate,
	}
}
