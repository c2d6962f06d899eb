package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Sensors    SensorsConfig    `yaml:"sensors"`
	Voltage    VoltageConfig    `yaml:"voltage"`
	Derivation DerivationConfig `yaml:"derivation"`
	CAN        CANConfig        `yaml:"can"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Mock       MockConfig       `yaml:"mock"`
}

// SensorsConfig contains the two serial pressure/temperature channels and
// the poll timing they share.
type SensorsConfig struct {
	Inner           SerialConfig  `yaml:"inner"`
	Outer           SerialConfig  `yaml:"outer"`
	Interval        time.Duration `yaml:"interval"`         // delay before every request
	ResponseTimeout time.Duration `yaml:"response_timeout"` // wait for a reply
	RecoveryDelay   time.Duration `yaml:"recovery_delay"`   // pause after a failed write
	IdleGap         time.Duration `yaml:"idle_gap"`         // line silence that ends a reply
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// VoltageConfig contains the I2C power monitor configuration.
type VoltageConfig struct {
	Bus      string        `yaml:"bus"` // empty selects the first bus
	Address  uint16        `yaml:"address"`
	Interval time.Duration `yaml:"interval"`
}

// DerivationConfig contains concentration derivation parameters.
type DerivationConfig struct {
	Interval time.Duration `yaml:"interval"`
	Log      bool          `yaml:"log"` // log every derivation
}

// CANConfig contains CAN bus configuration.
type CANConfig struct {
	Interface       string        `yaml:"interface"`
	Step            time.Duration `yaml:"step"`
	AcceptOverride  bool          `yaml:"accept_override"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerOpen     time.Duration `yaml:"breaker_open"`
}

// MetricsConfig contains the Prometheus endpoint configuration.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// TelemetryConfig contains the MQTT mirror configuration.
type TelemetryConfig struct {
	Broker   string        `yaml:"broker"` // empty disables the mirror
	Topic    string        `yaml:"topic"`
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Interval time.Duration `yaml:"interval"`
}

// MockConfig contains simulated peripheral values used with -mock.
type MockConfig struct {
	Temperature   int16         `yaml:"temperature"`    // raw temperature code
	InnerPressure uint32        `yaml:"inner_pressure"` // kPa x 1000
	OuterPressure uint32        `yaml:"outer_pressure"` // kPa x 1000
	BusVoltage    float32       `yaml:"bus_voltage"`    // V
	Latency       time.Duration `yaml:"latency"`        // simulated reply latency
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Sensors: SensorsConfig{
			Inner: SerialConfig{
				Port:     "/dev/ttyUSB0",
				BaudRate: 9600,
			},
			Outer: SerialConfig{
				Port:     "/dev/ttyUSB1",
				BaudRate: 9600,
			},
			Interval:        50 * time.Millisecond,
			ResponseTimeout: 100 * time.Millisecond,
			RecoveryDelay:   100 * time.Millisecond,
			IdleGap:         5 * time.Millisecond,
		},
		Voltage: VoltageConfig{
			Bus:      "",
			Address:  0x40,
			Interval: 50 * time.Millisecond,
		},
		Derivation: DerivationConfig{
			Interval: 100 * time.Millisecond,
			Log:      true,
		},
		CAN: CANConfig{
			Interface:       "can0",
			Step:            10 * time.Millisecond,
			AcceptOverride:  false,
			BreakerFailures: 5,
			BreakerOpen:     time.Second,
		},
		Metrics: MetricsConfig{
			Listen: ":9102",
		},
		Telemetry: TelemetryConfig{
			Broker:   "",
			Topic:    "o2mon/readings",
			ClientID: "o2mon",
			Interval: time.Second,
		},
		Mock: MockConfig{
			Temperature:   2500,
			InnerPressure: 101325,
			OuterPressure: 101325,
			BusVoltage:    1.04,
			Latency:       10 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Sensors.Inner.Port == c.Sensors.Outer.Port {
		return fmt.Errorf("invalid config: inner and outer sensors share port %s", c.Sensors.Inner.Port)
	}
	if c.Voltage.Address > 0x7F {
		return fmt.Errorf("invalid config: I2C address 0x%X out of range", c.Voltage.Address)
	}
	if c.Telemetry.Broker != "" && c.Telemetry.Topic == "" {
		return fmt.Errorf("invalid config: telemetry topic required with broker %s", c.Telemetry.Broker)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Sensors.Inner.Port == "" {
		c.Sensors.Inner.Port = def.Sensors.Inner.Port
	}
	if c.Sensors.Inner.BaudRate == 0 {
		c.Sensors.Inner.BaudRate = def.Sensors.Inner.BaudRate
	}
	if c.Sensors.Outer.Port == "" {
		c.Sensors.Outer.Port = def.Sensors.Outer.Port
	}
	if c.Sensors.Outer.BaudRate == 0 {
		c.Sensors.Outer.BaudRate = def.Sensors.Outer.BaudRate
	}
	if c.Sensors.Interval == 0 {
		c.Sensors.Interval = def.Sensors.Interval
	}
	if c.Sensors.ResponseTimeout == 0 {
		c.Sensors.ResponseTimeout = def.Sensors.ResponseTimeout
	}
	if c.Sensors.RecoveryDelay == 0 {
		c.Sensors.RecoveryDelay = def.Sensors.RecoveryDelay
	}
	if c.Sensors.IdleGap == 0 {
		c.Sensors.IdleGap = def.Sensors.IdleGap
	}

	if c.Voltage.Address == 0 {
		c.Voltage.Address = def.Voltage.Address
	}
	if c.Voltage.Interval == 0 {
		c.Voltage.Interval = def.Voltage.Interval
	}

	if c.Derivation.Interval == 0 {
		c.Derivation.Interval = def.Derivation.Interval
	}

	if c.CAN.Interface == "" {
		c.CAN.Interface = def.CAN.Interface
	}
	if c.CAN.Step == 0 {
		c.CAN.Step = def.CAN.Step
	}
	if c.CAN.BreakerFailures == 0 {
		c.CAN.BreakerFailures = def.CAN.BreakerFailures
	}
	if c.CAN.BreakerOpen == 0 {
		c.CAN.BreakerOpen = def.CAN.BreakerOpen
	}

	if c.Telemetry.ClientID == "" {
		c.Telemetry.ClientID = def.Telemetry.ClientID
	}
	if c.Telemetry.Interval == 0 {
		c.Telemetry.Interval = def.Telemetry.Interval
	}
}
