// Package config loads the unitd configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvBroker       = "UNITD_BROKER"
	EnvUnitID       = "UNITD_UNIT_ID"
	EnvLogLevel     = "UNITD_LOG_LEVEL"
	EnvMQTTPassword = "UNITD_MQTT_PASSWORD"
)

// MachineIDPath is where the unit id is derived from when none is set.
const MachineIDPath = "/etc/machine-id"

// Config is the complete daemon configuration.
type Config struct {
	Unit           UnitConfig      `yaml:"unit"`
	Transport      TransportConfig `yaml:"transport"`
	GPIO           GPIOConfig      `yaml:"gpio"`
	RFID           SerialConfig    `yaml:"rfid"`
	Display        SerialConfig    `yaml:"display"`
	HTTP           HTTPConfig      `yaml:"http"`
	Update         UpdateConfig    `yaml:"update"`
	Log            LogConfig       `yaml:"log"`
	Poll           time.Duration   `yaml:"poll"`
	NetworkTimeout time.Duration   `yaml:"network_timeout"`
}

// UnitConfig identifies the unit.
type UnitConfig struct {
	ID              string `yaml:"id"`
	FirmwareVersion string `yaml:"firmware_version"`
}

// TransportConfig selects and configures the broker connection.
type TransportConfig struct {
	Kind           string        `yaml:"kind"`
	Broker         string        `yaml:"broker"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	BufferSize     int           `yaml:"buffer_size"`
}

// GPIOConfig maps the lock and button to GPIO lines (BCM numbering).
type GPIOConfig struct {
	Chip            string `yaml:"chip"`
	LockPin         int    `yaml:"lock_pin"`
	LockActiveHigh  bool   `yaml:"lock_active_high"`
	ButtonPin       int    `yaml:"button_pin"`
	ButtonActiveLow bool   `yaml:"button_active_low"`
}

// SerialConfig names a serial device. An empty device disables it.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// HTTPConfig configures the status server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	MDNS bool   `yaml:"mdns"`
}

// UpdateConfig configures firmware uploads. An empty target means the
// running executable.
type UpdateConfig struct {
	Target       string `yaml:"target"`
	PasswordHash string `yaml:"password_hash"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Transport kinds.
const (
	KindMQTT = "mqtt"
	KindNATS = "nats"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:           KindMQTT,
			Broker:         "tcp://localhost:1883",
			TopicPrefix:    "openunitstate/",
			ConnectTimeout: 10 * time.Second,
			RetryDelay:     5 * time.Second,
			BufferSize:     64,
		},
		GPIO: GPIOConfig{
			Chip:            "gpiochip0",
			LockPin:         17,
			LockActiveHigh:  true,
			ButtonPin:       27,
			ButtonActiveLow: true,
		},
		RFID:           SerialConfig{Baud: 9600},
		Display:        SerialConfig{Baud: 9600},
		HTTP:           HTTPConfig{Addr: ":80", MDNS: true},
		Log:            LogConfig{Level: "info", Format: "console"},
		Poll:           100 * time.Millisecond,
		NetworkTimeout: 30 * time.Second,
	}
}

// Load reads filename over the defaults, applies environment overrides and
// validates the result. An empty filename skips the file.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if broker := os.Getenv(EnvBroker); broker != "" {
		c.Transport.Broker = broker
	}
	if id := os.Getenv(EnvUnitID); id != "" {
		c.Unit.ID = id
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = level
	}
	if pw := os.Getenv(EnvMQTTPassword); pw != "" {
		c.Transport.Password = pw
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport.Kind {
	case KindMQTT, KindNATS:
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q: want mqtt or nats", c.Transport.Kind))
	}
	if c.Transport.Broker == "" {
		errs = append(errs, errors.New("transport.broker is required"))
	}
	if c.Transport.RetryDelay <= 0 {
		errs = append(errs, errors.New("transport.retry_delay must be positive"))
	}
	if c.Transport.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("transport.connect_timeout must be positive"))
	}
	if c.Unit.ID != "" && !ValidUnitID(c.Unit.ID) {
		errs = append(errs, fmt.Errorf("unit.id %q: must be non-empty without topic separators or wildcards", c.Unit.ID))
	}
	if c.GPIO.LockPin < 0 || c.GPIO.ButtonPin < 0 {
		errs = append(errs, errors.New("gpio pins must not be negative"))
	}
	if c.GPIO.LockPin == c.GPIO.ButtonPin {
		errs = append(errs, fmt.Errorf("gpio.lock_pin and gpio.button_pin are both %d", c.GPIO.LockPin))
	}
	if c.Poll <= 0 || c.Poll > time.Second {
		errs = append(errs, fmt.Errorf("poll %v: want (0, 1s]", c.Poll))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want console or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ValidUnitID reports whether id can be embedded in a topic.
func ValidUnitID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/+#.* \t\n\x00")
}

// ResolveUnitID returns the configured id, or six lowercase hex digits
// derived from the machine id at path, or from a random UUID when that is
// unreadable.
func (c *Config) ResolveUnitID(path string) string {
	if c.Unit.ID != "" {
		return c.Unit.ID
	}
	if data, err := os.ReadFile(path); err == nil {
		if id := hexSuffix(string(data)); id != "" {
			return id
		}
	}
	return hexSuffix(uuid.NewString())
}

// hexSuffix returns the last six hex digits of s, lowercased.
func hexSuffix(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	h := b.String()
	if len(h) < 6 {
		return ""
	}
	return h[len(h)-6:]
}
