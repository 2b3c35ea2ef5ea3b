// Package config loads the daemon configuration from a YAML file, command-line
// flags and the environment.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/exhibit-sensor/internal/debounce"
	"github.com/sweeney/exhibit-sensor/internal/gpio"
	"github.com/sweeney/exhibit-sensor/internal/logic"
	"github.com/sweeney/exhibit-sensor/internal/mqtt"
	"github.com/sweeney/exhibit-sensor/internal/sensor"
)

// Defaults for a fresh exhibit.
const (
	DefaultConfigFile = "/etc/exhibit-sensor/config.yaml"
	DefaultEnvFile    = "/run/pi-helper.env"
	DefaultDevice     = "Arduino-7"
	DefaultBroker     = "tcp://192.168.105.22:1883"
	DefaultPoll       = 10 * time.Millisecond
	DefaultHeartbeat  = 5 * time.Second
	DefaultHTTPAddr   = ":80"
	DefaultNamespace  = "exhibit."

	// WSBrokerFromBroker derives the websocket URL from the broker host.
	WSBrokerFromBroker = "=broker"
)

// Environment variables that override the broker credentials in the file.
const (
	EnvBrokerUser = "EXHIBIT_BROKER_USER"
	EnvBrokerPass = "EXHIBIT_BROKER_PASS"
)

// Broker holds the MQTT connection settings.
type Broker struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TopicRoot  string `yaml:"topic_root"`
	BufferSize int    `yaml:"buffer_size"`
}

// GPIO selects the digital input backend.
type GPIO struct {
	Backend   string `yaml:"backend"`
	Chip      string `yaml:"chip"`
	ActiveLow bool   `yaml:"active_low"`
}

// Metrics configures the DogStatsD client. An empty address disables metrics.
type Metrics struct {
	StatsdAddr string   `yaml:"statsd_addr"`
	Namespace  string   `yaml:"namespace"`
	Tags       []string `yaml:"tags"`
}

// Input describes one debounced input.
type Input struct {
	Name    string        `yaml:"name"`
	Pin     int           `yaml:"pin"`
	Mode    string        `yaml:"mode"`
	Delay   time.Duration `yaml:"delay"`
	Policy  string        `yaml:"policy"`
	Publish string        `yaml:"publish"`
	Topic   string        `yaml:"topic"`
}

// Config is the complete daemon configuration.
type Config struct {
	Device       string        `yaml:"device"`
	Broker       Broker        `yaml:"broker"`
	Poll         time.Duration `yaml:"poll"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
	HTTPAddr     string        `yaml:"http"`
	WSBroker     string        `yaml:"ws_broker"`
	LogLevel     string        `yaml:"log_level"`
	LogFile      string        `yaml:"log_file"`
	GPIO         GPIO          `yaml:"gpio"`
	AnalogDevice string        `yaml:"analog_device"`
	EnvDevice    string        `yaml:"env_device"`
	Metrics      Metrics       `yaml:"metrics"`
	Inputs       []Input       `yaml:"inputs"`

	// Set from flags only.
	ConfigFile string `yaml:"-"`
	EnvFile    string `yaml:"-"`
	PrintState bool   `yaml:"-"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() Config {
	return Config{
		Device: DefaultDevice,
		Broker: Broker{
			URL:        DefaultBroker,
			TopicRoot:  mqtt.DefaultTopicRoot,
			BufferSize: mqtt.DefaultBufferSize,
		},
		Poll:         DefaultPoll,
		Heartbeat:    DefaultHeartbeat,
		HTTPAddr:     DefaultHTTPAddr,
		WSBroker:     WSBrokerFromBroker,
		LogLevel:     "info",
		GPIO:         GPIO{Backend: gpio.BackendCdev, Chip: gpio.DefaultChip},
		AnalogDevice: sensor.DefaultDevice,
		EnvDevice:    sensor.DefaultDevice,
		Metrics:      Metrics{Namespace: DefaultNamespace},
	}
}

// Load parses args, loads the env file (if present) and the YAML file, applies
// overrides and validates the result.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("exhibit-sensor", flag.ContinueOnError)
	configFile := fs.String("config", DefaultConfigFile, "Path to YAML config file")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error); overrides the file")
	envFile := fs.String("env-file", DefaultEnvFile, "Optional env file with credentials and network info")
	broker := fs.String("broker", "", "MQTT broker URL; overrides the file")
	printState := fs.Bool("print-state", false, "Read every input once, print it and exit")
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("parse flags: %w", err)
	}

	cfg.ConfigFile = *configFile
	cfg.EnvFile = *envFile
	cfg.PrintState = *printState

	if err := loadEnvFile(cfg.EnvFile); err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, err
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *broker != "" {
		cfg.Broker.URL = *broker
	}
	if u := os.Getenv(EnvBrokerUser); u != "" {
		cfg.Broker.Username = u
	}
	if p := os.Getenv(EnvBrokerPass); p != "" {
		cfg.Broker.Password = p
	}

	cfg.applyInputDefaults()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Parse decodes YAML data over cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// applyInputDefaults fills in the topic of every input that has none:
// <root>/<name>, which for the stock names gives <root>/Value1 and so on.
// Digital inputs without a publish kind report their trigger count, like
// the exhibit's Arduino firmware did.
func (c *Config) applyInputDefaults() {
	topics := mqtt.Topics{Root: c.Broker.TopicRoot}
	for i := range c.Inputs {
		in := &c.Inputs[i]
		if in.Name == "" {
			in.Name = fmt.Sprintf("Value%d", i+1)
		}
		if in.Topic == "" {
			in.Topic = topics.Child(in.Name)
		} else if !strings.Contains(in.Topic, "/") {
			in.Topic = topics.Child(in.Topic)
		}
		if in.Publish == "" {
			if mode, err := debounce.ParseMode(in.Mode); err == nil && mode == debounce.ModeDigital {
				in.Publish = string(logic.PublishCount)
			}
		}
	}
}

// Validate reports every problem in the configuration at once.
func (c Config) Validate() error {
	var errs []error

	if c.Device == "" {
		errs = append(errs, errors.New("device: must not be empty"))
	}
	if c.Broker.URL == "" {
		errs = append(errs, errors.New("broker.url: must not be empty"))
	}
	if c.Broker.TopicRoot == "" {
		errs = append(errs, errors.New("broker.topic_root: must not be empty"))
	}
	if c.Poll <= 0 {
		errs = append(errs, fmt.Errorf("poll: must be positive, got %s", c.Poll))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat: must not be negative, got %s", c.Heartbeat))
	}
	switch strings.ToLower(c.GPIO.Backend) {
	case "", gpio.BackendCdev, gpio.BackendPeriph:
	default:
		errs = append(errs, fmt.Errorf("gpio.backend: unknown backend %q", c.GPIO.Backend))
	}
	if len(c.Inputs) == 0 {
		errs = append(errs, errors.New("inputs: at least one input is required"))
	}

	names := map[string]int{}
	usedPins := map[string]string{}
	for i, in := range c.Inputs {
		field := fmt.Sprintf("inputs[%d]", i)
		if in.Name != "" {
			field = fmt.Sprintf("inputs[%d] (%s)", i, in.Name)
			if other, exists := names[in.Name]; exists {
				errs = append(errs, fmt.Errorf("%s: name already used by inputs[%d]", field, other))
			}
			names[in.Name] = i
		}

		mode, err := debounce.ParseMode(in.Mode)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		if _, err := debounce.ParsePolicy(in.Policy); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		if _, err := logic.ParsePublish(in.Publish); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		if in.Delay <= 0 {
			errs = append(errs, fmt.Errorf("%s: delay must be positive, got %s", field, in.Delay))
		}
		if in.Pin < 0 {
			errs = append(errs, fmt.Errorf("%s: pin must not be negative", field))
		}

		// Humidity and temperature share the one environmental sensor, so only
		// digital lines and analog channels must be unique.
		if mode.Valid() && !mode.UsesSensor() {
			key := fmt.Sprintf("%s:%d", mode, in.Pin)
			if other, exists := usedPins[key]; exists {
				errs = append(errs, fmt.Errorf("%s and %s both use %s pin %d", field, other, mode, in.Pin))
			}
			usedPins[key] = field
		}
	}

	return errors.Join(errs...)
}

// Resolve parses the textual mode, policy and publish kind of an input.
// Call after Validate.
func (in Input) Resolve() (debounce.Mode, debounce.Policy, logic.Publish, error) {
	mode, err := debounce.ParseMode(in.Mode)
	if err != nil {
		return 0, 0, "", err
	}
	policy, err := debounce.ParsePolicy(in.Policy)
	if err != nil {
		return 0, 0, "", err
	}
	publish, err := logic.ParsePublish(in.Publish)
	if err != nil {
		return 0, 0, "", err
	}
	return mode, policy, publish, nil
}

// DigitalPins returns the pins of all digital inputs in configuration order.
func (c Config) DigitalPins() []int {
	var pins []int
	for _, in := range c.Inputs {
		if mode, err := debounce.ParseMode(in.Mode); err == nil && mode == debounce.ModeDigital {
			pins = append(pins, in.Pin)
		}
	}
	return pins
}

// Uses reports whether any input is configured with mode.
func (c Config) Uses(mode debounce.Mode) bool {
	for _, in := range c.Inputs {
		if m, err := debounce.ParseMode(in.Mode); err == nil && m == mode {
			return true
		}
	}
	return false
}

// CadenceWarnings lists inputs whose delay is shorter than two poll periods.
// Such inputs still work but cannot reject a bounce reliably.
func (c Config) CadenceWarnings() []string {
	var out []string
	for _, in := range c.Inputs {
		if 2*c.Poll > in.Delay {
			out = append(out, fmt.Sprintf("input %s: delay %s is shorter than twice the poll interval %s", in.Name, in.Delay, c.Poll))
		}
	}
	return out
}
