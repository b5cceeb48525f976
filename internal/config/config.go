// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/matter-gpio/internal/bridge"
	"github.com/sweeney/matter-gpio/internal/gpio"
	"github.com/sweeney/matter-gpio/internal/logic"
	"github.com/sweeney/matter-gpio/internal/node"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "matter-gpio.yaml"

// Config is the daemon configuration.
type Config struct {
	Node struct {
		Label string `yaml:"label"`
	} `yaml:"node"`
	GPIO struct {
		Backend string `yaml:"backend"`
		Chip    string `yaml:"chip"`
	} `yaml:"gpio"`
	Poll     time.Duration `yaml:"poll"`
	Debounce struct {
		Window time.Duration `yaml:"window"`
		Scope  string        `yaml:"scope"`
	} `yaml:"debounce"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	QueueSize int           `yaml:"queue_size"`
	MQTT      struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
		BufferSize  int    `yaml:"buffer_size"`
	} `yaml:"mqtt"`
	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Channels []Channel `yaml:"channels"`
}

// Channel is one physical device: an output pin, an input pin or both.
type Channel struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	LEDPin    *int   `yaml:"led_pin"`
	ButtonPin *int   `yaml:"button_pin"`
	OnOff     bool   `yaml:"on_off"`
	StartUp   string `yaml:"start_up"`
}

// OutputPin returns the LED pin or gpio.NoPin.
func (c Channel) OutputPin() int {
	if c.LEDPin == nil {
		return gpio.NoPin
	}
	return *c.LEDPin
}

// InputPin returns the button pin or gpio.NoPin.
func (c Channel) InputPin() int {
	if c.ButtonPin == nil {
		return gpio.NoPin
	}
	return *c.ButtonPin
}

var startUps = map[string]node.StartUp{
	"":         node.StartUpPrevious,
	"previous": node.StartUpPrevious,
	"off":      node.StartUpOff,
	"on":       node.StartUpOn,
	"toggle":   node.StartUpToggle,
}

// StartUpBehavior maps start_up to the StartUpOnOff value. Empty means previous.
func (c Channel) StartUpBehavior() (node.StartUp, error) {
	s, ok := startUps[strings.ToLower(c.StartUp)]
	if !ok {
		return 0, fmt.Errorf("unknown start_up %q", c.StartUp)
	}
	return s, nil
}

// Device converts the channel into a bridge device description.
func (c Channel) Device() (bridge.DeviceConfig, error) {
	su, err := c.StartUpBehavior()
	if err != nil {
		return bridge.DeviceConfig{}, err
	}
	return bridge.DeviceConfig{
		Name:      c.Name,
		Kind:      bridge.Kind(c.Kind),
		OutputPin: c.OutputPin(),
		InputPin:  c.InputPin(),
		OnOff:     c.OnOff,
		StartUp:   su,
	}, nil
}

// Default returns a config with every optional field filled in and no channels.
func Default() Config {
	var c Config
	c.Node.Label = "Matter GPIO"
	c.GPIO.Backend = gpio.BackendGPIOCDev
	c.Poll = 20 * time.Millisecond
	c.Debounce.Window = 500 * time.Millisecond
	c.Debounce.Scope = string(logic.ScopePerButton)
	c.Heartbeat = 15 * time.Minute
	c.QueueSize = bridge.DefaultQueueSize
	c.MQTT.ClientID = "matter-gpio"
	c.MQTT.TopicPrefix = "matter"
	c.HTTP.Listen = ":8080"
	c.Log.Level = "info"
	return c
}

// Load reads and validates the config at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are rejected.
func Parse(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &node.ConfigError{Op: "parse config", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return &node.ConfigError{Op: "validate config", Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the config. Errors wrap node.ErrConfig.
func (c Config) Validate() error {
	switch c.GPIO.Backend {
	case gpio.BackendGPIOCDev, gpio.BackendRPIO, gpio.BackendFake:
	default:
		return invalid("gpio.backend must be %q, %q or %q, got %q", gpio.BackendGPIOCDev, gpio.BackendRPIO, gpio.BackendFake, c.GPIO.Backend)
	}
	if c.Poll <= 0 {
		return invalid("poll must be positive, got %v", c.Poll)
	}
	if c.Debounce.Window < 0 {
		return invalid("debounce.window must not be negative, got %v", c.Debounce.Window)
	}
	switch logic.Scope(c.Debounce.Scope) {
	case logic.ScopePerButton, logic.ScopeShared:
	default:
		return invalid("debounce.scope must be %q or %q, got %q", logic.ScopePerButton, logic.ScopeShared, c.Debounce.Scope)
	}
	if c.Heartbeat < 0 {
		return invalid("heartbeat must not be negative, got %v", c.Heartbeat)
	}
	if len(c.Channels) == 0 {
		return invalid("at least one channel is required")
	}

	names := make(map[string]bool)
	pins := make(map[int]string)
	claim := func(ch Channel, p *int, role string) error {
		if p == nil {
			return nil
		}
		if *p < 0 {
			return invalid("channel %q: %s %d is negative", ch.Name, role, *p)
		}
		if other, ok := pins[*p]; ok {
			return invalid("channel %q: %s %d already used by %q", ch.Name, role, *p, other)
		}
		pins[*p] = ch.Name
		return nil
	}

	for i, ch := range c.Channels {
		if ch.Name == "" {
			return invalid("channel %d: name is required", i)
		}
		if names[ch.Name] {
			return invalid("channel %q: duplicate name", ch.Name)
		}
		names[ch.Name] = true
		if _, err := bridge.BindingFor(bridge.Kind(ch.Kind)); err != nil {
			return invalid("channel %q: %v", ch.Name, err)
		}
		if ch.LEDPin == nil && ch.ButtonPin == nil {
			return invalid("channel %q: needs led_pin or button_pin", ch.Name)
		}
		if err := claim(ch, ch.LEDPin, "led_pin"); err != nil {
			return err
		}
		if err := claim(ch, ch.ButtonPin, "button_pin"); err != nil {
			return err
		}
		if _, err := ch.StartUpBehavior(); err != nil {
			return invalid("channel %q: %v", ch.Name, err)
		}
	}
	return nil
}

// Layout returns the pins to claim from the GPIO backend.
func (c Config) Layout() gpio.Layout {
	var l gpio.Layout
	for _, ch := range c.Channels {
		if p := ch.OutputPin(); p != gpio.NoPin {
			l.Outputs = append(l.Outputs, p)
		}
		if p := ch.InputPin(); p != gpio.NoPin {
			l.Inputs = append(l.Inputs, p)
		}
	}
	return l
}

// YAML returns the effective config, defaults included, for --print-config.
func (c Config) YAML() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return string(out)
}
