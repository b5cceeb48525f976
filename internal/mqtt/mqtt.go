// Package mqtt publishes attribute changes and lifecycle events, and accepts
// attribute commands, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/matter-gpio/internal/node"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "matter"

// ErrBadCommand is returned for command topics or payloads that cannot be decoded.
var ErrBadCommand = errors.New("bad command")

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishAttribute sends a committed attribute value to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishAttribute(event AttributeEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandFunc receives decoded commands addressed to an attribute.
type CommandFunc func(path node.AttributePath, cmd Command)

// AttributeEvent is a committed attribute value.
type AttributeEvent struct {
	Timestamp time.Time
	Path      node.AttributePath
	Channel   string // bound channel name, empty if unbound
	Value     node.Value
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

// NewTopics returns Topics for prefix, or DefaultPrefix if empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

// State is the retained topic carrying an attribute's value.
func (t Topics) State(path node.AttributePath) string {
	return t.Prefix + "/" + path.String()
}

// Commands is the subscription filter for attribute commands.
func (t Topics) Commands() string {
	return t.Prefix + "/+/+/+/set"
}

// System is the topic for lifecycle events and the last will.
func (t Topics) System() string {
	return t.Prefix + "/system"
}

// ParseCommand extracts the attribute path from a command topic of the
// form <prefix>/<endpoint>/<cluster>/<attribute>/set.
func (t Topics) ParseCommand(topic string) (node.AttributePath, error) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return node.AttributePath{}, fmt.Errorf("%w: topic %q outside prefix %q", ErrBadCommand, topic, t.Prefix)
	}
	rest, ok = strings.CutSuffix(rest, "/set")
	if !ok {
		return node.AttributePath{}, fmt.Errorf("%w: topic %q is not a command", ErrBadCommand, topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return node.AttributePath{}, fmt.Errorf("%w: topic %q", ErrBadCommand, topic)
	}

	ep, err := strconv.ParseUint(parts[0], 0, 16)
	if err != nil {
		return node.AttributePath{}, fmt.Errorf("%w: endpoint %q", ErrBadCommand, parts[0])
	}
	cluster, err := strconv.ParseUint(parts[1], 0, 32)
	if err != nil {
		return node.AttributePath{}, fmt.Errorf("%w: cluster %q", ErrBadCommand, parts[1])
	}
	attr, err := strconv.ParseUint(parts[2], 0, 32)
	if err != nil {
		return node.AttributePath{}, fmt.Errorf("%w: attribute %q", ErrBadCommand, parts[2])
	}
	return node.AttributePath{
		Endpoint:  node.EndpointID(ep),
		Cluster:   node.ClusterID(cluster),
		Attribute: node.AttributeID(attr),
	}, nil
}

// Command is a decoded command payload. Either Toggle is set or Value is valid.
type Command struct {
	Toggle bool
	Value  node.Value
}

type commandPayload struct {
	Value *node.Value `json:"value"`
}

// ParseCommand decodes "ON", "OFF", "TOGGLE" (any case) or a JSON payload:
// {"value": true|false|0..255} or a bare JSON value.
func ParseCommand(payload []byte) (Command, error) {
	s := strings.TrimSpace(string(payload))
	switch strings.ToUpper(s) {
	case "ON":
		return Command{Value: node.Bool(true)}, nil
	case "OFF":
		return Command{Value: node.Bool(false)}, nil
	case "TOGGLE":
		return Command{Toggle: true}, nil
	}

	if strings.HasPrefix(s, "{") {
		var p commandPayload
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrBadCommand, err)
		}
		if p.Value == nil || !p.Value.Valid() {
			return Command{}, fmt.Errorf("%w: missing value", ErrBadCommand)
		}
		return Command{Value: *p.Value}, nil
	}

	var v node.Value
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, s)
	}
	if !v.Valid() {
		return Command{}, fmt.Errorf("%w: null value", ErrBadCommand)
	}
	return Command{Value: v}, nil
}

// dispatch decodes an incoming command message and hands it to fn.
func dispatch(t Topics, topic string, payload []byte, fn CommandFunc) error {
	path, err := t.ParseCommand(topic)
	if err != nil {
		return err
	}
	cmd, err := ParseCommand(payload)
	if err != nil {
		return err
	}
	if fn != nil {
		fn(path, cmd)
	}
	return nil
}

// AttributePayload represents the MQTT message payload for attribute values.
type AttributePayload struct {
	Attribute AttributePayloadInner `json:"attribute"`
}

// AttributePayloadInner contains the attribute details.
type AttributePayloadInner struct {
	Timestamp string     `json:"timestamp"`
	Endpoint  uint16     `json:"endpoint"`
	Cluster   string     `json:"cluster"`
	Attribute string     `json:"attribute"`
	Channel   string     `json:"channel,omitempty"`
	Value     node.Value `json:"value"`
}

// FormatAttributePayload creates the JSON payload for an attribute event.
func FormatAttributePayload(event AttributeEvent) ([]byte, error) {
	payload := AttributePayload{
		Attribute: AttributePayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Endpoint:  uint16(event.Path.Endpoint),
			Cluster:   fmt.Sprintf("0x%04X", uint32(event.Path.Cluster)),
			Attribute: fmt.Sprintf("0x%04X", uint32(event.Path.Attribute)),
			Channel:   event.Channel,
			Value:     event.Value,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// willPayload is the last-will body. It carries no timestamp since the
// broker sends it on our behalf at an unknown time.
func willPayload() []byte {
	b, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "CONNECTION_LOST"}})
	return b
}
