package status

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/matter-gpio/internal/node"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Label         string        `json:"label"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	BootCount     int           `json:"boot_count"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"event_counts"`
	Channels      []ChannelJSON `json:"channels"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Presses       int `json:"presses"`
	Toggles       int `json:"toggles"`
	RemoteUpdates int `json:"remote_updates"`
	RoutingMisses int `json:"routing_misses"`
	Races         int `json:"races"`
	Dropped       int `json:"dropped"`
}

// ChannelJSON is the JSON representation of a channel.
type ChannelJSON struct {
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	Endpoint  uint16     `json:"endpoint"`
	Cluster   string     `json:"cluster"`
	Attribute string     `json:"attribute"`
	Value     node.Value `json:"value"`
	LEDPin    *int       `json:"led_pin,omitempty"`
	Button    *int       `json:"button_pin,omitempty"`
	Debounce  string     `json:"debounce,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Backend       string `json:"gpio_backend"`
	PollMs        int64  `json:"poll_ms"`
	DebounceMs    int64  `json:"debounce_ms"`
	DebounceScope string `json:"debounce_scope"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker"`
	TopicPrefix   string `json:"topic_prefix"`
	HTTPAddr      string `json:"http_addr"`
	StorePath     string `json:"store_path,omitempty"`
}

func pin(p int) *int {
	if p < 0 {
		return nil
	}
	return &p
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, 0, len(snap.Channels))
	for _, c := range snap.Channels {
		channels = append(channels, ChannelJSON{
			Name:      c.Name,
			Kind:      c.Kind,
			Endpoint:  uint16(c.Path.Endpoint),
			Cluster:   fmt.Sprintf("0x%04X", uint32(c.Path.Cluster)),
			Attribute: fmt.Sprintf("0x%04X", uint32(c.Path.Attribute)),
			Value:     c.Value,
			LEDPin:    pin(c.LEDPin),
			Button:    pin(c.Button),
			Debounce:  string(c.Debounce),
		})
	}

	return StatusInner{
		Label:         snap.Config.Label,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		BootCount:     snap.BootCount,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Presses:       snap.Counts.Presses,
			Toggles:       snap.Counts.Toggles,
			RemoteUpdates: snap.Counts.RemoteUpdates,
			RoutingMisses: snap.Counts.RoutingMisses,
			Races:         snap.Counts.Races,
			Dropped:       snap.Counts.Dropped,
		},
		Channels: channels,
		Config: ConfigJSON{
			Backend:       snap.Config.Backend,
			PollMs:        snap.Config.PollMs,
			DebounceMs:    snap.Config.DebounceMs,
			DebounceScope: snap.Config.DebounceScope,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Broker:        snap.Config.Broker,
			TopicPrefix:   snap.Config.TopicPrefix,
			HTTPAddr:      snap.Config.HTTPAddr,
			StorePath:     snap.Config.StorePath,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
