// Package logic contains the pure button debounce and heartbeat logic.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Scope selects how debounce windows are shared between buttons.
type Scope string

const (
	// ScopePerButton gives every button its own last-trigger timestamp.
	ScopePerButton Scope = "per_button"
	// ScopeShared uses one process-wide timestamp for all buttons, so a
	// press on one button suppresses the others for a full window.
	ScopeShared Scope = "shared"
)

// ButtonState is the debounce state of a single button.
type ButtonState string

const (
	StateIdle       ButtonState = "IDLE"
	StateSuppressed ButtonState = "SUPPRESSED"
)

// Sample is one poll of one button. Pressed is already the logical level
// (the active-low inversion happens in the caller).
type Sample struct {
	Button  int
	Pressed bool
}

// Input is one poll of all buttons, in a stable order.
type Input struct {
	Samples []Sample
	Time    time.Time
}

// Press is a debounced, accepted button press.
type Press struct {
	Button    int
	Timestamp time.Time
}

// EventCounts tracks bridge activity since startup.
type EventCounts struct {
	Presses       int // accepted button presses
	Toggles       int // local read-invert-write commits
	RemoteUpdates int // notifications that drove a pin
	RoutingMisses int // notifications for unbound attributes
	Races         int // toggles abandoned because the value moved
	Dropped       int // requests dropped on a full queue
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
