// Package status provides a thread-safe status tracker for the matter-gpio daemon.
// It is read by the HTTP handlers and by the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/matter-gpio/internal/logic"
	"github.com/sweeney/matter-gpio/internal/node"
)

// ChannelStatus is the observed state of one bound channel.
type ChannelStatus struct {
	Name     string
	Kind     string
	Path     node.AttributePath
	Value    node.Value
	LEDPin   int // -1 if none
	Button   int // -1 if none
	Debounce logic.ButtonState
}

// Config contains daemon configuration for display.
type Config struct {
	Label         string
	Backend       string
	PollMs        int64
	DebounceMs    int64
	DebounceScope string
	HeartbeatMs   int64
	Broker        string
	TopicPrefix   string
	HTTPAddr      string
	StorePath     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Channels      []ChannelStatus
	Counts        logic.EventCounts
	BootCount     int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Channel returns the named channel's status.
func (s Snapshot) Channel(name string) (ChannelStatus, bool) {
	for _, c := range s.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return ChannelStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets channel states and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(channels []ChannelStatus, counts logic.EventCounts) {
	cp := append([]ChannelStatus(nil), channels...)
	t.mu.Lock()
	t.snap.Channels = cp
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetValue records a committed value for the channel bound to path.
// Unknown paths are ignored.
func (t *Tracker) SetValue(path node.AttributePath, v node.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.snap.Channels {
		if t.snap.Channels[i].Path == path {
			t.snap.Channels[i].Value = v
			return
		}
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetBootCount sets the number of starts recorded by the store.
func (t *Tracker) SetBootCount(n int) {
	t.mu.Lock()
	t.snap.BootCount = n
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = append([]ChannelStatus(nil), t.snap.Channels...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
