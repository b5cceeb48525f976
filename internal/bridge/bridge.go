// Package bridge keeps GPIO outputs synchronized with attributes in the
// device graph and turns debounced button presses into attribute toggles.
//
// All attribute mutations are funneled through one queue and applied by a
// single goroutine (see Apply), so a local toggle cannot interleave with a
// remote write between its read and its commit.
package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/sweeney/matter-gpio/internal/gpio"
	"github.com/sweeney/matter-gpio/internal/logic"
	"github.com/sweeney/matter-gpio/internal/node"
)

// ErrRaceOverwrite is returned by Toggle when the attribute changed between
// the read and the conditional commit. The competing write is kept.
var ErrRaceOverwrite = errors.New("attribute changed during toggle")

// Graph is the part of the device graph the bridge depends on.
type Graph interface {
	CreateEndpoint(cfg node.EndpointConfig) (*node.Endpoint, error)
	Attribute(path node.AttributePath) (*node.Attribute, error)
	Value(a *node.Attribute) node.Value
	Update(path node.AttributePath, v node.Value) error
	CompareAndUpdate(path node.AttributePath, old, next node.Value) (bool, error)
}

// ChannelConfig binds pins to an attribute on an existing endpoint.
type ChannelConfig struct {
	Name      string
	Kind      Kind
	OutputPin int // gpio.NoPin for none
	InputPin  int // gpio.NoPin for none
	Endpoint  *node.Endpoint
	Cluster   node.ClusterID
	Attribute node.AttributeID
}

// Channel is one bound control point. The attribute handle is resolved once
// at bind time and cached for the process lifetime.
type Channel struct {
	Name      string
	Kind      Kind
	OutputPin int
	InputPin  int

	handle *node.Attribute
}

// Path returns the bound attribute's address.
func (c *Channel) Path() node.AttributePath { return c.handle.Path() }

// HasButton reports whether the channel has an input pin.
func (c *Channel) HasButton() bool { return c.InputPin != gpio.NoPin }

// Bridge routes attribute notifications to output pins and applies
// attribute mutations.
type Bridge struct {
	graph Graph
	pins  gpio.Writer
	log   logr.Logger

	requests chan Request

	mu       sync.RWMutex
	channels []*Channel
	routes   map[node.AttributePath]*Channel
	byName   map[string]*Channel
	counts   logic.EventCounts
}

// DefaultQueueSize is the request queue capacity used when none is given.
const DefaultQueueSize = 64

// New creates a bridge. queueSize <= 0 selects DefaultQueueSize.
func New(graph Graph, pins gpio.Writer, queueSize int, log logr.Logger) *Bridge {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bridge{
		graph:    graph,
		pins:     pins,
		log:      log,
		requests: make(chan Request, queueSize),
		routes:   make(map[node.AttributePath]*Channel),
		byName:   make(map[string]*Channel),
	}
}

// Bind resolves and caches the attribute handle for cfg and indexes the
// channel for notification routing. A resolution failure wraps
// node.ErrConfig and is not retried.
func (b *Bridge) Bind(cfg ChannelConfig) (*Channel, error) {
	if cfg.Endpoint == nil {
		return nil, &node.ConfigError{Op: "bind " + cfg.Name, Reason: "no endpoint"}
	}
	path := node.AttributePath{Endpoint: cfg.Endpoint.ID(), Cluster: cfg.Cluster, Attribute: cfg.Attribute}
	handle, err := b.graph.Attribute(path)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.Name, err)
	}

	ch := &Channel{
		Name:      cfg.Name,
		Kind:      cfg.Kind,
		OutputPin: cfg.OutputPin,
		InputPin:  cfg.InputPin,
		handle:    handle,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if other, ok := b.routes[path]; ok {
		return nil, &node.ConfigError{Op: "bind " + cfg.Name, Path: path, Reason: "already bound to " + other.Name}
	}
	if _, ok := b.byName[cfg.Name]; ok {
		return nil, &node.ConfigError{Op: "bind " + cfg.Name, Path: path, Reason: "duplicate channel name"}
	}
	b.channels = append(b.channels, ch)
	b.routes[path] = ch
	b.byName[cfg.Name] = ch

	b.log.Info("channel bound", "channel", ch.Name, "path", path.String(), "led", ch.OutputPin, "button", ch.InputPin)
	return ch, nil
}

// Channels returns the bound channels in bind order.
func (b *Bridge) Channels() []*Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Channel(nil), b.channels...)
}

// Channel returns the channel with the given name.
func (b *Bridge) Channel(name string) (*Channel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.byName[name]
	return ch, ok
}

// Lookup returns the channel bound to path.
func (b *Bridge) Lookup(path node.AttributePath) (*Channel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.routes[path]
	return ch, ok
}

// OnRemoteUpdate is the device graph callback. On PreUpdate for a bound
// attribute it drives the channel's output pin to the value's level. Paths
// that match no channel are ignored. It never requests attribute updates.
func (b *Bridge) OnRemoteUpdate(phase node.UpdatePhase, path node.AttributePath, v node.Value) error {
	if phase != node.PreUpdate {
		return nil
	}

	ch, ok := b.Lookup(path)
	if !ok {
		b.count(func(c *logic.EventCounts) { c.RoutingMisses++ })
		b.log.V(1).Info("routing miss", "path", path.String())
		return nil
	}

	b.count(func(c *logic.EventCounts) { c.RemoteUpdates++ })
	b.log.V(1).Info("attribute update", "channel", ch.Name, "value", v.String())
	b.drive(ch, v)
	return nil
}

// drive writes the value's level to the channel's output pin, if any.
// Pin failures are logged; the attribute stays authoritative.
func (b *Bridge) drive(ch *Channel, v node.Value) {
	if ch.OutputPin == gpio.NoPin {
		return
	}
	if err := b.pins.WritePin(ch.OutputPin, v.Level()); err != nil {
		b.log.Error(err, "drive output", "channel", ch.Name, "pin", ch.OutputPin)
	}
}

// SyncOutputs drives every output to its attribute's current level.
// Called once after setup so restored values are reflected on the pins.
func (b *Bridge) SyncOutputs() {
	for _, ch := range b.Channels() {
		b.drive(ch, b.ReadCurrent(ch))
	}
}

// ReadCurrent returns the attribute's present value.
func (b *Bridge) ReadCurrent(ch *Channel) node.Value {
	return b.graph.Value(ch.handle)
}

// Toggle reads the current value, inverts it and commits it conditionally.
// If another write landed in between it returns ErrRaceOverwrite.
func (b *Bridge) Toggle(ch *Channel) error {
	return b.toggle(ch.Path(), ch.Name)
}

func (b *Bridge) toggle(path node.AttributePath, name string) error {
	a, err := b.graph.Attribute(path)
	if err != nil {
		return fmt.Errorf("toggle %s: %w", name, err)
	}
	cur := b.graph.Value(a)
	next, err := cur.Invert()
	if err != nil {
		return fmt.Errorf("toggle %s: %w", name, err)
	}

	ok, err := b.graph.CompareAndUpdate(path, cur, next)
	if err != nil {
		return fmt.Errorf("toggle %s: %w", name, err)
	}
	if !ok {
		b.count(func(c *logic.EventCounts) { c.Races++ })
		return fmt.Errorf("toggle %s: %w", name, ErrRaceOverwrite)
	}

	b.count(func(c *logic.EventCounts) { c.Toggles++ })
	b.log.Info("toggled", "channel", name, "value", next.String())
	return nil
}

// Write commits v to the channel's attribute. The graph echoes the change
// back through OnRemoteUpdate.
func (b *Bridge) Write(ch *Channel, v node.Value) error {
	if err := b.graph.Update(ch.Path(), v); err != nil {
		return fmt.Errorf("write %s: %w", ch.Name, err)
	}
	return nil
}

// Counts returns a snapshot of the bridge's activity counters.
func (b *Bridge) Counts() logic.EventCounts {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts
}

func (b *Bridge) count(fn func(*logic.EventCounts)) {
	b.mu.Lock()
	fn(&b.counts)
	b.mu.Unlock()
}
