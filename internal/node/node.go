package node

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
)

// Config configures a Node.
type Config struct {
	// Label is the user-visible node label.
	Label string

	// Storage restores and persists non-volatile attributes. Optional.
	Storage Storage

	Logger logr.Logger
}

// EndpointConfig describes the endpoint to create and its default values.
type EndpointConfig struct {
	DeviceType DeviceTypeID

	// OnOff is the fallback OnOff value for lights and plugs when nothing
	// is persisted. Only StartUpPrevious and StartUpToggle read it; the
	// zero StartUp (StartUpOff) always starts off.
	OnOff bool
	// StartUp selects the OnOff value applied at creation.
	StartUp StartUp

	Covering CoveringConfig
}

// CoveringConfig holds WindowCovering defaults.
type CoveringConfig struct {
	Type              uint8
	ConfigStatus      uint8
	OperationalStatus uint8
	Mode              uint8
}

// Endpoint is an addressable sub-device.
type Endpoint struct {
	id         EndpointID
	deviceType DeviceTypeID
	clusters   map[ClusterID]*Cluster
}

// ID returns the endpoint id assigned by the node.
func (e *Endpoint) ID() EndpointID { return e.id }

// DeviceType returns the device type the endpoint was created with.
func (e *Endpoint) DeviceType() DeviceTypeID { return e.deviceType }

// Cluster returns the cluster with the given id, or nil.
func (e *Endpoint) Cluster(id ClusterID) *Cluster { return e.clusters[id] }

// Cluster groups attributes of one capability.
type Cluster struct {
	id         ClusterID
	attributes map[AttributeID]*Attribute
}

// ID returns the cluster id.
func (c *Cluster) ID() ClusterID { return c.id }

// Attribute returns the attribute with the given id, or nil.
func (c *Cluster) Attribute(id AttributeID) *Attribute { return c.attributes[id] }

// Attribute is a handle to one attribute slot. Its value is read through
// Node.Value and written through Node.Update.
type Attribute struct {
	path        AttributePath
	typ         ValueType
	nonVolatile bool
	value       Value // guarded by Node.mu
}

// Path returns the attribute's address.
func (a *Attribute) Path() AttributePath { return a.path }

// Type returns the attribute's value type.
func (a *Attribute) Type() ValueType { return a.typ }

type subscription struct {
	id uint64
	fn AttributeCallback
}

// Node is the device graph. It is safe for concurrent use; commits are
// serialized so callbacks observe one update at a time.
type Node struct {
	label   string
	storage Storage
	log     logr.Logger

	commit sync.Mutex // serializes Update and CompareAndUpdate

	mu        sync.RWMutex
	endpoints map[EndpointID]*Endpoint
	nextID    EndpointID
	subs      []subscription
	nextSub   uint64
}

// New creates a node holding only the root endpoint.
func New(cfg Config) *Node {
	n := &Node{
		label:     cfg.Label,
		storage:   cfg.Storage,
		log:       cfg.Logger,
		endpoints: make(map[EndpointID]*Endpoint),
		nextID:    EndpointRoot + 1,
	}
	n.endpoints[EndpointRoot] = &Endpoint{id: EndpointRoot, clusters: make(map[ClusterID]*Cluster)}
	return n
}

// Label returns the node label.
func (n *Node) Label() string { return n.label }

// OnUpdate registers a callback for every commit and returns a function
// that removes it. Callbacks run in registration order.
func (n *Node) OnUpdate(cb AttributeCallback) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	n.subs = append(n.subs, subscription{id: id, fn: cb})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s.id == id {
				n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

// CreateEndpoint allocates the next endpoint id and installs the clusters of
// the requested device type with their default values. Persisted OnOff
// values are restored according to cfg.StartUp.
func (n *Node) CreateEndpoint(cfg EndpointConfig) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID

	ep := &Endpoint{id: id, deviceType: cfg.DeviceType, clusters: make(map[ClusterID]*Cluster)}

	switch cfg.DeviceType {
	case DeviceOnOffLight, DeviceOnOffPlugInUnit:
		if cfg.StartUp > StartUpToggle && cfg.StartUp != StartUpPrevious {
			return nil, &ConfigError{
				Op:     "create endpoint",
				Path:   AttributePath{Endpoint: id, Cluster: ClusterOnOff, Attribute: AttrStartUpOnOff},
				Reason: fmt.Sprintf("invalid StartUpOnOff 0x%02X", uint8(cfg.StartUp)),
			}
		}
		c := ep.addCluster(ClusterOnOff)
		onoff := c.add(id, AttrOnOff, Bool(cfg.OnOff), true)
		c.add(id, AttrStartUpOnOff, Uint8(uint8(cfg.StartUp)), false)
		onoff.value = Bool(n.startUpOnOff(onoff.path, cfg))
	case DeviceWindowCovering:
		c := ep.addCluster(ClusterWindowCovering)
		c.add(id, AttrCoveringType, Uint8(cfg.Covering.Type), false)
		c.add(id, AttrConfigStatus, Uint8(cfg.Covering.ConfigStatus), false)
		c.add(id, AttrOperationalStatus, Uint8(cfg.Covering.OperationalStatus), false)
		c.add(id, AttrCoveringMode, Uint8(cfg.Covering.Mode), false)
	default:
		return nil, &ConfigError{
			Op:     "create endpoint",
			Path:   AttributePath{Endpoint: id},
			Reason: fmt.Sprintf("unsupported device type 0x%04X", uint32(cfg.DeviceType)),
		}
	}

	n.endpoints[id] = ep
	n.nextID++

	n.log.V(1).Info("endpoint created", "endpoint", id, "deviceType", fmt.Sprintf("0x%04X", uint32(cfg.DeviceType)))
	return ep, nil
}

// startUpOnOff resolves the OnOff value at creation from the StartUp
// behavior and any persisted value.
func (n *Node) startUpOnOff(path AttributePath, cfg EndpointConfig) bool {
	previous := cfg.OnOff
	if n.storage != nil {
		v, ok, err := n.storage.LoadAttribute(path)
		if err != nil {
			n.log.Error(err, "load persisted attribute", "path", path.String())
		} else if ok && v.Type == TypeBool {
			previous = v.B
		}
	}
	switch cfg.StartUp {
	case StartUpOn:
		return true
	case StartUpToggle:
		return !previous
	case StartUpPrevious:
		return previous
	}
	return false
}

func (e *Endpoint) addCluster(id ClusterID) *Cluster {
	c := &Cluster{id: id, attributes: make(map[AttributeID]*Attribute)}
	e.clusters[id] = c
	return c
}

func (c *Cluster) add(ep EndpointID, id AttributeID, def Value, nonVolatile bool) *Attribute {
	a := &Attribute{
		path:        AttributePath{Endpoint: ep, Cluster: c.id, Attribute: id},
		typ:         def.Type,
		nonVolatile: nonVolatile,
		value:       def,
	}
	c.attributes[id] = a
	return a
}

// Endpoint returns the endpoint with the given id.
func (n *Node) Endpoint(id EndpointID) (*Endpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep, ok := n.endpoints[id]
	return ep, ok
}

// Endpoints returns all endpoints ordered by id, root first.
func (n *Node) Endpoints() []*Endpoint {
	n.mu.RLock()
	out := make([]*Endpoint, 0, len(n.endpoints))
	for _, ep := range n.endpoints {
		out = append(out, ep)
	}
	n.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Attribute resolves a handle for the given path.
func (n *Node) Attribute(path AttributePath) (*Attribute, error) {
	n.mu.RLock()
	ep, ok := n.endpoints[path.Endpoint]
	n.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Op: "get attribute", Path: path, Reason: "no such endpoint"}
	}
	c := ep.Cluster(path.Cluster)
	if c == nil {
		return nil, &ConfigError{Op: "get attribute", Path: path, Reason: "no such cluster"}
	}
	a := c.Attribute(path.Attribute)
	if a == nil {
		return nil, &ConfigError{Op: "get attribute", Path: path, Reason: "no such attribute"}
	}
	return a, nil
}

// Value returns the attribute's current value. A nil handle yields Invalid.
func (n *Node) Value(a *Attribute) Value {
	if a == nil {
		return Invalid()
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return a.value
}

// Read resolves the path and returns its value.
func (n *Node) Read(path AttributePath) (Value, error) {
	a, err := n.Attribute(path)
	if err != nil {
		return Invalid(), err
	}
	return n.Value(a), nil
}

// Update validates and commits v, notifying callbacks before and after.
func (n *Node) Update(path AttributePath, v Value) error {
	n.commit.Lock()
	defer n.commit.Unlock()

	a, err := n.Attribute(path)
	if err != nil {
		return err
	}
	return n.commitLocked(a, v)
}

// CompareAndUpdate commits next only if the attribute still holds old.
// It reports whether the commit happened.
func (n *Node) CompareAndUpdate(path AttributePath, old, next Value) (bool, error) {
	n.commit.Lock()
	defer n.commit.Unlock()

	a, err := n.Attribute(path)
	if err != nil {
		return false, err
	}
	if !n.Value(a).Equal(old) {
		return false, nil
	}
	if err := n.commitLocked(a, next); err != nil {
		return false, err
	}
	return true, nil
}

// commitLocked must be called with n.commit held.
func (n *Node) commitLocked(a *Attribute, v Value) error {
	if v.Type != a.typ {
		return fmt.Errorf("update %s: %w: got %s, want %s", a.path, ErrTypeMismatch, v.Type, a.typ)
	}

	subs := n.subscriptions()
	for _, s := range subs {
		if err := s.fn(PreUpdate, a.path, v); err != nil {
			return fmt.Errorf("update %s: %w: %v", a.path, ErrRejected, err)
		}
	}

	n.mu.Lock()
	a.value = v
	n.mu.Unlock()

	if a.nonVolatile && n.storage != nil {
		if err := n.storage.SaveAttribute(a.path, v); err != nil {
			// The in-memory commit stands; only durability is lost.
			n.log.Error(err, "persist attribute", "path", a.path.String())
		}
	}

	for _, s := range subs {
		if err := s.fn(PostUpdate, a.path, v); err != nil {
			n.log.Error(err, "post-update callback", "path", a.path.String())
		}
	}
	return nil
}

func (n *Node) subscriptions() []subscription {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]subscription(nil), n.subs...)
}
