package bridge

import (
	"fmt"

	"github.com/sweeney/matter-gpio/internal/node"
)

// Kind is the physical device a channel controls.
type Kind string

const (
	KindLight   Kind = "light"
	KindPlug    Kind = "plug"
	KindCurtain Kind = "curtain"
)

// Binding is the device type and attribute slot a Kind maps to.
type Binding struct {
	DeviceType node.DeviceTypeID
	Cluster    node.ClusterID
	Attribute  node.AttributeID
}

var bindings = map[Kind]Binding{
	KindLight:   {node.DeviceOnOffLight, node.ClusterOnOff, node.AttrOnOff},
	KindPlug:    {node.DeviceOnOffPlugInUnit, node.ClusterOnOff, node.AttrOnOff},
	KindCurtain: {node.DeviceWindowCovering, node.ClusterWindowCovering, node.AttrOperationalStatus},
}

// BindingFor returns the binding of a kind.
func BindingFor(k Kind) (Binding, error) {
	b, ok := bindings[k]
	if !ok {
		return Binding{}, fmt.Errorf("unknown device kind %q", k)
	}
	return b, nil
}

// DeviceConfig describes one physical device: its pins and defaults.
type DeviceConfig struct {
	Name      string
	Kind      Kind
	OutputPin int
	InputPin  int

	// OnOff and StartUp apply to lights and plugs. OnOff is only read
	// under node.StartUpPrevious and node.StartUpToggle.
	OnOff   bool
	StartUp node.StartUp
}

// AddDevice creates an endpoint for the device's kind and binds a channel
// to its primary attribute.
func (b *Bridge) AddDevice(cfg DeviceConfig) (*Channel, error) {
	binding, err := BindingFor(cfg.Kind)
	if err != nil {
		return nil, &node.ConfigError{Op: "add device " + cfg.Name, Reason: err.Error()}
	}
	// A fresh endpoint cannot collide on path, so the name is the only
	// conflict to rule out before allocating one.
	if _, ok := b.Channel(cfg.Name); ok {
		return nil, &node.ConfigError{Op: "add device " + cfg.Name, Reason: "duplicate channel name"}
	}

	ep, err := b.graph.CreateEndpoint(node.EndpointConfig{
		DeviceType: binding.DeviceType,
		OnOff:      cfg.OnOff,
		StartUp:    cfg.StartUp,
	})
	if err != nil {
		return nil, fmt.Errorf("add device %s: %w", cfg.Name, err)
	}

	return b.Bind(ChannelConfig{
		Name:      cfg.Name,
		Kind:      cfg.Kind,
		OutputPin: cfg.OutputPin,
		InputPin:  cfg.InputPin,
		Endpoint:  ep,
		Cluster:   binding.Cluster,
		Attribute: binding.Attribute,
	})
}
