// Package node models the device graph a Matter accessory exposes: endpoints
// hosting clusters hosting attributes. It owns attribute storage and notifies
// registered callbacks around every commit. Commissioning, sessions and
// fabric management are out of scope.
package node

import (
	"encoding/json"
	"fmt"
)

// EndpointID addresses a sub-device within the node. Endpoint 0 is the root.
type EndpointID uint16

// ClusterID identifies a cluster (capability) on an endpoint.
type ClusterID uint32

// AttributeID identifies an attribute within a cluster.
type AttributeID uint32

// DeviceTypeID identifies the device type an endpoint implements.
type DeviceTypeID uint32

// Cluster and attribute ids used by the supported device types.
const (
	ClusterOnOff          ClusterID = 0x0006
	ClusterWindowCovering ClusterID = 0x0102

	AttrOnOff        AttributeID = 0x0000
	AttrStartUpOnOff AttributeID = 0x4003

	AttrCoveringType      AttributeID = 0x0000
	AttrConfigStatus      AttributeID = 0x0007
	AttrOperationalStatus AttributeID = 0x000A
	AttrCoveringMode      AttributeID = 0x0017
)

// Device types.
const (
	DeviceOnOffLight      DeviceTypeID = 0x0100
	DeviceOnOffPlugInUnit DeviceTypeID = 0x010A
	DeviceWindowCovering  DeviceTypeID = 0x0202
)

// EndpointRoot is the root node endpoint. Application endpoints start at 1.
const EndpointRoot EndpointID = 0

// StartUp is the StartUpOnOff behavior applied when an OnOff endpoint is created.
type StartUp uint8

const (
	StartUpOff      StartUp = 0x00
	StartUpOn       StartUp = 0x01
	StartUpToggle   StartUp = 0x02
	StartUpPrevious StartUp = 0xFF // null: keep the persisted value
)

// AttributePath addresses one attribute slot in the graph.
type AttributePath struct {
	Endpoint  EndpointID
	Cluster   ClusterID
	Attribute AttributeID
}

// String formats the path as "1/0x0006/0x0000".
func (p AttributePath) String() string {
	return fmt.Sprintf("%d/0x%04X/0x%04X", p.Endpoint, p.Cluster, p.Attribute)
}

// UpdatePhase tells a callback whether the value is about to be committed
// or has been committed.
type UpdatePhase int

const (
	PreUpdate UpdatePhase = iota
	PostUpdate
)

func (p UpdatePhase) String() string {
	switch p {
	case PreUpdate:
		return "PRE_UPDATE"
	case PostUpdate:
		return "POST_UPDATE"
	}
	return fmt.Sprintf("UpdatePhase(%d)", int(p))
}

// AttributeCallback is notified around every commit.
// On PreUpdate a non-nil error rejects the write. Callbacks run inside the
// node's commit section and must not call Update themselves.
type AttributeCallback func(phase UpdatePhase, path AttributePath, v Value) error

// ValueType is the type tag of a Value.
type ValueType uint8

const (
	TypeInvalid ValueType = iota
	TypeBool
	TypeUint8
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeUint8:
		return "uint8"
	}
	return "invalid"
}

// Value is an attribute value. The zero Value is invalid.
type Value struct {
	Type ValueType
	B    bool
	U8   uint8
}

// Invalid returns the sentinel for an uninitialized attribute.
func Invalid() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{Type: TypeBool, B: b} }

// Uint8 returns an 8-bit unsigned Value.
func Uint8(u uint8) Value { return Value{Type: TypeUint8, U8: u} }

// Valid reports whether v carries a value.
func (v Value) Valid() bool { return v.Type != TypeInvalid }

// Level projects the value onto a pin level: the boolean itself, or the
// low-order bit of an integer.
func (v Value) Level() bool {
	switch v.Type {
	case TypeBool:
		return v.B
	case TypeUint8:
		return v.U8&0x01 != 0
	}
	return false
}

// Invert flips the boolean or the low-order bit.
func (v Value) Invert() (Value, error) {
	switch v.Type {
	case TypeBool:
		return Bool(!v.B), nil
	case TypeUint8:
		return Uint8(v.U8 ^ 0x01), nil
	}
	return Invalid(), ErrInvalidValue
}

// Equal reports whether both values have the same type and content.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeBool:
		return v.B == o.B
	case TypeUint8:
		return v.U8 == o.U8
	}
	return true
}

func (v Value) String() string {
	switch v.Type {
	case TypeBool:
		if v.B {
			return "true"
		}
		return "false"
	case TypeUint8:
		return fmt.Sprintf("%d", v.U8)
	}
	return "invalid"
}

// MarshalJSON encodes bool as true/false, uint8 as a number and invalid as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case TypeBool:
		return json.Marshal(v.B)
	case TypeUint8:
		return json.Marshal(v.U8)
	}
	return []byte("null"), nil
}

// UnmarshalJSON is the inverse of MarshalJSON. Numbers must fit in a uint8.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Invalid()
	case bool:
		*v = Bool(x)
	case float64:
		if x < 0 || x > 255 || x != float64(uint8(x)) {
			return fmt.Errorf("%w: %v out of uint8 range", ErrInvalidValue, x)
		}
		*v = Uint8(uint8(x))
	default:
		return fmt.Errorf("%w: unsupported JSON value %s", ErrInvalidValue, data)
	}
	return nil
}
