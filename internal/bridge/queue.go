package bridge

import (
	"errors"
	"fmt"

	"github.com/sweeney/matter-gpio/internal/logic"
	"github.com/sweeney/matter-gpio/internal/node"
)

// ErrQueueFull is returned by Enqueue when the request queue has no room.
var ErrQueueFull = errors.New("request queue full")

// Op is the kind of attribute mutation a request asks for.
type Op string

const (
	OpToggle Op = "toggle"
	OpWrite  Op = "write"
)

// Request sources, used for logging only.
const (
	SourceButton = "button"
	SourceMQTT   = "mqtt"
)

// Request is a pending attribute mutation.
type Request struct {
	Op     Op
	Path   node.AttributePath
	Value  node.Value // OpWrite only
	Source string
}

// Enqueue adds a request without blocking. When the queue is full the
// request is dropped and ErrQueueFull is returned.
func (b *Bridge) Enqueue(req Request) error {
	select {
	case b.requests <- req:
		return nil
	default:
		b.count(func(c *logic.EventCounts) { c.Dropped++ })
		return ErrQueueFull
	}
}

// Requests returns the queue for the goroutine that owns Apply.
func (b *Bridge) Requests() <-chan Request {
	return b.requests
}

// Apply performs one request. It must only be called from the goroutine
// that drains Requests.
func (b *Bridge) Apply(req Request) error {
	name := req.Path.String()
	if ch, ok := b.Lookup(req.Path); ok {
		name = ch.Name
	}

	switch req.Op {
	case OpToggle:
		return b.toggle(req.Path, name)
	case OpWrite:
		if err := b.graph.Update(req.Path, req.Value); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		b.log.Info("written", "channel", name, "value", req.Value.String(), "source", req.Source)
		return nil
	default:
		return fmt.Errorf("unknown request op %q", req.Op)
	}
}

// Drain applies every queued request without blocking and returns how many
// were applied. Errors are logged.
func (b *Bridge) Drain() int {
	n := 0
	for {
		select {
		case req := <-b.requests:
			if err := b.Apply(req); err != nil {
				b.log.Error(err, "apply request", "op", string(req.Op), "source", req.Source)
			}
			n++
		default:
			return n
		}
	}
}
