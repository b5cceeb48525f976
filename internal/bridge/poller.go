package bridge

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/sweeney/matter-gpio/internal/gpio"
	"github.com/sweeney/matter-gpio/internal/logic"
	"github.com/sweeney/matter-gpio/internal/node"
)

// Enqueuer accepts attribute mutation requests.
type Enqueuer interface {
	Enqueue(req Request) error
}

type button struct {
	pin     int
	channel string
	path    node.AttributePath
}

// Poller samples the button inputs of bound channels, debounces them and
// enqueues a toggle for every accepted press.
type Poller struct {
	pins      gpio.Reader
	debouncer *logic.Debouncer
	sink      Enqueuer
	log       logr.Logger

	buttons []button
	byPin   map[int]button
}

// NewPoller creates a poller over the channels that have an input pin.
func NewPoller(channels []*Channel, pins gpio.Reader, d *logic.Debouncer, sink Enqueuer, log logr.Logger) *Poller {
	p := &Poller{
		pins:      pins,
		debouncer: d,
		sink:      sink,
		log:       log,
		byPin:     make(map[int]button),
	}
	for _, ch := range channels {
		if !ch.HasButton() {
			continue
		}
		btn := button{pin: ch.InputPin, channel: ch.Name, path: ch.Path()}
		p.buttons = append(p.buttons, btn)
		p.byPin[btn.pin] = btn
	}
	return p
}

// Buttons returns the number of polled inputs.
func (p *Poller) Buttons() int { return len(p.buttons) }

// Presses returns the total accepted presses so far.
func (p *Poller) Presses() int { return p.debouncer.TotalPresses() }

// State returns the debounce state of the button on pin.
func (p *Poller) State(pin int, now time.Time) logic.ButtonState {
	return p.debouncer.State(pin, now)
}

// Poll reads every button once and enqueues a toggle per accepted press.
// Buttons are active-low. An input that fails to read is skipped for this
// poll.
func (p *Poller) Poll(now time.Time) []logic.Press {
	samples := make([]logic.Sample, 0, len(p.buttons))
	for _, btn := range p.buttons {
		high, err := p.pins.ReadPin(btn.pin)
		if err != nil {
			p.log.Error(err, "read button", "channel", btn.channel, "pin", btn.pin)
			continue
		}
		samples = append(samples, logic.Sample{Button: btn.pin, Pressed: !high})
	}

	presses := p.debouncer.Process(logic.Input{Samples: samples, Time: now})
	for _, press := range presses {
		btn := p.byPin[press.Button]
		p.log.Info("button pressed", "channel", btn.channel, "pin", btn.pin)
		err := p.sink.Enqueue(Request{Op: OpToggle, Path: btn.path, Source: SourceButton})
		if err != nil {
			p.log.Error(err, "enqueue toggle", "channel", btn.channel)
		}
	}
	return presses
}
