package main

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/go-logr/logr"

	"github.com/sweeney/matter-gpio/internal/bridge"
	"github.com/sweeney/matter-gpio/internal/config"
	"github.com/sweeney/matter-gpio/internal/gpio"
	"github.com/sweeney/matter-gpio/internal/logic"
	"github.com/sweeney/matter-gpio/internal/mqtt"
	"github.com/sweeney/matter-gpio/internal/node"
	"github.com/sweeney/matter-gpio/internal/status"
	"github.com/sweeney/matter-gpio/internal/web"
)

// app holds the wired daemon. Everything except handleCommand runs on the
// runLoop goroutine.
type app struct {
	cfg  config.Config
	log  logr.Logger
	now  func() time.Time
	bank gpio.Bank

	node      *node.Node
	bridge    *bridge.Bridge
	poller    *bridge.Poller
	heartbeat *logic.Heartbeat
	tracker   *status.Tracker

	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	broadcast  func(msg any)
}

// newApp builds the device graph from cfg, binds every channel and drives
// the outputs to their restored values.
func newApp(cfg config.Config, bank gpio.Bank, storage node.Storage, start time.Time, log logr.Logger) (*app, error) {
	n := node.New(node.Config{Label: cfg.Node.Label, Storage: storage, Logger: log.WithName("node")})
	b := bridge.New(n, bank, cfg.QueueSize, log.WithName("bridge"))
	n.OnUpdate(b.OnRemoteUpdate)

	for _, ch := range cfg.Channels {
		dev, err := ch.Device()
		if err != nil {
			return nil, &node.ConfigError{Op: "channel " + ch.Name, Reason: err.Error()}
		}
		if _, err := b.AddDevice(dev); err != nil {
			return nil, err
		}
	}
	b.SyncOutputs()

	d := logic.NewDebouncer(cfg.Debounce.Window, logic.Scope(cfg.Debounce.Scope))
	a := &app{
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		bank:      bank,
		node:      n,
		bridge:    b,
		poller:    bridge.NewPoller(b.Channels(), bank, d, b, log.WithName("poller")),
		heartbeat: logic.NewHeartbeat(cfg.Heartbeat, start),
		publisher: nopPublisher{},
		tracker: status.NewTracker(start, status.Config{
			Label:         cfg.Node.Label,
			Backend:       cfg.GPIO.Backend,
			PollMs:        cfg.Poll.Milliseconds(),
			DebounceMs:    cfg.Debounce.Window.Milliseconds(),
			DebounceScope: string(d.Scope()),
			HeartbeatMs:   cfg.Heartbeat.Milliseconds(),
			Broker:        cfg.MQTT.Broker,
			TopicPrefix:   cfg.MQTT.TopicPrefix,
			HTTPAddr:      cfg.HTTP.Listen,
			StorePath:     cfg.Store.Path,
		}),
	}
	a.refresh(start)
	return a, nil
}

// attachPublisher mirrors every committed attribute value to MQTT, the
// tracker and websocket clients.
func (a *app) attachPublisher(pub mqtt.Publisher, cs mqtt.ConnectionStatus) {
	a.publisher = pub
	a.mqttStatus = cs
	a.node.OnUpdate(func(phase node.UpdatePhase, path node.AttributePath, v node.Value) error {
		if phase != node.PostUpdate {
			return nil
		}
		a.tracker.SetValue(path, v)
		a.publishAttribute(path, v)
		return nil
	})
}

func (a *app) publishAttribute(path node.AttributePath, v node.Value) {
	var name string
	if ch, ok := a.bridge.Lookup(path); ok {
		name = ch.Name
	}
	t := a.now()
	if err := a.publisher.PublishAttribute(mqtt.AttributeEvent{Timestamp: t, Path: path, Channel: name, Value: v}); err != nil {
		a.log.Error(err, "publish attribute", "path", path.String())
	}
	if a.broadcast != nil && name != "" {
		a.broadcast(web.NewChannelUpdate(name, path.Endpoint, v, t))
	}
}

// handleCommand turns a decoded MQTT command into a queued request. It runs
// on the MQTT client's goroutine and never touches the graph directly.
// Only attributes bound to a channel accept commands.
func (a *app) handleCommand(path node.AttributePath, cmd mqtt.Command) {
	if _, ok := a.bridge.Lookup(path); !ok {
		a.log.Info("ignoring command for unbound attribute", "path", path.String())
		return
	}
	req := bridge.Request{Op: bridge.OpToggle, Path: path, Source: bridge.SourceMQTT}
	if !cmd.Toggle {
		attr, err := a.node.Attribute(path)
		if err != nil {
			a.log.Error(err, "command for unknown attribute", "path", path.String())
			return
		}
		req.Op = bridge.OpWrite
		req.Value = coerce(cmd.Value, attr.Type())
	}
	if err := a.bridge.Enqueue(req); err != nil {
		a.log.Error(err, "enqueue command", "path", path.String())
	}
}

// coerce converts between bool and uint8 command values so "ON" can drive
// a covering and 0/1 can drive an on/off attribute.
func coerce(v node.Value, want node.ValueType) node.Value {
	switch {
	case v.Type == want:
		return v
	case want == node.TypeBool && v.Type == node.TypeUint8:
		return node.Bool(v.U8 != 0)
	case want == node.TypeUint8 && v.Type == node.TypeBool:
		if v.B {
			return node.Uint8(1)
		}
		return node.Uint8(0)
	}
	return v
}

// counts merges the poller's press count into the bridge counters.
func (a *app) counts() logic.EventCounts {
	c := a.bridge.Counts()
	c.Presses = a.poller.Presses()
	return c
}

func (a *app) channelStatus(t time.Time) []status.ChannelStatus {
	chs := a.bridge.Channels()
	out := make([]status.ChannelStatus, 0, len(chs))
	for _, ch := range chs {
		cs := status.ChannelStatus{
			Name:   ch.Name,
			Kind:   string(ch.Kind),
			Path:   ch.Path(),
			Value:  a.bridge.ReadCurrent(ch),
			LEDPin: ch.OutputPin,
			Button: ch.InputPin,
		}
		if ch.HasButton() {
			cs.Debounce = a.poller.State(ch.InputPin, t)
		}
		out = append(out, cs)
	}
	return out
}

// refresh updates the tracker for HTTP consumers.
func (a *app) refresh(t time.Time) {
	a.tracker.Update(a.channelStatus(t), a.counts())
	if a.mqttStatus != nil {
		a.tracker.SetMQTTConnected(a.mqttStatus.IsConnected())
	}
}

// startup publishes STARTUP and the retained value of every channel.
func (a *app) startup() {
	t := a.now()
	a.refresh(t)
	snap := a.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := a.publisher.PublishSystem(event); err != nil {
		a.log.Error(err, "publish startup event")
	} else {
		a.log.Info("published startup event")
	}

	for _, ch := range a.bridge.Channels() {
		a.publishAttribute(ch.Path(), a.bridge.ReadCurrent(ch))
	}
}

func (a *app) shutdown(s os.Signal) {
	signalName := "UNKNOWN"
	if s == syscall.SIGINT {
		signalName = "SIGINT"
	} else if s == syscall.SIGTERM {
		signalName = "SIGTERM"
	}
	a.log.Info("shutting down", "signal", signalName)

	a.refresh(a.now())
	snap := a.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  a.now(),
		Event:      "SHUTDOWN",
		Reason:     signalName,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
	}
	if err := a.publisher.PublishSystem(event); err != nil {
		a.log.Error(err, "publish shutdown event")
	} else {
		a.log.Info("published shutdown event")
	}
}

// printState writes every channel's value and button level.
func (a *app) printState(w io.Writer) error {
	for _, ch := range a.bridge.Channels() {
		line := fmt.Sprintf("%s (%s %s): %s", ch.Name, ch.Kind, ch.Path(), a.bridge.ReadCurrent(ch))
		if ch.HasButton() {
			high, err := a.bank.ReadPin(ch.InputPin)
			if err != nil {
				return fmt.Errorf("read button %s: %w", ch.Name, err)
			}
			btn := "released"
			if !high {
				btn = "pressed"
			}
			line += ", button " + btn
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
