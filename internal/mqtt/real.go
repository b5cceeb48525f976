package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Prefix     string
	BufferSize int

	// OnCommand receives commands from the command topics. Optional.
	OnCommand CommandFunc

	Logger logr.Logger
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client    paho.Client
	topics    Topics
	onCommand CommandFunc
	log       logr.Logger

	mu        sync.Mutex
	buffer    *ringBuffer
	replaying bool
	connect   int // successful connections so far
}

// NewRealPublisher creates a publisher for the given broker. It waits briefly
// for the first connection; if the broker is unreachable it keeps retrying in
// the background and buffers in the meantime.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("no broker configured")
	}
	if o.ClientID == "" {
		o.ClientID = "matter-gpio"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{
		topics:    NewTopics(o.Prefix),
		onCommand: o.OnCommand,
		log:       o.Logger,
		buffer:    newRingBuffer(o.BufferSize, o.Logger),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.topics.System(), willPayload(), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Error(err, "connection lost", "broker", o.Broker)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.log.Info("broker not reachable yet, buffering", "broker", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connect++
	reconnect := p.connect > 1
	if reconnect {
		evt := SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED", Retained: true}
		if payload, err := FormatSystemPayload(evt); err == nil {
			p.buffer.push(bufferedMsg{topic: p.topics.System(), payload: payload, qos: 1, retained: true})
		}
	}
	buffered := p.buffer.len()
	start := !p.replaying
	p.replaying = true
	p.mu.Unlock()

	p.log.Info("connected", "reconnect", reconnect, "buffered", buffered)

	if tok := c.Subscribe(p.topics.Commands(), 1, p.handleMessage); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		p.log.Error(tok.Error(), "subscribe", "topic", p.topics.Commands())
	}

	// Replay off the handler goroutine so paho can keep processing acks.
	if start {
		go p.replay()
	}
}

// replay sends buffered messages oldest first until the buffer is empty.
// While it runs, publish appends to the buffer instead of sending, so a
// stale retained value can never land after a newer one.
func (p *RealPublisher) replay() {
	for {
		p.mu.Lock()
		pending := p.buffer.drainAll()
		if len(pending) == 0 {
			p.replaying = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		for i, m := range pending {
			if err := p.send(m); err != nil {
				p.log.Error(err, "replay", "topic", m.topic, "remaining", len(pending)-i)
				p.mu.Lock()
				p.requeue(pending[i:])
				p.replaying = false
				p.mu.Unlock()
				return
			}
		}
	}
}

// requeue puts unsent messages back ahead of anything buffered since.
// Caller must hold p.mu.
func (p *RealPublisher) requeue(unsent []bufferedMsg) {
	newer := p.buffer.drainAll()
	for _, m := range unsent {
		p.buffer.push(m)
	}
	for _, m := range newer {
		p.buffer.push(m)
	}
}

func (p *RealPublisher) handleMessage(_ paho.Client, msg paho.Message) {
	if msg.Retained() {
		// A retained command would replay on every reconnect.
		p.log.Info("ignoring retained command", "topic", msg.Topic())
		return
	}
	if err := dispatch(p.topics, msg.Topic(), msg.Payload(), p.onCommand); err != nil {
		p.log.Error(err, "command", "topic", msg.Topic())
	}
}

// PublishAttribute sends an attribute value to its retained state topic.
func (p *RealPublisher) PublishAttribute(event AttributeEvent) error {
	payload, err := FormatAttributePayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.State(event.Path), payload: payload, qos: 1, retained: true})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(bufferedMsg{topic: p.topics.System(), payload: payload, qos: 1, retained: event.Retained})
}

// publish sends m directly only when the connection is open and nothing
// older is waiting; otherwise m joins the buffer behind older messages.
func (p *RealPublisher) publish(m bufferedMsg) error {
	p.mu.Lock()
	open := p.client.IsConnectionOpen()
	if !open || p.replaying || p.buffer.len() > 0 {
		p.buffer.push(m)
		start := open && !p.replaying
		if start {
			p.replaying = true
		}
		p.mu.Unlock()
		if start {
			go p.replay()
		}
		return nil
	}
	p.mu.Unlock()

	if err := p.send(m); err != nil {
		p.mu.Lock()
		p.buffer.push(m)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Buffered returns the number of messages awaiting replay.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.len()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
