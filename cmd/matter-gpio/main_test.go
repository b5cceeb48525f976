package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/sweeney/matter-gpio/internal/config"
	"github.com/sweeney/matter-gpio/internal/gpio"
	"github.com/sweeney/matter-gpio/internal/mqtt"
	"github.com/sweeney/matter-gpio/internal/node"
	"github.com/sweeney/matter-gpio/internal/status"
)

const (
	led0 = 0
	led1 = 1
	btn9 = 9
	btn8 = 8
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const dualPlugYAML = `
node: {label: Dual Plug}
gpio: {backend: fake}
poll: 100ms
debounce: {window: 500ms}
heartbeat: 0s
mqtt: {topic_prefix: matter}
http: {listen: ""}
channels:
  - {name: plug-1, kind: plug, led_pin: 0, button_pin: 9}
  - {name: plug-2, kind: plug, led_pin: 1, button_pin: 8}
`

func onOff(ep node.EndpointID) node.AttributePath {
	return node.AttributePath{Endpoint: ep, Cluster: node.ClusterOnOff, Attribute: node.AttrOnOff}
}

func testConfig(t *testing.T, yaml string) config.Config {
	t.Helper()
	cfg, err := config.Parse(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

type harness struct {
	app  *app
	bank *gpio.FakeBank
	pub  *mqtt.FakePublisher
}

func newHarness(t *testing.T, cfg config.Config, storage node.Storage) *harness {
	t.Helper()
	bank := gpio.NewFakeBank()
	a, err := newApp(cfg, bank, storage, t0, logr.Discard())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	a.now = func() time.Time { return t0 }

	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	pub.Topics = mqtt.NewTopics(cfg.MQTT.TopicPrefix)
	pub.OnCommand = a.handleCommand
	a.attachPublisher(pub, pub)
	return &harness{app: a, bank: bank, pub: pub}
}

// loop drives runLoop from the test goroutine.
type loop struct {
	tick  chan time.Time
	sig   chan os.Signal
	errCh chan error
	next  time.Time
	step  time.Duration
}

func (h *harness) start(step time.Duration) *loop {
	l := &loop{
		tick:  make(chan time.Time),
		sig:   make(chan os.Signal, 1),
		errCh: make(chan error, 1),
		next:  t0,
		step:  step,
	}
	go func() {
		l.errCh <- runLoop(h.app, func() time.Time { return t0 }, l.tick, l.sig)
	}()
	return l
}

func (l *loop) ticks(n int) {
	for i := 0; i < n; i++ {
		l.tick <- l.next
		l.next = l.next.Add(l.step)
	}
}

func (l *loop) stop(t *testing.T, s os.Signal) {
	t.Helper()
	l.sig <- s
	if err := <-l.errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func (h *harness) value(t *testing.T, path node.AttributePath) node.Value {
	t.Helper()
	v, err := h.app.node.Read(path)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestNewAppDrivesOutputsLow(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)

	for _, pin := range []int{led0, led1} {
		high, written := h.bank.Output(pin)
		if !written || high {
			t.Errorf("LED%d: got (high=%v, written=%v), want driven low", pin, high, written)
		}
	}
}

func TestNewAppRestoresPersistedValue(t *testing.T) {
	storage := node.NewMemoryStorage()
	if err := storage.SaveAttribute(onOff(1), node.Bool(true)); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, testConfig(t, dualPlugYAML), storage)
	if !h.value(t, onOff(1)).Equal(node.Bool(true)) {
		t.Error("plug-1 should restore ON")
	}
	if high, _ := h.bank.Output(led0); !high {
		t.Error("LED0 should reflect the restored value")
	}
	if high, _ := h.bank.Output(led1); high {
		t.Error("LED1 should stay low")
	}
}

func TestStartupPublishesState(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	h.app.startup()

	names := h.pub.SystemEventNames()
	if len(names) != 1 || names[0] != "STARTUP" {
		t.Fatalf("system events: got %v", names)
	}
	if !h.pub.SystemEvents[0].Retained {
		t.Error("STARTUP should be retained")
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("startup payload: %v", err)
	}
	if sj.Status.Event != "STARTUP" || len(sj.Status.Channels) != 2 {
		t.Errorf("startup payload: got %+v", sj.Status)
	}

	attrs := h.pub.AttributeEvents()
	if len(attrs) != 2 {
		t.Fatalf("expected initial state for both channels, got %d", len(attrs))
	}
	if attrs[0].Channel != "plug-1" || attrs[1].Path != onOff(2) {
		t.Errorf("attribute events: got %+v", attrs)
	}
}

// Dual plug: pressing BTN9 once toggles endpoint 1 and LED0 only.
func TestRunLoopDualPlugButton(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	led1Writes := len(h.bank.WritesTo(led1))

	l := h.start(100 * time.Millisecond)
	l.ticks(2)
	h.bank.Press(btn9)
	l.ticks(3)
	h.bank.Release(btn9)
	l.ticks(10)
	l.stop(t, syscall.SIGTERM)

	if !h.value(t, onOff(1)).Equal(node.Bool(true)) {
		t.Error("endpoint 1 should be ON")
	}
	if !h.value(t, onOff(2)).Equal(node.Bool(false)) {
		t.Error("endpoint 2 should stay OFF")
	}
	if high, _ := h.bank.Output(led0); !high {
		t.Error("LED0 should be high")
	}
	if got := len(h.bank.WritesTo(led1)); got != led1Writes {
		t.Errorf("LED1 should not be written, got %d new writes", got-led1Writes)
	}

	attrs := h.pub.AttributeEvents()
	if len(attrs) != 1 || attrs[0].Path != onOff(1) || !attrs[0].Value.Equal(node.Bool(true)) {
		t.Errorf("expected one ON event for endpoint 1, got %+v", attrs)
	}
	if c := h.app.counts(); c.Presses != 1 || c.Toggles != 1 {
		t.Errorf("counts: got %+v", c)
	}
}

func TestRunLoopHeldButtonRepeats(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)

	h.bank.Press(btn8)
	l := h.start(100 * time.Millisecond)
	l.ticks(10) // held for two windows
	l.stop(t, syscall.SIGTERM)

	if got := h.app.counts().Toggles; got != 2 {
		t.Errorf("toggles: got %d, want 2", got)
	}
	if !h.value(t, onOff(2)).Equal(node.Bool(false)) {
		t.Error("two toggles should leave endpoint 2 OFF")
	}
}

// Remote write to endpoint 2 drives LED1 without any button activity.
func TestRunLoopRemoteCommand(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	led0Writes := len(h.bank.WritesTo(led0))

	l := h.start(100 * time.Millisecond)
	if err := h.pub.Deliver("matter/2/0x0006/0x0000/set", []byte("ON")); err != nil {
		t.Fatal(err)
	}
	l.ticks(1)
	l.stop(t, syscall.SIGTERM)

	if high, _ := h.bank.Output(led1); !high {
		t.Error("LED1 should be high")
	}
	if got := len(h.bank.WritesTo(led0)); got != led0Writes {
		t.Error("LED0 should not be written")
	}
	if !h.value(t, onOff(2)).Equal(node.Bool(true)) {
		t.Error("endpoint 2 should be ON")
	}
	attrs := h.pub.AttributeEvents()
	if len(attrs) != 1 || attrs[0].Channel != "plug-2" {
		t.Errorf("expected one event for plug-2, got %+v", attrs)
	}
}

func TestRunLoopRemoteToggleAndNumericValue(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)

	l := h.start(100 * time.Millisecond)
	h.pub.Deliver("matter/1/0x0006/0x0000/set", []byte(`{"value": 1}`))
	h.pub.Deliver("matter/2/0x0006/0x0000/set", []byte("TOGGLE"))
	l.ticks(1)
	l.stop(t, syscall.SIGTERM)

	if !h.value(t, onOff(1)).Equal(node.Bool(true)) {
		t.Error("numeric 1 should switch endpoint 1 ON")
	}
	if !h.value(t, onOff(2)).Equal(node.Bool(true)) {
		t.Error("TOGGLE should switch endpoint 2 ON")
	}
}

func TestCommandForUnknownAttributeIgnored(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)

	h.app.handleCommand(onOff(7), mqtt.Command{Value: node.Bool(true)})
	if n := h.app.bridge.Drain(); n != 0 {
		t.Errorf("nothing should be queued, drained %d", n)
	}
}

func TestCommandForUnboundAttributeIgnored(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	startUp := node.AttributePath{Endpoint: 1, Cluster: node.ClusterOnOff, Attribute: node.AttrStartUpOnOff}

	l := h.start(100 * time.Millisecond)
	if err := h.pub.Deliver("matter/1/0x0006/0x4003/set", []byte(`{"value": 7}`)); err != nil {
		t.Fatal(err)
	}
	l.ticks(1)
	l.stop(t, syscall.SIGTERM)

	if v := h.value(t, startUp); v.Equal(node.Uint8(7)) {
		t.Error("StartUpOnOff must not be writable over MQTT")
	}
	if len(h.pub.AttributeEvents()) != 0 {
		t.Errorf("no attribute should change, got %+v", h.pub.AttributeEvents())
	}
}

func TestRunLoopShutdown(t *testing.T) {
	tests := []struct {
		sig    os.Signal
		reason string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			h := newHarness(t, testConfig(t, dualPlugYAML), nil)
			l := h.start(100 * time.Millisecond)
			l.ticks(3)
			l.stop(t, tt.sig)

			if len(h.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
			}
			ev := h.pub.SystemEvents[0]
			if ev.Event != "SHUTDOWN" || ev.Reason != tt.reason || !ev.Retained {
				t.Errorf("shutdown event: got %+v", ev)
			}
			var sj status.StatusJSON
			if err := json.Unmarshal(h.pub.SystemPayloads[0], &sj); err != nil {
				t.Fatal(err)
			}
			if sj.Status.Reason != tt.reason {
				t.Errorf("payload reason: got %q", sj.Status.Reason)
			}
		})
	}
}

func TestRunLoopShutdownAppliesPending(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	h.pub.Deliver("matter/1/0x0006/0x0000/set", []byte("ON"))

	l := h.start(100 * time.Millisecond)
	l.stop(t, syscall.SIGTERM)

	if !h.value(t, onOff(1)).Equal(node.Bool(true)) {
		t.Error("queued command should be applied before shutdown")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	cfg := testConfig(t, strings.Replace(dualPlugYAML, "heartbeat: 0s", "heartbeat: 1s", 1))
	h := newHarness(t, cfg, nil)

	l := h.start(100 * time.Millisecond)
	l.ticks(15) // 0 .. 1.4s
	l.stop(t, syscall.SIGTERM)

	names := h.pub.SystemEventNames()
	if len(names) != 2 || names[0] != "HEARTBEAT" || names[1] != "SHUTDOWN" {
		t.Fatalf("system events: got %v", names)
	}
	if h.pub.SystemEvents[0].Retained {
		t.Error("HEARTBEAT should not be retained")
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &sj); err != nil {
		t.Fatal(err)
	}
	if sj.Status.Event != "HEARTBEAT" || !sj.Status.MQTT.Connected {
		t.Errorf("heartbeat payload: got %+v", sj.Status)
	}
}

func TestRunLoopPublishErrorDoesNotStop(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	h.pub.PublishError = errors.New("broker down")
	h.pub.PublishSystemError = errors.New("broker down")

	h.bank.Press(btn9)
	l := h.start(100 * time.Millisecond)
	l.ticks(2)
	l.stop(t, syscall.SIGTERM)

	if !h.value(t, onOff(1)).Equal(node.Bool(true)) {
		t.Error("toggle should commit even if publishing fails")
	}
}

func TestRunLoopButtonReadError(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	h.bank.ReadErrors[btn9] = errors.New("gpio fault")
	h.bank.Press(btn9)
	h.bank.Press(btn8)

	l := h.start(100 * time.Millisecond)
	l.ticks(2)
	l.stop(t, syscall.SIGTERM)

	if !h.value(t, onOff(1)).Equal(node.Bool(false)) {
		t.Error("unreadable button must not toggle")
	}
	if !h.value(t, onOff(2)).Equal(node.Bool(true)) {
		t.Error("healthy button should still toggle")
	}
}

func TestRunLoopUpdatesTracker(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	h.bank.Press(btn9)

	l := h.start(100 * time.Millisecond)
	l.ticks(1)
	l.stop(t, syscall.SIGTERM)

	snap := h.app.tracker.Snapshot()
	c, ok := snap.Channel("plug-1")
	if !ok || !c.Value.Equal(node.Bool(true)) {
		t.Errorf("tracker plug-1: got %+v", c)
	}
	if c.Debounce != "SUPPRESSED" {
		t.Errorf("plug-1 debounce: got %q", c.Debounce)
	}
	if !snap.MQTTConnected {
		t.Error("tracker should report MQTT connected")
	}
}

func TestBroadcastOnCommit(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	var got []any
	h.app.broadcast = func(msg any) { got = append(got, msg) }

	ch, _ := h.app.bridge.Channel("plug-2")
	if err := h.app.bridge.Toggle(ch); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(got))
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		in   node.Value
		want node.ValueType
		out  node.Value
	}{
		{node.Bool(true), node.TypeBool, node.Bool(true)},
		{node.Uint8(1), node.TypeBool, node.Bool(true)},
		{node.Uint8(0), node.TypeBool, node.Bool(false)},
		{node.Bool(true), node.TypeUint8, node.Uint8(1)},
		{node.Bool(false), node.TypeUint8, node.Uint8(0)},
		{node.Uint8(5), node.TypeUint8, node.Uint8(5)},
	}
	for _, tt := range tests {
		if got := coerce(tt.in, tt.want); !got.Equal(tt.out) {
			t.Errorf("coerce(%s, %v): got %s, want %s", tt.in, tt.want, got, tt.out)
		}
	}
}

func TestPrintState(t *testing.T) {
	h := newHarness(t, testConfig(t, dualPlugYAML), nil)
	h.bank.Press(btn8)

	var buf bytes.Buffer
	if err := h.app.printState(&buf); err != nil {
		t.Fatal(err)
	}
	want := "plug-1 (plug 1/0x0006/0x0000): false, button released\n" +
		"plug-2 (plug 2/0x0006/0x0000): false, button pressed\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestCurtainChannel(t *testing.T) {
	cfg := testConfig(t, `
gpio: {backend: fake}
heartbeat: 0s
channels:
  - {name: curtain, kind: curtain, led_pin: 2, button_pin: 9}
`)
	h := newHarness(t, cfg, nil)
	h.bank.Press(btn9)

	l := h.start(100 * time.Millisecond)
	l.ticks(1)
	l.stop(t, syscall.SIGTERM)

	path := node.AttributePath{Endpoint: 1, Cluster: node.ClusterWindowCovering, Attribute: node.AttrOperationalStatus}
	if !h.value(t, path).Equal(node.Uint8(1)) {
		t.Errorf("curtain status: got %s, want 1", h.value(t, path))
	}
	if high, _ := h.bank.Output(2); !high {
		t.Error("curtain LED should follow bit 0")
	}
}

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	for name, def := range map[string]string{
		"config":       config.DefaultPath,
		"log-level":    "",
		"print-state":  "false",
		"print-config": "false",
	} {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			t.Errorf("missing flag --%s", name)
			continue
		}
		if f.DefValue != def {
			t.Errorf("--%s default: got %q, want %q", name, f.DefValue, def)
		}
	}
}

func TestRunMissingConfig(t *testing.T) {
	err := run(flags{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("channels: []\n"), 0o644)
	if err := run(flags{configPath: path}); !errors.Is(err, node.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}
