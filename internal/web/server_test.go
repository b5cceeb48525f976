package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"nhooyr.io/websocket"

	"github.com/sweeney/matter-gpio/internal/logic"
	"github.com/sweeney/matter-gpio/internal/node"
	"github.com/sweeney/matter-gpio/internal/status"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func onOff(ep node.EndpointID) node.AttributePath {
	return node.AttributePath{Endpoint: ep, Cluster: node.ClusterOnOff, Attribute: node.AttrOnOff}
}

func newTestServer(t *testing.T) (*httptest.Server, *Server, *status.Tracker) {
	t.Helper()
	cfg := status.Config{
		Label:       "Dual Plug",
		Backend:     "gpiocdev",
		PollMs:      20,
		DebounceMs:  500,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		TopicPrefix: "matter",
		HTTPAddr:    ":8080",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr, logr.Discard())
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(func() {
		srv.hub.Stop()
		ts.Close()
	})
	return ts, srv, tr
}

func channels() []status.ChannelStatus {
	return []status.ChannelStatus{
		{Name: "plug-1", Kind: "plug", Path: onOff(1), Value: node.Bool(true), LEDPin: 0, Button: 9},
		{Name: "plug-2", Kind: "plug", Path: onOff(2), Value: node.Bool(false), LEDPin: 1, Button: 8},
	}
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(channels(), logic.EventCounts{Presses: 5, Toggles: 5})
	tr.SetMQTTConnected(true)

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Label != "Dual Plug" {
		t.Errorf("Label: got %q", sj.Status.Label)
	}
	if !sj.Status.MQTT.Connected || sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT: got %+v", sj.Status.MQTT)
	}
	if sj.Status.Counts.Presses != 5 {
		t.Errorf("Counts.Presses: got %d, want 5", sj.Status.Counts.Presses)
	}
	if len(sj.Status.Channels) != 2 || sj.Status.Channels[0].Name != "plug-1" {
		t.Errorf("Channels: got %+v", sj.Status.Channels)
	}
	if sj.Status.Config.PollMs != 20 {
		t.Errorf("Config.PollMs: got %d, want 20", sj.Status.Config.PollMs)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(channels(), logic.EventCounts{})

	sj := getJSON(t, ts.URL+"/index.json")
	if !sj.Status.Channels[1].Value.Equal(node.Bool(false)) {
		t.Fatalf("plug-2 should start off")
	}

	tr.SetValue(onOff(2), node.Bool(true))
	sj = getJSON(t, ts.URL+"/index.json")
	if !sj.Status.Channels[1].Value.Equal(node.Bool(true)) {
		t.Error("plug-2 should be on after SetValue")
	}
}

func TestHTMLEndpoints(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(channels(), logic.EventCounts{})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
		html := string(body)
		for _, want := range []string{"Dual Plug", "plug-1", "plug-2", `id="ch-plug-1" class="on"`, `id="ch-plug-2" class="off"`} {
			if !strings.Contains(html, want) {
				t.Errorf("%s: missing %q", path, want)
			}
		}
	}
}

func TestHTMLNoChannels(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "no channels") {
		t.Error("empty channel table should say so")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestWebsocketBroadcast(t *testing.T) {
	ts, srv, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for srv.hub.Clients() == 0 {
		if ctx.Err() != nil {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.Broadcast(NewChannelUpdate("plug-1", 1, node.Bool(true), start))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ChannelUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Channel != "plug-1" || msg.Endpoint != 1 || !msg.Value.Equal(node.Bool(true)) {
		t.Errorf("got %+v", msg)
	}
	if msg.Timestamp != "2026-01-01T00:00:00Z" {
		t.Errorf("timestamp: got %q", msg.Timestamp)
	}
}

func TestHubStopIsIdempotent(t *testing.T) {
	h := NewHub(logr.Discard())
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()
	h.Stop()
	h.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestBroadcastWithoutClients(t *testing.T) {
	h := NewHub(logr.Discard())
	// Hub not running: the queue absorbs messages, then drops.
	for i := 0; i < 100; i++ {
		h.Broadcast(i)
	}
	if h.Clients() != 0 {
		t.Error("expected no clients")
	}
}
