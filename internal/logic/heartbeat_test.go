package logic

import (
	"testing"
	"time"
)

func TestHeartbeatNotDueBeforeInterval(t *testing.T) {
	h := NewHeartbeat(15*time.Minute, t0)

	if hb := h.Check(t0.Add(14*time.Minute), EventCounts{}); hb != nil {
		t.Error("heartbeat should not fire before interval")
	}
}

func TestHeartbeatFiresAndResets(t *testing.T) {
	h := NewHeartbeat(15*time.Minute, t0)
	counts := EventCounts{Presses: 3, Toggles: 3, RemoteUpdates: 5}

	now := t0.Add(15 * time.Minute)
	hb := h.Check(now, counts)
	if hb == nil {
		t.Fatal("expected heartbeat at interval")
	}
	if hb.Uptime != 15*time.Minute {
		t.Errorf("uptime: got %v, want 15m", hb.Uptime)
	}
	if hb.Counts != counts {
		t.Errorf("counts: got %+v, want %+v", hb.Counts, counts)
	}
	if !hb.Timestamp.Equal(now) {
		t.Errorf("timestamp: got %v, want %v", hb.Timestamp, now)
	}

	if hb := h.Check(now.Add(time.Minute), counts); hb != nil {
		t.Error("heartbeat should not fire again until the next interval")
	}
	hb = h.Check(now.Add(15*time.Minute), counts)
	if hb == nil {
		t.Fatal("expected second heartbeat")
	}
	if hb.Uptime != 30*time.Minute {
		t.Errorf("second uptime: got %v, want 30m", hb.Uptime)
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		h := NewHeartbeat(interval, t0)
		if hb := h.Check(t0.Add(24*time.Hour), EventCounts{}); hb != nil {
			t.Errorf("interval %v: heartbeat should be disabled", interval)
		}
	}
}
