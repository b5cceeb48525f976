package main

import (
	"os"
	"time"

	"github.com/sweeney/matter-gpio/internal/mqtt"
	"github.com/sweeney/matter-gpio/internal/status"
)

// runLoop owns every attribute mutation: polled presses and queued MQTT
// commands are both applied here, one at a time. Polls are stamped with the
// tick's time; now stamps published events.
func runLoop(a *app, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	a.now = now

	for {
		select {
		case s := <-sig:
			a.bridge.Drain()
			a.shutdown(s)
			return nil

		case req := <-a.bridge.Requests():
			if err := a.bridge.Apply(req); err != nil {
				a.log.Error(err, "apply request", "op", string(req.Op), "source", req.Source)
			}

		case t := <-tick:
			a.poller.Poll(t)
			a.bridge.Drain()

			if hb := a.heartbeat.Check(t, a.counts()); hb != nil {
				a.log.Info("heartbeat",
					"uptime", hb.Uptime.String(),
					"presses", hb.Counts.Presses,
					"toggles", hb.Counts.Toggles,
					"remote_updates", hb.Counts.RemoteUpdates)

				a.refresh(t)
				event := mqtt.SystemEvent{
					Timestamp:  hb.Timestamp,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(a.tracker.Snapshot(), "HEARTBEAT", ""),
				}
				if err := a.publisher.PublishSystem(event); err != nil {
					a.log.Error(err, "heartbeat publish")
				}
			}

			// Update status tracker for HTTP consumers
			a.refresh(t)
		}
	}
}
