package logic

import "time"

// Debouncer turns sampled button levels into at most one press per debounce
// window. The policy is level-triggered: a button still held when its window
// expires fires again on the next poll.
type Debouncer struct {
	window time.Duration
	scope  Scope

	last   map[int]time.Time // per-button last trigger
	shared time.Time         // last trigger of any button (ScopeShared)
	fired  bool              // whether shared has been set

	presses map[int]int
}

// NewDebouncer creates a debouncer. An unknown scope falls back to ScopePerButton.
func NewDebouncer(window time.Duration, scope Scope) *Debouncer {
	if scope != ScopeShared {
		scope = ScopePerButton
	}
	return &Debouncer{
		window:  window,
		scope:   scope,
		last:    make(map[int]time.Time),
		presses: make(map[int]int),
	}
}

// Window returns the debounce window.
func (d *Debouncer) Window() time.Duration { return d.window }

// Scope returns the active scope.
func (d *Debouncer) Scope() Scope { return d.scope }

// Process takes one poll and returns the presses accepted in it, in sample order.
func (d *Debouncer) Process(in Input) []Press {
	var presses []Press

	// In shared scope eligibility is decided once per poll, so buttons
	// pressed together in the same poll all fire.
	sharedArmed := d.scope == ScopeShared && d.armed(d.shared, d.fired, in.Time)

	for _, s := range in.Samples {
		if !s.Pressed {
			continue
		}
		if d.scope == ScopeShared {
			if !sharedArmed {
				continue
			}
		} else {
			last, ok := d.last[s.Button]
			if !d.armed(last, ok, in.Time) {
				continue
			}
		}
		d.last[s.Button] = in.Time
		d.presses[s.Button]++
		presses = append(presses, Press{Button: s.Button, Timestamp: in.Time})
	}

	if d.scope == ScopeShared && len(presses) > 0 {
		d.shared = in.Time
		d.fired = true
	}
	return presses
}

// armed reports whether a window that started at last (if any) has expired.
func (d *Debouncer) armed(last time.Time, ok bool, now time.Time) bool {
	return !ok || now.Sub(last) >= d.window
}

// State returns the button's debounce state at now.
func (d *Debouncer) State(button int, now time.Time) ButtonState {
	var armed bool
	if d.scope == ScopeShared {
		armed = d.armed(d.shared, d.fired, now)
	} else {
		last, ok := d.last[button]
		armed = d.armed(last, ok, now)
	}
	if armed {
		return StateIdle
	}
	return StateSuppressed
}

// Presses returns the number of accepted presses for a button.
func (d *Debouncer) Presses(button int) int {
	return d.presses[button]
}

// TotalPresses returns the number of accepted presses across all buttons.
func (d *Debouncer) TotalPresses() int {
	n := 0
	for _, c := range d.presses {
		n += c
	}
	return n
}
