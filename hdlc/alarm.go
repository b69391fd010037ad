package hdlc

import "time"

// alarm is a single-shot timeout that interrupts the next blocking byte
// read once armed. It is a monotonic-clock deadline checked between reads
// rather than a signal handler: serial.Port.ReadTimeout already blocks for
// at most one inter-character interval and returns without a byte on
// expiry, so arming the alarm is just recording a deadline and computing
// the remaining budget before each read.
type alarm struct {
	deadline time.Time
	armed    bool
}

// Arm schedules the alarm to fire after d.
func (a *alarm) Arm(d time.Duration) {
	a.deadline = time.Now().Add(d)
	a.armed = true
}

// Cancel disarms the alarm without firing it.
func (a *alarm) Cancel() {
	a.armed = false
}

// Remaining reports the time left before the alarm fires. If the alarm
// already fired (or was never armed), it reports expired=true.
func (a *alarm) Remaining() (remaining time.Duration, expired bool) {
	if !a.armed {
		return 0, true
	}
	remaining = time.Until(a.deadline)
	if remaining <= 0 {
		return 0, true
	}
	return remaining, false
}
