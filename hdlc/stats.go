package hdlc

import (
	"fmt"
	"time"
)

// Stats is the session's monotonic counters and cumulative wall-clock
// timers. Mutated only by the session-owning goroutine; the copy
// returned by Session.Stats is safe for the caller to read freely.
type Stats struct {
	FramesSent      uint64
	FramesReceived  uint64
	FramesAccepted  uint64
	FramesRejected  uint64
	Retransmissions uint64
	PayloadBytes    uint64

	ConnectionElapsed   time.Duration
	TransmissionElapsed time.Duration
}

// String renders the statistics for a one-line console summary on close.
func (s Stats) String() string {
	return fmt.Sprintf(
		"frames sent=%d received=%d accepted=%d rejected=%d retransmissions=%d payload_bytes=%d connection=%s transmission=%s",
		s.FramesSent, s.FramesReceived, s.FramesAccepted, s.FramesRejected,
		s.Retransmissions, s.PayloadBytes, s.ConnectionElapsed, s.TransmissionElapsed)
}
