package hdlc

import (
	"errors"
	"time"

	"github.com/daedaluz/fdev/poll"

	"github.com/goncalosousa4/feup-rcom-g1305-1-2/serial"
	"github.com/rs/zerolog"
)

// pollInterval bounds how long a single serial read waits before the
// session re-checks the alarm. It is independent of the retry timer T;
// it only exists so an armed alarm is noticed promptly.
const pollInterval = 50 * time.Millisecond

// Role names which end of the link a Session drives. The two roles are
// asymmetric: only the transmitter sends and retransmits information
// frames, only the receiver acks them.
type Role int

const (
	RoleTransmitter Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "transmitter"
}

// Params configures a Session: the serial device and speed, which end of
// the link this process drives, the retry budget and the per-attempt
// timeout. Logger is optional; a nil Logger silences the session's
// lifecycle logging.
type Params struct {
	Device  string
	Baud    uint32
	Role    Role
	Retries int
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// Session is one end of an established link: the open serial port, the
// alternating sequence state, and the running statistics. Open performs
// the connection handshake; Write, Read and Close drive the link
// afterward. A Session is not safe for concurrent use — the protocol is
// inherently single-threaded stop-and-wait.
type Session struct {
	params Params
	port   *serial.Port
	log    zerolog.Logger

	txSeq      uint8
	rxExpected uint8

	al    alarm
	stats Stats

	connectedAt time.Time
}

// Open dials params.Device at params.Baud and performs the SET/UA
// connection handshake in the role params.Role. The transmitter drives
// the handshake and retries up to params.Retries times before giving up
// with ErrConnectRefused; the receiver waits for SET indefinitely and has
// no retry budget of its own to spend.
func Open(params Params) (*Session, error) {
	if params.Retries < 0 {
		return nil, newErr(KindContractViolation, "negative retry budget", nil)
	}

	opts := serial.NewOptions().SetReadTimeout(pollInterval)
	port, err := serial.Open(params.Device, opts)
	if err != nil {
		return nil, newErr(KindIO, "open "+params.Device, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, newErr(KindIO, "set raw mode", err)
	}
	if err := port.SetSpeed(params.Baud); err != nil {
		port.Close()
		return nil, newErr(KindIO, "set baud rate", err)
	}

	s, err := NewSession(port, params)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// NewSession drives the connection handshake over an already-open and
// already-configured port, instead of dialing params.Device itself.
// Open uses it internally after applying raw mode and speed; it is also
// the seam the test suite uses to run a Session across a virtual
// serial link built with serial.OpenPTY, and is available to any caller
// that manages its own port setup.
func NewSession(port *serial.Port, params Params) (*Session, error) {
	port.SetReadTimeout(pollInterval)

	s := &Session{params: params, port: port}
	if params.Logger != nil {
		s.log = *params.Logger
	} else {
		s.log = zerolog.Nop()
	}
	s.log = s.log.With().Str("role", params.Role.String()).Str("device", params.Device).Logger()

	if err := s.connect(); err != nil {
		return nil, err
	}
	s.connectedAt = time.Now()
	s.log.Info().Msg("link established")
	return s, nil
}

func (s *Session) connect() error {
	switch s.params.Role {
	case RoleTransmitter:
		return s.connectTransmitter()
	default:
		return s.connectReceiver()
	}
}

func (s *Session) connectTransmitter() error {
	setFrame := encodeSupervision(AddrTransmitter, CtrlSET)
	parser := newFrameParser(AddrReceiver, CtrlUA)

	for attempt := 0; attempt <= s.params.Retries; attempt++ {
		if _, err := s.port.Write(setFrame); err != nil {
			return newErr(KindIO, "write SET", err)
		}
		s.stats.FramesSent++
		s.log.Debug().Int("attempt", attempt+1).Msg("SET sent, awaiting UA")

		s.al.Arm(s.params.Timeout)
		parser.Reset()
		err := s.runParser(parser, true)
		s.al.Cancel()
		if err == nil {
			s.stats.FramesReceived++
			return nil
		}
		if !errors.Is(err, ErrLinkTimeout) {
			return err
		}
		s.stats.Retransmissions++
		s.log.Warn().Int("attempt", attempt+1).Msg("no UA within timeout, retrying SET")
	}
	return ErrConnectRefused
}

func (s *Session) connectReceiver() error {
	parser := newFrameParser(AddrTransmitter, CtrlSET)
	if err := s.runParser(parser, false); err != nil {
		return err
	}
	s.stats.FramesReceived++

	ua := encodeSupervision(AddrReceiver, CtrlUA)
	if _, err := s.port.Write(ua); err != nil {
		return newErr(KindIO, "write UA", err)
	}
	s.stats.FramesSent++
	return nil
}

// Write sends one information frame carrying payload and blocks until it
// is acknowledged. It retransmits on timeout or REJ, up to the session's
// retry budget, and returns ErrLinkTimeout once that budget is exhausted.
// payload must not exceed MaxPayload. On success it returns the encoded
// frame length, not len(payload).
func (s *Session) Write(payload []byte) (int, error) {
	if len(payload) > MaxPayload {
		return 0, ErrContractViolation
	}

	start := time.Now()
	defer func() { s.stats.TransmissionElapsed += time.Since(start) }()

	frame := encodeInfo(s.txSeq, payload)
	parser := newAckParser(AddrReceiver)
	wantRR := CtrlRR(1 - (s.txSeq & 1))

	for attempt := 0; attempt <= s.params.Retries; attempt++ {
		if _, err := s.port.Write(frame); err != nil {
			return 0, newErr(KindIO, "write info frame", err)
		}
		s.stats.FramesSent++

		s.al.Arm(s.params.Timeout)
		parser.Reset()
		err := s.runParser(parser, true)
		s.al.Cancel()

		if errors.Is(err, ErrLinkTimeout) {
			s.stats.Retransmissions++
			s.log.Warn().Int("attempt", attempt+1).Msg("no response within timeout, retransmitting")
			continue
		}
		if err != nil {
			return 0, err
		}

		s.stats.FramesReceived++
		switch parser.gotCtrl {
		case wantRR:
			s.stats.FramesAccepted++
			s.stats.PayloadBytes += uint64(len(payload))
			s.txSeq ^= 1
			return len(frame), nil
		case CtrlREJ(s.txSeq):
			s.stats.FramesRejected++
			s.stats.Retransmissions++
			s.log.Debug().Uint8("got_ctrl", parser.gotCtrl).Msg("frame rejected, retransmitting")
		default:
			// A duplicate RR(tx_seq) ack of the previous frame, or a REJ
			// naming the other sequence bit: the peer has not accepted this
			// attempt, and it does not count as a reject.
			s.stats.Retransmissions++
			s.log.Debug().Uint8("got_ctrl", parser.gotCtrl).Msg("stale ack, retransmitting")
		}
	}
	return 0, ErrLinkTimeout
}

// Read blocks until one information frame is validated and delivered. It
// transparently acks duplicates without delivering them, sends REJ and
// keeps waiting on a BCC2 mismatch, and returns ErrPeerDisc if a Disc
// frame arrives instead of data. There is no timeout on Read: the
// receiver has nothing useful to retry.
func (s *Session) Read(buf []byte) (int, error) {
	parser := newInfoParser(AddrTransmitter)

	for {
		parser.Reset()
		if err := s.runParser(parser, false); err != nil {
			return 0, err
		}
		s.stats.FramesReceived++

		if parser.gotCtrl == CtrlDISC {
			return 0, ErrPeerDisc
		}

		seq := uint8(0)
		if parser.gotCtrl == CtrlInfo(1) {
			seq = 1
		}
		payload := destuff(parser.buf)

		if len(payload) == 0 {
			// Stuffed input can never destuff to empty; a zero-length
			// result here means FLAG followed BCC1 directly, so the frame
			// carries not even a BCC2 byte.
			s.stats.FramesRejected++
			continue
		}
		data, checksum := payload[:len(payload)-1], payload[len(payload)-1]
		if bcc2(data) != checksum {
			s.stats.FramesRejected++
			rej := encodeSupervision(AddrReceiver, CtrlREJ(seq))
			if _, err := s.port.Write(rej); err != nil {
				return 0, newErr(KindIO, "write REJ", err)
			}
			s.stats.FramesSent++
			s.log.Debug().Uint8("seq", seq).Msg("BCC2 mismatch, sent REJ")
			continue
		}

		// RR announces the next sequence bit the receiver expects, which
		// is always the complement of the one it just validated.
		rr := encodeSupervision(AddrReceiver, CtrlRR(1-seq))

		if seq != s.rxExpected {
			s.stats.FramesAccepted++ // accepted as a valid frame, not delivered again
			if _, err := s.port.Write(rr); err != nil {
				return 0, newErr(KindIO, "write RR", err)
			}
			s.stats.FramesSent++
			s.log.Debug().Uint8("seq", seq).Msg("duplicate frame, re-acked without delivery")
			continue
		}

		if _, err := s.port.Write(rr); err != nil {
			return 0, newErr(KindIO, "write RR", err)
		}
		s.stats.FramesSent++
		s.stats.FramesAccepted++
		s.stats.PayloadBytes += uint64(len(data))
		s.rxExpected ^= 1
		n := copy(buf, data)
		return n, nil
	}
}

// Close tears the link down with a DISC/UA exchange mirroring the
// connection handshake, then releases the serial port. If showStats, the
// session's final Stats record is logged.
func (s *Session) Close(showStats bool) error {
	defer func() {
		s.stats.ConnectionElapsed = time.Since(s.connectedAt)
		if showStats {
			s.log.Info().Str("stats", s.stats.String()).Msg("session closed")
		}
	}()

	var err error
	switch s.params.Role {
	case RoleTransmitter:
		err = s.closeTransmitter()
	default:
		err = s.closeReceiver()
	}
	if cerr := s.port.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Session) closeTransmitter() error {
	discFrame := encodeSupervision(AddrTransmitter, CtrlDISC)
	parser := newFrameParser(AddrReceiver, CtrlDISC)

	for attempt := 0; attempt <= s.params.Retries; attempt++ {
		if _, err := s.port.Write(discFrame); err != nil {
			return newErr(KindIO, "write DISC", err)
		}
		s.stats.FramesSent++

		s.al.Arm(s.params.Timeout)
		parser.Reset()
		err := s.runParser(parser, true)
		s.al.Cancel()
		if err == nil {
			s.stats.FramesReceived++
			break
		}
		if !errors.Is(err, ErrLinkTimeout) {
			return err
		}
		s.stats.Retransmissions++
		if attempt == s.params.Retries {
			return ErrLinkTimeout
		}
	}

	ua := encodeSupervision(AddrTransmitter, CtrlUA)
	if _, err := s.port.Write(ua); err != nil {
		return newErr(KindIO, "write final UA", err)
	}
	s.stats.FramesSent++
	return nil
}

func (s *Session) closeReceiver() error {
	parser := newFrameParser(AddrTransmitter, CtrlDISC)
	if err := s.runParser(parser, false); err != nil {
		return err
	}
	s.stats.FramesReceived++

	discFrame := encodeSupervision(AddrReceiver, CtrlDISC)
	uaParser := newFrameParser(AddrTransmitter, CtrlUA)

	for attempt := 0; attempt <= s.params.Retries; attempt++ {
		if _, err := s.port.Write(discFrame); err != nil {
			return newErr(KindIO, "write DISC", err)
		}
		s.stats.FramesSent++

		s.al.Arm(s.params.Timeout)
		uaParser.Reset()
		err := s.runParser(uaParser, true)
		s.al.Cancel()
		if err == nil {
			s.stats.FramesReceived++
			return nil
		}
		if !errors.Is(err, ErrLinkTimeout) {
			return err
		}
		s.stats.Retransmissions++
	}
	return ErrLinkTimeout
}

// Stats returns a snapshot of the session's running counters. Safe to
// call at any point, including after Close.
func (s *Session) Stats() Stats {
	return s.stats
}

// runParser feeds bytes from the serial port into p until it reaches a
// terminal state. If useAlarm, the armed alarm's deadline bounds the
// wait and expiry surfaces as ErrLinkTimeout; otherwise runParser blocks
// indefinitely, waking every pollInterval only to retry the read.
func (s *Session) runParser(p *frameParser, useAlarm bool) error {
	var b [1]byte
	for {
		wait := pollInterval
		if useAlarm {
			remaining, expired := s.al.Remaining()
			if expired {
				return ErrLinkTimeout
			}
			if remaining < wait {
				wait = remaining
			}
		}

		n, err := s.port.ReadTimeout(b[:], wait)
		if err != nil {
			if errors.Is(err, poll.ErrTimeout) {
				continue
			}
			return newErr(KindIO, "serial read", err)
		}
		if n == 0 {
			continue
		}
		if p.Feed(b[0]) {
			return nil
		}
	}
}
